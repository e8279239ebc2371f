// Job audit handlers.
//
//   - GET /tenants/{id}/jobs           (paginated, optional status filter, ETag)
//   - GET /tenants/{id}/jobs/{jobID}   (detail)
package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-autoreply-backend/internal/domain"
	"github.com/tbourn/go-autoreply-backend/internal/repo"
)

// ListJobsResponse wraps a page of jobs and pagination information.
type ListJobsResponse struct {
	Jobs       []domain.ReplyJob `json:"jobs"`
	Pagination Pagination        `json:"pagination"`
}

// ListJobs godoc
// @ID          listJobs
// @Summary     List reply jobs (paginated)
// @Description Returns the tenant's jobs, newest first. Supports a weak ETag via If-None-Match and may return 304.
// @Tags        Jobs
// @Produce     json
// @Param       id             path    string  true   "Tenant ID"  format(uuid)
// @Param       status         query   string  false  "Status filter"  Enums(pending,processing,retry,sent,failed,cancelled)
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Success     200  {object}  handlers.ListJobsResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string  "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /api/v1/tenants/{id}/jobs [get]
func (h *Handlers) ListJobs(c *gin.Context) {
	id, valid := tenantID(c)
	if !valid {
		return
	}
	ctx := c.Request.Context()
	status := domain.JobStatus(c.Query("status"))
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if h.db != nil && (status == "" || status.Valid()) {
		count, maxTS, err := repo.JobsStats(ctx, h.db, id, status)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.UnixNano()
			}
			etag := fmt.Sprintf(`W/"jobs:%s:%s:%d:%d:%d:%d"`, id, status, page, pageSize, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.tenants.ListJobsPage(ctx, id, status, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []domain.ReplyJob{}
	}
	ok(c, http.StatusOK, ListJobsResponse{Jobs: items, Pagination: newPagination(page, pageSize, total)})
}

// GetJob godoc
// @ID          getJob
// @Summary     Fetch one reply job
// @Tags        Jobs
// @Produce     json
// @Param       id     path      string  true  "Tenant ID"  format(uuid)
// @Param       jobID  path      string  true  "Job ID"     format(uuid)
// @Success     200    {object}  domain.ReplyJob
// @Failure     404    {object}  handlers.ErrorResponse
// @Router      /api/v1/tenants/{id}/jobs/{jobID} [get]
func (h *Handlers) GetJob(c *gin.Context) {
	id, valid := tenantID(c)
	if !valid {
		return
	}
	j, err := h.tenants.Job(c.Request.Context(), id, c.Param("jobID"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, j)
}
