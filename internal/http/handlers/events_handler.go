// Live job event feed.
//
//   - GET /tenants/{id}/events   (websocket; one JSON message per event)
package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/tbourn/go-autoreply-backend/internal/http/middleware"
)

const (
	eventWriteTimeout = 5 * time.Second
	eventPingInterval = 30 * time.Second
)

// Events godoc
// @ID          jobEvents
// @Summary     Stream job events over a websocket
// @Description Upgrades to a websocket and pushes job lifecycle events (enqueued, sent, retry, failed, cancelled, watch stopped) for the tenant until the client disconnects. Slow clients miss events rather than stall the pipeline.
// @Tags        Jobs
// @Param       id   path  string  true  "Tenant ID"  format(uuid)
// @Success     101  {string}  string  "Switching Protocols"
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /api/v1/tenants/{id}/events [get]
func (h *Handlers) Events(c *gin.Context) {
	id, valid := tenantID(c)
	if !valid {
		return
	}
	if _, err := h.tenants.Get(c.Request.Context(), id); err != nil {
		failErr(c, err)
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{OriginPatterns: h.wsOrigins})
	if err != nil {
		// Accept already wrote the HTTP error.
		c.Abort()
		return
	}
	defer conn.CloseNow()

	lg := *middleware.LoggerFrom(c)
	lg = lg.With().Str("tenant_id", id).Logger()
	ch, cancel := h.feed.Subscribe(id)
	defer cancel()
	lg.Info().Msg("event feed connected")

	// Clients only listen; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := conn.CloseRead(c.Request.Context())
	ping := time.NewTicker(eventPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			lg.Info().Msg("event feed disconnected")
			return
		case ev, open := <-ch:
			if !open {
				conn.Close(websocket.StatusGoingAway, "feed closed")
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(wctx, conn, ev)
			wcancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					lg.Warn().Err(err).Msg("event write failed")
				}
				return
			}
		case <-ping.C:
			pctx, pcancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := conn.Ping(pctx)
			pcancel()
			if err != nil {
				return
			}
		}
	}
}
