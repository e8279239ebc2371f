package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/tbourn/go-autoreply-backend/internal/domain"
	"github.com/tbourn/go-autoreply-backend/internal/mailbox"
	"github.com/tbourn/go-autoreply-backend/internal/services"
)

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterTenant(t *testing.T) {
	tenants := newFakeTenants()
	r := newTestRouter(t, New(&fakeIngestor{}, tenants, &fakeWatcher{}, nil))

	w := do(r, http.MethodPost, "/tenants", `{"email":"owner@acme.io","first_name":"Alex","credentials":"{\"access_token\":\"x\"}"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var got domain.Tenant
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.ID == "" || got.Email != "owner@acme.io" {
		t.Fatalf("unexpected tenant %+v", got)
	}
	if strings.Contains(w.Body.String(), "access_token") {
		t.Fatalf("credentials serialized: %s", w.Body.String())
	}
	if tenants.lastRegister.Credentials == "" {
		t.Fatalf("credentials not forwarded")
	}

	if w := do(r, http.MethodPost, "/tenants", `{"first_name":"x"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing email: status=%d", w.Code)
	}

	tenants.err = services.ErrTenantExists
	if w := do(r, http.MethodPost, "/tenants", `{"email":"owner@acme.io"}`); w.Code != http.StatusConflict {
		t.Fatalf("duplicate: status=%d", w.Code)
	}
}

func TestGetTenant(t *testing.T) {
	id := uuid.NewString()
	r := newTestRouter(t, New(&fakeIngestor{}, newFakeTenants(id), &fakeWatcher{}, nil))

	if w := do(r, http.MethodGet, "/tenants/"+id, ""); w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if w := do(r, http.MethodGet, "/tenants/"+uuid.NewString(), ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown: status=%d", w.Code)
	}
	w := do(r, http.MethodGet, "/tenants/not-a-uuid", "")
	if w.Code != http.StatusBadRequest || decodeError(t, w.Body.Bytes()).Code != ErrCodeBadRequest {
		t.Fatalf("bad id: status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestSettings_GetAndPut(t *testing.T) {
	id := uuid.NewString()
	tenants := newFakeTenants(id)
	r := newTestRouter(t, New(&fakeIngestor{}, tenants, &fakeWatcher{}, nil))

	w := do(r, http.MethodGet, "/tenants/"+id+"/settings", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}

	body := `{"enabled":true,"mode":"ai","tone":"friendly","delay_minutes":5,"business_days":[1,2,3],"timezone":"Europe/Athens","skip_keywords":["invoice"]}`
	w = do(r, http.MethodPut, "/tenants/"+id+"/settings", body)
	if w.Code != http.StatusOK {
		t.Fatalf("put status=%d body=%s", w.Code, w.Body.String())
	}
	s := tenants.settings[id]
	if s == nil || !s.Enabled || s.Mode != domain.ReplyMode("ai") || s.DelayMinutes != 5 || len(s.BusinessDays) != 3 {
		t.Fatalf("settings not stored: %+v", s)
	}

	w = do(r, http.MethodPut, "/tenants/"+id+"/settings", `{"delay_minutes":-1}`)
	if w.Code != http.StatusBadRequest || decodeError(t, w.Body.Bytes()).Code != ErrCodeInvalidInput {
		t.Fatalf("invalid: status=%d body=%s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodPut, "/tenants/"+id+"/settings", `{`); w.Code != http.StatusBadRequest {
		t.Fatalf("malformed: status=%d", w.Code)
	}
}

func TestWatch_StartStop(t *testing.T) {
	id := uuid.NewString()
	watch := &fakeWatcher{}
	r := newTestRouter(t, New(&fakeIngestor{}, newFakeTenants(id), watch, nil))

	w := do(r, http.MethodPost, "/tenants/"+id+"/watch", "")
	if w.Code != http.StatusOK {
		t.Fatalf("start status=%d", w.Code)
	}
	var sub domain.WatchSubscription
	if err := json.Unmarshal(w.Body.Bytes(), &sub); err != nil {
		t.Fatal(err)
	}
	if !sub.Active || sub.HistoryCursor != 500 {
		t.Fatalf("unexpected subscription %+v", sub)
	}

	if w := do(r, http.MethodDelete, "/tenants/"+id+"/watch", ""); w.Code != http.StatusNoContent {
		t.Fatalf("stop status=%d", w.Code)
	}
	if watch.starts != 1 || watch.stops != 1 {
		t.Fatalf("starts=%d stops=%d", watch.starts, watch.stops)
	}

	tests := []struct {
		err    error
		status int
		code   string
	}{
		{services.ErrWatchUnavailable, http.StatusServiceUnavailable, ErrCodeUnavailable},
		{&mailbox.AuthError{Err: errTest}, http.StatusBadGateway, ErrCodeMailboxAuth},
		{services.ErrTenantNotFound, http.StatusNotFound, ErrCodeNotFound},
	}
	for _, tc := range tests {
		watch.startErr = tc.err
		w := do(r, http.MethodPost, "/tenants/"+id+"/watch", "")
		if w.Code != tc.status || decodeError(t, w.Body.Bytes()).Code != tc.code {
			t.Fatalf("%v: status=%d body=%s", tc.err, w.Code, w.Body.String())
		}
	}

	watch.stopErr = services.ErrSubscriptionInactive
	if w := do(r, http.MethodDelete, "/tenants/"+id+"/watch", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("stop inactive status=%d", w.Code)
	}
}

func TestRecordOutbound(t *testing.T) {
	id := uuid.NewString()
	tenants := newFakeTenants(id)
	r := newTestRouter(t, New(&fakeIngestor{}, tenants, &fakeWatcher{}, nil))

	w := do(r, http.MethodPost, "/tenants/"+id+"/outbound",
		`{"subject":"Project Update","auto_reply_enabled":true,"recipients":["client@example.com"],"sent_at":"2025-03-01T10:00:00Z"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if got := tenants.lastOutbound; !got.AutoReplyEnabled || len(got.Recipients) != 1 || got.SentAt.IsZero() {
		t.Fatalf("unexpected input %+v", got)
	}

	if w := do(r, http.MethodPost, "/tenants/"+id+"/outbound", `{"subject":"x","recipients":[]}`); w.Code != http.StatusBadRequest {
		t.Fatalf("no recipients: status=%d", w.Code)
	}
}
