package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tbourn/go-autoreply-backend/internal/mailbox"
	"github.com/tbourn/go-autoreply-backend/internal/services"
)

func TestWebhookValidator_Decode(t *testing.T) {
	v := MustWebhookValidator()

	tests := []struct {
		name    string
		body    []byte
		wantErr bool
		wantHID uint64
	}{
		{"string history id", pushBody(t, "m-1", map[string]any{"emailAddress": "owner@acme.io", "historyId": "1234"}), false, 1234},
		{"numeric history id", pushBody(t, "m-2", map[string]any{"emailAddress": "owner@acme.io", "historyId": 98765}), false, 98765},
		{"zero history id", pushBody(t, "m-3", map[string]any{"emailAddress": "owner@acme.io", "historyId": 0}), true, 0},
		{"missing email", pushBody(t, "m-4", map[string]any{"historyId": "1"}), true, 0},
		{"bad email", pushBody(t, "m-5", map[string]any{"emailAddress": "nobody", "historyId": "1"}), true, 0},
		{"non-numeric history id", pushBody(t, "m-6", map[string]any{"emailAddress": "owner@acme.io", "historyId": "abc"}), true, 0},
		{"not json", []byte("hello"), true, 0},
		{"missing message", []byte(`{"subscription":"s"}`), true, 0},
		{"missing message id", []byte(`{"message":{"data":"eyJ9"}}`), true, 0},
		{"bad base64", []byte(`{"message":{"data":"!!!","messageId":"m"}}`), true, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			n, err := v.Decode(tc.body)
			if tc.wantErr {
				if !services.IsValidation(err) {
					t.Fatalf("want validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if n.HistoryID != tc.wantHID || n.EmailAddress != "owner@acme.io" || n.PushID == "" {
				t.Fatalf("unexpected notification %+v", n)
			}
		})
	}
}

func TestWebhook_OK(t *testing.T) {
	ing := &fakeIngestor{res: services.IngestResult{TenantID: "t-1", Listed: 2, Enqueued: 1}}
	r := newTestRouter(t, New(ing, newFakeTenants(), &fakeWatcher{}, nil))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/gmail",
		bytes.NewReader(pushBody(t, "push-1", map[string]any{"emailAddress": "owner@acme.io", "historyId": "1500"})))
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var res services.IngestResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Enqueued != 1 || res.TenantID != "t-1" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(ing.got) != 1 || ing.got[0].PushID != "push-1" || ing.got[0].HistoryID != 1500 {
		t.Fatalf("unexpected notification %+v", ing.got)
	}
}

func TestWebhook_MalformedNeverReachesPipeline(t *testing.T) {
	ing := &fakeIngestor{}
	r := newTestRouter(t, New(ing, newFakeTenants(), &fakeWatcher{}, nil))

	for _, body := range []string{`{}`, `{"message":{"data":"%%%","messageId":"x"}}`, `not json`} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks/gmail", strings.NewReader(body)))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%q: status=%d", body, w.Code)
		}
		if got := decodeError(t, w.Body.Bytes()); got.Code != ErrCodeInvalidInput {
			t.Fatalf("%q: code=%q", body, got.Code)
		}
	}
	if len(ing.got) != 0 {
		t.Fatalf("pipeline called %d times", len(ing.got))
	}
}

func TestWebhook_ServiceErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unknown mailbox", services.ErrTenantNotFound, http.StatusNotFound, ErrCodeNotFound},
		{"rate limited", services.ErrRateLimited, http.StatusTooManyRequests, ErrCodeRateLimited},
		{"inactive", services.ErrSubscriptionInactive, http.StatusBadRequest, ErrCodeSubscriptionInactive},
		{"credentials rejected", fmt.Errorf("resolve: %w", &mailbox.AuthError{Err: errors.New("invalid_grant")}), http.StatusBadRequest, ErrCodeSubscriptionInactive},
		{"internal", errors.New("sqlite: database is locked at /var/lib/x.db"), http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRouter(t, New(&fakeIngestor{err: tc.err}, newFakeTenants(), &fakeWatcher{}, nil))
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/webhooks/gmail",
				bytes.NewReader(pushBody(t, "p", map[string]any{"emailAddress": "owner@acme.io", "historyId": "7"})))
			req.Header.Set("X-Request-ID", "rid-webhook")
			r.ServeHTTP(w, req)

			if w.Code != tc.status {
				t.Fatalf("status=%d want %d", w.Code, tc.status)
			}
			resp := decodeError(t, w.Body.Bytes())
			if resp.Code != tc.code || resp.RequestID != "rid-webhook" {
				t.Fatalf("unexpected envelope %+v", resp)
			}
			if strings.Contains(resp.Message, "sqlite") {
				t.Fatalf("internal detail leaked: %q", resp.Message)
			}
			if tc.status == http.StatusTooManyRequests && w.Header().Get("Retry-After") == "" {
				t.Fatalf("missing Retry-After")
			}
		})
	}
}
