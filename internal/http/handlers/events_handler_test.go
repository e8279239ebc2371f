package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/tbourn/go-autoreply-backend/internal/events"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEvents_StreamsTenantEvents(t *testing.T) {
	id := uuid.NewString()
	hub := events.NewHub()
	srv := httptest.NewServer(newTestRouter(t, New(&fakeIngestor{}, newFakeTenants(id), &fakeWatcher{}, hub)))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/tenants/" + id + "/events"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	waitFor(t, func() bool { return hub.Subscribers(id) == 1 })

	hub.Publish(ctx, events.Event{Type: events.JobEnqueued, TenantID: uuid.NewString(), JobID: "other"})
	hub.Publish(ctx, events.Event{Type: events.JobSent, TenantID: id, JobID: "job-1"})

	var got events.Event
	if err := wsjson.Read(ctx, conn, &got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != events.JobSent || got.JobID != "job-1" || got.TenantID != id {
		t.Fatalf("unexpected event %+v", got)
	}

	conn.Close(websocket.StatusNormalClosure, "")
	waitFor(t, func() bool { return hub.Subscribers(id) == 0 })
}

func TestEvents_UnknownTenantIsNotUpgraded(t *testing.T) {
	hub := events.NewHub()
	r := newTestRouter(t, New(&fakeIngestor{}, newFakeTenants(), &fakeWatcher{}, hub))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tenants/"+uuid.NewString()+"/events", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestEvents_RejectsForeignOrigin(t *testing.T) {
	id := uuid.NewString()
	hub := events.NewHub()
	srv := httptest.NewServer(newTestRouter(t,
		New(&fakeIngestor{}, newFakeTenants(id), &fakeWatcher{}, hub, WithWebsocketOrigins("app.acme.io"))))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hdr := http.Header{}
	hdr.Set("Origin", "https://evil.example.com")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/tenants/" + id + "/events"
	_, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: hdr})
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("want 403, got %+v", resp)
	}
	if hub.Subscribers(id) != 0 {
		t.Fatal("subscription leaked")
	}
}
