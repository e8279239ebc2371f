package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-autoreply-backend/internal/domain"
	"github.com/tbourn/go-autoreply-backend/internal/events"
	"github.com/tbourn/go-autoreply-backend/internal/mailbox"
	"github.com/tbourn/go-autoreply-backend/internal/repo"
)

// manualTimers captures scheduled renewals so tests can fire them by hand.
type manualTimers struct {
	mu     sync.Mutex
	delays []time.Duration
	fns    []func()
}

func (m *manualTimers) afterFunc(d time.Duration, f func()) *time.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays = append(m.delays, d)
	m.fns = append(m.fns, f)
	return time.AfterFunc(time.Hour, func() {})
}

func (m *manualTimers) fire(i int) { m.fns[i]() }

func newWatchManager(db *gorm.DB, p mailbox.Provider, pub events.Publisher, clock time.Time) (*WatchManager, *manualTimers) {
	w := NewWatchManager(db, factoryFor(p), "projects/p/topics/t", time.Hour, pub)
	mt := &manualTimers{}
	w.afterFunc = mt.afterFunc
	w.now = func() time.Time { return clock }
	return w, mt
}

func TestWatchStart_StoresBaselineAndSchedulesRenewal(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	tn, err := repo.CreateTenant(ctx, db, &domain.Tenant{Email: "owner@acme.io"})
	if err != nil {
		t.Fatal(err)
	}
	clock := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	p := newFakeProvider()
	p.watch = mailbox.WatchResult{Cursor: 500, Expiration: clock.Add(7 * 24 * time.Hour)}
	w, mt := newWatchManager(db, p, nil, clock)
	defer w.Shutdown()

	sub, err := w.Start(ctx, tn.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !sub.Active || sub.HistoryCursor != 500 {
		t.Fatalf("unexpected subscription %+v", sub)
	}
	if len(mt.delays) != 1 || mt.delays[0] != 7*24*time.Hour-time.Hour {
		t.Fatalf("renewal delay = %v", mt.delays)
	}
	if w.Pending() != 1 {
		t.Fatalf("pending = %d", w.Pending())
	}
}

func TestWatchStart_Errors(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	p := newFakeProvider()
	w, _ := newWatchManager(db, p, nil, time.Now())
	defer w.Shutdown()

	if _, err := w.Start(ctx, "missing"); !errors.Is(err, ErrTenantNotFound) {
		t.Fatalf("want ErrTenantNotFound, got %v", err)
	}

	w.Topic = ""
	if _, err := w.Start(ctx, "any"); !errors.Is(err, ErrWatchUnavailable) {
		t.Fatalf("want ErrWatchUnavailable, got %v", err)
	}
}

func TestWatchRenew_KeepsCursorAndReschedules(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	tn := seedTenant(t, db, "owner@acme.io", 42)
	clock := time.Now().UTC()
	p := newFakeProvider()
	p.watch = mailbox.WatchResult{Cursor: 900, Expiration: clock.Add(7 * 24 * time.Hour)}
	w, mt := newWatchManager(db, p, nil, clock)
	defer w.Shutdown()

	if n, err := w.RestoreAll(ctx); err != nil || n != 1 {
		t.Fatalf("RestoreAll = %d, %v", n, err)
	}
	mt.fire(0)

	sub, err := repo.GetSubscription(ctx, db, tn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sub.HistoryCursor != 42 {
		t.Fatalf("renewal must keep the stored cursor, got %d", sub.HistoryCursor)
	}
	if d := sub.Expiration.Sub(p.watch.Expiration); d > time.Second || d < -time.Second {
		t.Fatalf("expiration not refreshed: %v", sub.Expiration)
	}
	if p.watches != 1 || w.Pending() != 1 || len(mt.delays) != 2 {
		t.Fatalf("watches=%d pending=%d scheduled=%d", p.watches, w.Pending(), len(mt.delays))
	}

	// A superseded timer does nothing when it fires.
	mt.fire(0)
	if p.watches != 1 {
		t.Fatalf("stale timer renewed again")
	}
}

func TestWatchRenew_FailureDeactivates(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	tn := seedTenant(t, db, "owner@acme.io", 42)
	p := newFakeProvider()
	p.watchErr = &mailbox.AuthError{Err: errors.New("invalid_grant")}
	rec := &recorder{}
	w, _ := newWatchManager(db, p, rec, time.Now().UTC())
	defer w.Shutdown()
	if _, err := w.RestoreAll(ctx); err != nil {
		t.Fatal(err)
	}

	if err := w.Renew(ctx, tn.ID); !mailbox.IsAuth(err) {
		t.Fatalf("want auth error, got %v", err)
	}
	sub, _ := repo.GetSubscription(ctx, db, tn.ID)
	if sub.Active || sub.ErrorCount != 1 || sub.LastError == "" {
		t.Fatalf("unexpected subscription %+v", sub)
	}
	if w.Pending() != 0 {
		t.Fatalf("timer should be removed")
	}
	if types := rec.types(); len(types) != 1 || types[0] != events.WatchStopped {
		t.Fatalf("events = %v", types)
	}
}

func TestWatchStop(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	tn := seedTenant(t, db, "owner@acme.io", 42)
	p := newFakeProvider()
	w, _ := newWatchManager(db, p, nil, time.Now().UTC())
	defer w.Shutdown()
	if _, err := w.RestoreAll(ctx); err != nil {
		t.Fatal(err)
	}

	if err := w.Stop(ctx, tn.ID); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	sub, _ := repo.GetSubscription(ctx, db, tn.ID)
	if sub.Active || p.stops != 1 || w.Pending() != 0 {
		t.Fatalf("active=%v stops=%d pending=%d", sub.Active, p.stops, w.Pending())
	}

	if err := w.Stop(ctx, "unknown"); !errors.Is(err, ErrSubscriptionInactive) {
		t.Fatalf("want ErrSubscriptionInactive, got %v", err)
	}
}

func TestWatchShutdown_CancelsTimers(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedTenant(t, db, "a@acme.io", 1)
	seedTenant(t, db, "b@acme.io", 1)
	w, mt := newWatchManager(db, newFakeProvider(), nil, time.Now().UTC())

	if n, err := w.RestoreAll(ctx); err != nil || n != 2 || w.Pending() != 2 {
		t.Fatalf("RestoreAll = %d, %v (pending %d)", n, err, w.Pending())
	}
	w.Shutdown()
	if w.Pending() != 0 {
		t.Fatalf("pending after shutdown = %d", w.Pending())
	}
	if _, err := w.RestoreAll(ctx); err != nil {
		t.Fatal(err)
	}
	if w.Pending() != 0 || len(mt.delays) != 2 {
		t.Fatalf("no timers may be scheduled after shutdown")
	}
}
