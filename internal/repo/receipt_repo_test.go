package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-autoreply-backend/internal/domain"
)

func TestCreateReceipt_DuplicateUntilExpiry(t *testing.T) {
	ctx := context.Background()
	db := newMigratedDB(t)

	if _, err := CreateReceipt(ctx, db, "t1", "push-1", 10, time.Hour); err != nil {
		t.Fatalf("CreateReceipt: %v", err)
	}
	if _, err := CreateReceipt(ctx, db, "t1", "push-1", 10, time.Hour); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if _, err := CreateReceipt(ctx, db, "t2", "push-1", 10, time.Hour); err != nil {
		t.Fatalf("other tenant must not collide: %v", err)
	}

	// Expire the first receipt; it gets replaced.
	db.Model(&domain.NotificationReceipt{}).
		Where("tenant_id = ? AND push_id = ?", "t1", "push-1").
		Update("expires_at", time.Now().UTC().Add(-time.Minute))
	if _, err := CreateReceipt(ctx, db, "t1", "push-1", 11, time.Hour); err != nil {
		t.Fatalf("expired receipt should be replaced: %v", err)
	}

	if err := DeleteReceipt(ctx, db, "t2", "push-1"); err != nil {
		t.Fatalf("DeleteReceipt: %v", err)
	}
	if _, err := CreateReceipt(ctx, db, "t2", "push-1", 10, time.Hour); err != nil {
		t.Fatalf("deleted receipt should allow reprocessing: %v", err)
	}
}

func TestPurgeExpiredReceipts(t *testing.T) {
	ctx := context.Background()
	db := newMigratedDB(t)
	_, _ = CreateReceipt(ctx, db, "t1", "a", 1, time.Hour)
	_, _ = CreateReceipt(ctx, db, "t1", "b", 1, time.Hour)

	n, err := PurgeExpiredReceipts(ctx, db, time.Now().UTC().Add(2*time.Hour))
	if err != nil || n != 2 {
		t.Fatalf("PurgeExpiredReceipts: n=%d err=%v", n, err)
	}
}
