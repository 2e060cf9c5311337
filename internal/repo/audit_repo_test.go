package repo

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/fleet-gateway/internal/domain"
)

func newAuditDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestCreateAuditEntries_AssignsIDsAndTimestamps(t *testing.T) {
	db := newAuditDB(t)
	ctx := context.Background()

	if err := CreateAuditEntries(ctx, db, nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}

	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	entries := []domain.AuditEntry{
		{UserID: "u1", Method: "GET", Route: "/api/fleet/v", Outcome: domain.AuditAuthenticated, CreatedAt: base},
		{Method: "GET", Route: "/api/parts/1", Outcome: domain.AuditRejected, Reason: "expired", CreatedAt: base.Add(time.Second)},
		{UserID: "u1", Method: "POST", Route: "/api/workshop/jobs", Outcome: domain.AuditAuthenticated},
	}
	if err := CreateAuditEntries(ctx, db, entries); err != nil {
		t.Fatalf("create: %v", err)
	}
	seen := map[string]bool{}
	for _, e := range entries {
		if e.ID == "" || seen[e.ID] {
			t.Fatalf("expected unique generated ids, got %q", e.ID)
		}
		seen[e.ID] = true
		if e.CreatedAt.IsZero() {
			t.Fatalf("timestamp not filled for %+v", e)
		}
	}

	all, err := listAuditEntries(ctx, db, "", 0)
	if err != nil || len(all) != 3 {
		t.Fatalf("list all: n=%d err=%v", len(all), err)
	}
	mine, err := listAuditEntries(ctx, db, "u1", 10)
	if err != nil || len(mine) != 2 {
		t.Fatalf("list u1: n=%d err=%v", len(mine), err)
	}
	if mine[0].Route != "/api/workshop/jobs" {
		t.Fatalf("expected newest first, got %+v", mine[0])
	}
}

func TestCreateAuditEntries_RejectsUnknownOutcome(t *testing.T) {
	db := newAuditDB(t)
	err := CreateAuditEntries(context.Background(), db, []domain.AuditEntry{
		{Method: "GET", Route: "/x", Outcome: domain.AuditOutcome("maybe")},
	})
	if err == nil {
		t.Fatalf("expected CHECK constraint violation")
	}
}

func TestPurgeAuditBefore(t *testing.T) {
	db := newAuditDB(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)
	entries := []domain.AuditEntry{
		{Method: "GET", Route: "/a", Outcome: domain.AuditRejected, CreatedAt: old},
		{Method: "GET", Route: "/b", Outcome: domain.AuditRejected, CreatedAt: old.Add(time.Minute)},
		{Method: "GET", Route: "/c", Outcome: domain.AuditRejected},
	}
	if err := CreateAuditEntries(ctx, db, entries); err != nil {
		t.Fatalf("create: %v", err)
	}

	n, err := PurgeAuditBefore(ctx, db, time.Now().UTC().Add(-24*time.Hour))
	if err != nil || n != 2 {
		t.Fatalf("purge: n=%d err=%v", n, err)
	}
	left, _ := listAuditEntries(ctx, db, "", 10)
	if len(left) != 1 || left[0].Route != "/c" {
		t.Fatalf("unexpected remaining entries %+v", left)
	}
}
