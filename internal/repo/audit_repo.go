package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/fleet-gateway/internal/domain"
)

const auditBatchSize = 100

// CreateAuditEntries inserts entries in batches. Entries without an ID get
// a fresh UUID and entries without a timestamp get the current time.
func CreateAuditEntries(ctx context.Context, db *gorm.DB, entries []domain.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = uuid.NewString()
		}
		if entries[i].CreatedAt.IsZero() {
			entries[i].CreatedAt = now
		}
	}
	return db.WithContext(ctx).CreateInBatches(entries, auditBatchSize).Error
}

// listAuditEntries returns up to limit entries for userID, newest first.
// An empty userID lists every entry.
func listAuditEntries(ctx context.Context, db *gorm.DB, userID string, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	q := db.WithContext(ctx).Model(&domain.AuditEntry{})
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	var out []domain.AuditEntry
	err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&out).Error
	return out, err
}

// PurgeAuditBefore deletes entries older than cutoff and returns how many
// were removed.
func PurgeAuditBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&domain.AuditEntry{})
	return res.RowsAffected, res.Error
}
