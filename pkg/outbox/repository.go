package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/library-catalog/pkg/db/models"
	"github.com/angelmondragon/library-catalog/pkg/enums"
)

const maxErrorLen = 1024

// ErrClaimLost is returned when a row is no longer held by the caller, either
// because its lease expired and another publisher took it or it was finalized.
var ErrClaimLost = errors.New("outbox claim lost")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(&event).Error
}

// ClaimPending leases up to limit PENDING rows to owner until now+lease and
// returns them oldest first. Rows leased by another owner are skipped until
// their lease expires, which is what makes a crashed publisher's rows
// eligible again.
func (r *Repository) ClaimPending(ctx context.Context, owner string, limit int, now time.Time, lease time.Duration) ([]models.OutboxEvent, error) {
	if owner == "" {
		return nil, errors.New("claim owner required")
	}
	if limit <= 0 {
		return nil, nil
	}
	now = now.UTC()
	var claimed []models.OutboxEvent
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uuid.UUID
		if err := claimable(tx.Model(&models.OutboxEvent{}), now).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Order("created_at ASC").
			Order("id ASC").
			Limit(limit).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		if err := claimable(tx.Model(&models.OutboxEvent{}), now).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"claimed_by":    owner,
				"claimed_until": now.Add(lease),
			}).Error; err != nil {
			return err
		}

		return tx.Where("id IN ?", ids).
			Where("status = ? AND claimed_by = ?", enums.OutboxStatusPending, owner).
			Order("created_at ASC").
			Order("id ASC").
			Find(&claimed).Error
	})
	return claimed, err
}

func claimable(q *gorm.DB, now time.Time) *gorm.DB {
	return q.Where("status = ?", enums.OutboxStatusPending).
		Where("(claimed_until IS NULL OR claimed_until < ?)", now)
}

// MarkPublished finalizes a row held by owner.
func (r *Repository) MarkPublished(ctx context.Context, id uuid.UUID, owner string, now time.Time) error {
	published := now.UTC()
	return r.updateClaimed(ctx, id, owner, map[string]any{
		"status":        enums.OutboxStatusPublished,
		"published_at":  published,
		"error_message": nil,
		"claimed_by":    nil,
		"claimed_until": nil,
	})
}

// MarkRetry records a failed attempt and releases the lease so the next poll retries the row.
func (r *Repository) MarkRetry(ctx context.Context, id uuid.UUID, owner string, retryCount int, cause string) error {
	msg := truncateError(cause)
	return r.updateClaimed(ctx, id, owner, map[string]any{
		"retry_count":   retryCount,
		"error_message": msg,
		"claimed_by":    nil,
		"claimed_until": nil,
	})
}

// MarkFailed moves a row to the terminal FAILED status.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, owner string, retryCount int, cause string) error {
	msg := truncateError(cause)
	return r.updateClaimed(ctx, id, owner, map[string]any{
		"status":        enums.OutboxStatusFailed,
		"retry_count":   retryCount,
		"error_message": msg,
		"claimed_by":    nil,
		"claimed_until": nil,
	})
}

func (r *Repository) updateClaimed(ctx context.Context, id uuid.UUID, owner string, updates map[string]any) error {
	res := r.db.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Where("id = ? AND claimed_by = ? AND status = ?", id, owner, enums.OutboxStatusPending).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrClaimLost
	}
	return nil
}

// ReplayFailed resets FAILED rows to PENDING with a fresh retry budget. With
// no ids, up to limit of the oldest FAILED rows are replayed.
func (r *Repository) ReplayFailed(ctx context.Context, ids []uuid.UUID, limit int) (int64, error) {
	var affected int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		targets := ids
		if len(targets) == 0 {
			q := tx.Model(&models.OutboxEvent{}).
				Where("status = ?", enums.OutboxStatusFailed).
				Order("created_at ASC")
			if limit > 0 {
				q = q.Limit(limit)
			}
			if err := q.Pluck("id", &targets).Error; err != nil {
				return err
			}
		}
		if len(targets) == 0 {
			return nil
		}
		res := tx.Model(&models.OutboxEvent{}).
			Where("id IN ? AND status = ?", targets, enums.OutboxStatusFailed).
			Updates(map[string]any{
				"status":        enums.OutboxStatusPending,
				"retry_count":   0,
				"error_message": nil,
				"claimed_by":    nil,
				"claimed_until": nil,
			})
		affected = res.RowsAffected
		return res.Error
	})
	return affected, err
}

// CountByStatus returns the number of rows per status.
func (r *Repository) CountByStatus(ctx context.Context) (map[enums.OutboxStatus]int64, error) {
	var rows []struct {
		Status enums.OutboxStatus
		Total  int64
	}
	if err := r.db.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[enums.OutboxStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Total
	}
	return out, nil
}

// DeletePublishedBefore removes PUBLISHED rows older than cutoff.
func (r *Repository) DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	res := tx.WithContext(ctx).
		Where("status = ? AND published_at < ?", enums.OutboxStatusPublished, cutoff.UTC()).
		Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}

// FindByID is used by tooling and tests to inspect a single row.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.OutboxEvent, error) {
	var row models.OutboxEvent
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func truncateError(msg string) string {
	if len(msg) <= maxErrorLen {
		return msg
	}
	return msg[:maxErrorLen]
}
