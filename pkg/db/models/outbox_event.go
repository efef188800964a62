package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/library-catalog/pkg/enums"
)

// OutboxEvent represents an append-only event emitted via the outbox pattern.
type OutboxEvent struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;type:varchar(64);not null"`
	AggregateID   string                    `gorm:"column:aggregate_id;type:varchar(128);not null"`
	EventType     enums.OutboxEventType     `gorm:"column:event_type;type:varchar(64);not null"`
	Payload       json.RawMessage           `gorm:"column:payload;type:jsonb;not null"`
	CreatedAt     time.Time                 `gorm:"column:created_at;not null;index:idx_outbox_events_status_created,priority:2"`
	PublishedAt   *time.Time                `gorm:"column:published_at"`
	Status        enums.OutboxStatus        `gorm:"column:status;type:varchar(16);not null;default:PENDING;index:idx_outbox_events_status_created,priority:1"`
	RetryCount    int                       `gorm:"column:retry_count;not null;default:0"`
	ErrorMessage  *string                   `gorm:"column:error_message"`
	ClaimedBy     *string                   `gorm:"column:claimed_by;type:varchar(128)"`
	ClaimedUntil  *time.Time                `gorm:"column:claimed_until"`
}

func (OutboxEvent) TableName() string { return "outbox_events" }

// BeforeCreate assigns a random id and defaults so rows never depend on database-side generators.
func (e *OutboxEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = enums.OutboxStatusPending
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return nil
}
