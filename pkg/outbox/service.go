package outbox

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/angelmondragon/library-catalog/pkg/db/models"
	"github.com/angelmondragon/library-catalog/pkg/logger"
	"github.com/angelmondragon/library-catalog/pkg/outbox/payloads"
)

type Service struct {
	repo *Repository
	logg *logger.Logger
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg}
}

// Emit appends event to the outbox inside tx. The payload is serialized once
// here and published verbatim later.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event payloads.DomainEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := payloads.Encode(event)
	if err != nil {
		return err
	}
	base := event.Envelope()
	row := models.OutboxEvent{
		EventType:     event.EventType(),
		AggregateType: base.AggregateType,
		AggregateID:   base.AggregateID,
		Payload:       payload,
		CreatedAt:     base.Timestamp,
	}
	if err := s.repo.Insert(tx, row); err != nil {
		return err
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"event_id":       base.EventID,
			"event_type":     event.EventType(),
			"aggregate_id":   base.AggregateID,
			"aggregate_type": base.AggregateType,
		})
		s.logg.Info(logCtx, "outbox event queued")
	}
	return nil
}
