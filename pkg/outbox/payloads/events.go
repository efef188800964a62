package payloads

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/library-catalog/pkg/enums"
)

// EventBase carries the fields every catalog event shares on the wire.
// Type is the discriminator consumers dispatch on.
type EventBase struct {
	Type          string                    `json:"@type"`
	EventID       string                    `json:"eventId"`
	Timestamp     time.Time                 `json:"timestamp"`
	AggregateID   string                    `json:"aggregateId"`
	AggregateType enums.OutboxAggregateType `json:"aggregateType"`
}

// DomainEvent is implemented by every event stored in the outbox.
type DomainEvent interface {
	EventType() enums.OutboxEventType
	Envelope() *EventBase
}

func (b *EventBase) Envelope() *EventBase { return b }

// NewEventBase stamps a fresh event id and timestamp.
func NewEventBase(aggregateType enums.OutboxAggregateType, aggregateID string) EventBase {
	return EventBase{
		EventID:       uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
	}
}

// Encode fills the discriminator and any missing identity fields, then serializes the event.
func Encode(event DomainEvent) ([]byte, error) {
	if event == nil {
		return nil, errors.New("event is required")
	}
	base := event.Envelope()
	if base == nil {
		return nil, errors.New("event envelope is required")
	}
	base.Type = string(event.EventType())
	if base.EventID == "" {
		base.EventID = uuid.NewString()
	}
	if base.Timestamp.IsZero() {
		base.Timestamp = time.Now().UTC()
	}
	if base.AggregateID == "" {
		return nil, errors.New("aggregate id is required")
	}
	return json.Marshal(event)
}

// PeekType returns the @type discriminator without decoding the rest.
func PeekType(payload []byte) (enums.OutboxEventType, error) {
	var head struct {
		Type string `json:"@type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return "", err
	}
	if head.Type == "" {
		return "", errors.New("payload has no @type")
	}
	return enums.OutboxEventType(head.Type), nil
}

type GenreCreated struct {
	EventBase
	Name string `json:"name"`
}

func (*GenreCreated) EventType() enums.OutboxEventType { return enums.EventGenreCreated }

type GenreDeleted struct {
	EventBase
}

func (*GenreDeleted) EventType() enums.OutboxEventType { return enums.EventGenreDeleted }

type AuthorCreated struct {
	EventBase
	Number   int64  `json:"number"`
	Name     string `json:"name"`
	Bio      string `json:"bio,omitempty"`
	PhotoURI string `json:"photoURI,omitempty"`
}

func (*AuthorCreated) EventType() enums.OutboxEventType { return enums.EventAuthorCreated }

type AuthorDeleted struct {
	EventBase
	Number int64 `json:"number"`
}

func (*AuthorDeleted) EventType() enums.OutboxEventType { return enums.EventAuthorDeleted }

// BookCreated announces a new book together with its genre name and author numbers.
type BookCreated struct {
	EventBase
	ISBN      string  `json:"isbn"`
	Title     string  `json:"title"`
	Genre     string  `json:"genre"`
	AuthorIDs []int64 `json:"authorIds"`
}

func (*BookCreated) EventType() enums.OutboxEventType { return enums.EventBookCreated }

type BookDeleted struct {
	EventBase
	ISBN string `json:"isbn"`
}

func (*BookDeleted) EventType() enums.OutboxEventType { return enums.EventBookDeleted }
