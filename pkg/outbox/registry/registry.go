package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/library-catalog/pkg/db/models"
	"github.com/angelmondragon/library-catalog/pkg/enums"
	"github.com/angelmondragon/library-catalog/pkg/outbox/payloads"
)

// EventDescriptor links an event type to its aggregate and payload schema.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	PayloadFactory func() payloads.DomainEvent
}

// ResolvedEvent is the result of validating an outbox row.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Event      payloads.DomainEvent
	RoutingKey string
}

// EventRegistry maps each supported event type to its descriptor.
type EventRegistry struct {
	domain  string
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError signals the publisher should stop retrying a row.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// NewNonRetryableError wraps an error to signal no retries.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err is, or wraps, a NonRetryableError.
func IsNonRetryable(err error) bool {
	var target NonRetryableError
	return errors.As(err, &target)
}

// NewEventRegistry builds the registry of catalog events published under domain.
func NewEventRegistry(domain string) (*EventRegistry, error) {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return nil, errors.New("routing domain is required")
	}
	reg := &EventRegistry{domain: domain, entries: make(map[enums.OutboxEventType]EventDescriptor)}
	for _, desc := range []EventDescriptor{
		{
			EventType:      enums.EventGenreCreated,
			AggregateType:  enums.AggregateGenre,
			PayloadFactory: func() payloads.DomainEvent { return &payloads.GenreCreated{} },
		},
		{
			EventType:      enums.EventGenreDeleted,
			AggregateType:  enums.AggregateGenre,
			PayloadFactory: func() payloads.DomainEvent { return &payloads.GenreDeleted{} },
		},
		{
			EventType:      enums.EventAuthorCreated,
			AggregateType:  enums.AggregateAuthor,
			PayloadFactory: func() payloads.DomainEvent { return &payloads.AuthorCreated{} },
		},
		{
			EventType:      enums.EventAuthorDeleted,
			AggregateType:  enums.AggregateAuthor,
			PayloadFactory: func() payloads.DomainEvent { return &payloads.AuthorDeleted{} },
		},
		{
			EventType:      enums.EventBookCreated,
			AggregateType:  enums.AggregateBook,
			PayloadFactory: func() payloads.DomainEvent { return &payloads.BookCreated{} },
		},
		{
			EventType:      enums.EventBookDeleted,
			AggregateType:  enums.AggregateBook,
			PayloadFactory: func() payloads.DomainEvent { return &payloads.BookDeleted{} },
		},
	} {
		reg.register(desc)
	}
	return reg, nil
}

func (r *EventRegistry) register(desc EventDescriptor) {
	if desc.PayloadFactory == nil {
		return
	}
	r.entries[desc.EventType] = desc
}

// Domain returns the routing key prefix.
func (r *EventRegistry) Domain() string {
	return r.domain
}

// RoutingKey builds `<domain>.<aggregateType>.<eventType>` in lower case.
func RoutingKey(domain string, aggregateType enums.OutboxAggregateType, eventType enums.OutboxEventType) string {
	return strings.ToLower(fmt.Sprintf("%s.%s.%s", domain, aggregateType, eventType))
}

// Decode dispatches on the @type discriminator and returns the typed event.
func (r *EventRegistry) Decode(payload []byte) (payloads.DomainEvent, error) {
	eventType, err := payloads.PeekType(payload)
	if err != nil {
		return nil, fmt.Errorf("read discriminator: %w", err)
	}
	desc, ok := r.entries[eventType]
	if !ok {
		return nil, fmt.Errorf("unsupported event type %s", eventType)
	}
	event := desc.PayloadFactory()
	if err := json.Unmarshal(payload, event); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	return event, nil
}

// Resolve validates the row against its descriptor and decodes the stored
// payload. Every failure is non-retryable: the row can never be published.
func (r *EventRegistry) Resolve(row models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[row.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", row.EventType))
	}
	if desc.AggregateType != row.AggregateType {
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, row.AggregateType))
	}
	if strings.TrimSpace(row.AggregateID) == "" {
		return nil, NewNonRetryableError(errors.New("missing aggregate_id"))
	}
	if len(row.Payload) == 0 {
		return nil, NewNonRetryableError(fmt.Errorf("payload missing for %s", row.EventType))
	}

	event, err := r.Decode(row.Payload)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}
	if event.EventType() != row.EventType {
		return nil, NewNonRetryableError(fmt.Errorf("payload @type %s does not match event_type %s", event.EventType(), row.EventType))
	}

	return &ResolvedEvent{
		Descriptor: desc,
		Event:      event,
		RoutingKey: RoutingKey(r.domain, row.AggregateType, row.EventType),
	}, nil
}
