package registry

import (
	"errors"
	"testing"

	"github.com/angelmondragon/library-catalog/pkg/db/models"
	"github.com/angelmondragon/library-catalog/pkg/enums"
	"github.com/angelmondragon/library-catalog/pkg/outbox/payloads"
)

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry("catalog")
	if err != nil {
		t.Fatalf("NewEventRegistry() error: %v", err)
	}
	return reg
}

func mustEncode(t *testing.T, event payloads.DomainEvent) []byte {
	t.Helper()
	raw, err := payloads.Encode(event)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return raw
}

func bookCreatedRow(t *testing.T) models.OutboxEvent {
	t.Helper()
	event := &payloads.BookCreated{
		EventBase: payloads.NewEventBase(enums.AggregateBook, "9780553293357"),
		ISBN:      "9780553293357",
		Title:     "Foundation",
		Genre:     "Science Fiction",
		AuthorIDs: []int64{1},
	}
	return models.OutboxEvent{
		EventType:     enums.EventBookCreated,
		AggregateType: enums.AggregateBook,
		AggregateID:   "9780553293357",
		Payload:       mustEncode(t, event),
	}
}

func TestRoutingKey(t *testing.T) {
	got := RoutingKey("Catalog", enums.AggregateBook, enums.EventBookCreated)
	if got != "catalog.book.bookcreated" {
		t.Fatalf("unexpected routing key %q", got)
	}
}

func TestEventRegistryResolveSuccess(t *testing.T) {
	reg := newTestEventRegistry(t)

	resolved, err := reg.Resolve(bookCreatedRow(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.RoutingKey != "catalog.book.bookcreated" {
		t.Fatalf("unexpected routing key %q", resolved.RoutingKey)
	}
	book, ok := resolved.Event.(*payloads.BookCreated)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Event)
	}
	if book.Title != "Foundation" || len(book.AuthorIDs) != 1 {
		t.Fatalf("payload mismatch %+v", book)
	}
	if book.EventID == "" || book.Timestamp.IsZero() {
		t.Fatalf("envelope fields missing: %+v", book.EventBase)
	}
}

func TestEventRegistryResolveUnknownEvent(t *testing.T) {
	reg := newTestEventRegistry(t)
	row := bookCreatedRow(t)
	row.EventType = "BookArchived"

	_, err := reg.Resolve(row)
	if !IsNonRetryable(err) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
}

func TestEventRegistryResolveAggregateMismatch(t *testing.T) {
	reg := newTestEventRegistry(t)
	row := bookCreatedRow(t)
	row.AggregateType = enums.AggregateGenre

	_, err := reg.Resolve(row)
	var nonRetry NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error, got %T", err)
	}
}

func TestEventRegistryResolveMissingAggregateID(t *testing.T) {
	reg := newTestEventRegistry(t)
	row := bookCreatedRow(t)
	row.AggregateID = " "

	if _, err := reg.Resolve(row); !IsNonRetryable(err) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
}

func TestEventRegistryResolveDiscriminatorMismatch(t *testing.T) {
	reg := newTestEventRegistry(t)
	row := bookCreatedRow(t)
	row.EventType = enums.EventBookDeleted

	if _, err := reg.Resolve(row); !IsNonRetryable(err) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
}

func TestEventRegistryResolveCorruptPayload(t *testing.T) {
	reg := newTestEventRegistry(t)
	row := bookCreatedRow(t)
	row.Payload = []byte(`{"@type":`)

	if _, err := reg.Resolve(row); !IsNonRetryable(err) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
}

func TestDecodeDispatchesOnType(t *testing.T) {
	reg := newTestEventRegistry(t)
	raw := mustEncode(t, &payloads.AuthorCreated{
		EventBase: payloads.NewEventBase(enums.AggregateAuthor, "42"),
		Number:    42,
		Name:      "Isaac Asimov",
	})

	event, err := reg.Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	author, ok := event.(*payloads.AuthorCreated)
	if !ok {
		t.Fatalf("unexpected type %T", event)
	}
	if author.Number != 42 || author.Name != "Isaac Asimov" {
		t.Fatalf("unexpected author %+v", author)
	}
	if author.Envelope().Type != "AuthorCreated" {
		t.Fatalf("unexpected discriminator %q", author.Type)
	}
}

func TestNewEventRegistryRequiresDomain(t *testing.T) {
	if _, err := NewEventRegistry(" "); err == nil {
		t.Fatal("expected error for empty domain")
	}
}
