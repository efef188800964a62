package enums

import "fmt"

// OutboxAggregateType names the catalog entity an outbox row describes.
type OutboxAggregateType string

const (
	AggregateGenre  OutboxAggregateType = "Genre"
	AggregateAuthor OutboxAggregateType = "Author"
	AggregateBook   OutboxAggregateType = "Book"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateGenre,
	AggregateAuthor,
	AggregateBook,
}

// IsValid reports whether the value is a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType is the domain event name stored in event_type.
type OutboxEventType string

const (
	EventGenreCreated  OutboxEventType = "GenreCreated"
	EventGenreDeleted  OutboxEventType = "GenreDeleted"
	EventAuthorCreated OutboxEventType = "AuthorCreated"
	EventAuthorDeleted OutboxEventType = "AuthorDeleted"
	EventBookCreated   OutboxEventType = "BookCreated"
	EventBookDeleted   OutboxEventType = "BookDeleted"
)

var validOutboxEventTypes = []OutboxEventType{
	EventGenreCreated,
	EventGenreDeleted,
	EventAuthorCreated,
	EventAuthorDeleted,
	EventBookCreated,
	EventBookDeleted,
}

func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// OutboxStatus is the publication state of an outbox row.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "PENDING"
	OutboxStatusPublished OutboxStatus = "PUBLISHED"
	OutboxStatusFailed    OutboxStatus = "FAILED"
)

var validOutboxStatuses = []OutboxStatus{
	OutboxStatusPending,
	OutboxStatusPublished,
	OutboxStatusFailed,
}

func (s OutboxStatus) String() string {
	return string(s)
}

func (s OutboxStatus) IsValid() bool {
	for _, candidate := range validOutboxStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the publisher will never touch the row again.
func (s OutboxStatus) IsTerminal() bool {
	return s == OutboxStatusPublished || s == OutboxStatusFailed
}
