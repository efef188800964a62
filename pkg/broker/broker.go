// Package broker defines the transport-neutral contract the outbox publisher
// uses to hand events to a message broker.
package broker

import (
	"context"
	"time"
)

// Message is one event ready for the wire. Body is sent verbatim.
type Message struct {
	RoutingKey string
	MessageID  string
	Type       string
	Body       []byte
	Headers    map[string]string
	Timestamp  time.Time
}

// Publisher delivers messages and reports broker health.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Ping(ctx context.Context) error
	Close() error
}
