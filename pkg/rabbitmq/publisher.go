package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/multierr"

	"github.com/angelmondragon/library-catalog/pkg/broker"
	"github.com/angelmondragon/library-catalog/pkg/config"
	"github.com/angelmondragon/library-catalog/pkg/logger"
)

const (
	exchangeKindTopic     = "topic"
	defaultConfirmTimeout = 5 * time.Second
	contentTypeJSON       = "application/json"
)

var (
	ErrNack           = errors.New("broker rejected message")
	ErrConfirmTimeout = errors.New("timed out waiting for broker confirm")
	ErrClosed         = errors.New("publisher closed")
)

// channel is the subset of *amqp.Channel the publisher needs.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

type channelOpener func() (channel, error)

// Publisher sends messages to a durable topic exchange in confirm mode.
// Publishes are serialized so each confirm matches the message just sent.
type Publisher struct {
	mu             sync.Mutex
	open           channelOpener
	closeConn      func() error
	ch             channel
	confirms       chan amqp.Confirmation
	exchange       string
	confirmTimeout time.Duration
	logg           *logger.Logger
	closed         bool
}

// New dials RabbitMQ, declares the exchange and enables publisher confirms.
func New(ctx context.Context, cfg config.BrokerConfig, logg *logger.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	open := func() (channel, error) {
		return conn.Channel()
	}
	p, err := newPublisher(ctx, open, conn.Close, cfg.Exchange, cfg.RabbitConfirmTimeout, logg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return p, nil
}

func newPublisher(ctx context.Context, open channelOpener, closeConn func() error, exchange string, confirmTimeout time.Duration, logg *logger.Logger) (*Publisher, error) {
	if exchange == "" {
		return nil, errors.New("exchange name is required")
	}
	if confirmTimeout <= 0 {
		confirmTimeout = defaultConfirmTimeout
	}
	p := &Publisher{
		open:           open,
		closeConn:      closeConn,
		exchange:       exchange,
		confirmTimeout: confirmTimeout,
		logg:           logg,
	}
	if err := p.setupChannel(); err != nil {
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "exchange", exchange), "rabbitmq publisher ready")
	}
	return p, nil
}

// setupChannel must be called with mu held (or before the publisher is shared).
func (p *Publisher) setupChannel() error {
	ch, err := p.open()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, exchangeKindTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("enable confirm mode: %w", err)
	}
	p.ch = ch
	p.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	return nil
}

// Publish sends msg and blocks until the broker acks, nacks or the confirm times out.
func (p *Publisher) Publish(ctx context.Context, msg broker.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if p.ch == nil || p.ch.IsClosed() {
		if p.logg != nil {
			p.logg.Warn(ctx, "rabbitmq channel closed, reopening")
		}
		if err := p.setupChannel(); err != nil {
			return err
		}
	}

	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	publishing := amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.MessageID,
		Type:         msg.Type,
		Timestamp:    msg.Timestamp,
		Headers:      headers,
		Body:         msg.Body,
	}
	if err := p.ch.PublishWithContext(ctx, p.exchange, msg.RoutingKey, false, false, publishing); err != nil {
		return fmt.Errorf("publish %s: %w", msg.RoutingKey, err)
	}

	timer := time.NewTimer(p.confirmTimeout)
	defer timer.Stop()
	select {
	case confirm, ok := <-p.confirms:
		if !ok {
			// channel died before confirming; force a reopen next time
			p.ch = nil
			return fmt.Errorf("publish %s: confirm channel closed", msg.RoutingKey)
		}
		if !confirm.Ack {
			return fmt.Errorf("publish %s: %w", msg.RoutingKey, ErrNack)
		}
		return nil
	case <-timer.C:
		// a late confirm would be matched to the next message; drop the channel
		_ = p.ch.Close()
		p.ch = nil
		return fmt.Errorf("publish %s: %w", msg.RoutingKey, ErrConfirmTimeout)
	case <-ctx.Done():
		_ = p.ch.Close()
		p.ch = nil
		return ctx.Err()
	}
}

// Ping reports whether the publisher holds an open channel, reopening it if needed.
func (p *Publisher) Ping(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.ch != nil && !p.ch.IsClosed() {
		return nil
	}
	return p.setupChannel()
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var err error
	if p.ch != nil {
		if cerr := p.ch.Close(); cerr != nil && !errors.Is(cerr, amqp.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}
	if p.closeConn != nil {
		if cerr := p.closeConn(); cerr != nil && !errors.Is(cerr, amqp.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}
	return err
}

var _ broker.Publisher = (*Publisher)(nil)
