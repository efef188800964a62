package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/angelmondragon/library-catalog/pkg/broker"
	"github.com/angelmondragon/library-catalog/pkg/config"
	"github.com/angelmondragon/library-catalog/pkg/db/models"
	"github.com/angelmondragon/library-catalog/pkg/logger"
	"github.com/angelmondragon/library-catalog/pkg/metrics"
	"github.com/angelmondragon/library-catalog/pkg/outbox"
	"github.com/angelmondragon/library-catalog/pkg/outbox/registry"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

const (
	defaultBatchSize      = 50
	defaultPollMs         = 1000
	defaultPublishTimeout = 15 * time.Second
	defaultMaxRetries     = 10
	defaultClaimLease     = 30 * time.Second
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond

	heldCause = "held behind an earlier event of the same aggregate"
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type dbPinger interface {
	Ping(context.Context) error
}

type outboxRepository interface {
	ClaimPending(ctx context.Context, owner string, limit int, now time.Time, lease time.Duration) ([]models.OutboxEvent, error)
	MarkPublished(ctx context.Context, id uuid.UUID, owner string, now time.Time) error
	MarkRetry(ctx context.Context, id uuid.UUID, owner string, retryCount int, cause string) error
	MarkFailed(ctx context.Context, id uuid.UUID, owner string, retryCount int, cause string) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type ServiceParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         dbPinger
	Publisher  broker.Publisher
	Repository outboxRepository
	Registry   registryResolver
	Metrics    *metrics.OutboxMetrics
	// Owner identifies this publisher in claim columns; defaults to a random id.
	Owner string
	Now   func() time.Time
}

type Service struct {
	logg           *logger.Logger
	db             dbPinger
	publisher      broker.Publisher
	repo           outboxRepository
	registry       registryResolver
	metrics        *metrics.OutboxMetrics
	owner          string
	now            func() time.Time
	batchSize      int
	maxRetries     int
	pollInterval   time.Duration
	claimLease     time.Duration
	publishTimeout time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Publisher == nil {
		return nil, errors.New("broker publisher is required")
	}
	if params.Repository == nil {
		return nil, errors.New("outbox repository is required")
	}
	if params.Registry == nil {
		return nil, errors.New("event registry is required")
	}

	cfg := params.Config.Outbox
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	pollMs := cfg.PollIntervalMS
	if pollMs <= 0 {
		pollMs = defaultPollMs
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	lease := cfg.ClaimLease
	if lease <= 0 {
		lease = defaultClaimLease
	}
	publishTimeout := cfg.PublishTimeout
	if publishTimeout <= 0 {
		publishTimeout = defaultPublishTimeout
	}
	owner := params.Owner
	if owner == "" {
		owner = uuid.NewString()
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		logg:           params.Logger,
		db:             params.DB,
		publisher:      params.Publisher,
		repo:           params.Repository,
		registry:       params.Registry,
		metrics:        params.Metrics,
		owner:          owner,
		now:            now,
		batchSize:      batch,
		maxRetries:     maxRetries,
		pollInterval:   time.Duration(pollMs) * time.Millisecond,
		claimLease:     lease,
		publishTimeout: publishTimeout,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	return pingDependency(ctx, s.logg, "broker", s.publisher.Ping)
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

// Run polls on a fixed interval until ctx is canceled. A full batch is
// followed immediately by the next poll; batch errors back off exponentially.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}
	ctx = s.logg.WithField(s.logg.WithComponent(ctx, "outbox-publisher"), "publisher_owner", s.owner)

	interval := s.pollInterval
	if interval <= 0 {
		interval = time.Duration(defaultPollMs) * time.Millisecond
	}
	backoff := interval

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "outbox publisher context canceled")
			return ctx.Err()
		default:
		}

		claimed, err := s.processBatch(ctx)
		if err != nil {
			s.logg.Error(ctx, "outbox publisher batch error", err)
			backoff = nextBackoff(backoff, interval, maxBackoff)
			if err := s.sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}

		backoff = interval

		if claimed >= s.batchSize {
			continue
		}

		if err := s.sleep(ctx, withJitter(interval)); err != nil {
			return err
		}
	}
}

// processBatch claims a batch and handles each row on its own: a failure on
// one row never stops the rest. Once a row is left for retry, later rows of
// the same aggregate in the batch are released untouched so consumers never
// see them ahead of it. It returns how many rows were claimed.
func (s *Service) processBatch(ctx context.Context) (int, error) {
	events, err := s.repo.ClaimPending(ctx, s.owner, s.batchSize, s.now(), s.claimLease)
	if err != nil {
		return 0, fmt.Errorf("claim pending: %w", err)
	}

	var errs error
	held := map[string]bool{}
	for _, event := range events {
		key := aggregateKey(event)
		if held[key] {
			errs = multierr.Append(errs, s.release(ctx, event))
			continue
		}
		retrying, err := s.processEvent(ctx, event)
		if err != nil {
			errs = multierr.Append(errs, err)
		}
		if retrying {
			held[key] = true
		}
	}
	return len(events), errs
}

func aggregateKey(event models.OutboxEvent) string {
	return string(event.AggregateType) + "/" + event.AggregateID
}

// release hands a claimed row back without counting an attempt.
func (s *Service) release(ctx context.Context, event models.OutboxEvent) error {
	s.logg.Info(s.logg.WithFields(ctx, s.eventFields(event, nil)), "outbox event held behind earlier event of its aggregate")
	return s.mark(ctx, event, "release", s.repo.MarkRetry(ctx, event.ID, s.owner, event.RetryCount, heldCause))
}

// processEvent publishes one row. retrying reports that the row stays pending
// for a later attempt.
func (s *Service) processEvent(ctx context.Context, event models.OutboxEvent) (retrying bool, err error) {
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		return false, s.handleTerminal(ctx, event, err, s.eventFields(event, nil))
	}

	fields := s.eventFields(event, resolved)
	if err := s.publishResolved(ctx, event, resolved); err != nil {
		if registry.IsNonRetryable(err) {
			return false, s.handleTerminal(ctx, event, err, fields)
		}

		next := event.RetryCount + 1
		fields["retry_count"] = next

		if next >= s.maxRetries {
			fields["terminal_reason"] = "max_retries"
			terminalErr := fmt.Errorf("max publish retries reached: %w", err)
			return false, s.handleTerminal(ctx, event, terminalErr, fields)
		}

		ctxWithFields := s.logg.WithFields(ctx, fields)
		ctxWithFields = s.logg.WithField(ctxWithFields, "error", err.Error())
		s.logg.Warn(ctxWithFields, "outbox publish failed")
		s.metrics.IncRetried(resolved.RoutingKey)
		return true, s.mark(ctx, event, "retry", s.repo.MarkRetry(ctx, event.ID, s.owner, next, err.Error()))
	}

	// the broker already has the message; a failed mark leads to a republish
	if err := s.mark(ctx, event, "published", s.repo.MarkPublished(ctx, event.ID, s.owner, s.now())); err != nil {
		return false, err
	}
	s.metrics.IncPublished(resolved.RoutingKey)
	s.logg.Info(s.logg.WithFields(ctx, fields), "outbox event published")
	return false, nil
}

// handleTerminal moves the row to FAILED. FAILED rows are only picked up
// again through an explicit replay.
func (s *Service) handleTerminal(ctx context.Context, event models.OutboxEvent, err error, fields map[string]any) error {
	retryCount := event.RetryCount
	if n, ok := fields["retry_count"].(int); ok {
		retryCount = n
	}
	ctxWithFields := s.logg.WithFields(ctx, fields)
	ctxWithFields = s.logg.WithField(ctxWithFields, "error", err.Error())
	s.logg.Warn(ctxWithFields, "outbox event will not be retried")

	routingKey, _ := fields["routing_key"].(string)
	if markErr := s.mark(ctx, event, "failed", s.repo.MarkFailed(ctx, event.ID, s.owner, retryCount, err.Error())); markErr != nil {
		return markErr
	}
	s.metrics.IncFailed(routingKey)
	return nil
}

// mark logs a lost claim and swallows it: another publisher owns the row now.
func (s *Service) mark(ctx context.Context, event models.OutboxEvent, outcome string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, outbox.ErrClaimLost) {
		s.logg.Warn(s.logg.WithFields(ctx, s.eventFields(event, nil)), "outbox claim lost before mark "+outcome)
		return nil
	}
	return fmt.Errorf("mark %s %s: %w", outcome, event.ID, err)
}

func (s *Service) publishResolved(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	envelope := resolved.Event.Envelope()
	msg := broker.Message{
		RoutingKey: resolved.RoutingKey,
		MessageID:  envelope.EventID,
		Type:       string(event.EventType),
		Body:       event.Payload,
		Headers: map[string]string{
			"outbox_id":      event.ID.String(),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID,
		},
		Timestamp: event.CreatedAt,
	}

	publishCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()
	return s.publisher.Publish(publishCtx, msg)
}

func (s *Service) eventFields(event models.OutboxEvent, resolved *registry.ResolvedEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID,
		"batch_size":     s.batchSize,
		"retry_count":    event.RetryCount,
	}
	if resolved != nil {
		fields["routing_key"] = resolved.RoutingKey
		if envelope := resolved.Event.Envelope(); envelope != nil {
			fields["event_id"] = envelope.EventID
		}
	}
	if event.ErrorMessage != nil {
		fields["last_error"] = *event.ErrorMessage
	}
	return fields
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	jitter := time.Duration(jitterSource.Int63n(int64(jitterWindow)))
	return d + jitter
}
