package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/angelmondragon/library-catalog/pkg/logger"
	"github.com/angelmondragon/library-catalog/pkg/metrics"
)

// ErrCircuitOpen is returned when the breaker rejects a call without trying it.
var ErrCircuitOpen = errors.New("circuit breaker open")

type retryObserverKey struct{}

// WithRetryObserver registers fn to be called once per retry performed by any
// policy invoked with the returned context.
func WithRetryObserver(ctx context.Context, fn func(operation string, attempt int, err error)) context.Context {
	return context.WithValue(ctx, retryObserverKey{}, fn)
}

func retryObserver(ctx context.Context) func(string, int, error) {
	fn, _ := ctx.Value(retryObserverKey{}).(func(string, int, error))
	return fn
}

// Policy applies a per-attempt timeout, bounded retries with jittered
// exponential backoff and a circuit breaker to remote calls.
type Policy struct {
	cfg     Config
	breaker *gobreaker.CircuitBreaker
	logg    *logger.Logger
	metrics *metrics.BreakerMetrics
	sleep   func(context.Context, time.Duration) error
}

func New(cfg Config, logg *logger.Logger, m *metrics.BreakerMetrics) (*Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Policy{
		cfg:     cfg,
		logg:    logg,
		metrics: m,
		sleep:   sleepWithContext,
	}
	bc := cfg.Breaker
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if bc.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= bc.ConsecutiveFailures {
				return true
			}
			if bc.MinRequests == 0 || counts.Requests < bc.MinRequests || bc.FailureRatio <= 0 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= bc.FailureRatio
		},
		OnStateChange: p.onStateChange,
		IsSuccessful: func(err error) bool {
			return err == nil || IsPermanent(err)
		},
	})
	m.SetState(cfg.Name, int(gobreaker.StateClosed))
	return p, nil
}

func (p *Policy) onStateChange(name string, from, to gobreaker.State) {
	p.metrics.SetState(name, int(to))
	p.metrics.IncTransition(name, to.String())
	if p.logg == nil {
		return
	}
	ctx := p.logg.WithFields(context.Background(), map[string]any{
		"breaker": name,
		"from":    from.String(),
		"to":      to.String(),
	})
	if to == gobreaker.StateOpen {
		p.logg.Warn(ctx, "circuit breaker opened")
		return
	}
	p.logg.Info(ctx, "circuit breaker state changed")
}

// Name returns the remote service the policy guards.
func (p *Policy) Name() string {
	return p.cfg.Name
}

// State returns the current breaker state.
func (p *Policy) State() gobreaker.State {
	return p.breaker.State()
}

// Do runs fn until it succeeds, returns a permanent error, the breaker
// rejects it, attempts run out or ctx is done. The last error is returned.
func (p *Policy) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if observe := retryObserver(ctx); observe != nil {
				observe(operation, attempt, lastErr)
			}
			if err := p.sleep(ctx, backoffFor(p.cfg.BaseBackoff, p.cfg.MaxBackoff, attempt-1)); err != nil {
				return fmt.Errorf("%s %s: %w (last error: %v)", p.cfg.Name, operation, err, lastErr)
			}
		}

		_, err := p.breaker.Execute(func() (interface{}, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
			defer cancel()
			return nil, fn(attemptCtx)
		})
		if err == nil {
			return nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%s %s: %w", p.cfg.Name, operation, ErrCircuitOpen)
		}
		if IsPermanent(err) {
			return err
		}
		lastErr = err
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}
