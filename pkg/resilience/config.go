package resilience

import (
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/library-catalog/pkg/config"
)

// BreakerConfig tunes the circuit breaker wrapped around every attempt.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	OpenTimeout         time.Duration
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
}

// Config describes the call policy for one remote service.
type Config struct {
	Name        string
	Timeout     time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Breaker     BreakerConfig
}

// ConfigFromParticipants builds the policy config for the named service.
func ConfigFromParticipants(name string, cfg config.ParticipantsConfig) Config {
	return Config{
		Name:        name,
		Timeout:     cfg.CallTimeout,
		MaxAttempts: cfg.MaxAttempts,
		BaseBackoff: cfg.BaseBackoff,
		MaxBackoff:  cfg.MaxBackoff,
		Breaker: BreakerConfig{
			MaxRequests:         cfg.BreakerMaxRequests,
			Interval:            cfg.BreakerInterval,
			OpenTimeout:         cfg.BreakerOpenTimeout,
			ConsecutiveFailures: cfg.BreakerConsecutive,
			FailureRatio:        cfg.BreakerFailureRatio,
			MinRequests:         cfg.BreakerMinRequests,
		},
	}
}

func (c Config) Validate() error {
	if c.Name == "" {
		return errors.New("policy name is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("policy %s: timeout must be positive", c.Name)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("policy %s: max attempts must be at least 1", c.Name)
	}
	if c.BaseBackoff < 0 || c.MaxBackoff < 0 {
		return fmt.Errorf("policy %s: backoff must not be negative", c.Name)
	}
	if c.Breaker.FailureRatio < 0 || c.Breaker.FailureRatio > 1 {
		return fmt.Errorf("policy %s: failure ratio must be within [0,1]", c.Name)
	}
	return nil
}
