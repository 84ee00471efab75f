package breaker

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	appErr "judged/pkg/errors"
	"judged/pkg/utils/logger"
)

// Settings tunes one breaker instance
type Settings struct {
	MaxRequests         uint32        `yaml:"maxRequests"`
	Interval            time.Duration `yaml:"interval"`
	Timeout             time.Duration `yaml:"timeout"`
	ConsecutiveFailures uint32        `yaml:"consecutiveFailures"`
}

// DefaultSettings returns the engine-wide breaker defaults.
func DefaultSettings() Settings {
	return Settings{
		MaxRequests:         5,
		Interval:            30 * time.Second,
		Timeout:             10 * time.Second,
		ConsecutiveFailures: 3,
	}
}

// Breaker wraps one dependency. All outbound calls to the dependency go
// through Execute; while the breaker is open calls fail fast with CircuitOpen.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// New creates a named breaker. State transitions are logged.
func New(name string, s Settings) *Breaker {
	if s.MaxRequests == 0 {
		s = DefaultSettings()
	}
	threshold := s.ConsecutiveFailures
	if threshold == 0 {
		threshold = 3
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &Breaker{cb: cb}
}

// Execute runs op under the breaker.
func (b *Breaker) Execute(op func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, op()
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return appErr.Wrapf(err, appErr.CircuitOpen, "breaker %s is open", b.cb.Name())
	}
	return err
}

// State returns the breaker's current state name.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Set bundles the four dependency breakers the judge engine uses.
type Set struct {
	Storage *Breaker
	Broker  *Breaker
	Catalog *Breaker
	Sandbox *Breaker
}

// NewSet creates the standard breaker set with shared settings.
func NewSet(s Settings) *Set {
	return &Set{
		Storage: New("storage", s),
		Broker:  New("broker", s),
		Catalog: New("catalog", s),
		Sandbox: New("sandbox", s),
	}
}
