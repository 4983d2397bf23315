// Package circuitbreaker stops calling a failing dependency (the Kafka
// brokers) for a cool-down period instead of stalling every request on it.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var ErrOpen = errors.New("circuit breaker is open")

type Config struct {
	Name string
	// MaxFailures is the number of consecutive failures that opens the breaker.
	MaxFailures int
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// MaxRequests is the number of probes allowed while half-open.
	MaxRequests   int
	OnStateChange func(name string, from, to State)
}

type Snapshot struct {
	Name           string    `json:"name"`
	State          string    `json:"state"`
	Failures       int       `json:"failures"`
	TotalRequests  int64     `json:"total_requests"`
	TotalFailures  int64     `json:"total_failures"`
	TotalSuccesses int64     `json:"total_successes"`
	Rejected       int64     `json:"rejected"`
	StateChanges   int64     `json:"state_changes"`
	LastFailure    time.Time `json:"last_failure"`
}

type CircuitBreaker struct {
	cfg    Config
	logger *logrus.Logger
	now    func() time.Time

	mutex        sync.Mutex
	state        State
	failures     int
	probes       int
	lastFailTime time.Time

	totalRequests  int64
	totalFailures  int64
	totalSuccesses int64
	rejected       int64
	stateChanges   int64
}

func New(cfg Config, logger *logrus.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:    normalize(cfg, logger),
		logger: logger,
		now:    time.Now,
		state:  StateClosed,
	}
}

func normalize(cfg Config, logger *logrus.Logger) Config {
	if cfg.Name == "" {
		cfg.Name = "unnamed"
	}
	fix := func(field string, invalid bool, apply func()) {
		if invalid {
			apply()
			logger.WithFields(logrus.Fields{
				"circuit_breaker": cfg.Name,
				"field":           field,
			}).Warn("Invalid circuit breaker setting, using default")
		}
	}
	fix("max_failures", cfg.MaxFailures <= 0 || cfg.MaxFailures > 1000, func() { cfg.MaxFailures = 5 })
	fix("timeout", cfg.Timeout <= 0 || cfg.Timeout > 10*time.Minute, func() { cfg.Timeout = 30 * time.Second })
	fix("max_requests", cfg.MaxRequests <= 0 || cfg.MaxRequests > 100, func() { cfg.MaxRequests = 1 })
	return cfg
}

// Execute runs fn unless the breaker is open. A cancelled ctx is returned
// as is and does not count as a failure of the dependency.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := fn(ctx)

	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	switch {
	case err == nil:
		cb.totalSuccesses++
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.setState(StateClosed)
		}
	case ctx.Err() != nil:
		cb.totalRequests--
		if cb.state == StateHalfOpen {
			cb.probes--
		}
	default:
		cb.totalFailures++
		cb.failures++
		cb.lastFailTime = cb.now()
		if cb.state == StateHalfOpen || cb.failures >= cb.cfg.MaxFailures {
			cb.setState(StateOpen)
		}
	}
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailTime) <= cb.cfg.Timeout {
			cb.rejected++
			return ErrOpen
		}
		cb.setState(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.cfg.MaxRequests {
			cb.rejected++
			return ErrOpen
		}
		cb.probes++
	}
	cb.totalRequests++
	return nil
}

// setState must be called with the mutex held.
func (cb *CircuitBreaker) setState(next State) {
	if cb.state == next {
		return
	}
	prev := cb.state
	cb.state = next
	cb.probes = 0
	cb.stateChanges++

	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.cfg.Name,
		"from_state":      prev.String(),
		"to_state":        next.String(),
	}).Info("Circuit breaker state changed")

	if cb.cfg.OnStateChange != nil {
		go cb.notify(prev, next)
	}
}

func (cb *CircuitBreaker) notify(from, to State) {
	defer func() {
		if r := recover(); r != nil {
			cb.logger.WithFields(logrus.Fields{
				"circuit_breaker": cb.cfg.Name,
				"panic":           r,
			}).Error("Circuit breaker state change callback panicked")
		}
	}()
	cb.cfg.OnStateChange(cb.cfg.Name, from, to)
}

func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return Snapshot{
		Name:           cb.cfg.Name,
		State:          cb.state.String(),
		Failures:       cb.failures,
		TotalRequests:  cb.totalRequests,
		TotalFailures:  cb.totalFailures,
		TotalSuccesses: cb.totalSuccesses,
		Rejected:       cb.rejected,
		StateChanges:   cb.stateChanges,
		LastFailure:    cb.lastFailTime,
	}
}

func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.setState(StateClosed)
	cb.failures = 0
	cb.lastFailTime = time.Time{}
}

func (cb *CircuitBreaker) String() string {
	s := cb.Snapshot()
	return fmt.Sprintf("CircuitBreaker(name=%s, state=%s, failures=%d/%d)",
		s.Name, s.State, s.Failures, cb.cfg.MaxFailures)
}
