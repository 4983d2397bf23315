package circuitbreaker

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Manager names breakers so /health can report all of them.
type Manager struct {
	breakers map[string]*CircuitBreaker
	mutex    sync.RWMutex
	logger   *logrus.Logger
	defaults Config
}

func NewManager(defaults Config, logger *logrus.Logger) *Manager {
	return &Manager{
		breakers: make(map[string]*CircuitBreaker),
		logger:   logger,
		defaults: defaults,
	}
}

// Get returns the breaker called name, creating it from the defaults.
func (m *Manager) Get(name string) *CircuitBreaker {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if breaker, ok := m.breakers[name]; ok {
		return breaker
	}

	cfg := m.defaults
	cfg.Name = name
	breaker := New(cfg, m.logger)
	m.breakers[name] = breaker

	m.logger.WithFields(logrus.Fields{
		"circuit_breaker": name,
		"max_failures":    breaker.cfg.MaxFailures,
		"timeout":         breaker.cfg.Timeout.String(),
	}).Info("Circuit breaker created")
	return breaker
}

func (m *Manager) Snapshots() []Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make([]Snapshot, 0, len(m.breakers))
	for _, b := range m.breakers {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AnyOpen reports whether some breaker is currently rejecting calls.
func (m *Manager) AnyOpen() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, b := range m.breakers {
		if b.State() == StateOpen {
			return true
		}
	}
	return false
}

func (m *Manager) ResetAll() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, b := range m.breakers {
		b.Reset()
	}
	m.logger.Info("All circuit breakers reset")
}
