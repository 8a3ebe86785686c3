package httpclient

import "sync"

// CircuitBreakerManager holds one circuit breaker per named downstream
// service so that all clients talking to the same service share breaker
// state.
type CircuitBreakerManager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewCircuitBreakerManager creates an empty manager.
func NewCircuitBreakerManager() *CircuitBreakerManager {
	return &CircuitBreakerManager{
		breakers: make(map[string]*CircuitBreaker),
	}
}

// GetOrCreate returns the breaker registered under name, creating it with
// cfg when absent. The config of an existing breaker is not changed.
func (m *CircuitBreakerManager) GetOrCreate(name string, cfg BreakerConfig) *CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[name]; ok {
		return cb
	}
	cb = NewCircuitBreaker(cfg)
	m.breakers[name] = cb
	return cb
}

// Get returns the breaker registered under name, or nil.
func (m *CircuitBreakerManager) Get(name string) *CircuitBreaker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.breakers[name]
}

// Reset resets the named breaker to closed. Returns false when no breaker is
// registered under that name.
func (m *CircuitBreakerManager) Reset(name string) bool {
	m.mu.RLock()
	cb, ok := m.breakers[name]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	cb.Reset()
	return true
}

// AllStats returns a snapshot of every registered breaker keyed by name.
func (m *CircuitBreakerManager) AllStats() map[string]BreakerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]BreakerStats, len(m.breakers))
	for name, cb := range m.breakers {
		stats[name] = cb.Stats()
	}
	return stats
}
