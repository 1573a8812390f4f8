package circuitbreaker

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "research_circuit_breaker_state",
			Help: "Current state of circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name", "dependency"},
	)

	breakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_circuit_breaker_requests_total",
			Help: "Requests through circuit breakers by state and result",
		},
		[]string{"name", "dependency", "state", "result"},
	)

	breakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "dependency", "from_state", "to_state"},
	)
)

// Registry tracks breakers so their state can be reported to metrics and
// health checks.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*CircuitBreaker)}
}

// Register adds cb under dependency and hooks its state changes into metrics.
func (r *Registry) Register(dependency string, cb *CircuitBreaker) {
	r.mu.Lock()
	r.breakers[dependency+":"+cb.name] = cb
	r.mu.Unlock()

	name := cb.name
	cb.mutex.Lock()
	prev := cb.config.OnStateChange
	cb.config.OnStateChange = func(n string, from, to State) {
		if prev != nil {
			prev(n, from, to)
		}
		breakerTransitions.WithLabelValues(name, dependency, from.String(), to.String()).Inc()
		breakerState.WithLabelValues(name, dependency).Set(float64(to))
	}
	cb.mutex.Unlock()
	breakerState.WithLabelValues(name, dependency).Set(float64(StateClosed))
}

// Record counts one request outcome.
func (r *Registry) Record(cb *CircuitBreaker, dependency string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	breakerRequests.WithLabelValues(cb.name, dependency, cb.State().String(), result).Inc()
}

// Open returns the keys of breakers that are currently open.
func (r *Registry) Open() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var open []string
	for key, cb := range r.breakers {
		if cb.State() == StateOpen {
			open = append(open, key)
		}
	}
	return open
}

// Default is the process-wide registry used by the wrappers.
var Default = NewRegistry()
