package recovery

import (
	"time"

	"github.com/sony/gobreaker"

	"github.com/hahn-schickard/modbus-technology-adapter/pkg/logger"
)

// CircuitState mirrors gobreaker.State so callers never need to import
// gobreaker directly just to log or compare a breaker's state.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateHalfOpen
	StateOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF-OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

func fromGobreaker(s gobreaker.State) CircuitState {
	switch s {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateOpen
	}
}

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	// Name identifies the breaker in state-change log lines.
	Name string
	// MaxFailures is the number of consecutive failures that trips the
	// circuit open. Default: 5.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before allowing a
	// half-open probe. Default: 30s.
	Timeout time.Duration
	// HalfOpenMaxTries is the number of probe requests allowed through
	// while half-open. Default: 3.
	HalfOpenMaxTries uint32
}

// CircuitBreaker wraps github.com/sony/gobreaker, adapting it to the
// consecutive-failure trip condition this module configures breakers with
// and logging every state transition through the standard logger.
type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewCircuitBreaker creates a circuit breaker from config, filling in
// defaults for any zero fields.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures == 0 {
		config.MaxFailures = 5
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.HalfOpenMaxTries == 0 {
		config.HalfOpenMaxTries = 3
	}
	name := config.Name
	if name == "" {
		name = "circuit-breaker"
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: config.HalfOpenMaxTries,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.LogWarn("circuit breaker %q: %s -> %s", name, fromGobreaker(from), fromGobreaker(to))
		},
	}

	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Call executes fn if the circuit allows it, recording the outcome. Returns
// the circuit's own error (e.g. gobreaker.ErrOpenState) when it refuses the
// call outright, or whatever fn itself returned otherwise.
func (cb *CircuitBreaker) Call(fn func() error) error {
	_, err := cb.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// State returns the circuit's current state.
func (cb *CircuitBreaker) State() CircuitState {
	return fromGobreaker(cb.cb.State())
}
