package escalation

import (
	"sync"
	"time"
)

// CircuitState represents the state of a channel's circuit breaker
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Deliveries flow normally
	CircuitOpen                         // Channel skipped, next channel tried
	CircuitHalfOpen                     // Probing whether the channel recovered
)

// String returns the upper-case state name used in stats and logs
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreaker guards delivery to one escalation channel
type CircuitBreaker struct {
	name                 string
	failureThreshold     int
	successThreshold     int
	baseTimeout          time.Duration
	timeout              time.Duration // grows with consecutive failures up to maxTimeout
	maxTimeout           time.Duration
	consecutiveFailures  int
	consecutiveSuccesses int
	lastFailureTime      time.Time
	state                CircuitState
	mutex                sync.RWMutex
	totalRequests        int64
	successfulRequests   int64
	failedRequests       int64

	now           func() time.Time
	onStateChange func(name string, from, to CircuitState)
}

// CircuitBreakerConfig holds configuration for a circuit breaker
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	MaxTimeout       time.Duration

	// OnStateChange is called outside the breaker lock on every transition
	OnStateChange func(name string, from, to CircuitState)
	// Now overrides the clock, for tests
	Now func() time.Time
}

// NewCircuitBreaker creates a closed circuit breaker. Zero thresholds default to 1.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.MaxTimeout < config.Timeout {
		config.MaxTimeout = config.Timeout
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &CircuitBreaker{
		name:             config.Name,
		failureThreshold: config.FailureThreshold,
		successThreshold: config.SuccessThreshold,
		baseTimeout:      config.Timeout,
		timeout:          config.Timeout,
		maxTimeout:       config.MaxTimeout,
		state:            CircuitClosed,
		now:              config.Now,
		onStateChange:    config.OnStateChange,
	}
}

// Call executes fn through the circuit breaker. It returns ErrCircuitOpen
// without calling fn while the circuit is open.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.allowRequest() {
		return ErrCircuitOpen
	}

	err := fn()
	cb.recordResult(err == nil)
	return err
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mutex.Lock()
	from := cb.state
	allowed := false

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		allowed = true
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailureTime) > cb.timeout {
			cb.state = CircuitHalfOpen
			cb.consecutiveSuccesses = 0
			allowed = true
		}
	}
	if allowed {
		cb.totalRequests++
	}
	to := cb.state
	cb.mutex.Unlock()

	cb.notify(from, to)
	return allowed
}

func (cb *CircuitBreaker) recordResult(success bool) {
	cb.mutex.Lock()
	from := cb.state

	if success {
		cb.consecutiveFailures = 0
		cb.consecutiveSuccesses++
		cb.successfulRequests++

		if cb.state == CircuitHalfOpen && cb.consecutiveSuccesses >= cb.successThreshold {
			cb.state = CircuitClosed
			cb.consecutiveSuccesses = 0
			cb.timeout = cb.baseTimeout
		}
	} else {
		cb.consecutiveSuccesses = 0
		cb.consecutiveFailures++
		cb.failedRequests++
		cb.lastFailureTime = cb.now()

		// a failed half-open trial reopens immediately
		if cb.state == CircuitHalfOpen || cb.consecutiveFailures >= cb.failureThreshold {
			cb.state = CircuitOpen
			newTimeout := cb.baseTimeout * time.Duration(cb.consecutiveFailures)
			if newTimeout > cb.maxTimeout {
				newTimeout = cb.maxTimeout
			}
			cb.timeout = newTimeout
		}
	}
	to := cb.state
	cb.mutex.Unlock()

	cb.notify(from, to)
}

func (cb *CircuitBreaker) notify(from, to CircuitState) {
	if from != to && cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// Name returns the channel name the breaker guards
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return cb.state
}

// GetStats returns a snapshot of the breaker's counters
func (cb *CircuitBreaker) GetStats() CircuitBreakerStats {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()

	var successRate float64
	if cb.totalRequests > 0 {
		successRate = float64(cb.successfulRequests) / float64(cb.totalRequests)
	}

	return CircuitBreakerStats{
		Name:                 cb.name,
		State:                cb.state.String(),
		ConsecutiveFailures:  cb.consecutiveFailures,
		ConsecutiveSuccesses: cb.consecutiveSuccesses,
		LastFailureTime:      cb.lastFailureTime,
		Timeout:              cb.timeout,
		TotalRequests:        cb.totalRequests,
		SuccessfulRequests:   cb.successfulRequests,
		FailedRequests:       cb.failedRequests,
		SuccessRate:          successRate,
		IsOpen:               cb.state == CircuitOpen,
	}
}

// CircuitBreakerStats holds statistics for a circuit breaker
type CircuitBreakerStats struct {
	Name                 string        `json:"name"`
	State                string        `json:"state"`
	ConsecutiveFailures  int           `json:"consecutive_failures"`
	ConsecutiveSuccesses int           `json:"consecutive_successes"`
	LastFailureTime      time.Time     `json:"last_failure_time,omitempty"`
	Timeout              time.Duration `json:"timeout_duration"`
	TotalRequests        int64         `json:"total_requests"`
	SuccessfulRequests   int64         `json:"successful_requests"`
	FailedRequests       int64         `json:"failed_requests"`
	SuccessRate          float64       `json:"success_rate"`
	IsOpen               bool          `json:"is_open"`
}

// Reset closes the circuit and restores the configured timeout
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	from := cb.state
	cb.state = CircuitClosed
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
	cb.timeout = cb.baseTimeout
	cb.mutex.Unlock()

	cb.notify(from, CircuitClosed)
}
