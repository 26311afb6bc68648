// Package escalation delivers crisis incidents to external workflows over
// webhook channels guarded by circuit breakers.
package escalation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"therapy-guardrails/internal/metrics"
)

// Dispatch errors
var (
	ErrCircuitOpen       = &DispatchError{Message: "circuit breaker is open"}
	ErrAllChannelsFailed = &DispatchError{Message: "all escalation channels are currently unavailable"}
	ErrNoChannels        = &DispatchError{Message: "no escalation channels configured"}
)

// DispatchError represents a delivery failure across channels
type DispatchError struct {
	Message string
}

func (e *DispatchError) Error() string {
	return e.Message
}

// DispatcherConfig tunes per-channel retries
type DispatcherConfig struct {
	MaxRetries    uint64        // retries after the first attempt, per channel
	RetryInterval time.Duration // initial backoff interval
}

// Dispatcher tries enabled channels in priority order until one accepts the incident
type Dispatcher struct {
	registry         *ChannelRegistry
	circuitBreakers  map[string]*CircuitBreaker
	client           *http.Client
	logger           *logrus.Logger
	metricsCollector *metrics.MetricsCollector

	maxRetries    uint64
	retryInterval time.Duration
}

// NewDispatcher creates a breaker for every registered channel
func NewDispatcher(registry *ChannelRegistry, cfg DispatcherConfig, collector *metrics.MetricsCollector, logger *logrus.Logger) *Dispatcher {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 200 * time.Millisecond
	}

	d := &Dispatcher{
		registry:         registry,
		circuitBreakers:  make(map[string]*CircuitBreaker),
		client:           &http.Client{},
		logger:           logger,
		metricsCollector: collector,
		maxRetries:       cfg.MaxRetries,
		retryInterval:    cfg.RetryInterval,
	}

	for _, channel := range registry.GetAllChannels() {
		d.circuitBreakers[channel.Name] = NewCircuitBreaker(CircuitBreakerConfig{
			Name:             channel.Name,
			FailureThreshold: channel.CircuitBreaker.FailureThreshold,
			SuccessThreshold: channel.CircuitBreaker.SuccessThreshold,
			Timeout:          channel.CircuitBreaker.Timeout,
			MaxTimeout:       channel.CircuitBreaker.MaxTimeout,
			OnStateChange:    d.onStateChange,
		})
		collector.SetChannelState(channel.Name, int(CircuitClosed))

		logger.WithFields(logrus.Fields{
			"channel":           channel.Name,
			"priority":          channel.Priority,
			"enabled":           channel.Enabled,
			"failure_threshold": channel.CircuitBreaker.FailureThreshold,
			"timeout":           channel.CircuitBreaker.Timeout,
		}).Info("Circuit breaker initialized for escalation channel")
	}

	return d
}

func (d *Dispatcher) onStateChange(name string, from, to CircuitState) {
	d.metricsCollector.SetChannelState(name, int(to))
	d.logger.WithFields(logrus.Fields{
		"channel": name,
		"from":    from.String(),
		"to":      to.String(),
	}).Warn("Escalation channel circuit state changed")
}

// Dispatch delivers the incident and returns the name of the channel that accepted it
func (d *Dispatcher) Dispatch(ctx context.Context, incident Incident) (string, error) {
	channels := d.registry.GetEnabledChannels()
	if len(channels) == 0 {
		return "", ErrNoChannels
	}

	body, err := json.Marshal(incident)
	if err != nil {
		return "", fmt.Errorf("failed to marshal incident: %w", err)
	}

	var lastError error
	attempted := make([]string, 0, len(channels))

	for _, channel := range channels {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		cb := d.circuitBreakers[channel.Name]
		attempted = append(attempted, channel.Name)

		err := cb.Call(func() error {
			return d.deliver(ctx, channel, incident.ID, body)
		})

		if errors.Is(err, ErrCircuitOpen) {
			d.metricsCollector.RecordDispatch(channel.Name, "circuit_open")
			d.logger.WithField("channel", channel.Name).Warn("Escalation channel circuit breaker is open, trying next channel")
			lastError = err
			continue
		}

		if err != nil {
			d.metricsCollector.RecordDispatch(channel.Name, "failed")
			d.logger.WithFields(logrus.Fields{
				"channel":     channel.Name,
				"incident_id": incident.ID,
				"error":       err.Error(),
			}).Warn("Escalation delivery failed, trying next channel")
			lastError = err
			continue
		}

		d.metricsCollector.RecordDispatch(channel.Name, "delivered")
		d.logger.WithFields(logrus.Fields{
			"channel":     channel.Name,
			"incident_id": incident.ID,
		}).Info("Escalation delivered")
		return channel.Name, nil
	}

	fields := logrus.Fields{
		"attempted_channels": attempted,
		"incident_id":        incident.ID,
	}
	if lastError != nil {
		fields["last_error"] = lastError.Error()
	}
	d.logger.WithFields(fields).Error("All escalation channels failed")

	return "", ErrAllChannelsFailed
}

// deliver POSTs the incident to one channel, retrying transient failures
func (d *Dispatcher) deliver(ctx context.Context, channel ChannelConfig, incidentID string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, channel.Timeout)
	defer cancel()

	token := ""
	if channel.TokenEnv != "" {
		token = os.Getenv(channel.TokenEnv)
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, channel.URL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Incident-ID", incidentID)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}

		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := fmt.Errorf("channel error %d: %s", resp.StatusCode, string(respBody))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return statusErr
		}
		return backoff.Permanent(statusErr)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.retryInterval
	policy.MaxElapsedTime = 0

	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, d.maxRetries), ctx))
}

// GetCircuitBreakerStats returns statistics for every channel breaker
func (d *Dispatcher) GetCircuitBreakerStats() map[string]CircuitBreakerStats {
	stats := make(map[string]CircuitBreakerStats, len(d.circuitBreakers))
	for name, cb := range d.circuitBreakers {
		stats[name] = cb.GetStats()
	}
	return stats
}

// EnabledChannels returns the number of enabled channels
func (d *Dispatcher) EnabledChannels() int {
	return len(d.registry.GetEnabledChannels())
}

// ResetCircuitBreaker manually resets a channel's circuit breaker
func (d *Dispatcher) ResetCircuitBreaker(name string) error {
	cb, exists := d.circuitBreakers[name]
	if !exists {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, name)
	}
	cb.Reset()
	d.logger.WithField("channel", name).Info("Circuit breaker manually reset")
	return nil
}

// GetChannel returns the current configuration of a channel
func (d *Dispatcher) GetChannel(name string) (ChannelConfig, error) {
	return d.registry.GetChannelByName(name)
}

// EnableChannel puts a channel back into the delivery order
func (d *Dispatcher) EnableChannel(name string) error {
	if err := d.registry.EnableChannel(name); err != nil {
		return err
	}
	d.logger.WithField("channel", name).Info("Escalation channel enabled")
	return nil
}

// DisableChannel removes a channel from the delivery order without touching its breaker
func (d *Dispatcher) DisableChannel(name string) error {
	if err := d.registry.DisableChannel(name); err != nil {
		return err
	}
	d.logger.WithField("channel", name).Warn("Escalation channel disabled")
	return nil
}

// UpdateChannelPriority reorders delivery; lower priorities are tried first
func (d *Dispatcher) UpdateChannelPriority(name string, priority int) error {
	if err := d.registry.UpdateChannelPriority(name, priority); err != nil {
		return err
	}
	d.logger.WithFields(logrus.Fields{
		"channel":  name,
		"priority": priority,
	}).Info("Escalation channel priority updated")
	return nil
}
