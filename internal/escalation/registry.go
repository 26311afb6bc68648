package escalation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrChannelNotFound is returned for operations on unknown channel names
var ErrChannelNotFound = errors.New("channel not found")

// ChannelConfig describes one crisis-workflow webhook
type ChannelConfig struct {
	Name           string        `mapstructure:"name" json:"name"`
	URL            string        `mapstructure:"url" json:"url"`
	TokenEnv       string        `mapstructure:"token_env" json:"token_env,omitempty"` // env var holding the bearer token
	Timeout        time.Duration `mapstructure:"timeout" json:"timeout"`
	Priority       int           `mapstructure:"priority" json:"priority"` // 1 = tried first
	Enabled        bool          `mapstructure:"enabled" json:"enabled"`
	CircuitBreaker CBConfig      `mapstructure:"circuit_breaker" json:"circuit_breaker"`
}

// CBConfig holds circuit breaker configuration for a channel
type CBConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold" json:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold" json:"success_threshold"`
	Timeout          time.Duration `mapstructure:"timeout" json:"timeout"`
	MaxTimeout       time.Duration `mapstructure:"max_timeout" json:"max_timeout"`
}

// DefaultCBConfig is applied to channels that leave breaker settings unset
func DefaultCBConfig() CBConfig {
	return CBConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
		MaxTimeout:       5 * time.Minute,
	}
}

// Validate checks that a channel can be dialled
func (c ChannelConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("channel name is required")
	}
	if !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
		return fmt.Errorf("channel %s: url must be http or https, got %q", c.Name, c.URL)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("channel %s: timeout must not be negative", c.Name)
	}
	return nil
}

func (c ChannelConfig) withDefaults() ChannelConfig {
	def := DefaultCBConfig()
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.CircuitBreaker.FailureThreshold == 0 {
		c.CircuitBreaker.FailureThreshold = def.FailureThreshold
	}
	if c.CircuitBreaker.SuccessThreshold == 0 {
		c.CircuitBreaker.SuccessThreshold = def.SuccessThreshold
	}
	if c.CircuitBreaker.Timeout == 0 {
		c.CircuitBreaker.Timeout = def.Timeout
	}
	if c.CircuitBreaker.MaxTimeout == 0 {
		c.CircuitBreaker.MaxTimeout = def.MaxTimeout
	}
	return c
}

// ChannelRegistry manages the configured escalation channels
type ChannelRegistry struct {
	mutex           sync.RWMutex
	channels        []ChannelConfig
	enabledChannels []ChannelConfig
}

// NewChannelRegistry validates the channels and fills unset breaker settings
func NewChannelRegistry(configs []ChannelConfig) (*ChannelRegistry, error) {
	seen := make(map[string]bool, len(configs))
	channels := make([]ChannelConfig, 0, len(configs))

	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if seen[cfg.Name] {
			return nil, fmt.Errorf("duplicate channel name %s", cfg.Name)
		}
		seen[cfg.Name] = true
		channels = append(channels, cfg.withDefaults())
	}

	r := &ChannelRegistry{channels: channels}
	r.refreshEnabledChannels()
	return r, nil
}

// GetEnabledChannels returns enabled channels sorted by priority (1 = highest)
func (r *ChannelRegistry) GetEnabledChannels() []ChannelConfig {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return append([]ChannelConfig(nil), r.enabledChannels...)
}

// GetAllChannels returns every channel, enabled or not, in configured order
func (r *ChannelRegistry) GetAllChannels() []ChannelConfig {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return append([]ChannelConfig(nil), r.channels...)
}

// GetChannelByName returns a channel configuration by name
func (r *ChannelRegistry) GetChannelByName(name string) (ChannelConfig, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	for _, channel := range r.channels {
		if channel.Name == name {
			return channel, nil
		}
	}
	return ChannelConfig{}, fmt.Errorf("%w: %s", ErrChannelNotFound, name)
}

// EnableChannel enables a channel by name
func (r *ChannelRegistry) EnableChannel(name string) error {
	return r.update(name, func(c *ChannelConfig) { c.Enabled = true })
}

// DisableChannel disables a channel by name
func (r *ChannelRegistry) DisableChannel(name string) error {
	return r.update(name, func(c *ChannelConfig) { c.Enabled = false })
}

// UpdateChannelPriority changes the priority of a channel
func (r *ChannelRegistry) UpdateChannelPriority(name string, priority int) error {
	return r.update(name, func(c *ChannelConfig) { c.Priority = priority })
}

func (r *ChannelRegistry) update(name string, fn func(*ChannelConfig)) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for i := range r.channels {
		if r.channels[i].Name == name {
			fn(&r.channels[i])
			r.refreshEnabledChannels()
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrChannelNotFound, name)
}

// refreshEnabledChannels must be called with the lock held
func (r *ChannelRegistry) refreshEnabledChannels() {
	r.enabledChannels = make([]ChannelConfig, 0, len(r.channels))
	for _, channel := range r.channels {
		if channel.Enabled {
			r.enabledChannels = append(r.enabledChannels, channel)
		}
	}
	sort.SliceStable(r.enabledChannels, func(i, j int) bool {
		return r.enabledChannels[i].Priority < r.enabledChannels[j].Priority
	})
}
