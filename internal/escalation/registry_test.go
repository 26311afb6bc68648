package escalation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func channelNames(channels []ChannelConfig) []string {
	names := make([]string, len(channels))
	for i, c := range channels {
		names[i] = c.Name
	}
	return names
}

func TestNewChannelRegistry_SortsAndDefaults(t *testing.T) {
	r, err := NewChannelRegistry([]ChannelConfig{
		{Name: "pager", URL: "https://pager.example/hook", Priority: 2, Enabled: true},
		{Name: "clinician", URL: "https://clinic.example/hook", Priority: 1, Enabled: true},
		{Name: "backup", URL: "http://backup.internal/hook", Priority: 3, Enabled: false},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"clinician", "pager"}, channelNames(r.GetEnabledChannels()))
	assert.Len(t, r.GetAllChannels(), 3)

	pager, err := r.GetChannelByName("pager")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, pager.Timeout)
	assert.Equal(t, DefaultCBConfig(), pager.CircuitBreaker)
}

func TestNewChannelRegistry_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		channels []ChannelConfig
	}{
		{"missing name", []ChannelConfig{{URL: "https://a.example"}}},
		{"bad scheme", []ChannelConfig{{Name: "a", URL: "ftp://a.example"}}},
		{"negative timeout", []ChannelConfig{{Name: "a", URL: "https://a.example", Timeout: -time.Second}}},
		{"duplicate", []ChannelConfig{
			{Name: "a", URL: "https://a.example"},
			{Name: "a", URL: "https://b.example"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChannelRegistry(tt.channels)
			assert.Error(t, err)
		})
	}
}

func TestChannelRegistry_Updates(t *testing.T) {
	r, err := NewChannelRegistry([]ChannelConfig{
		{Name: "a", URL: "https://a.example", Priority: 1, Enabled: true},
		{Name: "b", URL: "https://b.example", Priority: 2, Enabled: false},
	})
	require.NoError(t, err)

	require.NoError(t, r.EnableChannel("b"))
	require.NoError(t, r.UpdateChannelPriority("b", 0))
	assert.Equal(t, []string{"b", "a"}, channelNames(r.GetEnabledChannels()))

	require.NoError(t, r.DisableChannel("a"))
	assert.Equal(t, []string{"b"}, channelNames(r.GetEnabledChannels()))

	assert.Error(t, r.EnableChannel("missing"))
	_, err = r.GetChannelByName("missing")
	assert.Error(t, err)
}
