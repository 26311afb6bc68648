package escalation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"therapy-guardrails/internal/guardrail"
	"therapy-guardrails/internal/metrics"
)

type webhook struct {
	server *httptest.Server
	hits   atomic.Int32
	status int
	last   atomic.Value // http.Header
	body   atomic.Value // []byte
}

func newWebhook(t *testing.T, status int) *webhook {
	t.Helper()
	w := &webhook{status: status}
	w.server = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		w.hits.Add(1)
		w.last.Store(r.Header.Clone())
		var payload json.RawMessage
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.body.Store([]byte(payload))
		rw.WriteHeader(w.status)
	}))
	t.Cleanup(w.server.Close)
	return w
}

func testIncident(t *testing.T) Incident {
	t.Helper()
	result := guardrail.GuardrailResult{
		RiskLevel:    guardrail.RiskCritical,
		Intervention: guardrail.InterventionEscalate,
		Reason:       "High-risk crisis indicators detected",
		EscalationData: &guardrail.EscalationData{
			CrisisType:      guardrail.CrisisTypeSuicideRisk,
			MatchedKeywords: []string{"kill myself"},
			Score:           4,
			Region:          "AU",
		},
	}
	incident, err := NewIncident("session-1", "user_input", result)
	require.NoError(t, err)
	return incident
}

func newTestDispatcher(t *testing.T, channels []ChannelConfig, collector *metrics.MetricsCollector) *Dispatcher {
	t.Helper()
	registry, err := NewChannelRegistry(channels)
	require.NoError(t, err)
	logger, _ := test.NewNullLogger()
	return NewDispatcher(registry, DispatcherConfig{MaxRetries: 2, RetryInterval: time.Millisecond}, collector, logger)
}

func TestNewIncident(t *testing.T) {
	incident := testIncident(t)
	assert.NotEmpty(t, incident.ID)
	assert.Equal(t, "session-1", incident.SessionID)
	assert.Equal(t, guardrail.RiskCritical, incident.RiskLevel)
	assert.Equal(t, []string{"kill myself"}, incident.Escalation.MatchedKeywords)
	assert.NotEqual(t, incident.ID, testIncident(t).ID)

	_, err := NewIncident("s", "user_input", guardrail.GuardrailResult{
		RiskLevel:    guardrail.RiskHigh,
		Intervention: guardrail.InterventionRedirect,
	})
	assert.Error(t, err)
}

func TestDispatcher_DeliversToFirstHealthyChannel(t *testing.T) {
	primary := newWebhook(t, http.StatusOK)
	secondary := newWebhook(t, http.StatusOK)
	t.Setenv("ONCALL_TOKEN", "s3cret")

	d := newTestDispatcher(t, []ChannelConfig{
		{Name: "secondary", URL: secondary.server.URL, Priority: 2, Enabled: true},
		{Name: "primary", URL: primary.server.URL, Priority: 1, Enabled: true, TokenEnv: "ONCALL_TOKEN"},
	}, nil)

	incident := testIncident(t)
	channel, err := d.Dispatch(context.Background(), incident)
	require.NoError(t, err)
	assert.Equal(t, "primary", channel)
	assert.Equal(t, int32(1), primary.hits.Load())
	assert.Equal(t, int32(0), secondary.hits.Load())

	header := primary.last.Load().(http.Header)
	assert.Equal(t, "Bearer s3cret", header.Get("Authorization"))
	assert.Equal(t, incident.ID, header.Get("X-Incident-ID"))
	assert.Equal(t, "application/json", header.Get("Content-Type"))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(primary.body.Load().([]byte), &payload))
	assert.Equal(t, incident.ID, payload["incident_id"])
	assert.Equal(t, "CRITICAL", payload["risk_level"])
	escalation := payload["escalation"].(map[string]any)
	assert.Equal(t, "suicide_risk", escalation["crisis_type"])
}

func TestDispatcher_RetriesThenFallsBack(t *testing.T) {
	flaky := newWebhook(t, http.StatusServiceUnavailable)
	backup := newWebhook(t, http.StatusAccepted)
	collector := metrics.NewMetricsCollector()

	d := newTestDispatcher(t, []ChannelConfig{
		{Name: "flaky", URL: flaky.server.URL, Priority: 1, Enabled: true},
		{Name: "backup", URL: backup.server.URL, Priority: 2, Enabled: true},
	}, collector)

	channel, err := d.Dispatch(context.Background(), testIncident(t))
	require.NoError(t, err)
	assert.Equal(t, "backup", channel)
	assert.Equal(t, int32(3), flaky.hits.Load(), "first attempt plus two retries")
	assert.Equal(t, int32(1), backup.hits.Load())

	stats := d.GetCircuitBreakerStats()
	assert.Equal(t, int64(1), stats["flaky"].FailedRequests)
	assert.Equal(t, int64(1), stats["backup"].SuccessfulRequests)

	expected := `
# HELP guardrails_escalation_dispatch_total Total escalation delivery attempts per channel
# TYPE guardrails_escalation_dispatch_total counter
guardrails_escalation_dispatch_total{channel="backup",status="delivered"} 1
guardrails_escalation_dispatch_total{channel="flaky",status="failed"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(collector.Registry(), strings.NewReader(expected), "guardrails_escalation_dispatch_total"))
}

func TestDispatcher_ClientErrorIsNotRetried(t *testing.T) {
	rejecting := newWebhook(t, http.StatusBadRequest)

	d := newTestDispatcher(t, []ChannelConfig{
		{Name: "rejecting", URL: rejecting.server.URL, Priority: 1, Enabled: true},
	}, nil)

	_, err := d.Dispatch(context.Background(), testIncident(t))
	assert.ErrorIs(t, err, ErrAllChannelsFailed)
	assert.Equal(t, int32(1), rejecting.hits.Load())
}

func TestDispatcher_SkipsOpenCircuit(t *testing.T) {
	broken := newWebhook(t, http.StatusInternalServerError)
	backup := newWebhook(t, http.StatusOK)
	collector := metrics.NewMetricsCollector()

	d := newTestDispatcher(t, []ChannelConfig{
		{
			Name: "broken", URL: broken.server.URL, Priority: 1, Enabled: true,
			CircuitBreaker: CBConfig{FailureThreshold: 1, Timeout: time.Hour},
		},
		{Name: "backup", URL: backup.server.URL, Priority: 2, Enabled: true},
	}, collector)

	_, err := d.Dispatch(context.Background(), testIncident(t))
	require.NoError(t, err)
	hitsAfterFirst := broken.hits.Load()
	assert.True(t, d.GetCircuitBreakerStats()["broken"].IsOpen)
	gauge := `
# HELP guardrails_escalation_channel_state Circuit breaker state per escalation channel (0=closed, 1=open, 2=half-open)
# TYPE guardrails_escalation_channel_state gauge
guardrails_escalation_channel_state{channel="backup"} 0
guardrails_escalation_channel_state{channel="broken"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(collector.Registry(), strings.NewReader(gauge), "guardrails_escalation_channel_state"))

	channel, err := d.Dispatch(context.Background(), testIncident(t))
	require.NoError(t, err)
	assert.Equal(t, "backup", channel)
	assert.Equal(t, hitsAfterFirst, broken.hits.Load(), "open channel is not called")

	require.NoError(t, d.ResetCircuitBreaker("broken"))
	assert.False(t, d.GetCircuitBreakerStats()["broken"].IsOpen)
	assert.Error(t, d.ResetCircuitBreaker("missing"))
}

func TestDispatcher_AllChannelsFail(t *testing.T) {
	a := newWebhook(t, http.StatusBadGateway)
	b := newWebhook(t, http.StatusBadGateway)

	d := newTestDispatcher(t, []ChannelConfig{
		{Name: "a", URL: a.server.URL, Priority: 1, Enabled: true},
		{Name: "b", URL: b.server.URL, Priority: 2, Enabled: true},
	}, nil)

	_, err := d.Dispatch(context.Background(), testIncident(t))
	assert.ErrorIs(t, err, ErrAllChannelsFailed)
	assert.Equal(t, int32(3), a.hits.Load())
	assert.Equal(t, int32(3), b.hits.Load())
}

func TestDispatcher_NoChannels(t *testing.T) {
	d := newTestDispatcher(t, nil, nil)

	_, err := d.Dispatch(context.Background(), testIncident(t))
	assert.ErrorIs(t, err, ErrNoChannels)
	assert.Equal(t, 0, d.EnabledChannels())
}

func TestDispatcher_CanceledContext(t *testing.T) {
	hook := newWebhook(t, http.StatusOK)
	d := newTestDispatcher(t, []ChannelConfig{
		{Name: "a", URL: hook.server.URL, Priority: 1, Enabled: true},
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Dispatch(ctx, testIncident(t))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), hook.hits.Load())
}

func TestDispatcher_ChannelControls(t *testing.T) {
	primary := newWebhook(t, http.StatusOK)
	secondary := newWebhook(t, http.StatusOK)

	d := newTestDispatcher(t, []ChannelConfig{
		{Name: "primary", URL: primary.server.URL, Priority: 1, Enabled: true},
		{Name: "secondary", URL: secondary.server.URL, Priority: 2, Enabled: true},
	}, nil)

	require.NoError(t, d.DisableChannel("primary"))
	delivered, err := d.Dispatch(context.Background(), testIncident(t))
	require.NoError(t, err)
	assert.Equal(t, "secondary", delivered)
	assert.Equal(t, int32(0), primary.hits.Load())

	require.NoError(t, d.EnableChannel("primary"))
	require.NoError(t, d.UpdateChannelPriority("primary", 3))
	delivered, err = d.Dispatch(context.Background(), testIncident(t))
	require.NoError(t, err)
	assert.Equal(t, "secondary", delivered)

	channel, err := d.GetChannel("primary")
	require.NoError(t, err)
	assert.True(t, channel.Enabled)
	assert.Equal(t, 3, channel.Priority)

	assert.ErrorIs(t, d.EnableChannel("missing"), ErrChannelNotFound)
	assert.ErrorIs(t, d.ResetCircuitBreaker("missing"), ErrChannelNotFound)
}
