// Package pipeline runs the guardrail engine on behalf of a chat service:
// it audits every verdict, keeps counters and hands escalations to the
// crisis workflow without blocking the request.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"therapy-guardrails/internal/escalation"
	"therapy-guardrails/internal/guardrail"
	"therapy-guardrails/internal/metrics"
)

const version = "1.0.0"

var (
	// ErrTextTooLong is returned before analysis when a text exceeds the configured limit
	ErrTextTooLong = errors.New("text exceeds maximum length")
	// ErrUnknownRegion is returned for resource lookups of regions with no directory
	ErrUnknownRegion = errors.New("unknown region")
	// ErrNoDispatcher is returned by channel operations when escalation is not configured
	ErrNoDispatcher = errors.New("escalation dispatcher not configured")
)

// Dispatcher delivers escalation incidents
type Dispatcher interface {
	Dispatch(ctx context.Context, incident escalation.Incident) (string, error)
	GetCircuitBreakerStats() map[string]escalation.CircuitBreakerStats
	ResetCircuitBreaker(name string) error
	GetChannel(name string) (escalation.ChannelConfig, error)
	EnableChannel(name string) error
	DisableChannel(name string) error
	UpdateChannelPriority(name string, priority int) error
}

// Config holds pipeline limits
type Config struct {
	MaxTextLength   int           // runes; longer texts are rejected with ErrTextTooLong
	DispatchTimeout time.Duration // upper bound for one incident across all channels
}

// Pipeline orchestrates guardrail analysis for the HTTP surface
type Pipeline struct {
	engine           *guardrail.Engine
	auditor          *guardrail.Auditor
	dispatcher       Dispatcher
	logger           *logrus.Logger
	metrics          *Metrics
	metricsCollector *metrics.MetricsCollector

	maxTextLength   int
	dispatchTimeout time.Duration
	startTime       time.Time
	inflight        sync.WaitGroup
}

// NewPipeline wires the engine to auditing, metrics and escalation. dispatcher may be nil.
func NewPipeline(engine *guardrail.Engine, dispatcher Dispatcher, collector *metrics.MetricsCollector, logger *logrus.Logger, cfg Config) *Pipeline {
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = 10000
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 30 * time.Second
	}

	p := &Pipeline{
		engine:           engine,
		auditor:          guardrail.NewAuditor(logger),
		dispatcher:       dispatcher,
		logger:           logger,
		metrics:          NewMetrics(),
		metricsCollector: collector,
		maxTextLength:    cfg.MaxTextLength,
		dispatchTimeout:  cfg.DispatchTimeout,
		startTime:        time.Now(),
	}

	logger.WithFields(logrus.Fields{
		"input_checks":    engine.InputChecks(),
		"output_checks":   engine.OutputChecks(),
		"default_region":  engine.DefaultRegion(),
		"max_text_length": cfg.MaxTextLength,
		"rules":           engine.Rules().Stats(),
	}).Info("Guardrail pipeline initialized")

	if dispatcher == nil {
		logger.Warn("Guardrail pipeline initialized without escalation dispatcher - incidents will only be logged")
	}

	return p
}

// AnalyzeInput screens a user message
func (p *Pipeline) AnalyzeInput(ctx context.Context, req *AnalyzeRequest) (*AnalysisResponse, error) {
	return p.analyze(ctx, DirectionUserInput, req)
}

// AnalyzeResponse screens an AI reply before it is shown
func (p *Pipeline) AnalyzeResponse(ctx context.Context, req *AnalyzeRequest) (*AnalysisResponse, error) {
	return p.analyze(ctx, DirectionAIResponse, req)
}

// AnalyzeTurn screens the user message and, unless it diverts the turn, the AI reply
func (p *Pipeline) AnalyzeTurn(ctx context.Context, req *TurnRequest) (*TurnResponse, error) {
	input, err := p.AnalyzeInput(ctx, &AnalyzeRequest{
		Text:      req.UserInput,
		SessionID: req.SessionID,
		Region:    req.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("user_input: %w", err)
	}

	turn := &TurnResponse{Input: *input}
	if diverts(input.Result) {
		turn.Diverted = true
		turn.DisplayText = input.DisplayText
		return turn, nil
	}

	response, err := p.AnalyzeResponse(ctx, &AnalyzeRequest{
		Text:      req.AIResponse,
		SessionID: req.SessionID,
		Region:    req.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("ai_response: %w", err)
	}

	turn.Response = response
	turn.DisplayText = response.DisplayText
	return turn, nil
}

func diverts(result guardrail.GuardrailResult) bool {
	return result.IsEscalation() || result.Intervention.Substitutes()
}

func (p *Pipeline) analyze(ctx context.Context, direction Direction, req *AnalyzeRequest) (*AnalysisResponse, error) {
	startTime := time.Now()

	// Once a verdict exists it is always audited and escalated, so the
	// deadline is only honoured before evaluation starts.
	if err := ctx.Err(); err != nil {
		p.metrics.RecordFailure(time.Since(startTime))
		return nil, fmt.Errorf("analysis abandoned: %w", err)
	}

	if n := utf8.RuneCountInString(req.Text); n > p.maxTextLength {
		p.metrics.RecordFailure(time.Since(startTime))
		p.metricsCollector.RecordInvalidInput(string(direction), "too_long")
		return nil, fmt.Errorf("%w: %d characters, limit is %d", ErrTextTooLong, n, p.maxTextLength)
	}

	var (
		result guardrail.GuardrailResult
		err    error
	)
	text := req.Text
	switch direction {
	case DirectionUserInput:
		result, err = p.engine.AnalyzeUserInput(ctx, text, &guardrail.SessionContext{SessionID: req.SessionID, Region: req.Region})
	default:
		result, err = p.engine.AnalyzeAIResponse(ctx, text, &guardrail.UserContext{SessionID: req.SessionID, Region: req.Region})
	}
	if err != nil {
		p.metrics.RecordFailure(time.Since(startTime))
		p.metricsCollector.RecordInvalidInput(string(direction), "invalid")
		return nil, err
	}

	if direction == DirectionUserInput {
		p.auditor.LogAction(ctx, result, &text, nil)
	} else {
		p.auditor.LogAction(ctx, result, nil, &text)
	}

	response := &AnalysisResponse{
		Direction:   direction,
		Result:      result,
		DisplayText: p.displayText(result, text),
	}
	if result.IsEscalation() {
		response.IncidentID = p.escalate(direction, req.SessionID, result)
	}

	duration := time.Since(startTime)
	response.ProcessingTimeMs = duration.Milliseconds()
	p.metrics.RecordSuccess(duration, result)
	p.metricsCollector.RecordEvaluation(
		string(direction),
		string(result.Check),
		result.RiskLevel.String(),
		string(result.Intervention),
		duration,
	)

	p.logger.WithFields(logrus.Fields{
		"direction":    direction,
		"session_id":   req.SessionID,
		"risk_level":   result.RiskLevel.String(),
		"intervention": result.Intervention,
		"duration_ms":  response.ProcessingTimeMs,
	}).Debug("Guardrail analysis completed")

	return response, nil
}

// displayText picks what the caller shows: the substitute reply, the crisis
// message, or the original text when nothing fired.
func (p *Pipeline) displayText(result guardrail.GuardrailResult, original string) string {
	switch {
	case result.ModifiedResponse != nil:
		return *result.ModifiedResponse
	case result.EscalationData != nil:
		return p.engine.CrisisMessage(result.EscalationData.Region)
	default:
		return original
	}
}

// escalate hands the incident to the dispatcher in the background and
// returns its ID immediately.
func (p *Pipeline) escalate(direction Direction, sessionID string, result guardrail.GuardrailResult) string {
	p.metricsCollector.RecordEscalation(string(direction))

	incident, err := escalation.NewIncident(sessionID, string(direction), result)
	if err != nil {
		p.logger.WithError(err).Error("Failed to build escalation incident")
		return ""
	}

	log := p.logger.WithFields(logrus.Fields{
		"incident_id": incident.ID,
		"session_id":  sessionID,
		"direction":   direction,
		"crisis_type": incident.Escalation.CrisisType,
		"region":      incident.Escalation.Region,
	})

	if p.dispatcher == nil {
		log.Warn("Escalation raised with no dispatcher configured")
		return incident.ID
	}

	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()

		ctx, cancel := context.WithTimeout(context.Background(), p.dispatchTimeout)
		defer cancel()

		channel, err := p.dispatcher.Dispatch(ctx, incident)
		if errors.Is(err, escalation.ErrNoChannels) {
			log.Warn("Escalation raised with no channels configured")
			return
		}
		if err != nil {
			p.metrics.RecordDispatchFailure()
			log.WithError(err).Error("Escalation could not be delivered")
			return
		}
		log.WithField("channel", channel).Info("Escalation handed to crisis workflow")
	}()

	return incident.ID
}

// Close waits for in-flight escalation dispatches or until ctx is done
func (p *Pipeline) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for escalation dispatches: %w", ctx.Err())
	}
}

// ResourcesResponse is a region's emergency directory
type ResourcesResponse struct {
	Region        string                        `json:"region"`
	CrisisMessage string                        `json:"crisis_message"`
	Resources     []guardrail.EmergencyResource `json:"resources"`
}

// Resources returns the emergency resource directory for a region
func (p *Pipeline) Resources(region string) (*ResourcesResponse, error) {
	if !p.engine.Catalog().HasRegion(region) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRegion, region)
	}

	code, resources := p.engine.Resources(region)
	return &ResourcesResponse{
		Region:        code,
		CrisisMessage: p.engine.CrisisMessage(code),
		Resources:     resources,
	}, nil
}

// GetMetrics returns a snapshot of the pipeline counters
func (p *Pipeline) GetMetrics() MetricsSnapshot {
	return p.metrics.Snapshot()
}

// GetHealth returns pipeline health with escalation channel status
func (p *Pipeline) GetHealth() *HealthStatus {
	health := &HealthStatus{
		Status:         "healthy",
		Version:        version,
		Uptime:         time.Since(p.startTime),
		RequestsServed: p.metrics.GetRequestsTotal(),
		AverageLatency: p.metrics.GetAverageLatency(),
		DefaultRegion:  p.engine.DefaultRegion(),
		Regions:        p.engine.Catalog().Regions(),
		Rules:          p.engine.Rules().Stats(),
	}

	if p.dispatcher == nil {
		return health
	}

	stats := p.dispatcher.GetCircuitBreakerStats()
	health.CircuitBreakers = stats
	health.TotalChannels = len(stats)
	for _, s := range stats {
		if !s.IsOpen {
			health.ChannelsAvailable++
		}
	}

	switch {
	case health.IsCritical():
		health.Status = "critical - escalation channels unavailable"
	case health.ChannelsAvailable < health.TotalChannels:
		health.Status = "degraded - some escalation channels unavailable"
	}

	return health
}

// GetCircuitBreakerStats returns escalation channel breaker statistics
func (p *Pipeline) GetCircuitBreakerStats() (map[string]escalation.CircuitBreakerStats, error) {
	if p.dispatcher == nil {
		return nil, ErrNoDispatcher
	}
	return p.dispatcher.GetCircuitBreakerStats(), nil
}

// ResetCircuitBreaker manually closes a channel's circuit breaker
func (p *Pipeline) ResetCircuitBreaker(name string) error {
	if p.dispatcher == nil {
		return ErrNoDispatcher
	}
	return p.dispatcher.ResetCircuitBreaker(name)
}

// GetChannel returns an escalation channel's configuration
func (p *Pipeline) GetChannel(name string) (escalation.ChannelConfig, error) {
	if p.dispatcher == nil {
		return escalation.ChannelConfig{}, ErrNoDispatcher
	}
	return p.dispatcher.GetChannel(name)
}

// SetChannelEnabled enables or disables an escalation channel and returns its new configuration
func (p *Pipeline) SetChannelEnabled(name string, enabled bool) (escalation.ChannelConfig, error) {
	if p.dispatcher == nil {
		return escalation.ChannelConfig{}, ErrNoDispatcher
	}
	toggle := p.dispatcher.DisableChannel
	if enabled {
		toggle = p.dispatcher.EnableChannel
	}
	if err := toggle(name); err != nil {
		return escalation.ChannelConfig{}, err
	}
	return p.dispatcher.GetChannel(name)
}

// UpdateChannelPriority changes an escalation channel's delivery priority and returns its new configuration
func (p *Pipeline) UpdateChannelPriority(name string, priority int) (escalation.ChannelConfig, error) {
	if p.dispatcher == nil {
		return escalation.ChannelConfig{}, ErrNoDispatcher
	}
	if err := p.dispatcher.UpdateChannelPriority(name, priority); err != nil {
		return escalation.ChannelConfig{}, err
	}
	return p.dispatcher.GetChannel(name)
}
