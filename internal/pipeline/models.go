package pipeline

import (
	"time"

	"therapy-guardrails/internal/escalation"
	"therapy-guardrails/internal/guardrail"
)

// Direction names which side of the conversation a text came from
type Direction string

const (
	DirectionUserInput  Direction = "user_input"
	DirectionAIResponse Direction = "ai_response"
)

// AnalyzeRequest is one text to screen
type AnalyzeRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
	Region    string `json:"region,omitempty"`
}

// TurnRequest is a user message and the AI reply drafted for it
type TurnRequest struct {
	UserInput  string `json:"user_input"`
	AIResponse string `json:"ai_response"`
	SessionID  string `json:"session_id,omitempty"`
	Region     string `json:"region,omitempty"`
}

// AnalysisResponse is the verdict plus the text the caller should display
type AnalysisResponse struct {
	Direction        Direction                 `json:"direction"`
	Result           guardrail.GuardrailResult `json:"result"`
	DisplayText      string                    `json:"display_text"`
	IncidentID       string                    `json:"incident_id,omitempty"`
	ProcessingTimeMs int64                     `json:"processing_time_ms"`
}

// TurnResponse carries both verdicts of a turn. Response is nil when the
// user input already diverted the conversation.
type TurnResponse struct {
	Input       AnalysisResponse  `json:"input"`
	Response    *AnalysisResponse `json:"response,omitempty"`
	DisplayText string            `json:"display_text"`
	Diverted    bool              `json:"diverted"`
}

// HealthStatus reports pipeline and escalation channel health
type HealthStatus struct {
	Status            string                                    `json:"status"`
	Version           string                                    `json:"version"`
	Uptime            time.Duration                             `json:"uptime"`
	RequestsServed    int64                                     `json:"requests_served"`
	AverageLatency    time.Duration                             `json:"average_latency"`
	DefaultRegion     string                                    `json:"default_region"`
	Regions           []string                                  `json:"regions"`
	Rules             map[string]int                            `json:"rules"`
	ChannelsAvailable int                                       `json:"channels_available"`
	TotalChannels     int                                       `json:"total_channels"`
	CircuitBreakers   map[string]escalation.CircuitBreakerStats `json:"circuit_breakers,omitempty"`
}

// IsCritical reports whether escalations can no longer be delivered anywhere
func (h *HealthStatus) IsCritical() bool {
	return h.TotalChannels > 0 && h.ChannelsAvailable == 0
}
