package escalation

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"therapy-guardrails/internal/guardrail"
)

// Incident is the payload delivered to a crisis-workflow channel. It carries
// the escalation data and identifiers only, never the user's text.
type Incident struct {
	ID         string                   `json:"incident_id"`
	SessionID  string                   `json:"session_id,omitempty"`
	Direction  string                   `json:"direction"`
	RiskLevel  guardrail.RiskLevel      `json:"risk_level"`
	Reason     string                   `json:"reason"`
	Escalation guardrail.EscalationData `json:"escalation"`
	CreatedAt  time.Time                `json:"created_at"`
}

// NewIncident builds an incident from an escalating result
func NewIncident(sessionID, direction string, result guardrail.GuardrailResult) (Incident, error) {
	if !result.IsEscalation() || result.EscalationData == nil {
		return Incident{}, fmt.Errorf("result with intervention %s carries no escalation data", result.Intervention)
	}

	return Incident{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Direction:  direction,
		RiskLevel:  result.RiskLevel,
		Reason:     result.Reason,
		Escalation: *result.EscalationData,
		CreatedAt:  time.Now().UTC(),
	}, nil
}
