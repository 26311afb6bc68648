package guardrail

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RiskLevel is the ordinal severity assigned to a piece of text
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

var riskLevelNames = map[RiskLevel]string{
	RiskLow:      "LOW",
	RiskMedium:   "MEDIUM",
	RiskHigh:     "HIGH",
	RiskCritical: "CRITICAL",
}

// String returns the upper-case name of the risk level
func (r RiskLevel) String() string {
	if name, ok := riskLevelNames[r]; ok {
		return name
	}
	return fmt.Sprintf("RiskLevel(%d)", int(r))
}

// MarshalJSON encodes the risk level by name
func (r RiskLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON decodes a risk level name
func (r *RiskLevel) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseRiskLevel(name)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRiskLevel parses a case-insensitive risk level name
func ParseRiskLevel(name string) (RiskLevel, error) {
	for level, levelName := range riskLevelNames {
		if strings.EqualFold(levelName, name) {
			return level, nil
		}
	}
	return RiskLow, fmt.Errorf("unknown risk level %q", name)
}

// Intervention is the action the caller must take for a result
type Intervention string

const (
	InterventionNone     Intervention = "none"
	InterventionWarning  Intervention = "warning"
	InterventionRedirect Intervention = "redirect"
	InterventionEscalate Intervention = "escalate"
	InterventionBlock    Intervention = "block"
)

// Substitutes reports whether the intervention replaces the original text
// with a modified response.
func (i Intervention) Substitutes() bool {
	return i == InterventionRedirect || i == InterventionBlock
}

// CheckName identifies a rule check
type CheckName string

const (
	CheckCrisis               CheckName = "crisis"
	CheckInappropriateContent CheckName = "inappropriate_content"
	CheckBoundaryViolation    CheckName = "boundary_violation"
	CheckHarmfulAdvice        CheckName = "harmful_advice"
	CheckProfessionalBoundary CheckName = "professional_boundary"
	CheckCoherence            CheckName = "coherence"
)

// ResponseKey selects the canned response the formatting layer renders for a verdict
type ResponseKey string

const (
	ResponseNone                 ResponseKey = ""
	ResponseCrisisRedirect       ResponseKey = "crisis_redirect"
	ResponseInappropriate        ResponseKey = "inappropriate"
	ResponseBoundary             ResponseKey = "boundary"
	ResponseHarmfulAdvice        ResponseKey = "harmful_advice"
	ResponseProfessionalBoundary ResponseKey = "professional_boundary"
	ResponseTooLong              ResponseKey = "too_long"
	ResponseTooShort             ResponseKey = "too_short"
)

// CrisisTypeSuicideRisk is the crisis type attached to every escalation
const CrisisTypeSuicideRisk = "suicide_risk"

// Verdict is the pure classification produced by a check, before any
// user-facing text or resource data is attached.
type Verdict struct {
	Check           CheckName    `json:"check"`
	RiskLevel       RiskLevel    `json:"risk_level"`
	Intervention    Intervention `json:"intervention"`
	Reason          string       `json:"reason"`
	Response        ResponseKey  `json:"response,omitempty"`
	MatchedRules    []string     `json:"matched_rules,omitempty"`
	MatchedKeywords []string     `json:"matched_keywords,omitempty"`
	MatchedPatterns []string     `json:"matched_patterns,omitempty"`
	Score           int          `json:"score,omitempty"`
}

// EmergencyResource is a named hotline or service in a region
type EmergencyResource struct {
	Name         string `json:"name" yaml:"name"`
	Contact      string `json:"contact" yaml:"contact"`
	Availability string `json:"availability" yaml:"availability"`
	URL          string `json:"url,omitempty" yaml:"url,omitempty"`
}

// EscalationData is the payload handed to the crisis-handling workflow
type EscalationData struct {
	CrisisType      string              `json:"crisis_type"`
	MatchedKeywords []string            `json:"matched_keywords"`
	MatchedPatterns []string            `json:"matched_patterns,omitempty"`
	Score           int                 `json:"score"`
	Timestamp       time.Time           `json:"timestamp"`
	Region          string              `json:"region"`
	Resources       []EmergencyResource `json:"resources"`
}

// GuardrailResult is the verdict returned for a single analyzed text.
// ModifiedResponse is set only for redirect and block; EscalationData only for escalate.
type GuardrailResult struct {
	RiskLevel        RiskLevel       `json:"risk_level"`
	Intervention     Intervention    `json:"intervention"`
	Reason           string          `json:"reason"`
	Check            CheckName       `json:"check,omitempty"`
	MatchedRules     []string        `json:"matched_rules,omitempty"`
	ModifiedResponse *string         `json:"modified_response,omitempty"`
	EscalationData   *EscalationData `json:"escalation_data,omitempty"`
}

// IsSafe reports whether no check fired
func (r GuardrailResult) IsSafe() bool {
	return r.RiskLevel == RiskLow && r.Intervention == InterventionNone
}

// IsEscalation reports whether the caller must start the crisis workflow
func (r GuardrailResult) IsEscalation() bool {
	return r.Intervention == InterventionEscalate
}

// SessionContext is optional caller state passed with user input.
// Rules never read it; Region only selects the resource directory.
type SessionContext struct {
	SessionID string         `json:"session_id,omitempty"`
	Region    string         `json:"region,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// UserContext is optional caller state passed with an AI response
type UserContext struct {
	SessionID string         `json:"session_id,omitempty"`
	Region    string         `json:"region,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

const noConcernsReason = "No safety concerns detected"

func safeResult() GuardrailResult {
	return GuardrailResult{
		RiskLevel:    RiskLow,
		Intervention: InterventionNone,
		Reason:       noConcernsReason,
	}
}
