package guardrail

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Subject is the text handed to a check. Normalized is trimmed, NFKC-folded
// and lower-cased; Raw is what the caller passed in.
type Subject struct {
	Raw        string
	Normalized string
}

// Check is one named rule in an engine's ordered check list. Evaluate returns
// false when the check does not fire (the text is LOW risk for this rule).
type Check interface {
	Name() CheckName
	Evaluate(s Subject) (Verdict, bool)
}

// crisisCheck scores crisis keywords and high-risk patterns together
type crisisCheck struct {
	keywords   []string
	patterns   []rulePattern
	thresholds Thresholds
}

func newCrisisCheck(rs *RuleSet) *crisisCheck {
	return &crisisCheck{
		keywords:   rs.crisisKeywords,
		patterns:   rs.highRiskPatterns,
		thresholds: rs.thresholds,
	}
}

func (c *crisisCheck) Name() CheckName { return CheckCrisis }

func (c *crisisCheck) Evaluate(s Subject) (Verdict, bool) {
	score := 0
	var keywords, patterns, rules []string

	for _, keyword := range c.keywords {
		if strings.Contains(s.Normalized, keyword) {
			score += c.thresholds.KeywordWeight
			keywords = append(keywords, keyword)
			rules = append(rules, "crisis_keyword:"+keyword)
		}
	}

	for _, pattern := range c.patterns {
		if pattern.regex.MatchString(s.Normalized) {
			score += c.thresholds.PatternWeight
			patterns = append(patterns, pattern.id)
			rules = append(rules, "high_risk_pattern:"+pattern.id)
		}
	}

	// A single high-risk pattern escalates regardless of the score.
	if len(patterns) > 0 || score >= c.thresholds.EscalationScore {
		return Verdict{
			Check:           CheckCrisis,
			RiskLevel:       RiskCritical,
			Intervention:    InterventionEscalate,
			Reason:          fmt.Sprintf("Crisis indicators detected (score %d): immediate escalation required", score),
			MatchedRules:    rules,
			MatchedKeywords: keywords,
			MatchedPatterns: patterns,
			Score:           score,
		}, true
	}

	if score >= 1 {
		return Verdict{
			Check:           CheckCrisis,
			RiskLevel:       RiskHigh,
			Intervention:    InterventionRedirect,
			Reason:          fmt.Sprintf("Potential crisis indicators detected (score %d)", score),
			Response:        ResponseCrisisRedirect,
			MatchedRules:    rules,
			MatchedKeywords: keywords,
			Score:           score,
		}, true
	}

	return Verdict{}, false
}

// patternCheck fires on the first matching regex in its list
type patternCheck struct {
	name         CheckName
	ruleKind     string
	patterns     []rulePattern
	risk         RiskLevel
	intervention Intervention
	reason       string
	response     ResponseKey
}

func (c *patternCheck) Name() CheckName { return c.name }

func (c *patternCheck) Evaluate(s Subject) (Verdict, bool) {
	for _, pattern := range c.patterns {
		if pattern.regex.MatchString(s.Normalized) {
			return Verdict{
				Check:        c.name,
				RiskLevel:    c.risk,
				Intervention: c.intervention,
				Reason:       fmt.Sprintf("%s (%s)", c.reason, pattern.id),
				Response:     c.response,
				MatchedRules: []string{c.ruleKind + ":" + pattern.id},
			}, true
		}
	}
	return Verdict{}, false
}

// phraseCheck fires on the first phrase found as a substring
type phraseCheck struct {
	name         CheckName
	ruleKind     string
	phrases      []string
	risk         RiskLevel
	intervention Intervention
	reason       string
	response     ResponseKey
}

func (c *phraseCheck) Name() CheckName { return c.name }

func (c *phraseCheck) Evaluate(s Subject) (Verdict, bool) {
	for _, phrase := range c.phrases {
		if strings.Contains(s.Normalized, phrase) {
			return Verdict{
				Check:        c.name,
				RiskLevel:    c.risk,
				Intervention: c.intervention,
				Reason:       fmt.Sprintf("%s: %q", c.reason, phrase),
				Response:     c.response,
				MatchedRules: []string{c.ruleKind + ":" + phrase},
			}, true
		}
	}
	return Verdict{}, false
}

// coherenceCheck flags AI responses that are too long or effectively empty
type coherenceCheck struct {
	maxLength int
	minLength int
}

func (c *coherenceCheck) Name() CheckName { return CheckCoherence }

func (c *coherenceCheck) Evaluate(s Subject) (Verdict, bool) {
	if length := utf8.RuneCountInString(s.Raw); length > c.maxLength {
		return Verdict{
			Check:        CheckCoherence,
			RiskLevel:    RiskMedium,
			Intervention: InterventionRedirect,
			Reason:       fmt.Sprintf("Response too long (%d > %d characters)", length, c.maxLength),
			Response:     ResponseTooLong,
			MatchedRules: []string{"coherence:too_long"},
		}, true
	}

	if length := utf8.RuneCountInString(strings.TrimSpace(s.Raw)); length < c.minLength {
		return Verdict{
			Check:        CheckCoherence,
			RiskLevel:    RiskMedium,
			Intervention: InterventionRedirect,
			Reason:       fmt.Sprintf("Response too short (%d < %d characters)", length, c.minLength),
			Response:     ResponseTooShort,
			MatchedRules: []string{"coherence:too_short"},
		}, true
	}

	return Verdict{}, false
}

// InputChecks builds the ordered checks applied to user input
func InputChecks(rs *RuleSet) []Check {
	return []Check{
		newCrisisCheck(rs),
		&patternCheck{
			name:         CheckInappropriateContent,
			ruleKind:     "inappropriate_pattern",
			patterns:     rs.inappropriatePatterns,
			risk:         RiskHigh,
			intervention: InterventionRedirect,
			reason:       "Inappropriate content detected",
			response:     ResponseInappropriate,
		},
		&phraseCheck{
			name:         CheckBoundaryViolation,
			ruleKind:     "boundary_phrase",
			phrases:      rs.boundaryPhrases,
			risk:         RiskMedium,
			intervention: InterventionRedirect,
			reason:       "Professional boundary violation attempt",
			response:     ResponseBoundary,
		},
	}
}

// OutputChecks builds the ordered checks applied to AI responses
func OutputChecks(rs *RuleSet) []Check {
	return []Check{
		&patternCheck{
			name:         CheckHarmfulAdvice,
			ruleKind:     "harmful_advice_pattern",
			patterns:     rs.harmfulAdvicePatterns,
			risk:         RiskHigh,
			intervention: InterventionBlock,
			reason:       "Potentially harmful advice detected",
			response:     ResponseHarmfulAdvice,
		},
		&phraseCheck{
			name:         CheckProfessionalBoundary,
			ruleKind:     "professional_boundary_phrase",
			phrases:      rs.professionalBoundaryPhrases,
			risk:         RiskMedium,
			intervention: InterventionRedirect,
			reason:       "Response breaks professional framing",
			response:     ResponseProfessionalBoundary,
		},
		&coherenceCheck{
			maxLength: rs.thresholds.MaxResponseLength,
			minLength: rs.thresholds.MinResponseLength,
		},
	}
}
