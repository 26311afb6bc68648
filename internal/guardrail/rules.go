package guardrail

import (
	"fmt"
	"regexp"
	"strings"
)

// NamedPattern is a regular expression with a stable identifier used in
// matched-rule lists and audit records.
type NamedPattern struct {
	ID   string `mapstructure:"id" yaml:"id"`
	Expr string `mapstructure:"expr" yaml:"expr"`
}

// Thresholds are the scoring constants of the rule checks. The defaults are
// heuristics carried over unchanged and need clinical sign-off before tuning.
type Thresholds struct {
	KeywordWeight     int `mapstructure:"keyword_weight"`
	PatternWeight     int `mapstructure:"pattern_weight"`
	EscalationScore   int `mapstructure:"escalation_score"`
	MaxResponseLength int `mapstructure:"max_response_length"`
	MinResponseLength int `mapstructure:"min_response_length"`
}

// DefaultThresholds returns the stock scoring constants
func DefaultThresholds() Thresholds {
	return Thresholds{
		KeywordWeight:     1,
		PatternWeight:     3,
		EscalationScore:   3,
		MaxResponseLength: 3000,
		MinResponseLength: 10,
	}
}

// Validate rejects thresholds that would make a check unreachable or always fire
func (t Thresholds) Validate() error {
	switch {
	case t.KeywordWeight <= 0:
		return fmt.Errorf("keyword_weight must be positive, got %d", t.KeywordWeight)
	case t.PatternWeight <= 0:
		return fmt.Errorf("pattern_weight must be positive, got %d", t.PatternWeight)
	case t.EscalationScore <= 0:
		return fmt.Errorf("escalation_score must be positive, got %d", t.EscalationScore)
	case t.MinResponseLength < 0:
		return fmt.Errorf("min_response_length must not be negative, got %d", t.MinResponseLength)
	case t.MaxResponseLength <= t.MinResponseLength:
		return fmt.Errorf("max_response_length (%d) must exceed min_response_length (%d)",
			t.MaxResponseLength, t.MinResponseLength)
	}
	return nil
}

// RuleSetConfig is the uncompiled form of a RuleSet
type RuleSetConfig struct {
	CrisisKeywords              []string
	HighRiskPatterns            []NamedPattern
	InappropriatePatterns       []NamedPattern
	BoundaryPhrases             []string
	HarmfulAdvicePatterns       []NamedPattern
	ProfessionalBoundaryPhrases []string
	Thresholds                  Thresholds
}

type rulePattern struct {
	id    string
	regex *regexp.Regexp
}

// RuleSet is the compiled, immutable rule configuration shared by every
// engine call. It is safe for concurrent use.
type RuleSet struct {
	crisisKeywords              []string
	highRiskPatterns            []rulePattern
	inappropriatePatterns       []rulePattern
	boundaryPhrases             []string
	harmfulAdvicePatterns       []rulePattern
	professionalBoundaryPhrases []string
	thresholds                  Thresholds
}

// NewRuleSet compiles and validates a rule configuration
func NewRuleSet(cfg RuleSetConfig) (*RuleSet, error) {
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}

	rs := &RuleSet{
		crisisKeywords:              normalizePhrases(cfg.CrisisKeywords),
		boundaryPhrases:             normalizePhrases(cfg.BoundaryPhrases),
		professionalBoundaryPhrases: normalizePhrases(cfg.ProfessionalBoundaryPhrases),
		thresholds:                  cfg.Thresholds,
	}

	var err error
	if rs.highRiskPatterns, err = compilePatterns("high_risk", cfg.HighRiskPatterns); err != nil {
		return nil, err
	}
	if rs.inappropriatePatterns, err = compilePatterns("inappropriate", cfg.InappropriatePatterns); err != nil {
		return nil, err
	}
	if rs.harmfulAdvicePatterns, err = compilePatterns("harmful_advice", cfg.HarmfulAdvicePatterns); err != nil {
		return nil, err
	}

	return rs, nil
}

// DefaultRuleSet compiles the stock rules with the given thresholds
func DefaultRuleSet(thresholds Thresholds) (*RuleSet, error) {
	cfg := DefaultRuleSetConfig()
	cfg.Thresholds = thresholds
	return NewRuleSet(cfg)
}

// Thresholds returns the scoring constants
func (rs *RuleSet) Thresholds() Thresholds {
	return rs.thresholds
}

// Stats returns the size of every rule list
func (rs *RuleSet) Stats() map[string]int {
	return map[string]int{
		"crisis_keywords":               len(rs.crisisKeywords),
		"high_risk_patterns":            len(rs.highRiskPatterns),
		"inappropriate_patterns":        len(rs.inappropriatePatterns),
		"boundary_phrases":              len(rs.boundaryPhrases),
		"harmful_advice_patterns":       len(rs.harmfulAdvicePatterns),
		"professional_boundary_phrases": len(rs.professionalBoundaryPhrases),
	}
}

func compilePatterns(set string, patterns []NamedPattern) ([]rulePattern, error) {
	compiled := make([]rulePattern, 0, len(patterns))
	for i, p := range patterns {
		// Matching runs on lower-cased text; (?i) keeps upper-case patterns working.
		regex, err := regexp.Compile("(?i)" + p.Expr)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern at index %d (%s): %w", set, i, p.ID, err)
		}
		id := p.ID
		if id == "" {
			id = fmt.Sprintf("%s_%d", set, i)
		}
		compiled = append(compiled, rulePattern{id: id, regex: regex})
	}
	return compiled, nil
}

func normalizePhrases(phrases []string) []string {
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// DefaultRuleSetConfig returns the compiled-in rule lists. Keywords are chosen
// so that none is a substring of another; overlapping entries would score twice.
func DefaultRuleSetConfig() RuleSetConfig {
	return RuleSetConfig{
		CrisisKeywords: []string{
			"suicide",
			"suicidal",
			"kill myself",
			"end my life",
			"take my own life",
			"end it all",
			"want to die",
			"hurt myself",
			"harm myself",
			"self harm",
			"self-harm",
			"cut myself",
			"overdose",
			"hang myself",
			"better off dead",
			"no reason to live",
			"not worth living",
			"kill someone",
			"hurt someone",
		},
		HighRiskPatterns: []NamedPattern{
			{ID: "intent_to_act", Expr: `\b(plan|planning|going|intend|intending)\s+to\s+((kill|hurt|harm)\s+myself|end\s+(my\s+life|it\s+all)|take\s+my\s+own\s+life)\b`},
			{ID: "plan_to_die", Expr: `\b(plan|planning|intend|intending|ready)\s+to\s+die\b`},
			{ID: "self_harm_with_plan", Expr: `\b(kill|hurt|harm)\s+myself\b.*\bplan\b`},
			{ID: "plan_then_self_harm", Expr: `\bplan\b.*\b(kill|hurt|harm)\s+myself\b`},
			{ID: "imminent_timeframe", Expr: `\b(tonight|today|tomorrow|this week)\b.*\b(kill myself|end it all|end my life|take my own life)\b`},
			// Holding means only counts alongside crisis intent, in either order.
			{ID: "means_acquired", Expr: `(?:\b(have|got|bought|stockpiled|saved up)\s+(the\s+|some\s+|enough\s+)?(pills|rope|gun|razor|blades?)\b.*\b(die|end it all|end my life|kill myself|overdose|take them all)\b|\b(die|end it all|end my life|kill myself|overdose)\b.*\b(have|got|bought|stockpiled|saved up)\s+(the\s+|some\s+|enough\s+)?(pills|rope|gun|razor|blades?)\b)`},
			{ID: "farewell_note", Expr: `\b(suicide|goodbye)\s+(note|letter)\b`},
		},
		InappropriatePatterns: []NamedPattern{
			{ID: "sexual_content", Expr: `\b(sext|sexting|nudes?|porn|erotic|talk dirty|naked\s+(pics|pictures|photos)|sexual\s+(roleplay|fantas(y|ies)|favou?rs?))\b`},
			{ID: "illicit_substances", Expr: `\b(buy|sell|get|score|find|make)\s+(some\s+)?(cocaine|heroin|meth|mdma|ecstasy|lsd|weed|drugs)\b`},
			{ID: "unlawful_activity", Expr: `\bhow\s+(do\s+i|to|can\s+i)\s+(hack|steal|shoplift|launder|forge|make\s+a\s+bomb)\b`},
		},
		BoundaryPhrases: []string{
			"meet me",
			"meet in person",
			"meet up",
			"romantic",
			"date me",
			"go on a date",
			"your phone number",
			"your address",
			"where do you live",
			"be my friend",
			"be my girlfriend",
			"be my boyfriend",
			"i love you",
			"marry me",
			"relationship with you",
			"kiss you",
		},
		HarmfulAdvicePatterns: []NamedPattern{
			{ID: "self_medication", Expr: `\b(you\s+should|you\s+could|why\s+not|maybe|just)\s+(try|use|drink|take|have)\s+(some\s+)?(alcohol|a\s+drink|drinks|weed|marijuana|cannabis|drugs|pills)\b`},
			{ID: "stop_treatment", Expr: `\b(you\s+should|you\s+can|just|go\s+ahead\s+and)\s+(stop|quit)\s+(taking\s+)?(your\s+)?(medication|meds|antidepressants|therapy|treatment)\b`},
			{ID: "dismiss_professionals", Expr: `\byou\s+(don'?t|do\s+not)\s+need\s+(a\s+|any\s+|your\s+)?(therapist|therapy|doctor|psychiatrist|professional\s+help|medication|treatment)\b`},
			{ID: "ignore_professionals", Expr: `\bignore\s+(what\s+)?(your\s+)?(doctor|therapist|psychiatrist|gp)\b`},
			{ID: "dosage_change", Expr: `\b(double|increase)\s+(your\s+)?(dose|dosage)\b`},
			{ID: "normalize_self_harm", Expr: `\b(self[- ]?harm|cutting|hurting\s+yourself)\s+(is|can\s+be)\s+(ok|okay|fine|normal|healthy|a\s+good)\b`},
		},
		ProfessionalBoundaryPhrases: []string{
			"i personally",
			"we should meet",
			"let's meet",
			"meet up with you",
			"my phone number",
			"call me at",
			"as your friend",
			"i love you",
			"i'm in love",
			"my personal life",
			"i feel the same way about you",
		},
		Thresholds: DefaultThresholds(),
	}
}
