package guardrail

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultRegion is used when no region is configured or requested
const DefaultRegion = "AU"

// RegionPack holds the region-specific crisis text and resource directory
type RegionPack struct {
	CrisisRedirect   string              `yaml:"crisis_redirect"`
	CrisisEscalation string              `yaml:"crisis_escalation"`
	Resources        []EmergencyResource `yaml:"resources"`
}

// ResponseCatalog maps verdicts to user-facing text and resource data.
// It is read-only after construction.
type ResponseCatalog struct {
	defaultRegion string
	regions       map[string]RegionPack
	responses     map[ResponseKey]string
}

// DefaultCatalog returns the built-in catalog covering AU, US and UK
func DefaultCatalog() *ResponseCatalog {
	return &ResponseCatalog{
		defaultRegion: DefaultRegion,
		regions: map[string]RegionPack{
			"AU": {
				CrisisRedirect: "I'm really concerned about what you've shared, and I want you to know you don't have to go through this alone.\n\n" +
					"Please reach out for support right now:\n" +
					"• Lifeline: 13 11 14 (24/7)\n" +
					"• Beyond Blue: 1300 22 4636 (24/7)\n" +
					"• Emergency services: 000\n" +
					"• Crisis chat: https://www.lifeline.org.au/crisis-chat/\n\n" +
					"I'm still here with you. Would you like to keep talking about what's been happening?",
				CrisisEscalation: "I'm very worried about your safety right now. If you are in immediate danger, please call 000 or go to your nearest emergency department.\n\n" +
					"You can talk to someone straight away at Lifeline on 13 11 14 or Beyond Blue on 1300 22 4636. They are available 24/7.\n\n" +
					"You matter, and help is available right now.",
				Resources: []EmergencyResource{
					{Name: "Lifeline", Contact: "13 11 14", Availability: "24/7", URL: "https://www.lifeline.org.au"},
					{Name: "Beyond Blue", Contact: "1300 22 4636", Availability: "24/7", URL: "https://www.beyondblue.org.au"},
					{Name: "Suicide Call Back Service", Contact: "1300 659 467", Availability: "24/7", URL: "https://www.suicidecallbackservice.org.au"},
					{Name: "Emergency Services", Contact: "000", Availability: "24/7"},
				},
			},
			"US": {
				CrisisRedirect: "I'm really concerned about what you've shared, and I want you to know you don't have to go through this alone.\n\n" +
					"Please reach out for support right now:\n" +
					"• 988 Suicide & Crisis Lifeline: call or text 988 (24/7)\n" +
					"• Crisis Text Line: text HOME to 741741 (24/7)\n" +
					"• Emergency services: 911\n" +
					"• Crisis chat: https://988lifeline.org/chat/\n\n" +
					"I'm still here with you. Would you like to keep talking about what's been happening?",
				CrisisEscalation: "I'm very worried about your safety right now. If you are in immediate danger, please call 911 or go to your nearest emergency room.\n\n" +
					"You can reach the 988 Suicide & Crisis Lifeline any time by calling or texting 988.\n\n" +
					"You matter, and help is available right now.",
				Resources: []EmergencyResource{
					{Name: "988 Suicide & Crisis Lifeline", Contact: "988", Availability: "24/7", URL: "https://988lifeline.org"},
					{Name: "Crisis Text Line", Contact: "Text HOME to 741741", Availability: "24/7", URL: "https://www.crisistextline.org"},
					{Name: "Emergency Services", Contact: "911", Availability: "24/7"},
				},
			},
			"UK": {
				CrisisRedirect: "I'm really concerned about what you've shared, and I want you to know you don't have to go through this alone.\n\n" +
					"Please reach out for support right now:\n" +
					"• Samaritans: 116 123 (24/7)\n" +
					"• Shout: text SHOUT to 85258 (24/7)\n" +
					"• Emergency services: 999\n" +
					"• Crisis chat: https://giveusashout.org\n\n" +
					"I'm still here with you. Would you like to keep talking about what's been happening?",
				CrisisEscalation: "I'm very worried about your safety right now. If you are in immediate danger, please call 999 or go to A&E.\n\n" +
					"You can talk to the Samaritans any time, free, on 116 123.\n\n" +
					"You matter, and help is available right now.",
				Resources: []EmergencyResource{
					{Name: "Samaritans", Contact: "116 123", Availability: "24/7", URL: "https://www.samaritans.org"},
					{Name: "Shout", Contact: "Text SHOUT to 85258", Availability: "24/7", URL: "https://giveusashout.org"},
					{Name: "Emergency Services", Contact: "999", Availability: "24/7"},
				},
			},
		},
		responses: map[ResponseKey]string{
			ResponseInappropriate: "I understand you may have a lot on your mind, but I'm here to provide therapeutic support. " +
				"Let's refocus on therapeutic topics. How have you been feeling emotionally lately?",
			ResponseBoundary: "I appreciate your openness, but I must maintain professional boundaries as your therapy assistant. " +
				"Our conversations work best when they stay focused on your wellbeing. What would you like to explore today?",
			ResponseHarmfulAdvice: "Let me rephrase that safely. Any changes to medication, substance use or treatment are best discussed " +
				"with a qualified health professional. Would you like to look at some healthy coping strategies together?",
			ResponseProfessionalBoundary: "Let's keep our focus on you and what you're going through. What's been on your mind lately?",
			ResponseTooLong:              "Let me be more focused. What feels most important for us to talk about right now?",
			ResponseTooShort:             "I'd like to understand better. Could you tell me more about what you're experiencing?",
		},
	}
}

// catalogFile is the YAML layout accepted by LoadCatalogFile
type catalogFile struct {
	DefaultRegion string                `yaml:"default_region"`
	Responses     map[string]string     `yaml:"responses"`
	Regions       map[string]RegionPack `yaml:"regions"`
}

// LoadCatalogFile reads a YAML catalog and merges it over the defaults.
// Known regions are overridden field by field; new regions must be complete.
func LoadCatalogFile(path string) (*ResponseCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog merges a YAML catalog document over the defaults
func ParseCatalog(data []byte) (*ResponseCatalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	catalog := DefaultCatalog()

	for key, text := range file.Responses {
		rk := ResponseKey(key)
		if _, known := catalog.responses[rk]; !known {
			return nil, fmt.Errorf("unknown response key %q", key)
		}
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("response %q must not be empty", key)
		}
		catalog.responses[rk] = text
	}

	for code, pack := range file.Regions {
		code = normalizeRegion(code)
		merged, exists := catalog.regions[code]
		if pack.CrisisRedirect != "" {
			merged.CrisisRedirect = pack.CrisisRedirect
		}
		if pack.CrisisEscalation != "" {
			merged.CrisisEscalation = pack.CrisisEscalation
		}
		if len(pack.Resources) > 0 {
			merged.Resources = pack.Resources
		}
		if !exists && (merged.CrisisRedirect == "" || merged.CrisisEscalation == "" || len(merged.Resources) == 0) {
			return nil, fmt.Errorf("region %s needs crisis_redirect, crisis_escalation and resources", code)
		}
		catalog.regions[code] = merged
	}

	if file.DefaultRegion != "" {
		if err := catalog.setDefaultRegion(file.DefaultRegion); err != nil {
			return nil, err
		}
	}

	return catalog, nil
}

func (c *ResponseCatalog) setDefaultRegion(region string) error {
	region = normalizeRegion(region)
	if _, ok := c.regions[region]; !ok {
		return fmt.Errorf("default region %s has no region pack", region)
	}
	c.defaultRegion = region
	return nil
}

// DefaultRegion returns the region used when none is requested
func (c *ResponseCatalog) DefaultRegion() string {
	return c.defaultRegion
}

// Regions returns the sorted list of supported region codes
func (c *ResponseCatalog) Regions() []string {
	codes := make([]string, 0, len(c.regions))
	for code := range c.regions {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// HasRegion reports whether the catalog carries a pack for the region
func (c *ResponseCatalog) HasRegion(region string) bool {
	_, ok := c.regions[normalizeRegion(region)]
	return ok
}

// Region resolves a region code to a pack, falling back to the default region
func (c *ResponseCatalog) Region(region string) (string, RegionPack) {
	code := normalizeRegion(region)
	if pack, ok := c.regions[code]; ok {
		return code, pack
	}
	return c.defaultRegion, c.regions[c.defaultRegion]
}

// Response returns the canned text for a response key
func (c *ResponseCatalog) Response(key ResponseKey) string {
	return c.responses[key]
}

// Render turns a verdict into a caller-facing result for the given region
func (c *ResponseCatalog) Render(v Verdict, region string, now time.Time) GuardrailResult {
	result := GuardrailResult{
		RiskLevel:    v.RiskLevel,
		Intervention: v.Intervention,
		Reason:       v.Reason,
		Check:        v.Check,
		MatchedRules: v.MatchedRules,
	}

	code, pack := c.Region(region)

	switch {
	case v.Intervention == InterventionEscalate:
		result.EscalationData = &EscalationData{
			CrisisType:      CrisisTypeSuicideRisk,
			MatchedKeywords: nonNil(v.MatchedKeywords),
			MatchedPatterns: v.MatchedPatterns,
			Score:           v.Score,
			Timestamp:       now.UTC(),
			Region:          code,
			Resources:       copyResources(pack.Resources),
		}
	case v.Intervention.Substitutes():
		text := c.responses[v.Response]
		if v.Response == ResponseCrisisRedirect {
			text = pack.CrisisRedirect
		}
		result.ModifiedResponse = &text
	}

	return result
}

func normalizeRegion(region string) string {
	code := strings.ToUpper(strings.TrimSpace(region))
	if code == "GB" {
		return "UK"
	}
	return code
}

func copyResources(resources []EmergencyResource) []EmergencyResource {
	out := make([]EmergencyResource, len(resources))
	copy(out, resources)
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
