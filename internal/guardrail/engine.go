package guardrail

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"
)

// Engine classifies user input and AI responses with ordered, short-circuiting
// rule checks. It holds no per-call state and is safe for concurrent use.
type Engine struct {
	rules         *RuleSet
	catalog       *ResponseCatalog
	inputChecks   []Check
	outputChecks  []Check
	defaultRegion string
	now           func() time.Time
	tracer        trace.Tracer
}

// Option configures an Engine
type Option func(*Engine)

// WithCatalog replaces the built-in response catalog
func WithCatalog(catalog *ResponseCatalog) Option {
	return func(e *Engine) {
		e.catalog = catalog
	}
}

// WithClock sets the time source used for escalation timestamps
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithTracer records an OpenTelemetry span per check
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithDefaultRegion sets the region used when the caller passes none. Codes
// missing from the catalog are ignored in favour of the catalog default.
func WithDefaultRegion(region string) Option {
	return func(e *Engine) {
		e.defaultRegion = normalizeRegion(region)
	}
}

// NewEngine builds an engine over a compiled rule set
func NewEngine(rules *RuleSet, opts ...Option) *Engine {
	e := &Engine{
		rules:        rules,
		catalog:      DefaultCatalog(),
		inputChecks:  InputChecks(rules),
		outputChecks: OutputChecks(rules),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	// A default the catalog cannot serve would be reported but never used.
	if !e.catalog.HasRegion(e.defaultRegion) {
		e.defaultRegion = e.catalog.DefaultRegion()
	}
	return e
}

// AnalyzeUserInput classifies text typed by the user. Checks run in the order
// crisis, inappropriate content, boundary violation; the first to fire wins.
func (e *Engine) AnalyzeUserInput(ctx context.Context, text string, session *SessionContext) (GuardrailResult, error) {
	if !utf8.ValidString(text) {
		return GuardrailResult{}, newInvalidInputError("user_input", "text is not valid UTF-8")
	}
	if strings.TrimSpace(text) == "" {
		return GuardrailResult{}, newInvalidInputError("user_input", "text is empty")
	}

	region := ""
	if session != nil {
		region = session.Region
	}
	return e.run(ctx, "guardrail.analyze_user_input", e.inputChecks, text, region), nil
}

// AnalyzeAIResponse classifies generated text before it is shown to the user.
// Checks run in the order harmful advice, professional boundary, coherence.
// An empty response is valid input and is flagged by the coherence check.
func (e *Engine) AnalyzeAIResponse(ctx context.Context, text string, user *UserContext) (GuardrailResult, error) {
	if !utf8.ValidString(text) {
		return GuardrailResult{}, newInvalidInputError("ai_response", "text is not valid UTF-8")
	}

	region := ""
	if user != nil {
		region = user.Region
	}
	return e.run(ctx, "guardrail.analyze_ai_response", e.outputChecks, text, region), nil
}

func (e *Engine) run(ctx context.Context, op string, checks []Check, text, region string) GuardrailResult {
	subject := Subject{Raw: text, Normalized: normalize(text)}

	if region == "" {
		region = e.defaultRegion
	}

	var opSpan trace.Span
	if e.tracer != nil {
		ctx, opSpan = e.tracer.Start(ctx, op)
		defer opSpan.End()
	}

	for _, check := range checks {
		verdict, fired := e.evaluate(ctx, check, subject)
		if !fired || verdict.RiskLevel == RiskLow {
			continue
		}

		result := e.catalog.Render(verdict, region, e.now())
		if opSpan != nil {
			opSpan.SetAttributes(
				attribute.String("guardrail.check", string(result.Check)),
				attribute.String("guardrail.risk_level", result.RiskLevel.String()),
				attribute.String("guardrail.intervention", string(result.Intervention)),
			)
		}
		return result
	}

	return safeResult()
}

func (e *Engine) evaluate(ctx context.Context, check Check, subject Subject) (Verdict, bool) {
	if e.tracer == nil {
		return check.Evaluate(subject)
	}

	_, span := e.tracer.Start(ctx, "guardrail.check",
		trace.WithAttributes(attribute.String("guardrail.name", string(check.Name()))),
	)
	defer span.End()

	verdict, fired := check.Evaluate(subject)
	span.SetAttributes(attribute.Bool("guardrail.fired", fired))
	return verdict, fired
}

// CrisisMessage returns the message shown to the user in place of the normal
// reply when a result escalates.
func (e *Engine) CrisisMessage(region string) string {
	if region == "" {
		region = e.defaultRegion
	}
	_, pack := e.catalog.Region(region)
	return pack.CrisisEscalation
}

// Resources returns the emergency resource directory for a region and the
// region code it resolved to.
func (e *Engine) Resources(region string) (string, []EmergencyResource) {
	if region == "" {
		region = e.defaultRegion
	}
	code, pack := e.catalog.Region(region)
	return code, copyResources(pack.Resources)
}

// Catalog returns the response catalog in use
func (e *Engine) Catalog() *ResponseCatalog {
	return e.catalog
}

// DefaultRegion returns the region used when callers pass none
func (e *Engine) DefaultRegion() string {
	return e.defaultRegion
}

// Rules returns the compiled rule set
func (e *Engine) Rules() *RuleSet {
	return e.rules
}

// InputChecks returns the user-input check names in evaluation order
func (e *Engine) InputChecks() []CheckName {
	return checkNames(e.inputChecks)
}

// OutputChecks returns the AI-response check names in evaluation order
func (e *Engine) OutputChecks() []CheckName {
	return checkNames(e.outputChecks)
}

func checkNames(checks []Check) []CheckName {
	names := make([]CheckName, len(checks))
	for i, c := range checks {
		names[i] = c.Name()
	}
	return names
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(text)))
}
