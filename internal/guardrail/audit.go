package guardrail

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

// Auditor writes one structured record per guardrail action. Raw text is
// never logged, only its length.
type Auditor struct {
	logger *logrus.Logger
	now    func() time.Time
}

// NewAuditor creates an auditor writing to the given logger
func NewAuditor(logger *logrus.Logger) *Auditor {
	return &Auditor{
		logger: logger,
		now:    time.Now,
	}
}

// LogAction records a result at WARNING for HIGH and CRITICAL risk and at
// INFO otherwise. Either text may be nil when only one side was analyzed.
func (a *Auditor) LogAction(ctx context.Context, result GuardrailResult, userInput, aiResponse *string) {
	fields := logrus.Fields{
		"timestamp":            a.now().UTC().Format(time.RFC3339Nano),
		"risk_level":           result.RiskLevel.String(),
		"intervention":         string(result.Intervention),
		"reason":               result.Reason,
		"escalation_triggered": result.IsEscalation(),
	}
	if result.Check != "" {
		fields["check"] = string(result.Check)
	}
	if userInput != nil {
		fields["input_length"] = utf8.RuneCountInString(*userInput)
	}
	if aiResponse != nil {
		fields["response_length"] = utf8.RuneCountInString(*aiResponse)
	}

	entry := a.logger.WithContext(ctx).WithFields(fields)
	if result.RiskLevel >= RiskHigh {
		entry.Warn("Guardrail action")
		return
	}
	entry.Info("Guardrail action")
}
