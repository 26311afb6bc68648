package guardrail

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditor_LogAction(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		input     string
		wantLevel logrus.Level
		escalated bool
	}{
		{"critical logs warning", "I want to kill myself and have a plan", logrus.WarnLevel, true},
		{"high logs warning", "I have been feeling suicidal lately", logrus.WarnLevel, false},
		{"medium logs info", "Can you meet me in person?", logrus.InfoLevel, false},
		{"low logs info", "Work was fine today", logrus.InfoLevel, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, hook := test.NewNullLogger()
			auditor := NewAuditor(logger)

			result, err := e.AnalyzeUserInput(ctx, tt.input, nil)
			require.NoError(t, err)
			auditor.LogAction(ctx, result, &tt.input, nil)

			require.Len(t, hook.AllEntries(), 1)
			entry := hook.LastEntry()
			assert.Equal(t, tt.wantLevel, entry.Level)
			assert.Equal(t, result.RiskLevel.String(), entry.Data["risk_level"])
			assert.Equal(t, string(result.Intervention), entry.Data["intervention"])
			assert.Equal(t, result.Reason, entry.Data["reason"])
			assert.Equal(t, tt.escalated, entry.Data["escalation_triggered"])
			assert.Equal(t, len([]rune(tt.input)), entry.Data["input_length"])
			assert.NotContains(t, entry.Data, "response_length")
			assert.NotEmpty(t, entry.Data["timestamp"])

			for _, value := range entry.Data {
				assert.NotEqual(t, tt.input, value, "raw text must not be logged")
			}
		})
	}
}

func TestAuditor_LogActionResponseOnly(t *testing.T) {
	logger, hook := test.NewNullLogger()
	auditor := NewAuditor(logger)

	response := "Hi"
	auditor.LogAction(context.Background(), GuardrailResult{
		RiskLevel:    RiskMedium,
		Intervention: InterventionRedirect,
		Reason:       "Response too short",
		Check:        CheckCoherence,
	}, nil, &response)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, 2, entry.Data["response_length"])
	assert.Equal(t, "coherence", entry.Data["check"])
	assert.NotContains(t, entry.Data, "input_length")
}
