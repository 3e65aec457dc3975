package regulation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestEngine() *Engine {
	return NewEngine(zap.NewNop())
}

func TestRegulationsForRegion(t *testing.T) {
	engine := newTestEngine()

	assert.Equal(t, []Regulation{GDPR}, engine.RegulationsFor("EU"))
	assert.Equal(t, []Regulation{LGPD}, engine.RegulationsFor("BR"))
	assert.Empty(t, engine.RegulationsFor("XX"))
}

func TestCheckViolationPerAction(t *testing.T) {
	engine := newTestEngine()

	tests := []struct {
		name     string
		reg      Regulation
		details  ActionDetails
		violated bool
	}{
		{"late access response", GDPR, AccessDetails{ResponseTimeDays: 45}, true},
		{"timely access response", GDPR, AccessDetails{ResponseTimeDays: 2}, false},
		{"late deletion", CCPA, DeletionDetails{CompletionTimeDays: 31}, true},
		{"missing consent", GDPR, ConsentDetails{}, true},
		{"explicit consent", GDPR, ConsentDetails{HasExplicitConsent: true}, false},
		{"breach notice beyond gdpr window", GDPR, BreachDetails{NotificationTimeDays: 80}, true},
		{"breach notice within ccpa window", CCPA, BreachDetails{NotificationTimeDays: 25}, false},
		{"retention over ccpa limit", CCPA, RetentionDetails{RetentionYears: 2}, true},
		{"retention under gdpr limit", GDPR, RetentionDetails{RetentionYears: 2}, false},
		{"dpia required missing", PIPL, DPIADetails{}, true},
		{"dpia not required", CCPA, DPIADetails{}, false},
		{"portability never violates", GDPR, PortabilityDetails{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := engine.CheckViolation(tt.reg, tt.details)
			assert.Equal(t, tt.violated, result.Violated)
			assert.Equal(t, tt.reg, result.Regulation)
			if tt.violated {
				assert.NotEmpty(t, result.Reason)
			}
		})
	}
}

func TestBreachWindowIsPerRegulation(t *testing.T) {
	engine := newTestEngine()

	// 70 days beats GDPR's 72-day window but not CCPA's 30
	assert.False(t, engine.CheckViolation(GDPR, BreachDetails{NotificationTimeDays: 70}).Violated)
	assert.True(t, engine.CheckViolation(CCPA, BreachDetails{NotificationTimeDays: 70}).Violated)
}

func TestEvaluateEventCompliance(t *testing.T) {
	engine := newTestEngine()

	record := engine.EvaluateEventCompliance("user-1", "user_consent_change", "EU", ConsentDetails{})
	assert.False(t, record.Compliant)
	require.Len(t, record.Violations, 1)
	assert.Equal(t, GDPR, record.Violations[0].Regulation)
	assert.Equal(t, 0.5, record.RiskScore)
}

func TestEvaluateEventComplianceMappingMiss(t *testing.T) {
	engine := newTestEngine()

	record := engine.EvaluateEventCompliance("user-1", "play", "EU", nil)
	assert.True(t, record.Compliant)
	assert.Empty(t, record.Violations)
	assert.Zero(t, record.RiskScore)
	assert.Equal(t, []Regulation{GDPR}, record.ApplicableRegulations)
}

func TestEvaluateEventComplianceUnknownRegion(t *testing.T) {
	engine := newTestEngine()

	record := engine.EvaluateEventCompliance("user-1", "user_consent_change", "XX", ConsentDetails{})
	assert.True(t, record.Compliant)
	assert.Empty(t, record.ApplicableRegulations)
}

func TestBulkExportWithoutConsentViolates(t *testing.T) {
	engine := newTestEngine()

	record := engine.EvaluateEventCompliance("user-1", "bulk_export", "EU", ConsentDetails{HasExplicitConsent: false})
	assert.False(t, record.Compliant)
	require.Len(t, record.Violations, 1)
	assert.Equal(t, ActionConsent, record.Violations[0].Action)
}

func TestStrictestRequirementsMerge(t *testing.T) {
	engine := newTestEngine()

	merged, ok := engine.StrictestRequirements([]Regulation{GDPR, CCPA})
	require.True(t, ok)
	assert.True(t, merged.ConsentRequired)
	assert.True(t, merged.DPIARequired)
	assert.True(t, merged.DataPortability)
	// CCPA's shorter windows win over GDPR's
	assert.Equal(t, 30, merged.BreachNotificationDays)
	assert.Equal(t, 1, merged.MaxRetentionYears)

	_, ok = engine.StrictestRequirements(nil)
	assert.False(t, ok)
}

func TestLoadOverrides(t *testing.T) {
	engine := newTestEngine()
	path := filepath.Join(t.TempDir(), "regs.yaml")
	content := `
regions:
  KR: [PIPL]
requirements:
  GDPR:
    consent_required: true
    right_to_access: true
    breach_notification_days: 48
    max_retention_years: 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	require.NoError(t, engine.LoadOverrides(path))

	assert.Equal(t, []Regulation{PIPL}, engine.RegulationsFor("KR"))
	req, ok := engine.Requirements(GDPR)
	require.True(t, ok)
	assert.Equal(t, 48, req.BreachNotificationDays)
	// untouched regulations keep their defaults
	ccpa, _ := engine.Requirements(CCPA)
	assert.Equal(t, 30, ccpa.BreachNotificationDays)
}
