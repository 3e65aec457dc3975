// Package segments classifies users into behavioral segments from
// rolling activity counters. The segment parameterizes thresholds,
// anomaly sensitivity and alert routing.
package segments

import (
	"github.com/deokhwajeong/ott-compliance-events-pipeline/pkg/models"
)

// Parameters is the per-segment risk parameter bundle
type Parameters struct {
	RiskThresholdHigh       float64  `json:"risk_threshold_high"`
	RiskThresholdMedium     float64  `json:"risk_threshold_medium"`
	AnomalySensitivity      float64  `json:"anomaly_sensitivity"`
	AlertChannels           []string `json:"alert_channels"`
	AlertSeverityMultiplier float64  `json:"alert_severity_multiplier"`
}

var segmentParameters = map[models.UserSegment]Parameters{
	models.SegmentPowerUser: {
		RiskThresholdHigh:       9.0,
		RiskThresholdMedium:     6.0,
		AnomalySensitivity:      0.8,
		AlertChannels:           []string{"log"},
		AlertSeverityMultiplier: 0.8,
	},
	models.SegmentNormalUser: {
		RiskThresholdHigh:       8.0,
		RiskThresholdMedium:     5.0,
		AnomalySensitivity:      1.0,
		AlertChannels:           []string{"log", "slack"},
		AlertSeverityMultiplier: 1.0,
	},
	models.SegmentNewUser: {
		RiskThresholdHigh:       7.0,
		RiskThresholdMedium:     4.0,
		AnomalySensitivity:      1.3,
		AlertChannels:           []string{"log", "slack", "email"},
		AlertSeverityMultiplier: 1.2,
	},
	models.SegmentInactiveUser: {
		RiskThresholdHigh:       7.0,
		RiskThresholdMedium:     4.0,
		AnomalySensitivity:      1.2,
		AlertChannels:           []string{"log", "slack"},
		AlertSeverityMultiplier: 1.1,
	},
	models.SegmentSuspiciousUser: {
		RiskThresholdHigh:       6.0,
		RiskThresholdMedium:     3.0,
		AnomalySensitivity:      1.5,
		AlertChannels:           []string{"log", "slack", "email", "sms"},
		AlertSeverityMultiplier: 1.5,
	},
	models.SegmentDormantUser: {
		RiskThresholdHigh:       7.0,
		RiskThresholdMedium:     4.0,
		AnomalySensitivity:      1.1,
		AlertChannels:           []string{"log", "slack"},
		AlertSeverityMultiplier: 1.2,
	},
}

// Classify maps a user profile to a segment. Rules are evaluated in
// precedence order; the first match wins.
func Classify(profile models.UserProfile) models.UserSegment {
	// Long-term, heavy, clean activity
	if profile.EventCount30d > 500 && profile.ViolationCount30 == 0 && profile.DaysSinceSignup > 180 {
		return models.SegmentPowerUser
	}

	// Recent signup with little activity
	if profile.DaysSinceSignup < 30 && profile.EventCount30d < 50 {
		return models.SegmentNewUser
	}

	// High violation rate or a sudden activity spike: the 7-day event
	// rate exceeding 4x the 30-day average daily rate
	rate7d := float64(profile.EventCount7d) / 7.0
	avgDaily := float64(profile.EventCount30d) / 30.0
	if profile.ViolationCount30 > 5 || rate7d > 4*avgDaily {
		return models.SegmentSuspiciousUser
	}

	if profile.LastActivityDays > 90 && profile.EventCount30d == 0 {
		return models.SegmentDormantUser
	}

	if profile.LastActivityDays > 30 && profile.EventCount30d > 10 && profile.EventCount30d < 100 {
		return models.SegmentInactiveUser
	}

	return models.SegmentNormalUser
}

// ParametersFor returns the risk parameter bundle for a segment
func ParametersFor(segment models.UserSegment) Parameters {
	if params, ok := segmentParameters[segment]; ok {
		return params
	}
	return segmentParameters[models.SegmentNormalUser]
}
