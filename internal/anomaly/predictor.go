package anomaly

import (
	"github.com/deokhwajeong/ott-compliance-events-pipeline/pkg/models"
)

const predictorWindow = 50

// RegulationRisk pairs a regulation with the likelihood it is at risk
type RegulationRisk struct {
	Regulation string  `json:"regulation"`
	Likelihood float64 `json:"likelihood"`
}

// ViolationPrediction estimates how likely a user's next events are to
// produce a compliance violation, from patterns in their history.
type ViolationPrediction struct {
	Likelihood           float64          `json:"violation_likelihood"`
	RiskFactors          []string         `json:"risk_factors"`
	PredictedRegulations []RegulationRisk `json:"predicted_regulations"`
	Confidence           float64          `json:"confidence"`
}

var dataAccessEventTypes = map[string]struct{}{
	"export":   {},
	"download": {},
	"access":   {},
}

var authFailureEventTypes = map[string]struct{}{
	"login_failed":         {},
	"token_refresh_failed": {},
}

// PredictViolationLikelihood scans the most recent events of a user's
// history for violation-prone patterns: withdrawn consent, EU activity
// without consent, heavy data access and repeated auth failures. An
// empty history predicts nothing.
func PredictViolationLikelihood(history []models.Event) ViolationPrediction {
	if len(history) == 0 {
		return ViolationPrediction{}
	}

	recent := history
	if len(recent) > predictorWindow {
		recent = recent[len(recent)-predictorWindow:]
	}

	var prediction ViolationPrediction

	last10 := recent
	if len(last10) > 10 {
		last10 = last10[len(last10)-10:]
	}
	noConsent := 0
	for _, event := range last10 {
		if !event.HasConsent {
			noConsent++
		}
	}
	if noConsent > 5 {
		prediction.Likelihood += 0.3
		prediction.RiskFactors = append(prediction.RiskFactors, "frequent_no_consent")
	}

	euNoConsent, dataAccess, failedAuth := 0, 0, 0
	for _, event := range recent {
		if event.IsEU && !event.HasConsent {
			euNoConsent++
		}
		if _, ok := dataAccessEventTypes[event.EventType]; ok {
			dataAccess++
		}
		if _, ok := authFailureEventTypes[event.EventType]; ok {
			failedAuth++
		}
	}
	if euNoConsent > 2 {
		prediction.Likelihood += 0.4
		prediction.RiskFactors = append(prediction.RiskFactors, "gdpr_violation_pattern")
		prediction.PredictedRegulations = append(prediction.PredictedRegulations,
			RegulationRisk{Regulation: "GDPR", Likelihood: 0.9})
	}
	if dataAccess > 10 {
		prediction.Likelihood += 0.2
		prediction.RiskFactors = append(prediction.RiskFactors, "high_data_access_frequency")
		prediction.PredictedRegulations = append(prediction.PredictedRegulations,
			RegulationRisk{Regulation: "CCPA", Likelihood: 0.7})
	}
	if failedAuth > 5 {
		prediction.Likelihood += 0.1
		prediction.RiskFactors = append(prediction.RiskFactors, "repeated_auth_failures")
		prediction.PredictedRegulations = append(prediction.PredictedRegulations,
			RegulationRisk{Regulation: "Account Security", Likelihood: 0.8})
	}

	if prediction.Likelihood > 1.0 {
		prediction.Likelihood = 1.0
	}
	prediction.Confidence = float64(len(recent)) / 100
	if prediction.Confidence > 1.0 {
		prediction.Confidence = 1.0
	}
	return prediction
}
