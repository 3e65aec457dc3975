// Package engine runs the staged risk evaluation pipeline. Every stage
// is soft: a failing stage contributes nothing and the event is still
// scored from the stages that succeeded.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deokhwajeong/ott-compliance-events-pipeline/internal/alerting"
	"github.com/deokhwajeong/ott-compliance-events-pipeline/internal/anomaly"
	"github.com/deokhwajeong/ott-compliance-events-pipeline/internal/cache"
	"github.com/deokhwajeong/ott-compliance-events-pipeline/internal/geo"
	"github.com/deokhwajeong/ott-compliance-events-pipeline/internal/network"
	"github.com/deokhwajeong/ott-compliance-events-pipeline/internal/regulation"
	"github.com/deokhwajeong/ott-compliance-events-pipeline/internal/segments"
	"github.com/deokhwajeong/ott-compliance-events-pipeline/internal/storage"
	"github.com/deokhwajeong/ott-compliance-events-pipeline/internal/thresholds"
	"github.com/deokhwajeong/ott-compliance-events-pipeline/pkg/metrics"
	"github.com/deokhwajeong/ott-compliance-events-pipeline/pkg/models"
)

// Scoring contributions applied by the rules stage.
const (
	missingUserScore   = 2.0
	missingDeviceScore = 2.0
	errorEventScore    = 3.0
	euNoConsentScore   = 5.0
	multiRegionScore   = 4.0
	highFrequencyScore = 2.0
	impossibleTravel   = 3.0

	multiRegionWindow   = time.Hour
	multiRegionLimit    = 2
	highFrequencyLimit  = 10
	networkRiskWeight   = 2.0
	violationWeight     = 2.0
	mediumBandWidth     = 3.0
	criticalScoreMargin = 4.0
	networkMaxHops      = 2
)

var errorEventTypes = map[string]struct{}{
	"error":                {},
	"login_failed":         {},
	"token_refresh_failed": {},
}

// Deps bundles the stage components the orchestrator drives.
type Deps struct {
	Geo        *geo.Validator
	Anomaly    *anomaly.Detector
	Network    *network.Detector
	Thresholds *thresholds.Engine
	Segments   *segments.Service
	Regulation *regulation.Engine
	Store      storage.Store
	Cache      *cache.AssessmentCache
	Alerts     *alerting.Dispatcher
}

// Orchestrator evaluates events through the staged pipeline and owns
// the fire-and-forget persistence and alerting paths.
type Orchestrator struct {
	logger *zap.Logger
	deps   Deps
	now    func() time.Time
}

// NewOrchestrator creates the pipeline orchestrator
func NewOrchestrator(deps Deps, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		logger: logger.Named("engine"),
		deps:   deps,
		now:    time.Now,
	}
}

type stageResult struct {
	score   float64
	flags   []string
	details map[string]interface{}
}

// Evaluate scores one event through every stage and always returns an
// assessment. Only a malformed event is rejected up front; stage
// failures degrade the signal, never the call.
func (o *Orchestrator) Evaluate(ctx context.Context, event *models.Event) (*models.RiskAssessment, error) {
	if event == nil {
		return nil, fmt.Errorf("nil event")
	}
	if event.EventID == "" || event.EventType == "" {
		return nil, fmt.Errorf("event missing required fields")
	}
	started := o.now()

	assessment := &models.RiskAssessment{
		ID:          uuid.New(),
		EventID:     event.EventID,
		UserID:      event.UserID,
		Findings:    make(map[string]models.StageFinding),
		EvaluatedAt: started,
	}

	o.runStage(assessment, "rules", func() (stageResult, error) {
		return o.rulesStage(ctx, event)
	})
	o.runStage(assessment, "geo", func() (stageResult, error) {
		return o.geoStage(ctx, event)
	})
	o.runStage(assessment, "anomaly", func() (stageResult, error) {
		return o.anomalyStage(event)
	})
	o.runStage(assessment, "network", func() (stageResult, error) {
		return o.networkStage(event)
	})

	segment := models.SegmentNormalUser
	o.runStage(assessment, "segment", func() (stageResult, error) {
		segment = o.deps.Segments.SegmentFor(ctx, event.UserID, event.Timestamp)
		return stageResult{details: map[string]interface{}{"segment": segment}}, nil
	})
	assessment.Segment = segment

	threshold := thresholds.BaseThreshold
	o.runStage(assessment, "threshold", func() (stageResult, error) {
		threshold = o.deps.Thresholds.GetThreshold(segment, event.Timestamp.Hour(), event.Region)
		return stageResult{details: map[string]interface{}{"threshold": threshold}}, nil
	})
	assessment.Threshold = threshold

	o.runStage(assessment, "regulation", func() (stageResult, error) {
		return o.regulationStage(event)
	})

	if assessment.Score < 0 {
		assessment.Score = 0
	}
	assessment.RiskLevel = riskLevel(assessment.Score, threshold)

	o.deps.Thresholds.RecordEvent(
		assessment.Score,
		assessment.RiskLevel == models.RiskLevelHigh,
		segment,
		event.Timestamp.Hour(),
		event.Region,
	)

	o.finish(event, assessment)

	metrics.EventsEvaluated.WithLabelValues(string(assessment.RiskLevel)).Inc()
	metrics.EvaluationLatency.Observe(time.Since(started).Seconds())
	return assessment, nil
}

// runStage executes one stage, merging its contribution into the
// assessment. Errors and panics become a zero-impact finding.
func (o *Orchestrator) runStage(assessment *models.RiskAssessment, name string, fn func() (stageResult, error)) {
	result, err := func() (result stageResult, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("stage panic: %v", r)
			}
		}()
		return fn()
	}()

	finding := models.StageFinding{
		Stage:   name,
		Score:   result.score,
		Flags:   result.flags,
		Details: result.details,
	}
	if err != nil {
		metrics.StageFailures.WithLabelValues(name).Inc()
		o.logger.Warn("pipeline stage failed",
			zap.String("stage", name),
			zap.String("event_id", assessment.EventID),
			zap.Error(err),
		)
		finding.Score = 0
		finding.Flags = nil
		finding.Error = err.Error()
		assessment.Findings[name] = finding
		return
	}

	assessment.Score += result.score
	assessment.Flags = appendUnique(assessment.Flags, result.flags...)
	assessment.Findings[name] = finding
}

func (o *Orchestrator) rulesStage(ctx context.Context, event *models.Event) (stageResult, error) {
	var result stageResult

	if event.UserID == "" {
		result.score += missingUserScore
		result.flags = append(result.flags, "missing_user_id")
	}
	if event.DeviceID == "" {
		result.score += missingDeviceScore
		result.flags = append(result.flags, "missing_device_id")
	}
	if _, ok := errorEventTypes[event.EventType]; ok {
		result.score += errorEventScore
		result.flags = append(result.flags, "auth_or_playback_error")
	}
	if event.IsEU && !event.HasConsent {
		result.score += euNoConsentScore
		result.flags = append(result.flags, "eu_privacy_violation")
	}
	switch event.SubscriptionPlan {
	case "premium":
		// the discount floors here, before the window checks add on top
		if result.score < 1 {
			result.score = 0
		} else {
			result.score--
		}
	case "basic":
		result.score++
	}

	if event.UserID != "" {
		recent, err := o.deps.Store.EventsInWindow(ctx, event.UserID,
			event.Timestamp.Add(-multiRegionWindow), event.Timestamp)
		if err != nil {
			// window checks are best-effort; base rules already applied
			o.logger.Warn("history window lookup failed",
				zap.String("user_id", event.UserID),
				zap.Error(err),
			)
			return result, nil
		}
		regions := map[string]struct{}{event.Region: {}}
		for _, prev := range recent {
			regions[prev.Region] = struct{}{}
		}
		if len(regions) > multiRegionLimit {
			result.score += multiRegionScore
			result.flags = append(result.flags, "multi_region_access")
		}
		if len(recent)+1 > highFrequencyLimit {
			result.score += highFrequencyScore
			result.flags = append(result.flags, "high_frequency_activity")
		}
	}
	return result, nil
}

func (o *Orchestrator) geoStage(ctx context.Context, event *models.Event) (stageResult, error) {
	var result stageResult
	if event.IPAddress == "" {
		return result, nil
	}

	check := o.deps.Geo.ValidateRegion(ctx, event.IPAddress, event.Region)
	result.score += check.ScoreAdjustment
	result.flags = append(result.flags, check.Flags...)
	result.details = map[string]interface{}{
		"lookup_failed": check.LookupFailed,
		"is_vpn":        check.IsVPN,
		"is_datacenter": check.IsDatacenter,
	}

	if travel := o.deps.Geo.CheckTravel(event.UserID, check.Location, event.Timestamp); travel != nil {
		result.score += impossibleTravel
		result.flags = append(result.flags, "impossible_travel")
		result.details["travel_speed_kmh"] = travel.SpeedKMH
		result.details["travel_severity"] = travel.Severity
	}
	return result, nil
}

func (o *Orchestrator) anomalyStage(event *models.Event) (stageResult, error) {
	res := o.deps.Anomaly.Detect(event)
	return stageResult{
		score: res.Score,
		flags: res.Flags,
		details: map[string]interface{}{
			"is_anomaly":      res.IsAnomaly,
			"isolation_score": res.IsolationScore,
			"lof_score":       res.LOFScore,
		},
	}, nil
}

func (o *Orchestrator) networkStage(event *models.Event) (stageResult, error) {
	o.deps.Network.AddEvent(event.UserID, event.DeviceID, event.IPAddress, event.Metadata["payment_method"])

	var result stageResult
	if event.UserID == "" {
		return result, nil
	}
	risk := o.deps.Network.UserNetworkRisk(event.UserID, networkMaxHops)
	result.score = risk.RiskScore * networkRiskWeight
	if risk.RiskScore > 0 {
		result.flags = append(result.flags, "network_risk")
	}
	result.flags = append(result.flags, risk.RiskFactors...)
	result.details = map[string]interface{}{
		"network_risk_score": risk.RiskScore,
		"connected_users":    len(risk.ConnectedSuspiciousUsers),
	}
	return result, nil
}

func (o *Orchestrator) regulationStage(event *models.Event) (stageResult, error) {
	record := o.deps.Regulation.EvaluateEventCompliance(
		event.UserID,
		event.EventType,
		event.Region,
		regulation.ConsentDetails{HasExplicitConsent: event.HasConsent},
	)

	var result stageResult
	result.score = float64(len(record.Violations)) * violationWeight
	if !record.Compliant {
		result.flags = append(result.flags, "regulation_violation")
	}
	result.details = map[string]interface{}{
		"compliant":             record.Compliant,
		"violations":            len(record.Violations),
		"compliance_risk_score": record.RiskScore,
	}
	return result, nil
}

// finish runs the asynchronous tail of an evaluation: persistence,
// caching and alerting. All best-effort.
func (o *Orchestrator) finish(event *models.Event, assessment *models.RiskAssessment) {
	eventCopy := *event
	assessmentCopy := *assessment
	go func() {
		persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.deps.Store.SaveEvent(persistCtx, &eventCopy); err != nil {
			o.logger.Error("event persistence failed",
				zap.String("event_id", eventCopy.EventID), zap.Error(err))
		}
		if err := o.deps.Store.SaveAssessment(persistCtx, &assessmentCopy); err != nil {
			o.logger.Error("assessment persistence failed",
				zap.String("event_id", assessmentCopy.EventID), zap.Error(err))
		}
		if err := o.deps.Cache.Put(persistCtx, &assessmentCopy); err != nil {
			o.logger.Warn("assessment cache write failed",
				zap.String("event_id", assessmentCopy.EventID), zap.Error(err))
		}
	}()

	if assessment.RiskLevel != models.RiskLevelHigh {
		return
	}
	severity := alerting.SeverityHigh
	if assessment.Score >= assessment.Threshold+criticalScoreMargin {
		severity = alerting.SeverityCritical
	}
	o.deps.Alerts.Dispatch(alerting.Alert{
		Title:     "high risk event detected",
		Severity:  severity,
		UserID:    event.UserID,
		EventID:   event.EventID,
		EventType: event.EventType,
		Region:    event.Region,
		RiskScore: assessment.Score,
		Flags:     assessment.Flags,
		Timestamp: assessment.EvaluatedAt,
	}, segments.ParametersFor(assessment.Segment).AlertChannels)
}

func riskLevel(score, threshold float64) models.RiskLevel {
	mediumFloor := threshold - mediumBandWidth
	if mediumFloor < 0 {
		mediumFloor = 0
	}
	switch {
	case score >= threshold:
		return models.RiskLevelHigh
	case score >= mediumFloor:
		return models.RiskLevelMedium
	default:
		return models.RiskLevelLow
	}
}

func appendUnique(existing []string, flags ...string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, f := range existing {
		seen[f] = struct{}{}
	}
	for _, f := range flags {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		existing = append(existing, f)
	}
	return existing
}
