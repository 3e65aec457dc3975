package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/deokhwajeong/ott-compliance-events-pipeline/internal/anomaly"
	"github.com/deokhwajeong/ott-compliance-events-pipeline/internal/network"
	"github.com/deokhwajeong/ott-compliance-events-pipeline/internal/regulation"
	"github.com/deokhwajeong/ott-compliance-events-pipeline/internal/segments"
	"github.com/deokhwajeong/ott-compliance-events-pipeline/internal/thresholds"
	"github.com/deokhwajeong/ott-compliance-events-pipeline/pkg/metrics"
	"github.com/deokhwajeong/ott-compliance-events-pipeline/pkg/models"
)

// violationLookback bounds how far back the violation predictor reads
const violationLookback = 30 * 24 * time.Hour

// Read-only diagnostic queries exposed alongside Evaluate. These call
// straight into the stage components without touching learning state.

// DetectFraudRings sweeps the graph for connector-sharing rings
func (o *Orchestrator) DetectFraudRings(minRingSize int) []models.FraudRing {
	rings := o.deps.Network.DetectRings(minRingSize)
	metrics.FraudRingsDetected.Set(float64(len(rings)))
	return rings
}

// UserNetworkRisk reports a user's standing in the fraud network
func (o *Orchestrator) UserNetworkRisk(userID string) models.NetworkRisk {
	return o.deps.Network.UserNetworkRisk(userID, networkMaxHops)
}

// NetworkStats summarizes the current graph
func (o *Orchestrator) NetworkStats() network.Statistics {
	return o.deps.Network.Stats()
}

// GetUserSegment classifies a user from their stored history
func (o *Orchestrator) GetUserSegment(ctx context.Context, userID string) models.UserSegment {
	return o.deps.Segments.SegmentFor(ctx, userID, o.now())
}

// GetUserProfile returns the rolling counters a user is segmented on
func (o *Orchestrator) GetUserProfile(ctx context.Context, userID string) (models.UserProfile, error) {
	return o.deps.Segments.BuildProfile(ctx, userID, o.now())
}

// SegmentStatistics reports the segment distribution of classified users
func (o *Orchestrator) SegmentStatistics() segments.Statistics {
	return o.deps.Segments.Statistics()
}

// PredictViolationLikelihood estimates a user's violation risk from
// their recent stored history.
func (o *Orchestrator) PredictViolationLikelihood(ctx context.Context, userID string) (anomaly.ViolationPrediction, error) {
	history, err := o.deps.Store.EventsSince(ctx, userID, o.now().Add(-violationLookback))
	if err != nil {
		return anomaly.ViolationPrediction{}, fmt.Errorf("load user history: %w", err)
	}
	return anomaly.PredictViolationLikelihood(history), nil
}

// GetDynamicThreshold resolves the adaptive threshold for a context
func (o *Orchestrator) GetDynamicThreshold(segment models.UserSegment, hour int, region string) float64 {
	return o.deps.Thresholds.GetThreshold(segment, hour, region)
}

// ThresholdStatistics exposes the learning accumulators
func (o *Orchestrator) ThresholdStatistics() thresholds.Statistics {
	return o.deps.Thresholds.Statistics()
}

// RegulationsFor lists the regulations applicable to a region
func (o *Orchestrator) RegulationsFor(region string) []regulation.Regulation {
	return o.deps.Regulation.RegulationsFor(region)
}

// EvaluateEventCompliance checks one action against a region's regulations
func (o *Orchestrator) EvaluateEventCompliance(userID, eventType, region string, details regulation.ActionDetails) regulation.ComplianceRecord {
	return o.deps.Regulation.EvaluateEventCompliance(userID, eventType, region, details)
}

// StrictestRequirements merges requirements across regulations
func (o *Orchestrator) StrictestRequirements(regs []regulation.Regulation) (regulation.Requirements, bool) {
	return o.deps.Regulation.StrictestRequirements(regs)
}

// CachedAssessment fetches a prior assessment by event id
func (o *Orchestrator) CachedAssessment(ctx context.Context, eventID string) (*models.RiskAssessment, error) {
	return o.deps.Cache.Get(ctx, eventID)
}

// RiskLevelSummary aggregates stored assessments by level
func (o *Orchestrator) RiskLevelSummary(ctx context.Context) (map[string]int64, error) {
	return o.deps.Store.RiskLevelSummary(ctx)
}

// RetrainAnomalyModel refits the isolation forest from history
func (o *Orchestrator) RetrainAnomalyModel(force bool) (bool, error) {
	return o.deps.Anomaly.Retrain(force)
}

// UpdateThresholds recomputes region thresholds from violation history
func (o *Orchestrator) UpdateThresholds() {
	o.deps.Thresholds.UpdateFromViolations()
}
