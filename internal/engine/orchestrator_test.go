package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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
	"github.com/deokhwajeong/ott-compliance-events-pipeline/pkg/models"
)

type fixedResolver struct {
	locations map[string]*models.GeoLocation
}

func (r *fixedResolver) Resolve(_ context.Context, ip string) (*models.GeoLocation, error) {
	if loc, ok := r.locations[ip]; ok {
		return loc, nil
	}
	return nil, fmt.Errorf("unknown ip %s", ip)
}

func newTestOrchestrator(resolver geo.Resolver) (*Orchestrator, *storage.MemoryStore) {
	logger := zap.NewNop()
	store := storage.NewMemoryStore()
	deps := Deps{
		Geo:        geo.NewValidator(resolver, logger),
		Anomaly:    anomaly.NewDetector(anomaly.DefaultConfig(), logger),
		Network:    network.NewDetector(logger),
		Thresholds: thresholds.NewEngine(logger),
		Segments:   segments.NewService(store, logger),
		Regulation: regulation.NewEngine(logger),
		Store:      store,
		Cache:      cache.New(nil, time.Minute, logger),
		Alerts:     alerting.NewDispatcher(logger),
	}
	return NewOrchestrator(deps, logger), store
}

func baseEvent() *models.Event {
	return &models.Event{
		EventID:   "evt-1",
		UserID:    "user-1",
		DeviceID:  "device-1",
		EventType: "play",
		Region:    "US",
		Timestamp: time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestEvaluateRejectsMalformedEvent(t *testing.T) {
	orch, _ := newTestOrchestrator(&fixedResolver{})

	_, err := orch.Evaluate(context.Background(), nil)
	assert.Error(t, err)

	_, err = orch.Evaluate(context.Background(), &models.Event{EventID: "x"})
	assert.Error(t, err)
}

func TestEUWithoutConsentContributesExactlyFive(t *testing.T) {
	orch, _ := newTestOrchestrator(&fixedResolver{})
	event := baseEvent()
	event.Region = "EU"
	event.IsEU = true
	event.HasConsent = false

	assessment, err := orch.Evaluate(context.Background(), event)
	require.NoError(t, err)

	assert.Contains(t, assessment.Flags, "eu_privacy_violation")
	rules := assessment.Findings["rules"]
	assert.Equal(t, 5.0, rules.Score)
}

func TestMissingIdentifiersScore(t *testing.T) {
	orch, _ := newTestOrchestrator(&fixedResolver{})
	event := baseEvent()
	event.UserID = ""
	event.DeviceID = ""

	assessment, err := orch.Evaluate(context.Background(), event)
	require.NoError(t, err)

	assert.Contains(t, assessment.Flags, "missing_user_id")
	assert.Contains(t, assessment.Flags, "missing_device_id")
	assert.Equal(t, 4.0, assessment.Findings["rules"].Score)
}

func TestPremiumDiscountFloorsAtZero(t *testing.T) {
	orch, _ := newTestOrchestrator(&fixedResolver{})
	event := baseEvent()
	event.SubscriptionPlan = "premium"

	assessment, err := orch.Evaluate(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, 0.0, assessment.Findings["rules"].Score)
	assert.Equal(t, models.RiskLevelLow, assessment.RiskLevel)
}

func TestPremiumDiscountDoesNotOffsetWindowScores(t *testing.T) {
	orch, store := newTestOrchestrator(&fixedResolver{})
	ctx := context.Background()
	event := baseEvent()
	event.SubscriptionPlan = "premium"

	for i := 0; i < 12; i++ {
		region := []string{"US", "BR", "SG"}[i%3]
		require.NoError(t, store.SaveEvent(ctx, &models.Event{
			EventID:   fmt.Sprintf("prior-%d", i),
			UserID:    event.UserID,
			EventType: "play",
			Region:    region,
			Timestamp: event.Timestamp.Add(-time.Duration(i+1) * time.Minute),
		}))
	}

	assessment, err := orch.Evaluate(ctx, event)
	require.NoError(t, err)
	// max(0, 0-1) leaves nothing to subtract from the window hits
	assert.Equal(t, multiRegionScore+highFrequencyScore, assessment.Findings["rules"].Score)
}

func TestErrorEventTypeScore(t *testing.T) {
	orch, _ := newTestOrchestrator(&fixedResolver{})
	event := baseEvent()
	event.EventType = "login_failed"

	assessment, err := orch.Evaluate(context.Background(), event)
	require.NoError(t, err)
	assert.Contains(t, assessment.Flags, "auth_or_playback_error")
	assert.Equal(t, 3.0, assessment.Findings["rules"].Score)
}

func TestMultiRegionAndHighFrequencyWindows(t *testing.T) {
	orch, store := newTestOrchestrator(&fixedResolver{})
	ctx := context.Background()
	event := baseEvent()

	for i := 0; i < 12; i++ {
		region := []string{"US", "BR", "SG"}[i%3]
		require.NoError(t, store.SaveEvent(ctx, &models.Event{
			EventID:   fmt.Sprintf("prior-%d", i),
			UserID:    event.UserID,
			EventType: "play",
			Region:    region,
			Timestamp: event.Timestamp.Add(-time.Duration(i+1) * time.Minute),
		}))
	}

	assessment, err := orch.Evaluate(ctx, event)
	require.NoError(t, err)
	assert.Contains(t, assessment.Flags, "multi_region_access")
	assert.Contains(t, assessment.Flags, "high_frequency_activity")
	assert.Equal(t, 6.0, assessment.Findings["rules"].Score)
}

func TestGeoStageFailureIsIsolated(t *testing.T) {
	orch, _ := newTestOrchestrator(&fixedResolver{}) // resolver errors on every ip
	event := baseEvent()
	event.IPAddress = "203.0.113.9"

	assessment, err := orch.Evaluate(context.Background(), event)
	require.NoError(t, err)
	assert.Contains(t, assessment.Flags, "geoip_lookup_failed")
	assert.Equal(t, 0.0, assessment.Findings["geo"].Score)
	assert.Equal(t, models.RiskLevelLow, assessment.RiskLevel)
}

func TestEvaluateIsDeterministicForIdenticalState(t *testing.T) {
	resolver := &fixedResolver{locations: map[string]*models.GeoLocation{
		"203.0.113.9": {CountryCode: "US", City: "Ashburn", Latitude: 39.0, Longitude: -77.5},
	}}
	event := baseEvent()
	event.IPAddress = "203.0.113.9"

	orchA, _ := newTestOrchestrator(resolver)
	orchB, _ := newTestOrchestrator(resolver)

	a, err := orchA.Evaluate(context.Background(), event)
	require.NoError(t, err)
	b, err := orchB.Evaluate(context.Background(), event)
	require.NoError(t, err)

	assert.Equal(t, a.Score, b.Score)
	assert.Equal(t, a.Flags, b.Flags)
	assert.Equal(t, a.RiskLevel, b.RiskLevel)
}

func TestEndToEndHighRiskScenario(t *testing.T) {
	resolver := &fixedResolver{locations: map[string]*models.GeoLocation{
		"198.51.100.7": {CountryCode: "US", City: "Dallas", Latitude: 32.8, Longitude: -96.8},
	}}
	orch, _ := newTestOrchestrator(resolver)

	event := baseEvent()
	event.EventType = "bulk_export"
	event.Region = "EU"
	event.IsEU = true
	event.HasConsent = false
	event.IPAddress = "198.51.100.7"

	assessment, err := orch.Evaluate(context.Background(), event)
	require.NoError(t, err)

	assert.Contains(t, assessment.Flags, "eu_privacy_violation")
	assert.Contains(t, assessment.Flags, "ip_region_mismatch")
	assert.Contains(t, assessment.Flags, "regulation_violation")
	assert.GreaterOrEqual(t, assessment.Score, 10.0)
	assert.Equal(t, models.RiskLevelHigh, assessment.RiskLevel)
}

func TestHighRiskDispatchesAlert(t *testing.T) {
	resolver := &fixedResolver{locations: map[string]*models.GeoLocation{
		"198.51.100.7": {CountryCode: "US", City: "Dallas", Latitude: 32.8, Longitude: -96.8},
	}}
	orch, _ := newTestOrchestrator(resolver)

	received := make(chan alerting.Alert, 4)
	orch.deps.Alerts.Register(notifierFunc{name: "slack", ch: received})

	event := baseEvent()
	event.EventType = "bulk_export"
	event.Region = "EU"
	event.IsEU = true
	event.HasConsent = false
	event.IPAddress = "198.51.100.7"

	assessment, err := orch.Evaluate(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, models.RiskLevelHigh, assessment.RiskLevel)

	select {
	case alert := <-received:
		assert.Equal(t, event.EventID, alert.EventID)
		assert.Equal(t, assessment.Score, alert.RiskScore)
	case <-time.After(2 * time.Second):
		t.Fatal("expected an alert")
	}
}

func TestEvaluateFeedsThresholdAccumulators(t *testing.T) {
	orch, _ := newTestOrchestrator(&fixedResolver{})
	event := baseEvent()

	_, err := orch.Evaluate(context.Background(), event)
	require.NoError(t, err)

	stats := orch.ThresholdStatistics()
	assert.Equal(t, 1, stats.HourSamples[8])
	assert.Equal(t, 1, stats.RegionSamples["US"])
}

func TestDiagnosticQueries(t *testing.T) {
	orch, _ := newTestOrchestrator(&fixedResolver{})

	assert.Equal(t, []regulation.Regulation{regulation.GDPR}, orch.RegulationsFor("EU"))
	assert.InDelta(t, 0.0, orch.UserNetworkRisk("nobody").RiskScore, 1e-9)
	threshold := orch.GetDynamicThreshold(models.SegmentNormalUser, 8, "US")
	assert.InDelta(t, 8.0, threshold, 1e-9)
	assert.Empty(t, orch.DetectFraudRings(5))
}

type notifierFunc struct {
	name string
	ch   chan alerting.Alert
}

func (n notifierFunc) Name() string { return n.name }

func (n notifierFunc) Notify(_ context.Context, alert alerting.Alert) error {
	n.ch <- alert
	return nil
}
