package anomaly

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/deokhwajeong/ott-compliance-events-pipeline/pkg/models"
)

func playbackEvent(deviceID string, ts time.Time) *models.Event {
	return &models.Event{
		EventID:          "evt-" + deviceID,
		UserID:           "user-1",
		DeviceID:         deviceID,
		EventType:        "play",
		Timestamp:        ts,
		Region:           "US",
		HasConsent:       true,
		SubscriptionPlan: "premium",
	}
}

func TestExtractIsFixedOrder(t *testing.T) {
	ts := time.Date(2025, 3, 5, 14, 30, 0, 0, time.UTC) // Wednesday
	event := &models.Event{
		EventType:        "login_failed",
		Timestamp:        ts,
		ErrorCode:        "E401",
		IsEU:             true,
		HasConsent:       false,
		SubscriptionPlan: "vip",
		DeviceID:         "dev-1",
		Region:           "EU",
	}

	vec := Extract(event)
	require.Len(t, vec, FeatureCount)
	assert.Equal(t, 14.0, vec[0])
	assert.Equal(t, 3.0, vec[1])
	assert.Equal(t, float64(len("login_failed")), vec[2])
	assert.Equal(t, 1.0, vec[3])
	assert.Equal(t, 1.0, vec[4])
	assert.Equal(t, 0.0, vec[5])
	assert.Equal(t, 2.0, vec[6])
	assert.GreaterOrEqual(t, vec[7], 0.0)
	assert.Less(t, vec[7], 1.0)
}

func TestColdStartScoresNonAnomalous(t *testing.T) {
	d := NewDetector(DefaultConfig(), zap.NewNop())

	res := d.Detect(playbackEvent("dev-1", time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)))
	assert.False(t, res.IsAnomaly)
	assert.Zero(t, res.Score)
	assert.Empty(t, res.Flags)
	assert.Equal(t, 1, d.HistorySize())
}

func TestHistoryIsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistorySize = 5
	d := NewDetector(cfg, zap.NewNop())

	ts := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		d.Detect(playbackEvent(fmt.Sprintf("dev-%d", i), ts))
	}
	assert.Equal(t, 5, d.HistorySize())
}

func TestLOFFlagsDensityOutlier(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LazyFitMin = 1000 // keep the forest out of the picture
	d := NewDetector(cfg, zap.NewNop())

	ts := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 40; i++ {
		d.Detect(playbackEvent(fmt.Sprintf("dev-%d", i), ts))
	}

	outlier := &models.Event{
		EventID:    "evt-outlier",
		UserID:     "user-1",
		DeviceID:   "dev-x",
		EventType:  "token_refresh_failed",
		Timestamp:  time.Date(2025, 3, 9, 3, 0, 0, 0, time.UTC),
		Region:     "BR",
		ErrorCode:  "E500",
		IsEU:       false,
		HasConsent: false,
	}

	res := d.Detect(outlier)
	assert.True(t, res.LOFAnomaly)
	assert.True(t, res.IsAnomaly, "one detector voting anomaly is enough for the ensemble")
	assert.Contains(t, res.Flags, "lof_anomaly")
	assert.Greater(t, res.Score, 0.0)
}

func TestIsolationForestSeparatesOutlier(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	X := make([][]float64, 0, 200)
	for i := 0; i < 200; i++ {
		X = append(X, []float64{rng.Float64(), rng.Float64()})
	}

	forest := FitIsolationForest(X, 100, 128, 0.1, 42)
	require.NotNil(t, forest)

	isAnomaly, score := forest.Predict([]float64{25, 25})
	assert.True(t, isAnomaly)

	_, inlierScore := forest.Predict([]float64{0.5, 0.5})
	assert.Greater(t, score, inlierScore)
}

func TestRetrainRequiresMinimumSamples(t *testing.T) {
	d := NewDetector(DefaultConfig(), zap.NewNop())
	ts := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		d.Detect(playbackEvent(fmt.Sprintf("dev-%d", i), ts))
	}

	ok, err := d.Retrain(false)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = d.Retrain(true)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotNil(t, d.forest.Load())
}

func TestArtifactRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.ArtifactPath = filepath.Join(dir, "anomaly_detector.json")

	d := NewDetector(cfg, zap.NewNop())
	ts := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 30; i++ {
		d.Detect(playbackEvent(fmt.Sprintf("dev-%d", i), ts))
	}
	ok, err := d.Retrain(true)
	require.NoError(t, err)
	require.True(t, ok)

	restored := NewDetector(cfg, zap.NewNop())
	assert.Equal(t, 30, restored.HistorySize())
	assert.NotNil(t, restored.forest.Load())
}

func TestDetectIsDeterministicForIdenticalState(t *testing.T) {
	ts := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)
	build := func() *Detector {
		d := NewDetector(DefaultConfig(), zap.NewNop())
		for i := 0; i < 25; i++ {
			d.Detect(playbackEvent(fmt.Sprintf("dev-%d", i), ts))
		}
		return d
	}

	probe := playbackEvent("dev-probe", ts.Add(time.Hour))
	first := build().Detect(probe)
	second := build().Detect(probe)
	assert.Equal(t, first, second)
}
