package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/deokhwajeong/ott-compliance-events-pipeline/pkg/models"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	return store
}

func TestEventRoundTripAndWindowQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)

	for i, region := range []string{"US", "EU", "BR"} {
		err := store.SaveEvent(ctx, &models.Event{
			EventID:   uuid.NewString(),
			UserID:    "user-1",
			EventType: "play",
			Region:    region,
			Timestamp: base.Add(time.Duration(i) * 10 * time.Minute),
			Metadata:  map[string]string{"player": "web"},
		})
		require.NoError(t, err)
	}

	events, err := store.EventsInWindow(ctx, "user-1", base, base.Add(15*time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "US", events[0].Region)
	assert.Equal(t, "web", events[0].Metadata["player"])

	first, err := store.FirstEventAt(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, base, first.UTC())

	last, err := store.LastEventAt(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, base.Add(20*time.Minute), last.UTC())
}

func TestFirstEventAtNoHistory(t *testing.T) {
	store := newTestStore(t)
	first, err := store.FirstEventAt(context.Background(), "ghost")
	require.NoError(t, err)
	assert.True(t, first.IsZero())
}

func TestAssessmentQueries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)

	levels := []models.RiskLevel{models.RiskLevelHigh, models.RiskLevelHigh, models.RiskLevelLow}
	scores := []float64{10, 12, 2}
	for i, level := range levels {
		err := store.SaveAssessment(ctx, &models.RiskAssessment{
			ID:          uuid.New(),
			EventID:     uuid.NewString(),
			UserID:      "user-1",
			Score:       scores[i],
			RiskLevel:   level,
			Threshold:   8,
			Segment:     models.SegmentNormalUser,
			Flags:       []string{"eu_privacy_violation"},
			EvaluatedAt: now,
		})
		require.NoError(t, err)
	}

	violations, err := store.ViolationCountSince(ctx, "user-1", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, violations)

	avg, err := store.AverageRiskScore(ctx, "user-1")
	require.NoError(t, err)
	assert.InDelta(t, 8.0, avg, 1e-9)

	summary, err := store.RiskLevelSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary["high"])
	assert.Equal(t, int64(1), summary["low"])
	assert.Equal(t, int64(0), summary["medium"])
}
