package network

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/deokhwajeong/ott-compliance-events-pipeline/pkg/models"
)

func TestDetectRingsSharedEverything(t *testing.T) {
	d := NewDetector(zap.NewNop())

	for i := 1; i <= 6; i++ {
		d.AddEvent(fmt.Sprintf("user-%d", i), "shared-device", "203.0.113.9", "card-42")
	}

	rings := d.DetectRings(5)
	require.GreaterOrEqual(t, len(rings), 3)

	byType := map[string]models.FraudRing{}
	for _, ring := range rings {
		byType[ring.RingType] = ring
	}

	for _, ringType := range []string{RingTypeDevice, RingTypeIP, RingTypePayment} {
		ring, ok := byType[ringType]
		require.True(t, ok, "expected a %s ring", ringType)
		assert.Equal(t, 6, ring.Size)
		assert.Len(t, ring.Users, 6)
		assert.InDelta(t, 0.1, ring.RiskScore, 1e-9)
	}
}

func TestDetectRingsBelowMinimum(t *testing.T) {
	d := NewDetector(zap.NewNop())
	for i := 1; i <= 4; i++ {
		d.AddEvent(fmt.Sprintf("user-%d", i), "dev-a", "", "")
	}
	assert.Empty(t, d.DetectRings(5))
}

func TestRingRiskScoreIsCapped(t *testing.T) {
	d := NewDetector(zap.NewNop())
	for i := 0; i < 30; i++ {
		d.AddEvent(fmt.Sprintf("user-%d", i), "dev-big", "", "")
	}
	rings := d.DetectRings(5)
	require.Len(t, rings, 1)
	assert.Equal(t, 1.0, rings[0].RiskScore)
}

func TestUserNetworkRiskRingMembership(t *testing.T) {
	d := NewDetector(zap.NewNop())
	for i := 1; i <= 6; i++ {
		d.AddEvent(fmt.Sprintf("user-%d", i), "shared-device", "203.0.113.9", "")
	}
	d.DetectRings(5)

	risk := d.UserNetworkRisk("user-1", 2)
	assert.Contains(t, risk.RiskFactors, "member_of_fraud_ring")
	assert.GreaterOrEqual(t, risk.RiskScore, 0.8)
	assert.LessOrEqual(t, risk.RiskScore, 1.0)
	assert.Contains(t, risk.ConnectedSuspiciousUsers, "user-2")
	assert.NotContains(t, risk.ConnectedSuspiciousUsers, "user-1")
	assert.LessOrEqual(t, len(risk.ConnectedSuspiciousUsers), 10)
}

func TestUserNetworkRiskUnknownUser(t *testing.T) {
	d := NewDetector(zap.NewNop())
	risk := d.UserNetworkRisk("nobody", 2)
	assert.Zero(t, risk.RiskScore)
	assert.Empty(t, risk.RiskFactors)
	assert.Empty(t, risk.ConnectedSuspiciousUsers)
}

func TestConnectedSuspiciousUsersCap(t *testing.T) {
	d := NewDetector(zap.NewNop())
	for i := 0; i < 25; i++ {
		d.AddEvent(fmt.Sprintf("user-%d", i), "dev-shared", "", "")
	}

	risk := d.UserNetworkRisk("user-0", 2)
	assert.Len(t, risk.ConnectedSuspiciousUsers, 10)
}

func TestStats(t *testing.T) {
	d := NewDetector(zap.NewNop())
	d.AddEvent("user-1", "dev-1", "10.0.0.1", "")
	d.AddEvent("user-2", "dev-1", "", "")
	d.AddEvent("user-3", "", "10.9.9.9", "")

	stats := d.Stats()
	// user-1, user-2, user-3, dev-1, ip:10.0.0.1, ip:10.9.9.9
	assert.Equal(t, 6, stats.TotalNodes)
	assert.Equal(t, 4, stats.TotalEdges)
	assert.Equal(t, 2, stats.Components)
	assert.Greater(t, stats.AverageDegree, 0.0)
}

func TestPruneBefore(t *testing.T) {
	d := NewDetector(zap.NewNop())
	d.AddEvent("user-old", "dev-old", "", "")

	removed := d.PruneBefore(time.Now().Add(time.Minute))
	assert.Equal(t, 2, removed)
	assert.Zero(t, d.Stats().TotalNodes)
}
