package geo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/deokhwajeong/ott-compliance-events-pipeline/pkg/models"
)

type stubResolver struct {
	locations map[string]*models.GeoLocation
	err       error
	calls     int
}

func (s *stubResolver) Resolve(_ context.Context, ip string) (*models.GeoLocation, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	loc, ok := s.locations[ip]
	if !ok {
		return nil, errors.New("unknown ip")
	}
	return loc, nil
}

func TestValidateRegionMismatch(t *testing.T) {
	resolver := &stubResolver{locations: map[string]*models.GeoLocation{
		"203.0.113.5": {CountryCode: "US", City: "Ashburn", Latitude: 39.0, Longitude: -77.4},
	}}
	v := NewValidator(resolver, zap.NewNop())

	check := v.ValidateRegion(context.Background(), "203.0.113.5", "EU")
	require.NotNil(t, check)
	assert.Contains(t, check.Flags, "ip_region_mismatch")
	assert.GreaterOrEqual(t, check.ScoreAdjustment, 3.0)
	assert.False(t, check.LookupFailed)
}

func TestValidateRegionCacheHitIsIdempotent(t *testing.T) {
	resolver := &stubResolver{locations: map[string]*models.GeoLocation{
		"198.51.100.9": {CountryCode: "DE", City: "Berlin", Latitude: 52.5, Longitude: 13.4},
	}}
	v := NewValidator(resolver, zap.NewNop())

	first := v.ValidateRegion(context.Background(), "198.51.100.9", "DE")
	second := v.ValidateRegion(context.Background(), "198.51.100.9", "DE")

	assert.Equal(t, 1, resolver.calls, "second lookup should be served from cache")
	assert.Equal(t, first.Flags, second.Flags)
	assert.Equal(t, first.ScoreAdjustment, second.ScoreAdjustment)
}

func TestValidateRegionLookupFailureIsSoft(t *testing.T) {
	resolver := &stubResolver{err: errors.New("upstream down")}
	v := NewValidator(resolver, zap.NewNop())

	check := v.ValidateRegion(context.Background(), "192.0.2.1", "US")
	require.NotNil(t, check)
	assert.True(t, check.LookupFailed)
	assert.Contains(t, check.Flags, "geoip_lookup_failed")
	assert.Zero(t, check.ScoreAdjustment)
}

func TestVPNAndDatacenterFlags(t *testing.T) {
	resolver := &stubResolver{locations: map[string]*models.GeoLocation{
		"203.0.113.77": {
			CountryCode:  "NL",
			City:         "Amsterdam",
			ASN:          "AS16509",
			IsDatacenter: true,
			Latitude:     52.3,
			Longitude:    4.9,
		},
	}}
	v := NewValidator(resolver, zap.NewNop())

	check := v.ValidateRegion(context.Background(), "203.0.113.77", "NL")
	assert.Contains(t, check.Flags, "vpn_detected")
	assert.Contains(t, check.Flags, "datacenter_ip")
	assert.True(t, check.IsVPN)
	assert.True(t, check.IsDatacenter)
	// vpn +1, datacenter +2, no mismatch
	assert.Equal(t, 3.0, check.ScoreAdjustment)
}

func TestImpossibleTravelCritical(t *testing.T) {
	v := NewValidator(&stubResolver{}, zap.NewNop())
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	seoul := &models.GeoLocation{CountryCode: "KR", City: "Seoul", Latitude: 37.5665, Longitude: 126.9780}
	newYork := &models.GeoLocation{CountryCode: "US", City: "New York", Latitude: 40.7128, Longitude: -74.0060}

	require.Nil(t, v.CheckTravel("user-1", seoul, base))

	check := v.CheckTravel("user-1", newYork, base.Add(time.Hour))
	require.NotNil(t, check)
	assert.Greater(t, check.SpeedKMH, maxTravelSpeedKMH)
	assert.Greater(t, check.SpeedKMH, criticalTravelSpeedKMH)
	assert.Equal(t, "critical", check.Severity)
	assert.InDelta(t, 11000, check.DistanceKM, 500)
}

func TestPlausibleTravelNotFlagged(t *testing.T) {
	v := NewValidator(&stubResolver{}, zap.NewNop())
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	berlin := &models.GeoLocation{CountryCode: "DE", City: "Berlin", Latitude: 52.52, Longitude: 13.405}
	munich := &models.GeoLocation{CountryCode: "DE", City: "Munich", Latitude: 48.1351, Longitude: 11.582}

	require.Nil(t, v.CheckTravel("user-2", berlin, base))
	assert.Nil(t, v.CheckTravel("user-2", munich, base.Add(4*time.Hour)))
}

func TestCacheEvictsOldestFirst(t *testing.T) {
	resolver := &stubResolver{locations: map[string]*models.GeoLocation{}}
	v := NewValidator(resolver, zap.NewNop())
	v.cacheSize = 2

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		resolver.locations[ip] = &models.GeoLocation{CountryCode: "US"}
		v.ValidateRegion(context.Background(), ip, "US")
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	assert.Len(t, v.cache, 2)
	assert.NotContains(t, v.cache, "10.0.0.1")
	assert.Contains(t, v.cache, "10.0.0.3")
}
