// Package geo validates the consistency between an event's claimed
// region and the location its IP address actually resolves to. It also
// tracks per-user movement to flag physically impossible travel.
package geo

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/deokhwajeong/ott-compliance-events-pipeline/pkg/models"
)

const (
	earthRadiusKM = 6371.0

	// Commercial flight speed bound; anything faster is impossible travel.
	maxTravelSpeedKMH      = 1000.0
	criticalTravelSpeedKMH = 5000.0

	defaultCacheSize = 10000
)

// Known anonymization hub cities mapped to their country code
var vpnHubs = map[string]string{
	"amsterdam":   "NL",
	"bucharest":   "RO",
	"hong kong":   "HK",
	"panama city": "PA",
	"singapore":   "SG",
}

// High-risk datacenter ASNs often used for fraud
var highRiskASNs = map[string]struct{}{
	"AS16509": {},
	"AS16621": {},
	"AS14061": {},
	"AS8452":  {},
	"AS9498":  {},
}

// RegionCheck is the outcome of validating one IP against a claimed region
type RegionCheck struct {
	Flags           []string
	ScoreAdjustment float64
	Location        *models.GeoLocation
	IsVPN           bool
	IsDatacenter    bool
	LookupFailed    bool
}

// TravelCheck describes a detected impossible-travel occurrence
type TravelCheck struct {
	DistanceKM float64
	SpeedKMH   float64
	From       string
	To         string
	Severity   string
}

type lastSighting struct {
	location *models.GeoLocation
	seenAt   time.Time
}

// Validator performs cache-first IP location validation
type Validator struct {
	mu        sync.Mutex
	logger    *zap.Logger
	resolver  Resolver
	sf        singleflight.Group
	cache     map[string]*models.GeoLocation
	order     []string
	cacheSize int
	lastSeen  map[string]lastSighting
}

// NewValidator creates a geo-consistency validator
func NewValidator(resolver Resolver, logger *zap.Logger) *Validator {
	return &Validator{
		logger:    logger.Named("geo"),
		resolver:  resolver,
		cache:     make(map[string]*models.GeoLocation),
		cacheSize: defaultCacheSize,
		lastSeen:  make(map[string]lastSighting),
	}
}

// ValidateRegion checks whether the IP location matches the claimed
// region and returns flags plus a score adjustment. Lookup failures are
// soft: they yield a diagnostic flag and a zero adjustment.
func (v *Validator) ValidateRegion(ctx context.Context, ip, claimedRegion string) *RegionCheck {
	location, err := v.lookup(ctx, ip)
	if err != nil {
		v.logger.Warn("geoip lookup failed",
			zap.String("ip", ip),
			zap.Error(err),
		)
		return &RegionCheck{
			Flags:        []string{"geoip_lookup_failed"},
			LookupFailed: true,
		}
	}

	check := &RegionCheck{Location: location}

	if location.CountryCode != "" && location.CountryCode != strings.ToUpper(claimedRegion) {
		check.Flags = append(check.Flags, "ip_region_mismatch")
		check.ScoreAdjustment += 3
		v.logger.Warn("IP region mismatch",
			zap.String("ip", ip),
			zap.String("claimed_region", claimedRegion),
			zap.String("actual_country", location.CountryCode),
		)
	}

	if v.looksLikeVPN(location) {
		check.IsVPN = true
		check.Flags = append(check.Flags, "vpn_detected")
		// VPN usage alone is not a violation, it only raises risk
		check.ScoreAdjustment += 1
	}

	if location.IsDatacenter {
		check.IsDatacenter = true
		check.Flags = append(check.Flags, "datacenter_ip")
		check.ScoreAdjustment += 2
		v.logger.Warn("datacenter IP detected", zap.String("ip", ip))
	}

	return check
}

// CheckTravel compares the given location with the user's previous
// sighting and flags impossible travel. The sighting is recorded either
// way so the next event compares against this one.
func (v *Validator) CheckTravel(userID string, location *models.GeoLocation, at time.Time) *TravelCheck {
	if userID == "" || location == nil {
		return nil
	}

	v.mu.Lock()
	prev, ok := v.lastSeen[userID]
	v.lastSeen[userID] = lastSighting{location: location, seenAt: at}
	v.mu.Unlock()

	if !ok || prev.location == nil {
		return nil
	}
	if prev.location.Latitude == 0 && prev.location.Longitude == 0 {
		return nil
	}

	elapsed := at.Sub(prev.seenAt).Hours()
	if elapsed <= 0 {
		return nil
	}

	distance := haversineKM(
		prev.location.Latitude, prev.location.Longitude,
		location.Latitude, location.Longitude,
	)
	speed := distance / elapsed
	if speed <= maxTravelSpeedKMH {
		return nil
	}

	severity := "high"
	if speed > criticalTravelSpeedKMH {
		severity = "critical"
	}

	v.logger.Warn("impossible travel detected",
		zap.String("user_id", userID),
		zap.Float64("distance_km", distance),
		zap.Float64("speed_kmh", speed),
		zap.String("severity", severity),
	)

	return &TravelCheck{
		DistanceKM: distance,
		SpeedKMH:   speed,
		From:       prev.location.City + ", " + prev.location.CountryCode,
		To:         location.City + ", " + location.CountryCode,
		Severity:   severity,
	}
}

// lookup resolves an IP cache-first, deduplicating concurrent misses
func (v *Validator) lookup(ctx context.Context, ip string) (*models.GeoLocation, error) {
	v.mu.Lock()
	if cached, ok := v.cache[ip]; ok {
		v.mu.Unlock()
		return cached, nil
	}
	v.mu.Unlock()

	result, err, _ := v.sf.Do(ip, func() (interface{}, error) {
		location, err := v.resolver.Resolve(ctx, ip)
		if err != nil {
			return nil, err
		}
		v.store(ip, location)
		return location, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.GeoLocation), nil
}

// store caches a location with oldest-first eviction at capacity
func (v *Validator) store(ip string, location *models.GeoLocation) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.cache[ip]; ok {
		v.cache[ip] = location
		return
	}
	if len(v.order) >= v.cacheSize {
		oldest := v.order[0]
		v.order = v.order[1:]
		delete(v.cache, oldest)
	}
	v.cache[ip] = location
	v.order = append(v.order, ip)
}

func (v *Validator) looksLikeVPN(location *models.GeoLocation) bool {
	if _, ok := highRiskASNs[location.ASN]; ok {
		return true
	}
	city := strings.ToLower(location.City)
	for hubCity, hubCountry := range vpnHubs {
		if strings.Contains(city, hubCity) || location.CountryCode == hubCountry {
			return true
		}
	}
	return false
}

// haversineKM computes the great-circle distance between two coordinates
func haversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	rlat1 := lat1 * math.Pi / 180
	rlon1 := lon1 * math.Pi / 180
	rlat2 := lat2 * math.Pi / 180
	rlon2 := lon2 * math.Pi / 180

	dlat := rlat2 - rlat1
	dlon := rlon2 - rlon1

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(rlat1)*math.Cos(rlat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKM * c
}
