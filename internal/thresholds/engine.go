// Package thresholds derives context-sensitive risk thresholds from
// running statistics keyed by hour of day, region and user segment.
package thresholds

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/deokhwajeong/ott-compliance-events-pipeline/pkg/models"
)

// BaseThreshold is the fallback when no adjustments apply
const BaseThreshold = 8.0

const (
	minThreshold = 4.0
	maxThreshold = 12.0
)

// Hour-of-day adjustments. Night activity is more suspicious, so night
// hours push the effective threshold up through the combined formula;
// business hours relax it.
var hourAdjustments = map[int]float64{
	0: 0.15, 1: 0.20, 2: 0.25, 3: 0.30, 4: 0.25, 5: 0.20,
	6: 0.10, 7: 0.05, 8: 0.00, 9: -0.10, 10: -0.15, 11: -0.15,
	12: -0.15, 13: -0.10, 14: -0.10, 15: -0.10, 16: -0.05, 17: 0.00,
	18: 0.05, 19: 0.10, 20: 0.10, 21: 0.10, 22: 0.10, 23: 0.15,
}

var segmentAdjustments = map[models.UserSegment]float64{
	models.SegmentPowerUser:      -0.2,
	models.SegmentNormalUser:     0.0,
	models.SegmentNewUser:        0.2,
	models.SegmentInactiveUser:   0.15,
	models.SegmentSuspiciousUser: 0.3,
}

type bucket struct {
	scores     []float64
	violations []float64
}

// Statistics is an observability snapshot of the learned accumulators
type Statistics struct {
	HourSamples      map[int]int        `json:"hour_samples"`
	RegionSamples    map[string]int     `json:"region_samples"`
	SegmentSamples   map[string]int     `json:"segment_samples"`
	RegionViolationP map[string]float64 `json:"region_violation_p25"`
}

// Engine maintains the per-dimension accumulators and derives dynamic
// thresholds from them.
type Engine struct {
	mu     sync.RWMutex
	logger *zap.Logger

	hourStats    map[int]*bucket
	regionStats  map[string]*bucket
	segmentStats map[models.UserSegment]*bucket

	regionViolationP25 map[string]float64
}

// NewEngine creates an adaptive threshold engine
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{
		logger:             logger.Named("thresholds"),
		hourStats:          make(map[int]*bucket),
		regionStats:        make(map[string]*bucket),
		segmentStats:       make(map[models.UserSegment]*bucket),
		regionViolationP25: make(map[string]float64),
	}
}

// GetThreshold combines the base threshold with time-of-day, region and
// segment adjustments. The literal combined formula is preserved from
// the reference system, including the counterintuitive interaction of
// the region adjustment with already-lenient contexts. The result is
// clamped to [4.0, 12.0].
func (e *Engine) GetThreshold(segment models.UserSegment, hour int, region string) float64 {
	timeAdj := hourAdjustments[hour]
	regionAdj := e.regionAdjustment(region)
	segmentAdj := segmentAdjustments[segment]

	threshold := BaseThreshold * (1.0 + timeAdj + regionAdj + segmentAdj)

	if threshold < minThreshold {
		return minThreshold
	}
	if threshold > maxThreshold {
		return maxThreshold
	}
	return threshold
}

// RecordEvent appends the observed score to the three independent
// per-dimension accumulators. This is a write path with no
// read-after-write consistency requirement.
func (e *Engine) RecordEvent(score float64, isViolation bool, segment models.UserSegment, hour int, region string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	record := func(b *bucket) {
		b.scores = append(b.scores, score)
		if isViolation {
			b.violations = append(b.violations, score)
		}
	}

	if _, ok := e.hourStats[hour]; !ok {
		e.hourStats[hour] = &bucket{}
	}
	record(e.hourStats[hour])

	if _, ok := e.regionStats[region]; !ok {
		e.regionStats[region] = &bucket{}
	}
	record(e.regionStats[region])

	if _, ok := e.segmentStats[segment]; !ok {
		e.segmentStats[segment] = &bucket{}
	}
	record(e.segmentStats[segment])
}

// UpdateFromViolations recomputes the diagnostic 25th percentile of
// violation scores per region. It does not change the live threshold
// formula; the output is exposed through Statistics for observability.
func (e *Engine) UpdateFromViolations() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for region, stats := range e.regionStats {
		if len(stats.violations) < 5 {
			continue
		}
		p25 := percentile(stats.violations, 25)
		e.regionViolationP25[region] = p25
		e.logger.Info("region violation threshold updated",
			zap.String("region", region),
			zap.Float64("p25", p25),
		)
	}
}

// Statistics returns a snapshot of the accumulator sizes
func (e *Engine) Statistics() Statistics {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := Statistics{
		HourSamples:      make(map[int]int, len(e.hourStats)),
		RegionSamples:    make(map[string]int, len(e.regionStats)),
		SegmentSamples:   make(map[string]int, len(e.segmentStats)),
		RegionViolationP: make(map[string]float64, len(e.regionViolationP25)),
	}
	for hour, b := range e.hourStats {
		stats.HourSamples[hour] = len(b.scores)
	}
	for region, b := range e.regionStats {
		stats.RegionSamples[region] = len(b.scores)
	}
	for segment, b := range e.segmentStats {
		stats.SegmentSamples[string(segment)] = len(b.scores)
	}
	for region, p := range e.regionViolationP25 {
		stats.RegionViolationP[region] = p
	}
	return stats
}

// regionAdjustment tightens the threshold for regions whose historical
// violation rate is high.
func (e *Engine) regionAdjustment(region string) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats, ok := e.regionStats[region]
	if !ok || len(stats.violations) == 0 {
		return 0
	}

	total := len(stats.scores)
	if total == 0 {
		total = 1
	}
	rate := float64(len(stats.violations)) / float64(total)

	if rate > 0.2 {
		return -0.2
	}
	if rate > 0.1 {
		return -0.1
	}
	return 0
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := p / 100 * float64(len(sorted)-1)
	lower := int(rank)
	if lower >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lower)
	return sorted[lower]*(1-frac) + sorted[lower+1]*frac
}
