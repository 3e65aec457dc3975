package segments

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/deokhwajeong/ott-compliance-events-pipeline/internal/storage"
	"github.com/deokhwajeong/ott-compliance-events-pipeline/pkg/models"
)

// Service builds user profiles from stored history and caches the
// resulting segment per user.
type Service struct {
	mu         sync.RWMutex
	classified map[string]models.UserSegment

	logger *zap.Logger
	store  storage.Store
}

// Statistics summarizes how the users seen so far split across segments
type Statistics struct {
	TotalUsers   int            `json:"total_users"`
	Distribution map[string]int `json:"segment_distribution"`
}

// NewService creates a segmentation service over the given store
func NewService(store storage.Store, logger *zap.Logger) *Service {
	return &Service{
		classified: make(map[string]models.UserSegment),
		logger:     logger.Named("segments"),
		store:      store,
	}
}

// BuildProfile computes the rolling counters for a user as of now.
// Missing history is not an error: counters stay zero and the
// classifier falls back to the new-user default.
func (s *Service) BuildProfile(ctx context.Context, userID string, now time.Time) (models.UserProfile, error) {
	profile := models.UserProfile{UserID: userID, UpdatedAt: now}

	events30, err := s.store.EventsSince(ctx, userID, now.AddDate(0, 0, -30))
	if err != nil {
		return profile, fmt.Errorf("load 30d events: %w", err)
	}
	profile.EventCount30d = len(events30)

	since7 := now.AddDate(0, 0, -7)
	for _, event := range events30 {
		if !event.Timestamp.Before(since7) {
			profile.EventCount7d++
		}
	}

	violations, err := s.store.ViolationCountSince(ctx, userID, now.AddDate(0, 0, -30))
	if err != nil {
		return profile, fmt.Errorf("count violations: %w", err)
	}
	profile.ViolationCount30 = violations

	first, err := s.store.FirstEventAt(ctx, userID)
	if err != nil {
		return profile, fmt.Errorf("first event: %w", err)
	}
	if !first.IsZero() {
		profile.DaysSinceSignup = int(now.Sub(first).Hours() / 24)
	}

	last, err := s.store.LastEventAt(ctx, userID)
	if err != nil {
		return profile, fmt.Errorf("last event: %w", err)
	}
	if !last.IsZero() {
		profile.LastActivityDays = int(now.Sub(last).Hours() / 24)
	}

	avg, err := s.store.AverageRiskScore(ctx, userID)
	if err != nil {
		return profile, fmt.Errorf("average risk score: %w", err)
	}
	profile.AvgRiskScore = avg

	return profile, nil
}

// SegmentFor classifies a user from their current profile. Store
// failures degrade to the normal-user default rather than erroring.
func (s *Service) SegmentFor(ctx context.Context, userID string, now time.Time) models.UserSegment {
	if userID == "" {
		return models.SegmentNormalUser
	}
	profile, err := s.BuildProfile(ctx, userID, now)
	if err != nil {
		s.logger.Warn("profile build failed, using default segment",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return models.SegmentNormalUser
	}
	segment := Classify(profile)

	s.mu.Lock()
	s.classified[userID] = segment
	s.mu.Unlock()

	return segment
}

// Statistics returns the segment distribution over every user the
// service has classified.
func (s *Service) Statistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Statistics{
		TotalUsers:   len(s.classified),
		Distribution: make(map[string]int, len(s.classified)),
	}
	for _, segment := range s.classified {
		stats.Distribution[string(segment)]++
	}
	return stats
}
