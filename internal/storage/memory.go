package storage

import (
	"context"
	"sync"
	"time"

	"github.com/deokhwajeong/ott-compliance-events-pipeline/pkg/models"
)

// MemoryStore is an in-memory Store used in tests and local runs
// without a database.
type MemoryStore struct {
	mu          sync.RWMutex
	events      []models.Event
	assessments []models.RiskAssessment
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// SaveEvent persists a raw event
func (s *MemoryStore) SaveEvent(_ context.Context, event *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	return nil
}

// SaveAssessment persists a risk assessment
func (s *MemoryStore) SaveAssessment(_ context.Context, assessment *models.RiskAssessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assessments = append(s.assessments, *assessment)
	return nil
}

// EventsInWindow returns a user's events within [from, to]
func (s *MemoryStore) EventsInWindow(_ context.Context, userID string, from, to time.Time) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Event
	for _, event := range s.events {
		if event.UserID != userID {
			continue
		}
		if event.Timestamp.Before(from) || event.Timestamp.After(to) {
			continue
		}
		out = append(out, event)
	}
	return out, nil
}

// EventsSince returns a user's events newer than since
func (s *MemoryStore) EventsSince(_ context.Context, userID string, since time.Time) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Event
	for _, event := range s.events {
		if event.UserID == userID && !event.Timestamp.Before(since) {
			out = append(out, event)
		}
	}
	return out, nil
}

// FirstEventAt returns the user's earliest event timestamp
func (s *MemoryStore) FirstEventAt(_ context.Context, userID string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var first time.Time
	for _, event := range s.events {
		if event.UserID != userID {
			continue
		}
		if first.IsZero() || event.Timestamp.Before(first) {
			first = event.Timestamp
		}
	}
	return first, nil
}

// LastEventAt returns the user's latest event timestamp
func (s *MemoryStore) LastEventAt(_ context.Context, userID string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last time.Time
	for _, event := range s.events {
		if event.UserID == userID && event.Timestamp.After(last) {
			last = event.Timestamp
		}
	}
	return last, nil
}

// ViolationCountSince counts high-risk assessments for a user
func (s *MemoryStore) ViolationCountSince(_ context.Context, userID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, assessment := range s.assessments {
		if assessment.UserID == userID &&
			assessment.RiskLevel == models.RiskLevelHigh &&
			!assessment.EvaluatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// AverageRiskScore returns the user's mean assessment score
func (s *MemoryStore) AverageRiskScore(_ context.Context, userID string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total, n := 0.0, 0
	for _, assessment := range s.assessments {
		if assessment.UserID == userID {
			total += assessment.Score
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return total / float64(n), nil
}

// RiskLevelSummary counts assessments grouped by risk level
func (s *MemoryStore) RiskLevelSummary(_ context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summary := map[string]int64{"low": 0, "medium": 0, "high": 0}
	for _, assessment := range s.assessments {
		summary[string(assessment.RiskLevel)]++
	}
	return summary, nil
}

var _ Store = (*MemoryStore)(nil)
