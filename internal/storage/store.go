// Package storage persists raw events and risk assessments and serves
// the historical queries the scoring stages depend on.
package storage

import (
	"context"
	"time"

	"github.com/deokhwajeong/ott-compliance-events-pipeline/pkg/models"
)

// Store is the durable collaborator consumed by the risk engine
type Store interface {
	// SaveEvent persists a raw event
	SaveEvent(ctx context.Context, event *models.Event) error

	// SaveAssessment persists a risk assessment, best-effort
	SaveAssessment(ctx context.Context, assessment *models.RiskAssessment) error

	// EventsInWindow returns a user's events within [from, to]
	EventsInWindow(ctx context.Context, userID string, from, to time.Time) ([]models.Event, error)

	// EventsSince returns a user's events newer than since
	EventsSince(ctx context.Context, userID string, since time.Time) ([]models.Event, error)

	// FirstEventAt returns the timestamp of the user's earliest event;
	// the zero time when the user has no history
	FirstEventAt(ctx context.Context, userID string) (time.Time, error)

	// LastEventAt returns the timestamp of the user's latest event
	LastEventAt(ctx context.Context, userID string) (time.Time, error)

	// ViolationCountSince counts high-risk assessments for a user
	ViolationCountSince(ctx context.Context, userID string, since time.Time) (int, error)

	// AverageRiskScore returns the user's mean assessment score
	AverageRiskScore(ctx context.Context, userID string) (float64, error)

	// RiskLevelSummary counts assessments grouped by risk level
	RiskLevelSummary(ctx context.Context) (map[string]int64, error)
}
