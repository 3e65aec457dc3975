// Package cache keeps recent risk assessments in redis so repeated
// lookups by event id avoid a database round trip.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/deokhwajeong/ott-compliance-events-pipeline/pkg/models"
)

// ErrMiss is returned when no cached assessment exists for the key
var ErrMiss = errors.New("cache miss")

// AssessmentCache stores serialized assessments with a TTL. A nil
// client disables caching; every method becomes a no-op miss.
type AssessmentCache struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// New creates a cache over the given redis client. client may be nil.
func New(client *redis.Client, ttl time.Duration, logger *zap.Logger) *AssessmentCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &AssessmentCache{
		client: client,
		logger: logger.Named("cache"),
		ttl:    ttl,
	}
}

func key(eventID string) string {
	return "assessment:" + eventID
}

// Put stores an assessment under its event id
func (c *AssessmentCache) Put(ctx context.Context, assessment *models.RiskAssessment) error {
	if c.client == nil {
		return nil
	}
	raw, err := json.Marshal(assessment)
	if err != nil {
		return fmt.Errorf("marshal assessment: %w", err)
	}
	if err := c.client.Set(ctx, key(assessment.EventID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Get loads an assessment by event id, returning ErrMiss when absent
func (c *AssessmentCache) Get(ctx context.Context, eventID string) (*models.RiskAssessment, error) {
	if c.client == nil {
		return nil, ErrMiss
	}
	raw, err := c.client.Get(ctx, key(eventID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}
	var assessment models.RiskAssessment
	if err := json.Unmarshal(raw, &assessment); err != nil {
		return nil, fmt.Errorf("unmarshal assessment: %w", err)
	}
	return &assessment, nil
}

// Ping verifies connectivity; nil client reports disabled without error
func (c *AssessmentCache) Ping(ctx context.Context) error {
	if c.client == nil {
		c.logger.Info("assessment cache disabled")
		return nil
	}
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
