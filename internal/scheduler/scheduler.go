// Package scheduler runs the periodic maintenance jobs: anomaly model
// retraining, threshold updates and fraud-ring sweeps. Jobs never block
// inline evaluation; they share state with it only through the
// components' own locks.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/deokhwajeong/ott-compliance-events-pipeline/pkg/metrics"
	"github.com/deokhwajeong/ott-compliance-events-pipeline/pkg/models"
)

// Maintainer is the maintenance surface of the risk engine.
type Maintainer interface {
	RetrainAnomalyModel(force bool) (bool, error)
	UpdateThresholds()
	DetectFraudRings(minRingSize int) []models.FraudRing
}

// Config sets the job intervals. Non-positive intervals disable a job.
type Config struct {
	RetrainInterval   time.Duration
	ThresholdInterval time.Duration
	RingSweepInterval time.Duration
	MinRingSize       int
}

// Scheduler drives the maintenance jobs until its context is canceled
type Scheduler struct {
	logger *zap.Logger
	cfg    Config
	engine Maintainer
}

// New creates a scheduler over the engine's maintenance surface
func New(cfg Config, engine Maintainer, logger *zap.Logger) *Scheduler {
	if cfg.MinRingSize <= 0 {
		cfg.MinRingSize = 5
	}
	return &Scheduler{
		logger: logger.Named("scheduler"),
		cfg:    cfg,
		engine: engine,
	}
}

// Run blocks until ctx is canceled, executing each enabled job on its
// interval. Always returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	if s.cfg.RetrainInterval > 0 {
		group.Go(func() error {
			return s.every(ctx, s.cfg.RetrainInterval, s.retrain)
		})
	}
	if s.cfg.ThresholdInterval > 0 {
		group.Go(func() error {
			return s.every(ctx, s.cfg.ThresholdInterval, s.updateThresholds)
		})
	}
	if s.cfg.RingSweepInterval > 0 {
		group.Go(func() error {
			return s.every(ctx, s.cfg.RingSweepInterval, s.sweepRings)
		})
	}

	s.logger.Info("maintenance scheduler started",
		zap.Duration("retrain", s.cfg.RetrainInterval),
		zap.Duration("thresholds", s.cfg.ThresholdInterval),
		zap.Duration("ring_sweep", s.cfg.RingSweepInterval),
	)
	return group.Wait()
}

func (s *Scheduler) every(ctx context.Context, interval time.Duration, job func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			job()
		}
	}
}

func (s *Scheduler) retrain() {
	retrained, err := s.engine.RetrainAnomalyModel(false)
	switch {
	case err != nil:
		metrics.ModelRetrainings.WithLabelValues("error").Inc()
		s.logger.Warn("anomaly model retraining failed", zap.Error(err))
	case retrained:
		metrics.ModelRetrainings.WithLabelValues("success").Inc()
		s.logger.Info("anomaly model retrained")
	default:
		metrics.ModelRetrainings.WithLabelValues("skipped").Inc()
	}
}

func (s *Scheduler) updateThresholds() {
	s.engine.UpdateThresholds()
	s.logger.Info("adaptive thresholds updated")
}

func (s *Scheduler) sweepRings() {
	rings := s.engine.DetectFraudRings(s.cfg.MinRingSize)
	if len(rings) > 0 {
		s.logger.Warn("fraud rings detected",
			zap.Int("rings", len(rings)),
		)
	}
}
