// Package ingest consumes compliance events from kafka and feeds them
// through the risk engine with a fixed-size worker pool.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/deokhwajeong/ott-compliance-events-pipeline/pkg/models"
)

// Evaluator is the subset of the risk engine the consumer needs.
type Evaluator interface {
	Evaluate(ctx context.Context, event *models.Event) (*models.RiskAssessment, error)
}

// Config controls the kafka consumer
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
	Workers int
}

// messageReader is the part of kafka.Reader the fetch loop uses
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer pulls events off the topic and evaluates them concurrently.
type Consumer struct {
	logger      *zap.Logger
	cfg         Config
	engine      Evaluator
	reader      messageReader
	readBackoff time.Duration
	queue       chan *models.Event
	wg          sync.WaitGroup
	cancel      context.CancelFunc
	startOnce   sync.Once
	stopOnce    sync.Once
}

// NewConsumer creates a consumer; Start begins consumption
func NewConsumer(cfg Config, engine Evaluator, logger *zap.Logger) *Consumer {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Consumer{
		logger:      logger.Named("ingest"),
		cfg:         cfg,
		engine:      engine,
		readBackoff: time.Second,
		queue:       make(chan *models.Event, cfg.Workers*4),
	}
}

// Start launches the fetch loop and the worker pool
func (c *Consumer) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		ctx, c.cancel = context.WithCancel(ctx)

		if c.reader == nil {
			c.reader = kafka.NewReader(kafka.ReaderConfig{
				Brokers:  c.cfg.Brokers,
				Topic:    c.cfg.Topic,
				GroupID:  c.cfg.GroupID,
				MinBytes: 1,
				MaxBytes: 10 << 20,
			})
		}

		for i := 0; i < c.cfg.Workers; i++ {
			c.wg.Add(1)
			go c.worker(ctx, i)
		}

		c.wg.Add(1)
		go c.fetchLoop(ctx)

		c.logger.Info("kafka consumer started",
			zap.String("topic", c.cfg.Topic),
			zap.Int("workers", c.cfg.Workers),
		)
	})
}

// Stop halts consumption and waits for in-flight evaluations
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		if c.reader != nil {
			if err := c.reader.Close(); err != nil {
				c.logger.Warn("reader close failed", zap.Error(err))
			}
		}
		c.wg.Wait()
		c.logger.Info("kafka consumer stopped")
	})
}

func (c *Consumer) fetchLoop(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.queue)

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return
			}
			// transient broker failures must not kill ingestion
			c.logger.Error("kafka read failed, retrying", zap.Error(err))
			select {
			case <-time.After(c.readBackoff):
				continue
			case <-ctx.Done():
				return
			}
		}

		var event models.Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			c.logger.Warn("dropping undecodable event",
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			continue
		}

		select {
		case c.queue <- &event:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) worker(ctx context.Context, id int) {
	defer c.wg.Done()

	for event := range c.queue {
		assessment, err := c.engine.Evaluate(ctx, event)
		if err != nil {
			c.logger.Warn("event evaluation rejected",
				zap.Int("worker", id),
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
			continue
		}
		if assessment.RiskLevel == models.RiskLevelHigh {
			c.logger.Info("high risk event from stream",
				zap.String("event_id", assessment.EventID),
				zap.Float64("score", assessment.Score),
			)
		}
	}
}
