package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// LogNotifier writes alerts to the structured log at a level matching
// the alert severity.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("alerts")}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Notify(_ context.Context, alert Alert) error {
	fields := []zap.Field{
		zap.String("severity", string(alert.Severity)),
		zap.String("user_id", alert.UserID),
		zap.String("event_id", alert.EventID),
		zap.Float64("risk_score", alert.RiskScore),
		zap.Strings("flags", alert.Flags),
	}
	switch alert.Severity {
	case SeverityLow:
		n.logger.Info(alert.Title, fields...)
	case SeverityMedium:
		n.logger.Warn(alert.Title, fields...)
	default:
		n.logger.Error(alert.Title, fields...)
	}
	return nil
}

// WebhookNotifier posts the alert as JSON to a configured endpoint.
// Used for slack-compatible and generic webhooks.
type WebhookNotifier struct {
	name   string
	url    string
	client *http.Client
}

func NewWebhookNotifier(name, url string) *WebhookNotifier {
	return &WebhookNotifier{
		name:   name,
		url:    url,
		client: &http.Client{},
	}
}

func (n *WebhookNotifier) Name() string { return n.name }

func (n *WebhookNotifier) Notify(ctx context.Context, alert Alert) error {
	if n.url == "" {
		return fmt.Errorf("%s webhook url not configured", n.name)
	}
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// KafkaNotifier publishes alerts to a topic so downstream consumers
// (email, sms gateways) can fan out asynchronously.
type KafkaNotifier struct {
	name   string
	writer *kafka.Writer
}

func NewKafkaNotifier(name string, brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		name: name,
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (n *KafkaNotifier) Name() string { return n.name }

func (n *KafkaNotifier) Notify(ctx context.Context, alert Alert) error {
	value, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(alert.UserID),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
