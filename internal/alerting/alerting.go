// Package alerting delivers risk alerts over multiple channels.
// Delivery is fire-and-forget: failures are logged and counted but
// never surfaced to the evaluation path.
package alerting

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/deokhwajeong/ott-compliance-events-pipeline/pkg/metrics"
)

// Severity orders alerts for channel routing
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert is the payload delivered to every channel.
type Alert struct {
	Title     string    `json:"title"`
	Severity  Severity  `json:"severity"`
	UserID    string    `json:"user_id"`
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Region    string    `json:"region"`
	RiskScore float64   `json:"risk_score"`
	Flags     []string  `json:"flags"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier delivers an alert over one channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, alert Alert) error
}

const maxHistory = 10000

// Dispatcher fans alerts out to registered notifiers and keeps a
// bounded in-memory history for diagnostics.
type Dispatcher struct {
	mu        sync.RWMutex
	logger    *zap.Logger
	notifiers map[string]Notifier
	history   []Alert
	timeout   time.Duration
}

// NewDispatcher creates a dispatcher with no channels registered
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		logger:    logger.Named("alerting"),
		notifiers: make(map[string]Notifier),
		timeout:   5 * time.Second,
	}
}

// Register adds a notifier under its channel name
func (d *Dispatcher) Register(n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifiers[n.Name()] = n
}

// Dispatch sends the alert to the named channels in the background.
// Channels with no registered notifier are skipped. When channels is
// empty, severity-based defaults apply.
func (d *Dispatcher) Dispatch(alert Alert, channels []string) {
	if len(channels) == 0 {
		channels = DefaultChannels(alert.Severity)
	}
	d.record(alert)

	d.mu.RLock()
	targets := make([]Notifier, 0, len(channels))
	for _, name := range channels {
		if n, ok := d.notifiers[name]; ok {
			targets = append(targets, n)
		}
	}
	d.mu.RUnlock()

	for _, n := range targets {
		go func(n Notifier) {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()
			if err := n.Notify(ctx, alert); err != nil {
				d.logger.Error("alert delivery failed",
					zap.String("channel", n.Name()),
					zap.String("event_id", alert.EventID),
					zap.Error(err),
				)
				return
			}
			metrics.AlertsSent.WithLabelValues(n.Name(), string(alert.Severity)).Inc()
		}(n)
	}
}

// History returns a copy of the retained alerts, newest last
func (d *Dispatcher) History() []Alert {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Alert, len(d.history))
	copy(out, d.history)
	return out
}

func (d *Dispatcher) record(alert Alert) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = append(d.history, alert)
	if len(d.history) > maxHistory {
		d.history = d.history[len(d.history)-maxHistory:]
	}
}

// DefaultChannels routes by severity: everything logs, high and above
// page slack, critical adds email and sms.
func DefaultChannels(severity Severity) []string {
	channels := []string{"log"}
	switch severity {
	case SeverityHigh:
		channels = append(channels, "slack")
	case SeverityCritical:
		channels = append(channels, "slack", "email", "sms")
	}
	return channels
}
