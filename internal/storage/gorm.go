package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/deokhwajeong/ott-compliance-events-pipeline/pkg/models"
)

// EventRecord is the relational row for a raw event
type EventRecord struct {
	ID               uint      `gorm:"primaryKey"`
	EventID          string    `gorm:"uniqueIndex;size:64"`
	UserID           string    `gorm:"index;size:64"`
	DeviceID         string    `gorm:"size:64"`
	ContentID        string    `gorm:"size:64"`
	EventType        string    `gorm:"size:64"`
	Timestamp        time.Time `gorm:"index"`
	Region           string    `gorm:"size:16"`
	IsEU             bool
	HasConsent       bool
	IPAddress        string `gorm:"size:64"`
	ErrorCode        string `gorm:"size:32"`
	SubscriptionPlan string `gorm:"size:32"`
	Metadata         string
	CreatedAt        time.Time
}

// TableName keeps the historical table name
func (EventRecord) TableName() string { return "raw_events" }

// AssessmentRecord is the relational row for a processed assessment
type AssessmentRecord struct {
	ID           uint      `gorm:"primaryKey"`
	AssessmentID string    `gorm:"uniqueIndex;size:64"`
	EventID      string    `gorm:"index;size:64"`
	UserID       string    `gorm:"index;size:64"`
	Score        float64
	RiskLevel    string `gorm:"index;size:16"`
	Threshold    float64
	Segment      string `gorm:"size:32"`
	Flags        string
	Findings     string
	EvaluatedAt  time.Time `gorm:"index"`
}

// TableName keeps the historical table name
func (AssessmentRecord) TableName() string { return "processed_events" }

// GormStore is the relational Store implementation
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewPostgresStore opens a postgres-backed store
func NewPostgresStore(dsn string, logger *zap.Logger) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return newGormStore(db, logger)
}

// NewSQLiteStore opens a sqlite-backed store; used for local runs and tests
func NewSQLiteStore(path string, logger *zap.Logger) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return newGormStore(db, logger)
}

func newGormStore(db *gorm.DB, logger *zap.Logger) (*GormStore, error) {
	if err := db.AutoMigrate(&EventRecord{}, &AssessmentRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &GormStore{db: db, logger: logger.Named("storage")}, nil
}

// SaveEvent persists a raw event
func (s *GormStore) SaveEvent(ctx context.Context, event *models.Event) error {
	metadata := ""
	if len(event.Metadata) > 0 {
		raw, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("marshal event metadata: %w", err)
		}
		metadata = string(raw)
	}

	record := EventRecord{
		EventID:          event.EventID,
		UserID:           event.UserID,
		DeviceID:         event.DeviceID,
		ContentID:        event.ContentID,
		EventType:        event.EventType,
		Timestamp:        event.Timestamp,
		Region:           event.Region,
		IsEU:             event.IsEU,
		HasConsent:       event.HasConsent,
		IPAddress:        event.IPAddress,
		ErrorCode:        event.ErrorCode,
		SubscriptionPlan: event.SubscriptionPlan,
		Metadata:         metadata,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("save event %s: %w", event.EventID, err)
	}
	return nil
}

// SaveAssessment persists a risk assessment
func (s *GormStore) SaveAssessment(ctx context.Context, assessment *models.RiskAssessment) error {
	flags, err := json.Marshal(assessment.Flags)
	if err != nil {
		return fmt.Errorf("marshal flags: %w", err)
	}
	findings, err := json.Marshal(assessment.Findings)
	if err != nil {
		return fmt.Errorf("marshal findings: %w", err)
	}

	record := AssessmentRecord{
		AssessmentID: assessment.ID.String(),
		EventID:      assessment.EventID,
		UserID:       assessment.UserID,
		Score:        assessment.Score,
		RiskLevel:    string(assessment.RiskLevel),
		Threshold:    assessment.Threshold,
		Segment:      string(assessment.Segment),
		Flags:        string(flags),
		Findings:     string(findings),
		EvaluatedAt:  assessment.EvaluatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("save assessment %s: %w", assessment.ID, err)
	}
	return nil
}

// EventsInWindow returns a user's events within [from, to]
func (s *GormStore) EventsInWindow(ctx context.Context, userID string, from, to time.Time) ([]models.Event, error) {
	var records []EventRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND timestamp >= ? AND timestamp <= ?", userID, from, to).
		Order("timestamp asc").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("query events in window: %w", err)
	}
	return toEvents(records), nil
}

// EventsSince returns a user's events newer than since
func (s *GormStore) EventsSince(ctx context.Context, userID string, since time.Time) ([]models.Event, error) {
	var records []EventRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND timestamp >= ?", userID, since).
		Order("timestamp asc").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("query events since: %w", err)
	}
	return toEvents(records), nil
}

// FirstEventAt returns the user's earliest event timestamp
func (s *GormStore) FirstEventAt(ctx context.Context, userID string) (time.Time, error) {
	return s.boundaryEventAt(ctx, userID, "timestamp asc")
}

// LastEventAt returns the user's latest event timestamp
func (s *GormStore) LastEventAt(ctx context.Context, userID string) (time.Time, error) {
	return s.boundaryEventAt(ctx, userID, "timestamp desc")
}

func (s *GormStore) boundaryEventAt(ctx context.Context, userID, order string) (time.Time, error) {
	var record EventRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order(order).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("query boundary event: %w", err)
	}
	return record.Timestamp, nil
}

// ViolationCountSince counts high-risk assessments for a user
func (s *GormStore) ViolationCountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&AssessmentRecord{}).
		Where("user_id = ? AND risk_level = ? AND evaluated_at >= ?", userID, string(models.RiskLevelHigh), since).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count violations: %w", err)
	}
	return int(count), nil
}

// AverageRiskScore returns the user's mean assessment score
func (s *GormStore) AverageRiskScore(ctx context.Context, userID string) (float64, error) {
	var avg *float64
	err := s.db.WithContext(ctx).
		Model(&AssessmentRecord{}).
		Where("user_id = ?", userID).
		Select("AVG(score)").
		Scan(&avg).Error
	if err != nil {
		return 0, fmt.Errorf("average risk score: %w", err)
	}
	if avg == nil {
		return 0, nil
	}
	return *avg, nil
}

// RiskLevelSummary counts assessments grouped by risk level
func (s *GormStore) RiskLevelSummary(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		RiskLevel string
		Count     int64
	}
	err := s.db.WithContext(ctx).
		Model(&AssessmentRecord{}).
		Select("risk_level, COUNT(*) as count").
		Group("risk_level").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("risk level summary: %w", err)
	}

	summary := map[string]int64{"low": 0, "medium": 0, "high": 0}
	for _, row := range rows {
		summary[row.RiskLevel] = row.Count
	}
	return summary, nil
}

func toEvents(records []EventRecord) []models.Event {
	events := make([]models.Event, 0, len(records))
	for _, record := range records {
		event := models.Event{
			EventID:          record.EventID,
			UserID:           record.UserID,
			DeviceID:         record.DeviceID,
			ContentID:        record.ContentID,
			EventType:        record.EventType,
			Timestamp:        record.Timestamp,
			Region:           record.Region,
			IsEU:             record.IsEU,
			HasConsent:       record.HasConsent,
			IPAddress:        record.IPAddress,
			ErrorCode:        record.ErrorCode,
			SubscriptionPlan: record.SubscriptionPlan,
		}
		if record.Metadata != "" {
			_ = json.Unmarshal([]byte(record.Metadata), &event.Metadata)
		}
		events = append(events, event)
	}
	return events
}

var _ Store = (*GormStore)(nil)
