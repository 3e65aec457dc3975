// Package models contains the shared domain types for the compliance
// events pipeline: inbound events, risk assessments and the records
// exchanged between the scoring stages.
package models

import (
	"time"

	"github.com/google/uuid"
)

// RiskLevel represents different risk levels
type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "low"
	RiskLevelMedium RiskLevel = "medium"
	RiskLevelHigh   RiskLevel = "high"
)

// UserSegment classifies a user into one behavioral segment
type UserSegment string

const (
	SegmentPowerUser      UserSegment = "power_user"
	SegmentNormalUser     UserSegment = "normal_user"
	SegmentNewUser        UserSegment = "new_user"
	SegmentInactiveUser   UserSegment = "inactive_user"
	SegmentSuspiciousUser UserSegment = "suspicious_user"
	SegmentDormantUser    UserSegment = "dormant_user"
)

// Event is a single activity event received from the streaming service.
// Events are immutable once received.
type Event struct {
	EventID          string            `json:"event_id" binding:"required"`
	UserID           string            `json:"user_id"`
	DeviceID         string            `json:"device_id"`
	ContentID        string            `json:"content_id"`
	EventType        string            `json:"event_type" binding:"required"`
	Timestamp        time.Time         `json:"timestamp" binding:"required"`
	Region           string            `json:"region" binding:"omitempty,region_code"`
	IsEU             bool              `json:"is_eu"`
	HasConsent       bool              `json:"has_consent"`
	IPAddress        string            `json:"ip_address"`
	ErrorCode        string            `json:"error_code,omitempty"`
	SubscriptionPlan string            `json:"subscription_plan,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// StageFinding records what a single pipeline stage contributed to an
// assessment, including soft failures that yielded no contribution.
type StageFinding struct {
	Stage   string                 `json:"stage"`
	Score   float64                `json:"score"`
	Flags   []string               `json:"flags,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// RiskAssessment is the outcome of evaluating one event. It is created
// per event and never mutated after creation.
type RiskAssessment struct {
	ID          uuid.UUID               `json:"id"`
	EventID     string                  `json:"event_id"`
	UserID      string                  `json:"user_id"`
	Score       float64                 `json:"score"`
	RiskLevel   RiskLevel               `json:"risk_level"`
	Threshold   float64                 `json:"threshold"`
	Segment     UserSegment             `json:"segment"`
	Flags       []string                `json:"flags"`
	Findings    map[string]StageFinding `json:"findings"`
	EvaluatedAt time.Time               `json:"evaluated_at"`
}

// GeoLocation is the resolved location for an IP address
type GeoLocation struct {
	CountryCode  string  `json:"country_code"`
	CountryName  string  `json:"country_name"`
	Region       string  `json:"region"`
	City         string  `json:"city"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	ASN          string  `json:"asn,omitempty"`
	Organization string  `json:"organization,omitempty"`
	IsDatacenter bool    `json:"is_datacenter"`
}

// FraudRing is a set of users linked through one over-shared connection
// point (device, IP or payment instrument).
type FraudRing struct {
	RingType   string   `json:"ring_type"`
	Connection string   `json:"connection"`
	Users      []string `json:"users"`
	Size       int      `json:"size"`
	RiskScore  float64  `json:"risk_score"`
}

// NetworkRisk describes a user's position inside the fraud network
type NetworkRisk struct {
	UserID                   string   `json:"user_id"`
	RiskScore                float64  `json:"risk_score"`
	RiskFactors              []string `json:"risk_factors"`
	ConnectedSuspiciousUsers []string `json:"connected_suspicious_users"`
}

// UserProfile holds the rolling activity counters a user is segmented on
type UserProfile struct {
	UserID           string    `json:"user_id"`
	EventCount30d    int       `json:"event_count_30d"`
	EventCount7d     int       `json:"event_count_7d"`
	ViolationCount30 int       `json:"violation_count_30d"`
	DaysSinceSignup  int       `json:"days_since_signup"`
	LastActivityDays int       `json:"last_activity_days_ago"`
	AvgRiskScore     float64   `json:"avg_risk_score"`
	UpdatedAt        time.Time `json:"updated_at"`
}
