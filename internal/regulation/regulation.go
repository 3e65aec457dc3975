// Package regulation maps regions to privacy regulations and evaluates
// compliance actions against each regulation's requirement record.
package regulation

// Regulation identifies a supported privacy regulation.
type Regulation string

const (
	GDPR   Regulation = "GDPR"   // EU
	CCPA   Regulation = "CCPA"   // California
	PIPL   Regulation = "PIPL"   // China
	PDPA   Regulation = "PDPA"   // Thailand
	LGPD   Regulation = "LGPD"   // Brazil
	POPIA  Regulation = "POPIA"  // South Africa
	APRA   Regulation = "APRA"   // Australia
	PIPEDA Regulation = "PIPEDA" // Canada
	KVKK   Regulation = "KVKK"   // Turkey
	PDPL   Regulation = "PDPL"   // Singapore
)

// Requirements is the static obligation record a regulation imposes.
type Requirements struct {
	ConsentRequired        bool `json:"consent_required" yaml:"consent_required"`
	DataMinimization       bool `json:"data_minimization" yaml:"data_minimization"`
	RightToDeletion        bool `json:"right_to_deletion" yaml:"right_to_deletion"`
	RightToAccess          bool `json:"right_to_access" yaml:"right_to_access"`
	DataPortability        bool `json:"data_portability" yaml:"data_portability"`
	BreachNotificationDays int  `json:"breach_notification_days" yaml:"breach_notification_days"`
	DPIARequired           bool `json:"dpia_required" yaml:"dpia_required"`
	DPORequired            bool `json:"dpo_required" yaml:"dpo_required"`
	MaxRetentionYears      int  `json:"max_retention_years" yaml:"max_retention_years"`
}

// Action is a compliance action type checked against a regulation.
type Action string

const (
	ActionDataAccess      Action = "data_access"
	ActionDataDeletion    Action = "data_deletion"
	ActionConsent         Action = "consent"
	ActionBreachNotice    Action = "breach_notification"
	ActionDataRetention   Action = "data_retention"
	ActionDPIA            Action = "dpia"
	ActionDataPortability Action = "data_portability"
)

// ActionDetails carries the inputs for exactly one action type.
type ActionDetails interface {
	Action() Action
}

// AccessDetails describes a subject access request.
type AccessDetails struct {
	ResponseTimeDays int `json:"response_time_days"`
}

func (AccessDetails) Action() Action { return ActionDataAccess }

// DeletionDetails describes a deletion request.
type DeletionDetails struct {
	CompletionTimeDays int `json:"completion_time_days"`
}

func (DeletionDetails) Action() Action { return ActionDataDeletion }

// ConsentDetails describes a consent state change or check.
type ConsentDetails struct {
	HasExplicitConsent bool `json:"has_explicit_consent"`
}

func (ConsentDetails) Action() Action { return ActionConsent }

// BreachDetails describes a breach notification.
type BreachDetails struct {
	NotificationTimeDays int `json:"notification_time_days"`
}

func (BreachDetails) Action() Action { return ActionBreachNotice }

// RetentionDetails describes how long personal data was retained.
type RetentionDetails struct {
	RetentionYears int `json:"retention_years"`
}

func (RetentionDetails) Action() Action { return ActionDataRetention }

// DPIADetails describes whether an impact assessment was completed.
type DPIADetails struct {
	Completed bool `json:"completed"`
}

func (DPIADetails) Action() Action { return ActionDPIA }

// PortabilityDetails describes a data export request.
type PortabilityDetails struct{}

func (PortabilityDetails) Action() Action { return ActionDataPortability }

// ViolationResult is the outcome of one action/regulation check.
type ViolationResult struct {
	Violated   bool       `json:"violated"`
	Reason     string     `json:"reason,omitempty"`
	Regulation Regulation `json:"regulation"`
	Action     Action     `json:"action"`
}

// ComplianceRecord summarizes an event's standing across every
// regulation applicable to its region.
type ComplianceRecord struct {
	Compliant             bool              `json:"compliant"`
	Violations            []ViolationResult `json:"violations"`
	ApplicableRegulations []Regulation      `json:"applicable_regulations"`
	RiskScore             float64           `json:"compliance_risk_score"`
}

func defaultRegionRegulations() map[string][]Regulation {
	return map[string][]Regulation{
		"EU":         {GDPR},
		"US":         {CCPA},
		"CA":         {CCPA},
		"CN":         {PIPL},
		"TH":         {PDPA},
		"BR":         {LGPD},
		"ZA":         {POPIA},
		"AU":         {APRA},
		"CA_FEDERAL": {PIPEDA},
		"TR":         {KVKK},
		"SG":         {PDPL},
	}
}

func defaultRequirements() map[Regulation]Requirements {
	return map[Regulation]Requirements{
		GDPR: {
			ConsentRequired:        true,
			DataMinimization:       true,
			RightToDeletion:        true,
			RightToAccess:          true,
			DataPortability:        true,
			BreachNotificationDays: 72,
			DPIARequired:           true,
			DPORequired:            true,
			MaxRetentionYears:      7,
		},
		CCPA: {
			ConsentRequired:        true,
			DataMinimization:       true,
			RightToDeletion:        true,
			RightToAccess:          true,
			DataPortability:        true,
			BreachNotificationDays: 30,
			MaxRetentionYears:      1,
		},
		PIPL: {
			ConsentRequired:        true,
			DataMinimization:       true,
			RightToDeletion:        true,
			RightToAccess:          true,
			BreachNotificationDays: 30,
			DPIARequired:           true,
			DPORequired:            true,
			MaxRetentionYears:      3,
		},
		PDPA: {
			ConsentRequired:        true,
			DataMinimization:       true,
			RightToDeletion:        true,
			RightToAccess:          true,
			BreachNotificationDays: 30,
			MaxRetentionYears:      5,
		},
		LGPD: {
			ConsentRequired:        true,
			DataMinimization:       true,
			RightToDeletion:        true,
			RightToAccess:          true,
			DataPortability:        true,
			BreachNotificationDays: 30,
			DPIARequired:           true,
			DPORequired:            true,
			MaxRetentionYears:      5,
		},
		POPIA: {
			ConsentRequired:        true,
			DataMinimization:       true,
			RightToDeletion:        true,
			RightToAccess:          true,
			BreachNotificationDays: 30,
			DPORequired:            true,
			MaxRetentionYears:      5,
		},
		APRA: {
			ConsentRequired:        true,
			DataMinimization:       true,
			RightToDeletion:        true,
			RightToAccess:          true,
			BreachNotificationDays: 30,
			MaxRetentionYears:      7,
		},
		PIPEDA: {
			ConsentRequired:        true,
			DataMinimization:       true,
			RightToDeletion:        true,
			RightToAccess:          true,
			BreachNotificationDays: 30,
			MaxRetentionYears:      7,
		},
		KVKK: {
			ConsentRequired:        true,
			DataMinimization:       true,
			RightToDeletion:        true,
			RightToAccess:          true,
			DataPortability:        true,
			BreachNotificationDays: 30,
			DPORequired:            true,
			MaxRetentionYears:      5,
		},
		PDPL: {
			ConsentRequired:        true,
			DataMinimization:       true,
			RightToDeletion:        true,
			RightToAccess:          true,
			DataPortability:        true,
			BreachNotificationDays: 30,
			DPORequired:            true,
			MaxRetentionYears:      5,
		},
	}
}

// eventActions maps inbound event types to the compliance action they
// represent. Event types with no mapping carry no compliance
// obligation and are always compliant.
var eventActions = map[string]Action{
	"user_data_access":    ActionDataAccess,
	"user_data_deletion":  ActionDataDeletion,
	"user_consent_change": ActionConsent,
	"breach_detected":     ActionBreachNotice,
	"data_export":         ActionDataPortability,
	"bulk_export":         ActionConsent,
}
