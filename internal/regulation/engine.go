package regulation

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Engine evaluates actions and events against the regulation tables.
// Tables are read-mostly; LoadOverrides may replace entries at startup.
type Engine struct {
	mu           sync.RWMutex
	logger       *zap.Logger
	regions      map[string][]Regulation
	requirements map[Regulation]Requirements
}

// NewEngine creates an engine with the built-in regulation tables
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{
		logger:       logger.Named("regulation"),
		regions:      defaultRegionRegulations(),
		requirements: defaultRequirements(),
	}
}

// overrideFile is the YAML shape accepted by LoadOverrides.
type overrideFile struct {
	Regions      map[string][]Regulation     `yaml:"regions"`
	Requirements map[Regulation]Requirements `yaml:"requirements"`
}

// LoadOverrides merges region and requirement overrides from a YAML
// file into the built-in tables. Entries not present in the file keep
// their defaults.
func (e *Engine) LoadOverrides(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read overrides: %w", err)
	}
	var file overrideFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse overrides: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for region, regs := range file.Regions {
		e.regions[region] = regs
	}
	for reg, req := range file.Requirements {
		e.requirements[reg] = req
	}
	e.logger.Info("regulation overrides loaded",
		zap.String("path", path),
		zap.Int("regions", len(file.Regions)),
		zap.Int("requirements", len(file.Requirements)),
	)
	return nil
}

// RegulationsFor returns the regulations applicable to a region.
// Unknown regions return an empty list.
func (e *Engine) RegulationsFor(region string) []Regulation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	regs := e.regions[region]
	out := make([]Regulation, len(regs))
	copy(out, regs)
	return out
}

// Requirements returns the obligation record for a regulation
func (e *Engine) Requirements(reg Regulation) (Requirements, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	req, ok := e.requirements[reg]
	return req, ok
}

// CheckViolation evaluates one action against one regulation. Actions
// a regulation does not regulate never violate.
func (e *Engine) CheckViolation(reg Regulation, details ActionDetails) ViolationResult {
	result := ViolationResult{Regulation: reg, Action: details.Action()}
	req, ok := e.Requirements(reg)
	if !ok {
		return result
	}

	switch d := details.(type) {
	case AccessDetails:
		if req.RightToAccess && d.ResponseTimeDays > 30 {
			result.Violated = true
			result.Reason = "access request not responded within 30 days"
		}
	case DeletionDetails:
		if req.RightToDeletion && d.CompletionTimeDays > 30 {
			result.Violated = true
			result.Reason = "deletion request not completed within 30 days"
		}
	case ConsentDetails:
		if req.ConsentRequired && !d.HasExplicitConsent {
			result.Violated = true
			result.Reason = "explicit consent required but not obtained"
		}
	case BreachDetails:
		if d.NotificationTimeDays > req.BreachNotificationDays {
			result.Violated = true
			result.Reason = fmt.Sprintf("breach notification exceeded %d day limit", req.BreachNotificationDays)
		}
	case RetentionDetails:
		if d.RetentionYears > req.MaxRetentionYears {
			result.Violated = true
			result.Reason = fmt.Sprintf("data retention exceeds %d year limit", req.MaxRetentionYears)
		}
	case DPIADetails:
		if req.DPIARequired && !d.Completed {
			result.Violated = true
			result.Reason = "data protection impact assessment required but not completed"
		}
	}
	return result
}

// EvaluateEventCompliance maps an event type to its compliance action
// and checks it against every regulation applicable to the region.
// Compliance risk accrues 0.5 per violation, capped at 1.0.
func (e *Engine) EvaluateEventCompliance(userID, eventType, region string, details ActionDetails) ComplianceRecord {
	record := ComplianceRecord{
		Compliant:             true,
		ApplicableRegulations: e.RegulationsFor(region),
	}

	action, ok := eventActions[eventType]
	if !ok {
		return record
	}
	if details == nil || details.Action() != action {
		details = defaultDetailsFor(action)
	}

	for _, reg := range record.ApplicableRegulations {
		result := e.CheckViolation(reg, details)
		if result.Violated {
			record.Violations = append(record.Violations, result)
			record.RiskScore += 0.5
		}
	}
	if record.RiskScore > 1.0 {
		record.RiskScore = 1.0
	}
	record.Compliant = len(record.Violations) == 0

	if !record.Compliant {
		e.logger.Warn("compliance violations detected",
			zap.String("user_id", userID),
			zap.String("event_type", eventType),
			zap.String("region", region),
			zap.Int("violations", len(record.Violations)),
		)
	}
	return record
}

// StrictestRequirements merges requirement records across regulations
// for users under multiple jurisdictions. Booleans merge with OR,
// numeric limits with min.
func (e *Engine) StrictestRequirements(regs []Regulation) (Requirements, bool) {
	var merged Requirements
	found := false
	for _, reg := range regs {
		req, ok := e.Requirements(reg)
		if !ok {
			continue
		}
		if !found {
			merged = req
			found = true
			continue
		}
		merged.ConsentRequired = merged.ConsentRequired || req.ConsentRequired
		merged.DataMinimization = merged.DataMinimization || req.DataMinimization
		merged.RightToDeletion = merged.RightToDeletion || req.RightToDeletion
		merged.RightToAccess = merged.RightToAccess || req.RightToAccess
		merged.DataPortability = merged.DataPortability || req.DataPortability
		merged.DPIARequired = merged.DPIARequired || req.DPIARequired
		merged.DPORequired = merged.DPORequired || req.DPORequired
		if req.BreachNotificationDays < merged.BreachNotificationDays {
			merged.BreachNotificationDays = req.BreachNotificationDays
		}
		if req.MaxRetentionYears < merged.MaxRetentionYears {
			merged.MaxRetentionYears = req.MaxRetentionYears
		}
	}
	return merged, found
}

// SupportedRegions lists the configured regions in sorted order
func (e *Engine) SupportedRegions() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	regions := make([]string, 0, len(e.regions))
	for region := range e.regions {
		regions = append(regions, region)
	}
	sort.Strings(regions)
	return regions
}

func defaultDetailsFor(action Action) ActionDetails {
	switch action {
	case ActionDataAccess:
		return AccessDetails{}
	case ActionDataDeletion:
		return DeletionDetails{}
	case ActionConsent:
		return ConsentDetails{}
	case ActionBreachNotice:
		return BreachDetails{}
	case ActionDataRetention:
		return RetentionDetails{}
	case ActionDPIA:
		return DPIADetails{}
	default:
		return PortabilityDetails{}
	}
}
