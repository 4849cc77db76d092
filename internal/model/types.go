package model

import "time"

type Result string

const (
	ResultGranted Result = "granted"
	ResultDenied  Result = "denied"
)

// ScanEvent is one badge presentation at a reader, as delivered by intake.
type ScanEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	SubjectID  string    `json:"subject_id"`
	LocationID string    `json:"location_id"`
	Result     Result    `json:"result,omitempty"`
	Source     string    `json:"source,omitempty"`
	Raw        string    `json:"raw,omitempty"`
}

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskRank = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// MaxRiskLevel returns the more severe of two levels.
func MaxRiskLevel(a, b RiskLevel) RiskLevel {
	if riskRank[b] > riskRank[a] {
		return b
	}
	return a
}

type SensitivityTier string

const (
	TierPublic     SensitivityTier = "public"
	TierRestricted SensitivityTier = "restricted"
	TierStaffOnly  SensitivityTier = "staff_only"
	TierAdminOnly  SensitivityTier = "admin_only"
)

// FeatureVector is the fixed-shape summary of one access event. Built fresh
// per event and never mutated afterwards.
type FeatureVector struct {
	Hour             int             `json:"hour"`
	DayOfWeek        int             `json:"day_of_week"`
	IsWeekend        bool            `json:"is_weekend"`
	LocationsPerHour int             `json:"locations_per_hour"`
	MinutesSinceLast int             `json:"minutes_since_last"`
	BaseRiskScore    int             `json:"base_risk_score"`
	Tier             SensitivityTier `json:"tier"`
}

type RiskFactor string

const (
	FactorOffHoursAccess       RiskFactor = "off_hours_access"
	FactorHighSecurityLocation RiskFactor = "high_security_location"
)

type PolicyRiskAssessment struct {
	RiskScore              int          `json:"risk_score"`
	RiskLevel              RiskLevel    `json:"risk_level"`
	RiskFactors            []RiskFactor `json:"risk_factors"`
	RequiresAdditionalAuth bool         `json:"requires_additional_auth"`
}

// Reason is a catalog entry for anomaly explanations. Explanations are always
// composed from this catalog, never free-form.
type Reason string

const (
	ReasonRapidLocations   Reason = "multiple locations accessed rapidly"
	ReasonOffHours         Reason = "access during off-hours"
	ReasonRapidSuccession  Reason = "very rapid access attempts"
	ReasonWeekendAccess    Reason = "weekend access to restricted area"
	ReasonHighLocationRate Reason = "high location access rate"
	ReasonUnusualPattern   Reason = "unusual access pattern detected"
	ReasonNormalPattern    Reason = "access pattern appears normal"
	ReasonFallbackMode     Reason = "rule-based fallback mode active"
)

type AnomalyVerdict struct {
	IsAnomaly    bool      `json:"is_anomaly"`
	AnomalyScore float64   `json:"anomaly_score"`
	Confidence   float64   `json:"confidence"`
	RiskLevel    RiskLevel `json:"risk_level"`
	Explanation  []Reason  `json:"explanation"`
}

type IncidentFactor string

const (
	FactorRecentFailedAttempts IncidentFactor = "recent_failed_attempts"
	FactorUnusualPatterns      IncidentFactor = "unusual_patterns"
	FactorOffHoursActivity     IncidentFactor = "off_hours_activity"
	FactorRapidLocationAccess  IncidentFactor = "rapid_location_access"
	FactorLateNightHours       IncidentFactor = "late_night_hours"
	FactorWeekendRestricted    IncidentFactor = "weekend_restricted_access"
)

type Recommendation string

const (
	RecommendImmediateAction    Recommendation = "immediate action: deploy security personnel, monitor closely"
	RecommendHighAlert          Recommendation = "high alert: increase monitoring, prepare response team"
	RecommendEnhancedMonitoring Recommendation = "enhanced monitoring: watch for escalation, review recent activity"
	RecommendNormalOperations   Recommendation = "normal operations: continue routine monitoring"
)

type IncidentForecast struct {
	Probability    float64          `json:"probability"`
	RiskLevel      RiskLevel        `json:"risk_level"`
	Confidence     float64          `json:"confidence"`
	Recommendation Recommendation   `json:"recommendation"`
	Factors        []IncidentFactor `json:"factors"`
}

// IncidentContext holds the current conditions an incident forecast is made
// from. Zero values are valid and fall back to documented defaults.
type IncidentContext struct {
	Hour                 int             `json:"hour"`
	DayOfWeek            int             `json:"day_of_week"`
	IsWeekend            bool            `json:"is_weekend"`
	RecentFailedAttempts int             `json:"recent_failed_attempts"`
	UnusualPatterns      int             `json:"unusual_patterns"`
	OffHoursActivity     int             `json:"off_hours_activity"`
	LocationsAccessed    int             `json:"locations_accessed"`
	Tier                 SensitivityTier `json:"tier"`
}

// RiskVerdict is the consolidated output of the engine for one access event.
// The anomaly path can escalate the policy assessment but never de-escalate
// it: RiskScore >= the policy score and RiskLevel is never less severe than
// the policy level.
type RiskVerdict struct {
	Timestamp              time.Time    `json:"timestamp"`
	SubjectID              string       `json:"subject_id"`
	LocationID             string       `json:"location_id"`
	RiskScore              int          `json:"risk_score"`
	RiskLevel              RiskLevel    `json:"risk_level"`
	RiskFactors            []RiskFactor `json:"risk_factors"`
	RequiresAdditionalAuth bool         `json:"requires_additional_auth"`
	AnomalyDetected        bool         `json:"anomaly_detected"`
	AnomalyScore           float64      `json:"anomaly_score"`
	AnomalyConfidence      float64      `json:"anomaly_confidence"`
	Explanation            []Reason     `json:"explanation"`
	FallbackMode           bool         `json:"fallback_mode"`
}

// LabeledAccessEvent is one historical feature vector tagged with the anomaly
// label, used only at training time.
type LabeledAccessEvent struct {
	Features  FeatureVector `json:"features"`
	IsAnomaly bool          `json:"is_anomaly"`
}

// LabeledIncident is one historical incident context tagged with whether an
// incident actually occurred, used only at training time.
type LabeledIncident struct {
	Context  IncidentContext `json:"context"`
	Occurred bool            `json:"occurred"`
}
