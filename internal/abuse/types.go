// Package abuse implements the anti-abuse risk engine: six independent
// detectors over caller-supplied telemetry, a declarative rule registry,
// an alert lifecycle with sqlite persistence, and response triggers.
package abuse

import "time"

// Type identifies which detector produced a result or which category a
// rule or alert belongs to.
type Type string

const (
	TypeLicenseSharing    Type = "license_sharing"
	TypeUsageAnomaly      Type = "usage_anomaly"
	TypeDeviceFraud       Type = "device_fraud"
	TypeSubscriptionFraud Type = "subscription_fraud"
	TypeAccountAbuse      Type = "account_abuse"
	TypeBehaviorAnalysis  Type = "behavior_analysis"
)

// Severity buckets a risk score.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityRank orders severities Low < Medium < High < Critical.
// Unknown values rank below Low.
func SeverityRank(s Severity) int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// SeverityForScore maps a risk score to a severity bucket.
func SeverityForScore(riskScore float64) Severity {
	switch {
	case riskScore >= 80:
		return SeverityCritical
	case riskScore >= 60:
		return SeverityHigh
	case riskScore >= 40:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Confidence classifies how trustworthy a detection is.
type Confidence string

const (
	ConfidenceLow     Confidence = "low"
	ConfidenceMedium  Confidence = "medium"
	ConfidenceHigh    Confidence = "high"
	ConfidenceCertain Confidence = "certain"
)

// ConfidenceRank orders confidences Low < Medium < High < Certain.
func ConfidenceRank(c Confidence) int {
	switch c {
	case ConfidenceLow:
		return 1
	case ConfidenceMedium:
		return 2
	case ConfidenceHigh:
		return 3
	case ConfidenceCertain:
		return 4
	default:
		return 0
	}
}

// confidenceFor maps the mean evidence confidence and a detector's risk
// score to a confidence bucket.
func confidenceFor(meanEvidence, riskScore float64) Confidence {
	switch {
	case meanEvidence >= 0.8 && riskScore >= 60:
		return ConfidenceCertain
	case meanEvidence >= 0.7 && riskScore >= 40:
		return ConfidenceHigh
	case meanEvidence >= 0.5 && riskScore >= 20:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Evidence is one observed signal that contributed to a detection.
type Evidence struct {
	Signal      string  `json:"signal"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// RuleMatch records that a registered rule's conditions all held for a
// detection input.
type RuleMatch struct {
	RuleID     string     `json:"ruleId"`
	RuleName   string     `json:"ruleName"`
	RuleType   Type       `json:"ruleType"`
	Severity   Severity   `json:"severity"`
	Confidence Confidence `json:"confidence"`
}

// DetectionInput carries every signal the detectors consume. All fields
// are supplied by the caller; detectors never fetch data themselves.
type DetectionInput struct {
	UserID    string `json:"userId"`
	DeviceID  string `json:"deviceId"`
	LicenseID string `json:"licenseId"`

	ConcurrentSessions        int     `json:"concurrentSessions"`
	MaxSimultaneousUsers      int     `json:"maxSimultaneousUsers"`
	LocationVariance          float64 `json:"locationVariance"`
	LocationVarianceThreshold float64 `json:"locationVarianceThreshold"`
	DeviceCount               int     `json:"deviceCount"`
	MaxDevicesPerLicense      int     `json:"maxDevicesPerLicense"`

	LoginFrequencyDeviation float64 `json:"loginFrequencyDeviation"`
	SessionDurationHours    float64 `json:"sessionDurationHours"`
	BaselineSessionHours    float64 `json:"baselineSessionHours"`
	APICallRate             float64 `json:"apiCallRate"`
	APICallRateThreshold    float64 `json:"apiCallRateThreshold"`

	VMDetected            bool    `json:"vmDetected"`
	DeviceTrustScore      float64 `json:"deviceTrustScore"`
	MinDeviceTrustScore   float64 `json:"minDeviceTrustScore"`
	RecentActivations     int     `json:"recentActivations"`
	MaxActivationsPerHour int     `json:"maxActivationsPerHour"`

	NetworkReputation string `json:"networkReputation"`
	VPNDetected       bool   `json:"vpnDetected"`
	ProxyDetected     bool   `json:"proxyDetected"`

	BulkEndpointCalls    int     `json:"bulkEndpointCalls"`
	ActivityAnomalyScore float64 `json:"activityAnomalyScore"`
	SessionPatternScore  float64 `json:"sessionPatternScore"`
	NetworkBehaviorScore float64 `json:"networkBehaviorScore"`
}

// DetectorResult is the output of a single detector.
type DetectorResult struct {
	Type       Type       `json:"type"`
	Detected   bool       `json:"detected"`
	RiskScore  float64    `json:"riskScore"`
	Severity   Severity   `json:"severity"`
	Confidence Confidence `json:"confidence"`
	Evidence   []Evidence `json:"evidence"`
}

// DetectionResult aggregates all detector outputs for one call.
type DetectionResult struct {
	Detected           bool             `json:"detected"`
	RiskScore          float64          `json:"riskScore"`
	Severity           Severity         `json:"severity"`
	Confidence         Confidence       `json:"confidence"`
	Detectors          []DetectorResult `json:"detectors"`
	Evidence           []Evidence       `json:"evidence"`
	RuleMatches        []RuleMatch      `json:"ruleMatches"`
	RecommendedActions []string         `json:"recommendedActions"`
	AlertID            string           `json:"alertId,omitempty"`
	DetectedAt         time.Time        `json:"detectedAt"`
}

// Recommended action identifiers.
const (
	ActionSuspendAccountUrgent = "suspend_account_urgent"
	ActionLimitFeatures        = "limit_features"
	ActionRequireVerification  = "require_additional_verification"
	ActionLogOnly              = "log_only"
	ActionNotifyAlert          = "notify_alert"
)

// recommendedActions derives the action list from the aggregate severity.
func recommendedActions(severity Severity, detected bool) []string {
	var actions []string
	switch severity {
	case SeverityCritical:
		actions = append(actions, ActionSuspendAccountUrgent)
	case SeverityHigh:
		actions = append(actions, ActionLimitFeatures)
	case SeverityMedium:
		actions = append(actions, ActionRequireVerification)
	default:
		actions = append(actions, ActionLogOnly)
	}
	if detected {
		actions = append(actions, ActionNotifyAlert)
	}
	return actions
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
