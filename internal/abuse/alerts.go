package abuse

import (
	"errors"
	"time"
)

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	AlertOpen     AlertStatus = "open"
	AlertResolved AlertStatus = "resolved"
)

var ErrAlertNotFound = errors.New("abuse alert not found")

// Alert is a persisted record of a detection that crossed the threshold.
// It is created Open and moves to Resolved exactly once.
type Alert struct {
	ID         string      `json:"id"`
	RuleID     string      `json:"ruleId,omitempty"`
	UserID     string      `json:"userId,omitempty"`
	DeviceID   string      `json:"deviceId,omitempty"`
	LicenseID  string      `json:"licenseId,omitempty"`
	Type       Type        `json:"type"`
	Severity   Severity    `json:"severity"`
	Confidence Confidence  `json:"confidence"`
	RiskScore  float64     `json:"riskScore"`
	Evidence   []Evidence  `json:"evidence"`
	Status     AlertStatus `json:"status"`
	CreatedAt  time.Time   `json:"createdAt"`
	ResolvedAt *time.Time  `json:"resolvedAt,omitempty"`
	Resolution string      `json:"resolution,omitempty"`
}

// Open reports whether the alert still needs attention.
func (a *Alert) Open() bool { return a.Status == AlertOpen }
