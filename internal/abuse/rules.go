package abuse

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Operator is a comparison used in rule conditions.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNeq      Operator = "neq"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpContains Operator = "contains"
)

// Condition is one field/operator/value triple. Field names the
// DetectionInput signal in snake_case, e.g. "concurrent_sessions".
type Condition struct {
	Field    string   `json:"field" validate:"required"`
	Operator Operator `json:"operator" validate:"required,oneof=eq neq gt gte lt lte contains"`
	Value    any      `json:"value" validate:"required"`
}

// Rule is a declarative detection rule. Conditions are ANDed; a rule
// matches when every condition holds for the input.
type Rule struct {
	ID           string      `json:"id"`
	Name         string      `json:"name" validate:"required"`
	Type         Type        `json:"type" validate:"required"`
	Conditions   []Condition `json:"conditions" validate:"min=1,dive"`
	Actions      []string    `json:"actions" validate:"min=1,dive,required"`
	Severity     Severity    `json:"severity" validate:"required,oneof=low medium high critical"`
	Confidence   Confidence  `json:"confidence" validate:"required,oneof=low medium high certain"`
	Enabled      bool        `json:"enabled"`
	TriggerCount int64       `json:"triggerCount"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

var (
	ErrRuleInvalid  = errors.New("abuse rule failed validation")
	ErrRuleNotFound = errors.New("abuse rule not found")
	ErrUnknownField = errors.New("unknown condition field")
)

var ruleValidator = validator.New()

// ValidateRule checks structural validity before a rule is persisted.
func ValidateRule(rule *Rule) error {
	if err := ruleValidator.Struct(rule); err != nil {
		return fmt.Errorf("%w: %v", ErrRuleInvalid, err)
	}
	for _, c := range rule.Conditions {
		if _, ok := fieldValue(DetectionInput{}, c.Field); !ok {
			return fmt.Errorf("%w: %q", ErrUnknownField, c.Field)
		}
	}
	return nil
}

// fieldValue resolves a condition field name against an input. Numeric
// fields come back as float64, the rest as string or bool.
func fieldValue(in DetectionInput, field string) (any, bool) {
	switch field {
	case "user_id":
		return in.UserID, true
	case "device_id":
		return in.DeviceID, true
	case "license_id":
		return in.LicenseID, true
	case "concurrent_sessions":
		return float64(in.ConcurrentSessions), true
	case "max_simultaneous_users":
		return float64(in.MaxSimultaneousUsers), true
	case "location_variance":
		return in.LocationVariance, true
	case "location_variance_threshold":
		return in.LocationVarianceThreshold, true
	case "device_count":
		return float64(in.DeviceCount), true
	case "max_devices_per_license":
		return float64(in.MaxDevicesPerLicense), true
	case "login_frequency_deviation":
		return in.LoginFrequencyDeviation, true
	case "session_duration_hours":
		return in.SessionDurationHours, true
	case "baseline_session_hours":
		return in.BaselineSessionHours, true
	case "api_call_rate":
		return in.APICallRate, true
	case "api_call_rate_threshold":
		return in.APICallRateThreshold, true
	case "vm_detected":
		return in.VMDetected, true
	case "device_trust_score":
		return in.DeviceTrustScore, true
	case "min_device_trust_score":
		return in.MinDeviceTrustScore, true
	case "recent_activations":
		return float64(in.RecentActivations), true
	case "max_activations_per_hour":
		return float64(in.MaxActivationsPerHour), true
	case "network_reputation":
		return in.NetworkReputation, true
	case "vpn_detected":
		return in.VPNDetected, true
	case "proxy_detected":
		return in.ProxyDetected, true
	case "bulk_endpoint_calls":
		return float64(in.BulkEndpointCalls), true
	case "activity_anomaly_score":
		return in.ActivityAnomalyScore, true
	case "session_pattern_score":
		return in.SessionPatternScore, true
	case "network_behavior_score":
		return in.NetworkBehaviorScore, true
	default:
		return nil, false
	}
}

// Matches reports whether every condition of the rule holds for the input.
func (r *Rule) Matches(in DetectionInput) bool {
	for _, c := range r.Conditions {
		actual, ok := fieldValue(in, c.Field)
		if !ok || !evalCondition(actual, c.Operator, c.Value) {
			return false
		}
	}
	return true
}

func evalCondition(actual any, op Operator, expected any) bool {
	switch a := actual.(type) {
	case float64:
		e, ok := toFloat(expected)
		if !ok {
			return false
		}
		switch op {
		case OpEq:
			return a == e
		case OpNeq:
			return a != e
		case OpGt:
			return a > e
		case OpGte:
			return a >= e
		case OpLt:
			return a < e
		case OpLte:
			return a <= e
		default:
			return false
		}
	case bool:
		e, ok := expected.(bool)
		if !ok {
			return false
		}
		switch op {
		case OpEq:
			return a == e
		case OpNeq:
			return a != e
		default:
			return false
		}
	case string:
		e, ok := expected.(string)
		if !ok {
			return false
		}
		switch op {
		case OpEq:
			return a == e
		case OpNeq:
			return a != e
		case OpContains:
			return strings.Contains(a, e)
		default:
			return false
		}
	default:
		return false
	}
}

// toFloat normalizes the numeric types JSON decoding and Go literals
// produce for condition values.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
