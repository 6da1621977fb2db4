package abuse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validRule() *Rule {
	return &Rule{
		Name:       "burst of activations",
		Type:       TypeDeviceFraud,
		Conditions: []Condition{{Field: "recent_activations", Operator: OpGt, Value: 10}},
		Actions:    []string{ActionRequireVerification},
		Severity:   SeverityMedium,
		Confidence: ConfidenceMedium,
		Enabled:    true,
	}
}

func TestValidateRule(t *testing.T) {
	assert.NoError(t, ValidateRule(validRule()))

	tests := []struct {
		name   string
		mutate func(r *Rule)
	}{
		{"empty name", func(r *Rule) { r.Name = "" }},
		{"no conditions", func(r *Rule) { r.Conditions = nil }},
		{"no actions", func(r *Rule) { r.Actions = nil }},
		{"empty action string", func(r *Rule) { r.Actions = []string{""} }},
		{"bad operator", func(r *Rule) { r.Conditions[0].Operator = "like" }},
		{"bad severity", func(r *Rule) { r.Severity = "extreme" }},
		{"bad confidence", func(r *Rule) { r.Confidence = "sure" }},
		{"condition without field", func(r *Rule) { r.Conditions[0].Field = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := validRule()
			tt.mutate(rule)
			assert.ErrorIs(t, ValidateRule(rule), ErrRuleInvalid)
		})
	}
}

func TestValidateRuleRejectsUnknownField(t *testing.T) {
	rule := validRule()
	rule.Conditions[0].Field = "no_such_signal"
	assert.ErrorIs(t, ValidateRule(rule), ErrUnknownField)
}

func TestConditionOperators(t *testing.T) {
	input := DetectionInput{
		ConcurrentSessions: 5,
		NetworkReputation:  "critical-asn",
		VMDetected:         true,
	}

	tests := []struct {
		name      string
		condition Condition
		matches   bool
	}{
		{"gt true", Condition{"concurrent_sessions", OpGt, 3}, true},
		{"gt false", Condition{"concurrent_sessions", OpGt, 5}, false},
		{"gte boundary", Condition{"concurrent_sessions", OpGte, 5}, true},
		{"lt false", Condition{"concurrent_sessions", OpLt, 5}, false},
		{"lte boundary", Condition{"concurrent_sessions", OpLte, 5}, true},
		{"eq number", Condition{"concurrent_sessions", OpEq, 5}, true},
		{"neq number", Condition{"concurrent_sessions", OpNeq, 4}, true},
		{"float value", Condition{"concurrent_sessions", OpGt, 4.5}, true},
		{"eq string", Condition{"network_reputation", OpEq, "critical-asn"}, true},
		{"contains string", Condition{"network_reputation", OpContains, "critical"}, true},
		{"contains miss", Condition{"network_reputation", OpContains, "benign"}, false},
		{"eq bool", Condition{"vm_detected", OpEq, true}, true},
		{"neq bool", Condition{"vm_detected", OpNeq, true}, false},
		{"gt on string is false", Condition{"network_reputation", OpGt, "a"}, false},
		{"contains on number is false", Condition{"concurrent_sessions", OpContains, "5"}, false},
		{"type mismatch is false", Condition{"concurrent_sessions", OpEq, "five"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := Rule{Conditions: []Condition{tt.condition}}
			assert.Equal(t, tt.matches, rule.Matches(input))
		})
	}
}

func TestRuleConditionsAreConjunctive(t *testing.T) {
	rule := Rule{Conditions: []Condition{
		{Field: "concurrent_sessions", Operator: OpGt, Value: 3},
		{Field: "vm_detected", Operator: OpEq, Value: true},
	}}

	assert.True(t, rule.Matches(DetectionInput{ConcurrentSessions: 5, VMDetected: true}))
	assert.False(t, rule.Matches(DetectionInput{ConcurrentSessions: 5}))
	assert.False(t, rule.Matches(DetectionInput{VMDetected: true}))
}

func TestRuleUnknownFieldNeverMatches(t *testing.T) {
	rule := Rule{Conditions: []Condition{{Field: "bogus", Operator: OpEq, Value: 1}}}
	assert.False(t, rule.Matches(DetectionInput{}))
}
