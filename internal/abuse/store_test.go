package abuse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleCRUD(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	rule := validRule()
	require.NoError(t, store.CreateRule(ctx, rule))
	require.NotEmpty(t, rule.ID)

	got, err := store.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, rule.Name, got.Name)
	assert.Equal(t, rule.Conditions, got.Conditions)
	assert.Equal(t, rule.Actions, got.Actions)
	assert.True(t, got.Enabled)

	got.Name = "renamed"
	got.Enabled = false
	require.NoError(t, store.UpdateRule(ctx, got))

	reloaded, err := store.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", reloaded.Name)
	assert.False(t, reloaded.Enabled)

	enabled, err := store.EnabledRules(ctx)
	require.NoError(t, err)
	assert.Empty(t, enabled)

	require.NoError(t, store.DeleteRule(ctx, rule.ID))
	_, err = store.GetRule(ctx, rule.ID)
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestCreateRuleRejectsInvalid(t *testing.T) {
	store := testStore(t)

	rule := validRule()
	rule.Conditions = nil
	assert.ErrorIs(t, store.CreateRule(context.Background(), rule), ErrRuleInvalid)

	rules, err := store.ListRules(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestUpdateMissingRule(t *testing.T) {
	store := testStore(t)
	rule := validRule()
	rule.ID = "missing"
	assert.ErrorIs(t, store.UpdateRule(context.Background(), rule), ErrRuleNotFound)
	assert.ErrorIs(t, store.DeleteRule(context.Background(), "missing"), ErrRuleNotFound)
}

func TestAlertLifecycle(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	alert := &Alert{
		UserID:     "user-1",
		DeviceID:   "device-1",
		Type:       TypeDeviceFraud,
		Severity:   SeverityHigh,
		Confidence: ConfidenceHigh,
		RiskScore:  65,
		Evidence:   []Evidence{{Signal: "virtual_machine", Description: "vm detected", Confidence: 0.85}},
	}
	require.NoError(t, store.CreateAlert(ctx, alert))
	assert.Equal(t, AlertOpen, alert.Status)

	open, err := store.ListAlerts(ctx, AlertOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.True(t, open[0].Open())
	assert.Equal(t, alert.Evidence, open[0].Evidence)

	resolved, err := store.ResolveAlert(ctx, alert.ID, "false positive")
	require.NoError(t, err)
	assert.Equal(t, AlertResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, "false positive", resolved.Resolution)

	open, err = store.ListAlerts(ctx, AlertOpen)
	require.NoError(t, err)
	assert.Empty(t, open)

	_, err = store.ResolveAlert(ctx, "missing", "whatever")
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestComputeAnalytics(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	clock := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return clock })

	seed := []struct {
		daysAgo  int
		atype    Type
		severity Severity
		resolve  bool
	}{
		{1, TypeLicenseSharing, SeverityHigh, false},
		{1, TypeLicenseSharing, SeverityMedium, true},
		{2, TypeDeviceFraud, SeverityCritical, false},
		{3, TypeLicenseSharing, SeverityLow, false},
		{45, TypeAccountAbuse, SeverityLow, false}, // outside the window
	}
	for _, s := range seed {
		created := clock.Add(-time.Duration(s.daysAgo) * 24 * time.Hour)
		store.SetClock(func() time.Time { return created })
		alert := &Alert{Type: s.atype, Severity: s.severity, Confidence: ConfidenceMedium, RiskScore: 50}
		require.NoError(t, store.CreateAlert(ctx, alert))
		if s.resolve {
			_, err := store.ResolveAlert(ctx, alert.ID, "handled")
			require.NoError(t, err)
		}
	}
	store.SetClock(func() time.Time { return clock })

	analytics, err := store.ComputeAnalytics(ctx, 30)
	require.NoError(t, err)

	assert.EqualValues(t, 4, analytics.TotalAlerts)
	assert.EqualValues(t, 3, analytics.OpenAlerts)
	assert.EqualValues(t, 1, analytics.ResolvedAlerts)
	assert.InDelta(t, 4.0/30.0, analytics.AlertsPerDay, 0.001)

	assert.EqualValues(t, 1, analytics.BySeverity[SeverityCritical])
	assert.EqualValues(t, 1, analytics.BySeverity[SeverityHigh])
	assert.EqualValues(t, 1, analytics.BySeverity[SeverityMedium])
	assert.EqualValues(t, 1, analytics.BySeverity[SeverityLow])

	require.NotEmpty(t, analytics.TopTypes)
	assert.Equal(t, TypeLicenseSharing, analytics.TopTypes[0].Type)
	assert.EqualValues(t, 3, analytics.TopTypes[0].Count)

	assert.Len(t, analytics.DailyTrend, 3)
}
