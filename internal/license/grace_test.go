package license

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// driveIntoGrace stores a valid license, takes the machine offline past
// the revalidation interval, and burns through the allowed validation attempts.
func driveIntoGrace(t *testing.T, h *storeHarness) {
	t.Helper()

	token := h.issue(t, "analyst@example.com", TierProfessional, 90*24*time.Hour)
	_, err := h.store.Store(context.Background(), token, "analyst@example.com")
	require.NoError(t, err)

	h.online.online = false
	h.clock.advance(25 * time.Hour)

	for i := 0; i < DefaultMaxAttempts-1; i++ {
		status := h.store.Status(context.Background(), false)
		assert.Equal(t, StateValidOfflineFresh, status.State, "attempt %d should still be offline-fresh", i+1)
	}
}

func (h *storeHarness) rawRecord(t *testing.T) *storedRecord {
	t.Helper()
	data, err := h.files.Get("license.json")
	require.NoError(t, err)
	var record storedRecord
	require.NoError(t, json.Unmarshal(data, &record))
	return &record
}

func TestGracePeriodEngagesAfterAttemptsExhausted(t *testing.T) {
	h := newStoreHarness(t)
	driveIntoGrace(t, h)

	status := h.store.Status(context.Background(), false)
	assert.True(t, status.Valid)
	assert.Equal(t, StateValidOfflineGrace, status.State)
	assert.Equal(t, 7, status.GraceRemainingDays)
}

func TestGraceStartSetExactlyOnce(t *testing.T) {
	h := newStoreHarness(t)
	driveIntoGrace(t, h)

	h.store.Status(context.Background(), false)
	first := h.rawRecord(t).OfflineGracePeriodStart
	require.NotNil(t, first)

	// Further offline failures must not move the grace start.
	h.clock.advance(24 * time.Hour)
	h.store.Status(context.Background(), false)
	h.clock.advance(24 * time.Hour)
	h.store.Status(context.Background(), false)

	second := h.rawRecord(t).OfflineGracePeriodStart
	require.NotNil(t, second)
	assert.True(t, first.Equal(*second), "grace start moved from %v to %v", first, second)
}

func TestGraceRemainingCountsDown(t *testing.T) {
	h := newStoreHarness(t)
	driveIntoGrace(t, h)

	status := h.store.Status(context.Background(), false)
	require.Equal(t, StateValidOfflineGrace, status.State)
	assert.Equal(t, 7, status.GraceRemainingDays)

	h.clock.advance(5*24*time.Hour + 12*time.Hour)
	status = h.store.Status(context.Background(), false)
	require.Equal(t, StateValidOfflineGrace, status.State)
	assert.Equal(t, 2, status.GraceRemainingDays)
}

func TestGraceExpires(t *testing.T) {
	h := newStoreHarness(t)
	driveIntoGrace(t, h)
	h.store.Status(context.Background(), false)

	h.clock.advance(8 * 24 * time.Hour)

	status := h.store.Status(context.Background(), false)
	assert.False(t, status.Valid)
	assert.Equal(t, StateInvalidGraceExpired, status.State)
	assert.ErrorIs(t, status.Err, ErrGraceExpired)
}

func TestSuccessfulOnlineValidationClearsGrace(t *testing.T) {
	h := newStoreHarness(t)
	driveIntoGrace(t, h)
	h.store.Status(context.Background(), false)
	require.NotNil(t, h.rawRecord(t).OfflineGracePeriodStart)

	h.online.online = true

	status := h.store.Status(context.Background(), false)
	assert.Equal(t, StateValidOnline, status.State)

	record := h.rawRecord(t)
	assert.Nil(t, record.OfflineGracePeriodStart)
	assert.Zero(t, record.ValidationAttempts)
}

func TestGraceExpiringEventPublished(t *testing.T) {
	h := newStoreHarness(t)
	driveIntoGrace(t, h)
	h.store.Status(context.Background(), false)

	ch, cancel := h.bus.Subscribe(16)
	defer cancel()

	h.clock.advance(6 * 24 * time.Hour)
	status := h.store.Status(context.Background(), false)
	require.Equal(t, StateValidOfflineGrace, status.State)

	var sawExpiring bool
	for done := false; !done; {
		select {
		case event := <-ch:
			if event.Kind == EventGraceExpiring {
				sawExpiring = true
				done = true
			}
		default:
			done = true
		}
	}
	assert.True(t, sawExpiring, "expected a grace_period_expiring event")
}
