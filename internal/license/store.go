package license

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/CaseVaultHQ/casevault/internal/connectivity"
	"github.com/CaseVaultHQ/casevault/internal/events"
	"github.com/CaseVaultHQ/casevault/internal/storage"
)

// State identifies where the stored license sits in the validation state
// machine.
type State string

const (
	// StateNoLicense means no usable license record exists on this device.
	StateNoLicense State = "no_license"
	// StateValidOnline means the license passed a fresh online validation.
	StateValidOnline State = "valid_online"
	// StateValidOfflineFresh means the license is valid offline, within
	// the revalidation interval.
	StateValidOfflineFresh State = "valid_offline"
	// StateValidOfflineGrace means the license is valid only because the
	// offline grace period is still running.
	StateValidOfflineGrace State = "valid_offline_grace"
	// StateInvalidExpired means the license expiration date has passed.
	StateInvalidExpired State = "invalid_expired"
	// StateInvalidDeviceMismatch means the license is bound to another
	// machine.
	StateInvalidDeviceMismatch State = "invalid_device_mismatch"
	// StateInvalidGraceExpired means the offline grace period elapsed
	// without a successful online validation.
	StateInvalidGraceExpired State = "invalid_grace_expired"
)

// Defaults for the revalidation state machine.
const (
	DefaultRevalidationInterval = 24 * time.Hour
	DefaultMaxAttempts          = 3
	DefaultGracePeriod          = 7 * 24 * time.Hour

	// graceExpiringThreshold is when GraceExpiring events start firing.
	graceExpiringThreshold = 2 * 24 * time.Hour

	recordKey = "license.json"
)

// EventKind classifies license lifecycle events.
type EventKind string

const (
	EventStored        EventKind = "license_stored"
	EventValidated     EventKind = "license_validated"
	EventGraceStarted  EventKind = "grace_period_started"
	EventGraceExpiring EventKind = "grace_period_expiring"
	EventInvalid       EventKind = "license_invalid"
	EventPurged        EventKind = "license_purged"
)

// Event is published on the license bus as the state machine moves.
type Event struct {
	Kind               EventKind `json:"kind"`
	State              State     `json:"state"`
	Message            string    `json:"message"`
	GraceRemainingDays int       `json:"grace_remaining_days,omitempty"`
	At                 time.Time `json:"at"`
}

// Status is the outcome of a validation cycle.
type Status struct {
	State              State
	Valid              bool
	Offline            bool
	Tier               Tier
	Email              string
	RemainingDays      int
	GraceRemainingDays int
	Message            string
	Err                error
}

// storedRecord is the persisted license record.
type storedRecord struct {
	EncryptedLicense        string     `json:"encryptedLicense"`
	LastValidationAt        time.Time  `json:"lastValidationAt"`
	OfflineGracePeriodStart *time.Time `json:"offlineGracePeriodStart,omitempty"`
	ValidationAttempts      int        `json:"validationAttempts"`
	DeviceFingerprint       string     `json:"deviceFingerprint"`
}

// licensePayload is what gets encrypted inside the record.
type licensePayload struct {
	Token string `json:"token"`
	Email string `json:"email"`
}

// Store persists the license encrypted under a device-derived key and
// drives the online/offline revalidation state machine.
type Store struct {
	validator *Validator
	checker   connectivity.Checker
	files     *storage.FileStore
	bus       *events.Bus[Event]
	logger    zerolog.Logger
	now       func() time.Time

	revalidationInterval time.Duration
	maxAttempts          int
	gracePeriod          time.Duration
}

// StoreConfig holds construction parameters for the Store.
type StoreConfig struct {
	Validator *Validator
	Checker   connectivity.Checker
	Files     *storage.FileStore
	Bus       *events.Bus[Event]
	Logger    zerolog.Logger

	// Overrides for tests; zero values select the defaults.
	RevalidationInterval time.Duration
	MaxAttempts          int
	GracePeriod          time.Duration
	Now                  func() time.Time
}

// NewStore creates a license store.
func NewStore(cfg StoreConfig) *Store {
	s := &Store{
		validator:            cfg.Validator,
		checker:              cfg.Checker,
		files:                cfg.Files,
		bus:                  cfg.Bus,
		logger:               cfg.Logger.With().Str("component", "license_store").Logger(),
		now:                  cfg.Now,
		revalidationInterval: cfg.RevalidationInterval,
		maxAttempts:          cfg.MaxAttempts,
		gracePeriod:          cfg.GracePeriod,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.revalidationInterval == 0 {
		s.revalidationInterval = DefaultRevalidationInterval
	}
	if s.maxAttempts == 0 {
		s.maxAttempts = DefaultMaxAttempts
	}
	if s.gracePeriod == 0 {
		s.gracePeriod = DefaultGracePeriod
	}
	return s
}

// Store validates the token and persists it encrypted, bound to the
// current device identity.
func (s *Store) Store(ctx context.Context, encodedToken, email string) (*ValidatedLicense, error) {
	lic, err := s.validator.Validate(ctx, encodedToken, email)
	if err != nil {
		return nil, err
	}

	deviceID := s.validator.CurrentDeviceID(ctx)
	payload, err := json.Marshal(licensePayload{Token: encodedToken, Email: email})
	if err != nil {
		return nil, fmt.Errorf("marshal license payload: %w", err)
	}

	encrypted, err := encryptRecord(deviceID, payload)
	if err != nil {
		return nil, fmt.Errorf("encrypt license: %w", err)
	}

	record := storedRecord{
		EncryptedLicense:   encrypted,
		LastValidationAt:   s.now(),
		ValidationAttempts: 0,
		DeviceFingerprint:  deviceID,
	}
	if err := s.saveRecord(&record); err != nil {
		return nil, err
	}

	s.logger.Info().Str("tier", string(lic.Tier)).Int("remaining_days", lic.RemainingDays).Msg("license stored")
	s.publish(EventStored, StateValidOnline, "license activated", 0)
	return lic, nil
}

// Remove deletes the stored license record.
func (s *Store) Remove(ctx context.Context) error {
	if err := s.files.Delete(recordKey); err != nil {
		return err
	}
	s.publish(EventPurged, StateNoLicense, "license removed", 0)
	return nil
}

// Status runs one validation cycle. forceOnline requests an online
// re-check even when the last validation is still fresh.
func (s *Store) Status(ctx context.Context, forceOnline bool) *Status {
	record, err := s.loadRecord()
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error().Err(err).Msg("failed to load license record")
		}
		return &Status{State: StateNoLicense, Err: ErrNoLicense, Message: Message(ErrNoLicense)}
	}

	deviceID := s.validator.CurrentDeviceID(ctx)
	if record.DeviceFingerprint != deviceID {
		// Irrecoverable: the record was written on another machine.
		// Purge so the application does not loop on a dead record.
		s.logger.Warn().Msg("stored license bound to a different device, purging")
		s.purge()
		return &Status{State: StateNoLicense, Err: ErrBoundToOtherDevice, Message: Message(ErrBoundToOtherDevice)}
	}

	plaintext, err := decryptRecord(deviceID, record.EncryptedLicense)
	if err != nil {
		s.logger.Warn().Err(err).Msg("stored license undecryptable, purging")
		s.purge()
		return &Status{State: StateNoLicense, Err: ErrNoLicense, Message: Message(ErrNoLicense)}
	}

	var payload licensePayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		s.logger.Warn().Err(err).Msg("stored license corrupt, purging")
		s.purge()
		return &Status{State: StateNoLicense, Err: ErrNoLicense, Message: Message(ErrNoLicense)}
	}

	needsRevalidation := forceOnline ||
		s.now().Sub(record.LastValidationAt) >= s.revalidationInterval ||
		record.ValidationAttempts >= s.maxAttempts

	if needsRevalidation && s.checker.IsOnline(ctx) {
		return s.onlineStatus(ctx, record, &payload)
	}
	return s.offlineStatus(ctx, record, &payload, needsRevalidation)
}

// onlineStatus re-runs full validation against the stored token.
func (s *Store) onlineStatus(ctx context.Context, record *storedRecord, payload *licensePayload) *Status {
	lic, err := s.validator.Validate(ctx, payload.Token, payload.Email)
	if err == nil {
		record.ValidationAttempts = 0
		record.LastValidationAt = s.now()
		record.OfflineGracePeriodStart = nil
		if err := s.saveRecord(record); err != nil {
			s.logger.Error().Err(err).Msg("failed to persist validated record")
		}

		status := &Status{
			State:         StateValidOnline,
			Valid:         true,
			Tier:          lic.Tier,
			Email:         lic.Email,
			RemainingDays: lic.RemainingDays,
			Message:       Message(nil),
		}
		s.publish(EventValidated, status.State, "license validated online", 0)
		return status
	}

	switch {
	case errors.Is(err, ErrExpired):
		s.publish(EventInvalid, StateInvalidExpired, Message(err), 0)
		return &Status{State: StateInvalidExpired, Err: ErrExpired, Message: Message(err)}
	case errors.Is(err, ErrDeviceMismatch):
		// Hardware identity moved underneath the stored record.
		s.purge()
		s.publish(EventInvalid, StateInvalidDeviceMismatch, Message(err), 0)
		return &Status{State: StateInvalidDeviceMismatch, Err: ErrDeviceMismatch, Message: Message(err)}
	case errors.Is(err, ErrInvalidSignature), errors.Is(err, ErrEmailMismatch), errors.Is(err, ErrInvalidFormat):
		// Stored token no longer verifies: treat as tampering, purge
		// rather than loop on a broken record.
		s.logger.Warn().Err(err).Msg("stored license failed verification, purging")
		s.purge()
		s.publish(EventInvalid, StateNoLicense, Message(err), 0)
		return &Status{State: StateNoLicense, Err: err, Message: Message(err)}
	}

	// Transient failure: count the attempt and fall into grace handling.
	record.ValidationAttempts++
	if record.OfflineGracePeriodStart == nil {
		start := s.now()
		record.OfflineGracePeriodStart = &start
		s.publish(EventGraceStarted, StateValidOfflineGrace, "offline grace period started", s.graceRemainingDays(start))
	}
	if err := s.saveRecord(record); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist validation attempt")
	}
	return s.graceStatus(ctx, record, payload)
}

// offlineStatus validates what can be checked without connectivity.
// revalidationDue marks cycles where an online re-check was wanted but
// connectivity was unavailable; those count as validation attempts so the
// grace window eventually engages on a machine that stays offline.
func (s *Store) offlineStatus(ctx context.Context, record *storedRecord, payload *licensePayload, revalidationDue bool) *Status {
	token, err := DecodeToken(payload.Token)
	if err != nil {
		s.purge()
		return &Status{State: StateNoLicense, Err: err, Message: Message(err)}
	}
	expiration, err := token.Expiration()
	if err != nil {
		s.purge()
		return &Status{State: StateNoLicense, Err: ErrInvalidFormat, Message: Message(ErrInvalidFormat)}
	}

	now := s.now()
	if expiration.Before(now) {
		s.publish(EventInvalid, StateInvalidExpired, Message(ErrExpired), 0)
		return &Status{State: StateInvalidExpired, Err: ErrExpired, Message: Message(ErrExpired)}
	}

	if revalidationDue {
		record.ValidationAttempts++
		if err := s.saveRecord(record); err != nil {
			s.logger.Error().Err(err).Msg("failed to persist validation attempt")
		}
	}

	if record.ValidationAttempts >= s.maxAttempts {
		if record.OfflineGracePeriodStart == nil {
			start := now
			record.OfflineGracePeriodStart = &start
			if err := s.saveRecord(record); err != nil {
				s.logger.Error().Err(err).Msg("failed to persist grace period start")
			}
			s.publish(EventGraceStarted, StateValidOfflineGrace, "offline grace period started", s.graceRemainingDays(start))
		}
		return s.graceStatus(ctx, record, payload)
	}

	return &Status{
		State:         StateValidOfflineFresh,
		Valid:         true,
		Offline:       true,
		Tier:          token.Type,
		Email:         token.Email,
		RemainingDays: RemainingDays(now, expiration),
		Message:       Message(nil),
	}
}

// graceStatus evaluates the bounded offline grace window.
func (s *Store) graceStatus(ctx context.Context, record *storedRecord, payload *licensePayload) *Status {
	start := record.OfflineGracePeriodStart
	if start == nil {
		// Defensive default; callers set the start before evaluating.
		now := s.now()
		start = &now
	}

	graceEnd := start.Add(s.gracePeriod)
	now := s.now()
	if now.After(graceEnd) {
		s.publish(EventInvalid, StateInvalidGraceExpired, Message(ErrGraceExpired), 0)
		return &Status{State: StateInvalidGraceExpired, Err: ErrGraceExpired, Message: Message(ErrGraceExpired)}
	}

	remaining := RemainingDays(now, graceEnd)
	if graceEnd.Sub(now) <= graceExpiringThreshold {
		s.publish(EventGraceExpiring, StateValidOfflineGrace, "offline grace period ending soon", remaining)
	}

	status := &Status{
		State:              StateValidOfflineGrace,
		Valid:              true,
		Offline:            true,
		GraceRemainingDays: remaining,
		Message:            fmt.Sprintf("License valid offline; %d day(s) of grace remaining.", remaining),
	}
	if token, err := DecodeToken(payload.Token); err == nil {
		status.Tier = token.Type
		status.Email = token.Email
		if expiration, err := token.Expiration(); err == nil {
			status.RemainingDays = RemainingDays(now, expiration)
		}
	}
	return status
}

func (s *Store) graceRemainingDays(start time.Time) int {
	return RemainingDays(s.now(), start.Add(s.gracePeriod))
}

func (s *Store) loadRecord() (*storedRecord, error) {
	data, err := s.files.Get(recordKey)
	if err != nil {
		return nil, err
	}
	var record storedRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("parse license record: %w", err)
	}
	return &record, nil
}

func (s *Store) saveRecord(record *storedRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal license record: %w", err)
	}
	if err := s.files.Set(recordKey, data); err != nil {
		return fmt.Errorf("persist license record: %w", err)
	}
	return nil
}

func (s *Store) purge() {
	if err := s.files.Delete(recordKey); err != nil {
		s.logger.Error().Err(err).Msg("failed to purge license record")
	}
	s.publish(EventPurged, StateNoLicense, "license record purged", 0)
}

func (s *Store) publish(kind EventKind, state State, message string, graceDays int) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(Event{
		Kind:               kind,
		State:              state,
		Message:            message,
		GraceRemainingDays: graceDays,
		At:                 s.now(),
	})
}
