package license

import (
	"context"
	"crypto/rsa"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
)

// DeviceIdentity supplies the stable identifier of the machine the
// validator runs on. Satisfied by fingerprint.Engine.
type DeviceIdentity interface {
	MachineID(ctx context.Context) string
}

// ValidatedLicense is the result of a successful token validation.
type ValidatedLicense struct {
	Token         *Token
	Tier          Tier
	Email         string
	Expiration    time.Time
	RemainingDays int
	Features      []string
	Limits        UsageLimits
}

// HasFeature checks the tier table first, then the token's explicit
// feature grants.
func (l *ValidatedLicense) HasFeature(feature Feature) bool {
	if HasFeature(l.Tier, feature) {
		return true
	}
	for _, f := range l.Features {
		if Feature(f) == feature {
			return true
		}
	}
	return false
}

// Validator verifies license tokens against the embedded public key and
// the current device identity.
type Validator struct {
	publicKey *rsa.PublicKey
	device    DeviceIdentity
	logger    zerolog.Logger
	now       func() time.Time
}

// ValidatorConfig holds construction parameters for the Validator.
type ValidatorConfig struct {
	// PublicKey overrides the embedded verification key.
	PublicKey *rsa.PublicKey
	Device    DeviceIdentity
	Logger    zerolog.Logger
	// Now overrides the clock for tests.
	Now func() time.Time
}

// NewValidator creates a license validator.
func NewValidator(cfg ValidatorConfig) *Validator {
	key := cfg.PublicKey
	if key == nil {
		key = DefaultPublicKey()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Validator{
		publicKey: key,
		device:    cfg.Device,
		logger:    cfg.Logger.With().Str("component", "license_validator").Logger(),
		now:       now,
	}
}

// CurrentDeviceID returns the identity the license must be bound to.
func (v *Validator) CurrentDeviceID(ctx context.Context) string {
	return v.device.MachineID(ctx)
}

// Validate decodes and fully verifies a license token for the given email
// on the current device. Failures return a taxonomy sentinel (possibly
// wrapped); callers use errors.Is.
func (v *Validator) Validate(ctx context.Context, encodedToken, email string) (*ValidatedLicense, error) {
	token, err := DecodeToken(encodedToken)
	if err != nil {
		v.logger.Warn().Err(err).Msg("license token rejected: malformed")
		return nil, err
	}

	if token.Email != email {
		v.logger.Warn().Str("token_email", token.Email).Msg("license token rejected: email mismatch")
		return nil, ErrEmailMismatch
	}

	deviceID := v.CurrentDeviceID(ctx)
	if token.DeviceID != deviceID {
		v.logger.Warn().Msg("license token rejected: bound to different device")
		return nil, ErrDeviceMismatch
	}

	if err := VerifySignature(token, v.publicKey); err != nil {
		v.logger.Warn().Msg("license token rejected: signature verification failed")
		return nil, err
	}

	expiration, err := token.Expiration()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	now := v.now()
	if !expiration.After(now) {
		return nil, ErrExpired
	}

	return &ValidatedLicense{
		Token:         token,
		Tier:          token.Type,
		Email:         token.Email,
		Expiration:    expiration,
		RemainingDays: RemainingDays(now, expiration),
		Features:      token.Features,
		Limits:        LimitsForTier(token.Type),
	}, nil
}

// RemainingDays computes ceil((until-now)/day), floored at zero.
func RemainingDays(now, until time.Time) int {
	if !until.After(now) {
		return 0
	}
	return int(math.Ceil(until.Sub(now).Hours() / 24))
}
