package connectivity

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestDNSCheckerUnresolvableHostIsOffline(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	checker := NewDNSChecker(logger,
		WithProbeHost("unresolvable.invalid"),
		WithTimeout(500*time.Millisecond),
	)

	assert.False(t, checker.IsOnline(context.Background()))
}

func TestDNSCheckerCancelledContextIsOffline(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	checker := NewDNSChecker(logger, WithProbeHost("unresolvable.invalid"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, checker.IsOnline(ctx))
}

func TestStaticChecker(t *testing.T) {
	assert.True(t, StaticChecker(true).IsOnline(context.Background()))
	assert.False(t, StaticChecker(false).IsOnline(context.Background()))
}
