// Package orchestrator owns construction of the protection services and
// translates license state into a single proceed/deny decision for the
// host application.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/CaseVaultHQ/casevault/internal/abuse"
	"github.com/CaseVaultHQ/casevault/internal/config"
	"github.com/CaseVaultHQ/casevault/internal/connectivity"
	"github.com/CaseVaultHQ/casevault/internal/events"
	"github.com/CaseVaultHQ/casevault/internal/fingerprint"
	"github.com/CaseVaultHQ/casevault/internal/hwinfo"
	"github.com/CaseVaultHQ/casevault/internal/license"
	"github.com/CaseVaultHQ/casevault/internal/storage"
)

// Decision is the orchestrator's answer to "may the application run".
type Decision struct {
	CanProceed bool            `json:"canProceed"`
	Status     *license.Status `json:"status"`
	Message    string          `json:"message"`
	Warnings   []string        `json:"warnings,omitempty"`
}

// Services groups the constructed protection components. The CLI and
// tests reach individual services through this struct.
type Services struct {
	Fingerprint *fingerprint.Engine
	Validator   *license.Validator
	Licenses    *license.Store
	Abuse       *abuse.Engine
	AbuseStore  *abuse.Store

	LicenseEvents *events.Bus[license.Event]
	Alerts        *events.Bus[abuse.Alert]
}

// Orchestrator schedules periodic license rechecks and publishes
// decisions for the host to act on.
type Orchestrator struct {
	services  Services
	logger    zerolog.Logger
	decisions *events.Bus[Decision]
	cron      *cron.Cron
	now       func() time.Time
}

// Config holds construction parameters for New.
type Config struct {
	Services Services
	Logger   zerolog.Logger
	// Now overrides the clock for tests.
	Now func() time.Time
}

// New wires an orchestrator around already-constructed services.
func New(cfg Config) *Orchestrator {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		services:  cfg.Services,
		logger:    cfg.Logger.With().Str("component", "orchestrator").Logger(),
		decisions: events.NewBus[Decision](),
		cron:      cron.New(),
		now:       now,
	}
}

// Build constructs the full service graph from configuration and returns
// an orchestrator owning it. This is the composition root: everything
// downstream receives its dependencies explicitly.
func Build(cfg *config.Config, logger zerolog.Logger) (*Orchestrator, error) {
	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}

	fpEngine := fingerprint.NewEngine(fingerprint.EngineConfig{
		Provider: hwinfo.NewSystemProvider(),
		Logger:   logger,
	})

	publicKey := license.DefaultPublicKey()
	if cfg.LicensePublicKey != "" {
		publicKey, err = license.ParsePublicKeyPEM(cfg.LicensePublicKey)
		if err != nil {
			return nil, fmt.Errorf("configured license public key: %w", err)
		}
	}

	validator := license.NewValidator(license.ValidatorConfig{
		PublicKey: publicKey,
		Device:    fpEngine,
		Logger:    logger,
	})

	var checkerOpts []connectivity.Option
	if cfg.ProbeHost != "" {
		checkerOpts = append(checkerOpts, connectivity.WithProbeHost(cfg.ProbeHost))
	}
	checker := connectivity.NewDNSChecker(logger, checkerOpts...)

	files, err := storage.NewFileStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("license storage: %w", err)
	}

	licenseBus := events.NewBus[license.Event]()
	licenses := license.NewStore(license.StoreConfig{
		Validator:            validator,
		Checker:              checker,
		Files:                files,
		Bus:                  licenseBus,
		Logger:               logger,
		RevalidationInterval: time.Duration(cfg.RevalidationHours) * time.Hour,
		GracePeriod:          time.Duration(cfg.GracePeriodDays) * 24 * time.Hour,
	})

	abuseStore, err := abuse.OpenStore(filepath.Join(dataDir, "abuse.db"))
	if err != nil {
		return nil, fmt.Errorf("abuse storage: %w", err)
	}

	alertBus := events.NewBus[abuse.Alert]()
	abuseEngine := abuse.NewEngine(abuse.EngineConfig{
		Store:  abuseStore,
		Bus:    alertBus,
		Logger: logger,
	})

	return New(Config{
		Services: Services{
			Fingerprint:   fpEngine,
			Validator:     validator,
			Licenses:      licenses,
			Abuse:         abuseEngine,
			AbuseStore:    abuseStore,
			LicenseEvents: licenseBus,
			Alerts:        alertBus,
		},
		Logger: logger,
	}), nil
}

// Services exposes the constructed service graph.
func (o *Orchestrator) Services() Services { return o.services }

// Decisions subscribes to periodic recheck decisions. The caller must
// invoke cancel when done.
func (o *Orchestrator) Decisions(buffer int) (<-chan Decision, func()) {
	return o.decisions.Subscribe(buffer)
}

// StartupCheck runs one validation cycle and decides whether the
// application may start.
func (o *Orchestrator) StartupCheck(ctx context.Context) Decision {
	status := o.services.Licenses.Status(ctx, false)
	decision := o.decide(status)

	event := o.logger.Info()
	if !decision.CanProceed {
		event = o.logger.Warn()
	}
	event.Str("state", string(status.State)).Bool("can_proceed", decision.CanProceed).
		Msg("startup license check")

	return decision
}

// Recheck runs one validation cycle and publishes the decision. The
// hourly schedule calls this; tests call it directly.
func (o *Orchestrator) Recheck(ctx context.Context) Decision {
	status := o.services.Licenses.Status(ctx, false)
	decision := o.decide(status)
	o.decisions.Publish(decision)

	if !decision.CanProceed {
		o.logger.Error().Str("state", string(status.State)).
			Msg("license became invalid, host must shut down")
	}
	for _, warning := range decision.Warnings {
		o.logger.Warn().Msg(warning)
	}
	return decision
}

// decide maps license store state to a host decision.
func (o *Orchestrator) decide(status *license.Status) Decision {
	decision := Decision{
		CanProceed: status.Valid,
		Status:     status,
		Message:    status.Message,
	}

	switch status.State {
	case license.StateValidOfflineGrace:
		warning := fmt.Sprintf(
			"offline grace period active, %d day(s) left to reconnect and revalidate",
			status.GraceRemainingDays)
		decision.Warnings = append(decision.Warnings, warning)
	case license.StateValidOfflineFresh:
		if status.Offline {
			decision.Warnings = append(decision.Warnings,
				"running offline, the license will be revalidated when a connection is available")
		}
	}

	return decision
}

// Run starts the hourly recheck schedule. Rechecks stop when ctx is
// cancelled or Stop is called.
func (o *Orchestrator) Run(ctx context.Context) error {
	_, err := o.cron.AddFunc("@hourly", func() {
		o.Recheck(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule recheck: %w", err)
	}

	o.cron.Start()
	o.logger.Info().Msg("periodic license recheck scheduled")

	go func() {
		<-ctx.Done()
		o.Stop()
	}()
	return nil
}

// Stop cancels the recheck schedule and waits for a running job.
func (o *Orchestrator) Stop() {
	stopCtx := o.cron.Stop()
	<-stopCtx.Done()
	o.logger.Info().Msg("periodic license recheck stopped")
}

// Close releases everything the orchestrator owns.
func (o *Orchestrator) Close() error {
	o.Stop()
	o.decisions.Close()
	if o.services.LicenseEvents != nil {
		o.services.LicenseEvents.Close()
	}
	if o.services.Alerts != nil {
		o.services.Alerts.Close()
	}
	if o.services.AbuseStore != nil {
		return o.services.AbuseStore.Close()
	}
	return nil
}
