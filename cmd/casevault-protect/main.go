// Package main is the entrypoint for the CaseVault protection CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/CaseVaultHQ/casevault/internal/abuse"
	"github.com/CaseVaultHQ/casevault/internal/config"
	"github.com/CaseVaultHQ/casevault/internal/license"
	"github.com/CaseVaultHQ/casevault/internal/orchestrator"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "casevault-protect",
		Short: "CaseVault license validation and anti-abuse protection",
		Long: `casevault-protect manages the CaseVault license on this machine:
activation, validation status, hardware fingerprinting, and the
anti-abuse rule and alert store.

Run 'casevault-protect activate' to bind a license to this device.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newActivateCmd(),
		newStatusCmd(),
		newDeactivateCmd(),
		newFingerprintCmd(),
		newWatchCmd(),
		newIssueCmd(),
		newRulesCmd(),
		newAlertsCmd(),
	)

	return rootCmd
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if cfg, err := config.LoadDefault(); err == nil && cfg.Debug {
		return logger.Level(zerolog.DebugLevel)
	}
	return logger.Level(zerolog.InfoLevel)
}

func buildOrchestrator() (*orchestrator.Orchestrator, error) {
	cfg, err := config.LoadDefault()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return orchestrator.Build(cfg, newLogger())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("CaseVault Protect %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Built:      %s\n", BuildDate)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newActivateCmd() *cobra.Command {
	var tokenArg string
	var email string

	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Activate a license on this device",
		Long: `Activate a license on this device.

The license token is bound to this machine's hardware fingerprint and
stored encrypted. Pass the token directly or as @path to read a file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			token := tokenArg
			if strings.HasPrefix(token, "@") {
				data, err := os.ReadFile(strings.TrimPrefix(token, "@"))
				if err != nil {
					return fmt.Errorf("read license file: %w", err)
				}
				token = strings.TrimSpace(string(data))
			}

			orch, err := buildOrchestrator()
			if err != nil {
				return err
			}
			defer orch.Close()

			lic, err := orch.Services().Licenses.Store(cmd.Context(), token, email)
			if err != nil {
				return fmt.Errorf("%s", license.Message(err))
			}

			fmt.Printf("License activated: %s tier, %d day(s) remaining\n", lic.Tier, lic.RemainingDays)
			return nil
		},
	}

	cmd.Flags().StringVar(&tokenArg, "license", "", "license token, or @path to a token file (required)")
	cmd.Flags().StringVar(&email, "email", "", "email the license was issued to (required)")
	_ = cmd.MarkFlagRequired("license")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func newStatusCmd() *cobra.Command {
	var forceOnline bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show license validation status",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := buildOrchestrator()
			if err != nil {
				return err
			}
			defer orch.Close()

			status := orch.Services().Licenses.Status(cmd.Context(), forceOnline)

			fmt.Printf("State:   %s\n", status.State)
			fmt.Printf("Valid:   %v\n", status.Valid)
			if status.Valid {
				fmt.Printf("Tier:    %s\n", status.Tier)
				fmt.Printf("Email:   %s\n", status.Email)
				fmt.Printf("Days:    %d remaining\n", status.RemainingDays)
				if status.GraceRemainingDays > 0 {
					fmt.Printf("Grace:   %d day(s) left to reconnect\n", status.GraceRemainingDays)
				}
			}
			if status.Message != "" {
				fmt.Printf("Message: %s\n", status.Message)
			}
			if !status.Valid {
				orch.Close()
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&forceOnline, "online", false, "force an online revalidation")

	return cmd
}

func newDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate",
		Short: "Remove the license from this device",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := buildOrchestrator()
			if err != nil {
				return err
			}
			defer orch.Close()

			if err := orch.Services().Licenses.Remove(cmd.Context()); err != nil {
				return fmt.Errorf("remove license: %w", err)
			}
			fmt.Println("License removed from this device.")
			return nil
		},
	}
}

func newFingerprintCmd() *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Show this machine's hardware fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := buildOrchestrator()
			if err != nil {
				return err
			}
			defer orch.Close()

			fp, err := orch.Services().Fingerprint.Generate(cmd.Context(), refresh)
			if err != nil {
				return fmt.Errorf("generate fingerprint: %w", err)
			}

			fmt.Printf("Fingerprint: %s\n", fp.Hash)
			fmt.Printf("Confidence:  %d/100\n", fp.Confidence)
			fmt.Printf("Machine ID:  %s\n", fp.MachineID)
			fmt.Printf("CPU:         %s (%d cores)\n", fp.CPU.Brand, fp.CPU.Cores)
			fmt.Printf("Platform:    %s/%s\n", fp.Host.Platform, fp.Host.Arch)
			fmt.Printf("Generated:   %s\n", fp.GeneratedAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the fingerprint cache")

	return cmd
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run the startup check and keep revalidating hourly",
		Long: `Run the startup license check, then revalidate hourly until
interrupted. Exits non-zero as soon as the license becomes invalid.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := buildOrchestrator()
			if err != nil {
				return err
			}
			defer orch.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			decision := orch.StartupCheck(ctx)
			if !decision.CanProceed {
				return fmt.Errorf("%s", decision.Message)
			}
			fmt.Printf("License valid (%s). Watching.\n", decision.Status.State)
			for _, warning := range decision.Warnings {
				fmt.Printf("Warning: %s\n", warning)
			}

			decisions, unsubscribe := orch.Decisions(8)
			defer unsubscribe()

			if err := orch.Run(ctx); err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			for {
				select {
				case <-sigCh:
					fmt.Println("Shutting down.")
					return nil
				case d := <-decisions:
					if !d.CanProceed {
						return fmt.Errorf("license became invalid: %s", d.Message)
					}
					for _, warning := range d.Warnings {
						fmt.Printf("Warning: %s\n", warning)
					}
				}
			}
		},
	}
}

func newIssueCmd() *cobra.Command {
	var keyPath, email, tier, deviceID string
	var days int
	var features []string

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a signed license token (operator use)",
		Long: `Issue a signed license token. Requires the issuing private key;
this command exists for operators and test benches, not end users.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			pemData, err := os.ReadFile(keyPath)
			if err != nil {
				return fmt.Errorf("read private key: %w", err)
			}
			privateKey, err := license.ParsePrivateKeyPEM(string(pemData))
			if err != nil {
				return fmt.Errorf("parse private key: %w", err)
			}

			expiration := time.Now().UTC().Add(time.Duration(days) * 24 * time.Hour)
			token, err := license.Issue(privateKey, email, license.Tier(tier), expiration, features, deviceID)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}

			fmt.Println(token)
			return nil
		},
	}

	cmd.Flags().StringVar(&keyPath, "private-key", "", "path to the issuing RSA private key PEM (required)")
	cmd.Flags().StringVar(&email, "email", "", "licensee email (required)")
	cmd.Flags().StringVar(&tier, "tier", string(license.TierProfessional), "license tier: trial, basic, professional, enterprise")
	cmd.Flags().StringVar(&deviceID, "device", "", "device identity to bind the license to (required)")
	cmd.Flags().IntVar(&days, "days", 365, "validity in days")
	cmd.Flags().StringSliceVar(&features, "features", nil, "extra feature grants beyond the tier")
	_ = cmd.MarkFlagRequired("private-key")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("device")

	return cmd
}

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage abuse detection rules",
	}

	cmd.AddCommand(
		newRulesListCmd(),
		newRulesAddCmd(),
		newRulesDeleteCmd(),
	)

	return cmd
}

func newRulesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := buildOrchestrator()
			if err != nil {
				return err
			}
			defer orch.Close()

			rules, err := orch.Services().AbuseStore.ListRules(cmd.Context())
			if err != nil {
				return err
			}
			if len(rules) == 0 {
				fmt.Println("No rules registered.")
				return nil
			}
			for _, rule := range rules {
				state := "enabled"
				if !rule.Enabled {
					state = "disabled"
				}
				fmt.Printf("%s  %-24s %-20s %-8s triggers=%d (%s)\n",
					rule.ID, rule.Name, rule.Type, rule.Severity, rule.TriggerCount, state)
			}
			return nil
		},
	}
}

func newRulesAddCmd() *cobra.Command {
	var filePath string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a rule from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return fmt.Errorf("read rule file: %w", err)
			}
			var rule abuse.Rule
			if err := json.Unmarshal(data, &rule); err != nil {
				return fmt.Errorf("parse rule file: %w", err)
			}

			orch, err := buildOrchestrator()
			if err != nil {
				return err
			}
			defer orch.Close()

			if err := orch.Services().AbuseStore.CreateRule(cmd.Context(), &rule); err != nil {
				return err
			}
			fmt.Printf("Rule created: %s\n", rule.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&filePath, "file", "", "path to a rule JSON file (required)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func newRulesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <rule-id>",
		Short: "Delete a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := buildOrchestrator()
			if err != nil {
				return err
			}
			defer orch.Close()

			if err := orch.Services().AbuseStore.DeleteRule(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("Rule deleted.")
			return nil
		},
	}
}

func newAlertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Inspect and resolve abuse alerts",
	}

	cmd.AddCommand(
		newAlertsListCmd(),
		newAlertsResolveCmd(),
		newAlertsStatsCmd(),
	)

	return cmd
}

func newAlertsListCmd() *cobra.Command {
	var openOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List abuse alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := buildOrchestrator()
			if err != nil {
				return err
			}
			defer orch.Close()

			var status abuse.AlertStatus
			if openOnly {
				status = abuse.AlertOpen
			}
			alerts, err := orch.Services().AbuseStore.ListAlerts(cmd.Context(), status)
			if err != nil {
				return err
			}
			if len(alerts) == 0 {
				fmt.Println("No alerts.")
				return nil
			}
			for _, alert := range alerts {
				fmt.Printf("%s  %-20s %-8s risk=%.0f %s %s\n",
					alert.ID, alert.Type, alert.Severity, alert.RiskScore,
					alert.Status, alert.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&openOnly, "open", false, "show only open alerts")

	return cmd
}

func newAlertsResolveCmd() *cobra.Command {
	var resolution string

	cmd := &cobra.Command{
		Use:   "resolve <alert-id>",
		Short: "Resolve an open alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := buildOrchestrator()
			if err != nil {
				return err
			}
			defer orch.Close()

			alert, err := orch.Services().Abuse.ResolveAlert(cmd.Context(), args[0], resolution)
			if err != nil {
				return err
			}
			fmt.Printf("Alert %s resolved.\n", alert.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&resolution, "resolution", "", "resolution note (required)")
	_ = cmd.MarkFlagRequired("resolution")

	return cmd
}

func newAlertsStatsCmd() *cobra.Command {
	var windowDays int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show alert analytics",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := buildOrchestrator()
			if err != nil {
				return err
			}
			defer orch.Close()

			analytics, err := orch.Services().AbuseStore.ComputeAnalytics(cmd.Context(), windowDays)
			if err != nil {
				return err
			}

			fmt.Printf("Window:    last %d days\n", analytics.WindowDays)
			fmt.Printf("Alerts:    %d total, %d open, %d resolved (%.2f/day)\n",
				analytics.TotalAlerts, analytics.OpenAlerts, analytics.ResolvedAlerts, analytics.AlertsPerDay)
			for severity, count := range analytics.BySeverity {
				fmt.Printf("  %-8s %d\n", severity, count)
			}
			if len(analytics.TopTypes) > 0 {
				fmt.Println("Top types:")
				for _, tc := range analytics.TopTypes {
					fmt.Printf("  %-20s %d\n", tc.Type, tc.Count)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&windowDays, "window", 30, "analytics window in days")

	return cmd
}
