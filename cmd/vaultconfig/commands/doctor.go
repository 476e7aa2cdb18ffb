package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/vaultconfig/internal/auth"
	"github.com/systmms/vaultconfig/internal/config"
	dserrors "github.com/systmms/vaultconfig/internal/errors"
	"github.com/systmms/vaultconfig/internal/propertysource"
	"github.com/systmms/vaultconfig/internal/vault"
)

// Check is the outcome of one doctor step
type Check struct {
	Name   string
	Status string // ok, warn, error or skipped
	Detail string
}

func NewDoctorCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, connectivity and authentication",
		Long: `Verify that vaultconfig can bootstrap the application.

This command checks:
- Configuration file and settings validity
- Vault reachability and seal status
- Authentication with the configured method
- Each property context for the active profiles`,
		RunE: func(cmd *cobra.Command, args []string) error {
			checks := runDoctor(cmd.Context(), cfg)
			displayChecks(cmd.OutOrStdout(), checks)

			failed := 0
			for _, c := range checks {
				if c.Status == "error" {
					failed++
				}
			}
			if failed > 0 {
				return dserrors.UserError{
					Message:    fmt.Sprintf("%d of %d checks failed", failed, len(checks)),
					Suggestion: "Fix the failing checks above and run 'vaultconfig doctor' again",
				}
			}
			return nil
		},
	}

	return cmd
}

func runDoctor(ctx context.Context, cfg *config.Config) []Check {
	var checks []Check
	add := func(name, status, format string, args ...interface{}) {
		checks = append(checks, Check{Name: name, Status: status, Detail: fmt.Sprintf(format, args...)})
	}

	if err := cfg.Load(); err != nil {
		add("configuration", "error", "%v", err)
		return checks
	}
	if err := cfg.Validate(); err != nil {
		add("configuration", "error", "%v", err)
		return checks
	}
	file := cfg.SettingsFile()
	if file == "" {
		file = "defaults and environment"
	}
	add("configuration", "ok", "%s", file)

	props := *cfg.Vault
	if !props.Enabled {
		add("vault", "skipped", "spring.cloud.vault.enabled is false")
		return checks
	}

	client, err := vault.NewClient(props, cfg.Logger)
	if err != nil {
		add("tls", "error", "%v", err)
		return checks
	}

	health, err := client.Health(ctx)
	switch {
	case err != nil:
		add("vault", "error", "%s: %v", props.Address(), err)
		return checks
	case health.Sealed:
		add("vault", "error", "%s is sealed", props.Address())
		return checks
	default:
		add("vault", "ok", "%s (version %s)", props.Address(), health.Version)
	}

	method, err := auth.Select(props, auth.WithLogger(cfg.Logger), auth.WithTokenSource(tokenStore()))
	if err != nil {
		add("authentication", "error", "%v", err)
		return checks
	}
	session, err := client.Login(ctx, method)
	if err != nil {
		add("authentication", "error", "%s: %v", method.Name(), err)
		return checks
	}
	defer func() { _ = session.Close(ctx) }()
	add("authentication", "ok", "%s, ttl %s", method.Name(), session.TTL())

	if !props.Generic.Enabled {
		add("contexts", "skipped", "generic backend disabled")
		return checks
	}
	for _, context := range propertysource.Contexts(props.Generic, cfg.Application.Profiles) {
		name := "context " + context
		secret, err := client.ReadSecret(ctx, context)
		switch {
		case err != nil:
			status := "warn"
			if props.FailFast {
				status = "error"
			}
			add(name, status, "%v", err)
		case secret == nil:
			add(name, "ok", "not found, skipped")
		default:
			add(name, "ok", "%d keys", len(propertysource.Flatten(secret.Data)))
		}
	}
	return checks
}

func displayChecks(out io.Writer, checks []Check) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CHECK\tSTATUS\tDETAIL")
	for _, c := range checks {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", c.Name, c.Status, c.Detail)
	}
	_ = w.Flush()
}
