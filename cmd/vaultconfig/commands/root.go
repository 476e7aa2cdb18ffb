package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/vaultconfig/internal/config"
	"github.com/systmms/vaultconfig/internal/logging"
)

// NewRootCommand builds the command tree around cfg
func NewRootCommand(cfg *config.Config, version string) *cobra.Command {
	var (
		configFile string
		overrides  []string
		profiles   []string
		noColor    bool
		debug      bool
	)

	rootCmd := &cobra.Command{
		Use:   "vaultconfig",
		Short: "Bootstrap application configuration from HashiCorp Vault",
		Long: `vaultconfig logs in to Vault, reads the secret contexts for an application
and its active profiles, and hands the merged properties to the application
as a file, environment variables or a local HTTP endpoint.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := config.ParseOverrides(overrides)
			if err != nil {
				return err
			}
			if cfg.Logger == nil || cmd.Flags().Changed("debug") || cmd.Flags().Changed("no-color") {
				cfg.Logger = logging.New(debug, noColor)
			}
			cfg.Path = configFile
			cfg.Overrides = parsed
			cfg.Profiles = profiles
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", fmt.Sprintf("Bootstrap file (default %s if present)", config.DefaultPath))
	flags.StringArrayVar(&overrides, "set", nil, "Override a setting, e.g. --set spring.cloud.vault.fail-fast=true")
	flags.StringSliceVarP(&profiles, "profile", "p", nil, "Active profiles (replaces spring.profiles.active)")
	flags.BoolVar(&noColor, "no-color", false, "Disable colored output")
	flags.BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		NewResolveCommand(cfg),
		NewGetCommand(cfg),
		NewRenderCommand(cfg),
		NewExecCommand(cfg),
		NewDoctorCommand(cfg),
		NewAgentCommand(cfg),
		NewLoginCommand(cfg),
		NewPrepareCommand(cfg),
		NewCompletionCommand(cfg),
	)

	return rootCmd
}
