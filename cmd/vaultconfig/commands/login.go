package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/vaultconfig/internal/config"
	dserrors "github.com/systmms/vaultconfig/internal/errors"
)

func NewLoginCommand(cfg *config.Config) *cobra.Command {
	var (
		printToken bool
		logout     bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with the configured method and store the token",
		Long: `Authenticate with the configured method and store the resulting token
in the OS keyring for the Vault address. TOKEN authentication falls back to
the stored token when no token is configured.

Examples:
  # Log in with userpass and keep the token
  vaultconfig login --set spring.cloud.vault.authentication=userpass \
    --set spring.cloud.vault.userpass.username=alice

  # Forget the stored token
  vaultconfig login --logout`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := tokenStore()

			if logout {
				if err := cfg.Load(); err != nil {
					return err
				}
				if err := store.Delete(cfg.Vault.Address()); err != nil {
					return err
				}
				cfg.Logger.Info("Removed stored token for %s", cfg.Vault.Address())
				return nil
			}

			session, err := login(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			if printToken {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), session.Token())
				return err
			}

			address := cfg.Vault.Address()
			if err := store.Set(address, session.Token()); err != nil {
				return dserrors.UserError{
					Message:    "Failed to store token in the OS keyring",
					Details:    err.Error(),
					Suggestion: "Use --print and export VAULT_TOKEN when no keyring is available",
					Err:        err,
				}
			}
			cfg.Logger.Info("Logged in with %s, token stored for %s (ttl %s)", session.Method(), address, session.TTL())
			return nil
		},
	}

	cmd.Flags().BoolVar(&printToken, "print", false, "Print the token instead of storing it")
	cmd.Flags().BoolVar(&logout, "logout", false, "Remove the stored token for the Vault address")

	return cmd
}
