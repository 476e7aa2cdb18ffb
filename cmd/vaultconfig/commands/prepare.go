package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/vaultconfig/internal/config"
	"github.com/systmms/vaultconfig/pkg/vaultprep"
)

func NewPrepareCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Provision Vault for applications",
		Long: `Operator commands that prepare a Vault server: write secrets below the
generic backend, mount auth methods and secrets engines, map AppId user ids
and issue tokens.

The commands log in with the configured method, usually a privileged token
in VAULT_TOKEN.`,
	}

	cmd.AddCommand(
		newWriteSecretCommand(cfg),
		newWriteCommand(cfg),
		newHasAuthCommand(cfg),
		newMountAuthCommand(cfg),
		newMapAppIDCommand(cfg),
		newMapUserIDCommand(cfg),
		newMountSecretsCommand(cfg),
		newCreateTokenCommand(cfg),
	)
	return cmd
}

// withPrep logs in, runs fn and revokes a token obtained by the login
func withPrep(cmd *cobra.Command, cfg *config.Config, fn func(ctx context.Context, prep *vaultprep.Prep) error) error {
	ctx := cmd.Context()
	session, err := login(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = session.Close(ctx) }()
	return fn(ctx, vaultprep.New(session.Client(), cfg.Logger))
}

func newWriteSecretCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "write-secret <context> <key=value>...",
		Short: "Write properties to a context below the generic backend",
		Example: `  vaultconfig prepare write-secret my-app vault.value=foo
  vaultconfig prepare write-secret my-app/cloud spring.datasource.password=s3cret`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := parseData(args[1:])
			if err != nil {
				return err
			}
			return withPrep(cmd, cfg, func(ctx context.Context, prep *vaultprep.Prep) error {
				if err := prep.WriteSecret(ctx, args[0], data); err != nil {
					return err
				}
				cfg.Logger.Info("Wrote %d keys to %s", len(data), args[0])
				return nil
			})
		},
	}
}

func newWriteCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "write <path> [key=value]...",
		Short: "Write raw data to any Vault path",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := parseData(args[1:])
			if err != nil {
				return err
			}
			return withPrep(cmd, cfg, func(ctx context.Context, prep *vaultprep.Prep) error {
				_, err := prep.Write(ctx, args[0], data)
				return err
			})
		},
	}
}

func newHasAuthCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "has-auth <path>",
		Short: "Report whether an auth method is mounted at path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPrep(cmd, cfg, func(ctx context.Context, prep *vaultprep.Prep) error {
				ok, err := prep.HasAuth(ctx, args[0])
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), ok)
				return err
			})
		},
	}
}

func newMountAuthCommand(cfg *config.Config) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:     "mount-auth <path>",
		Short:   "Enable an auth method, if not already mounted",
		Example: "  vaultconfig prepare mount-auth app-id\n  vaultconfig prepare mount-auth tls --type cert",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPrep(cmd, cfg, func(ctx context.Context, prep *vaultprep.Prep) error {
				t := kind
				if t == "" {
					t = strings.Trim(args[0], "/")
				}
				return prep.EnsureAuth(ctx, args[0], t)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "type", "", "Auth method type (default: the path)")
	return cmd
}

func newMapAppIDCommand(cfg *config.Config) *cobra.Command {
	var policy string
	cmd := &cobra.Command{
		Use:   "map-app-id <app-id>",
		Short: "Map an AppId to a policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPrep(cmd, cfg, func(ctx context.Context, prep *vaultprep.Prep) error {
				return prep.MapAppID(ctx, args[0], policy)
			})
		},
	}
	cmd.Flags().StringVar(&policy, "policy", "default", "Policy granted to the AppId")
	return cmd
}

func newMapUserIDCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "map-user-id <app-id> <user-id>",
		Short: "Map a user id to an AppId",
		Long: `Map a user id to an AppId. For IP_ADDRESS and MAC_ADDRESS mechanisms the
user id is the lowercase hex SHA-256 of the address the application presents.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPrep(cmd, cfg, func(ctx context.Context, prep *vaultprep.Prep) error {
				return prep.MapUserID(ctx, args[0], args[1])
			})
		},
	}
}

func newMountSecretsCommand(cfg *config.Config) *cobra.Command {
	var (
		kind    string
		options []string
	)
	cmd := &cobra.Command{
		Use:     "mount-secrets <path>",
		Short:   "Mount a secrets engine, if not already mounted",
		Example: "  vaultconfig prepare mount-secrets kv --type kv --option version=2",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := parseOptions(options)
			if err != nil {
				return err
			}
			return withPrep(cmd, cfg, func(ctx context.Context, prep *vaultprep.Prep) error {
				mounted, err := prep.HasSecretsEngine(ctx, args[0])
				if err != nil {
					return err
				}
				if mounted {
					cfg.Logger.Info("Secrets engine already mounted at %s", args[0])
					return nil
				}
				return prep.MountSecretsEngine(ctx, args[0], kind, opts)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "type", "kv", "Secrets engine type")
	cmd.Flags().StringArrayVar(&options, "option", nil, "Engine option as key=value (repeatable)")
	return cmd
}

func newCreateTokenCommand(cfg *config.Config) *cobra.Command {
	var (
		policies []string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "create-token",
		Short: "Create a token and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPrep(cmd, cfg, func(ctx context.Context, prep *vaultprep.Prep) error {
				secretAuth, err := prep.CreateToken(ctx, policies, ttl)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), secretAuth.ClientToken)
				return err
			})
		},
	}
	cmd.Flags().StringSliceVar(&policies, "policy", []string{"default"}, "Policies for the token")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token TTL")
	return cmd
}
