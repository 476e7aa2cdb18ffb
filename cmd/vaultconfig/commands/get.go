package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/vaultconfig/internal/config"
	dserrors "github.com/systmms/vaultconfig/internal/errors"
)

func NewGetCommand(cfg *config.Config) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Get a single property value",
		Long: `Resolve properties and print the value of one key.

By default only the raw value is printed, making it suitable for scripting.

Examples:
  vaultconfig get spring.datasource.password
  vaultconfig get vault.value --profile cloud --json

  export DB_PASSWORD=$(vaultconfig get spring.datasource.password)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			ctx := cmd.Context()

			env, err := runBootstrap(ctx, cfg, false, nil)
			if err != nil {
				return err
			}
			defer func() { _ = env.Close(ctx) }()

			value, ok := env.Lookup(key)
			if !ok {
				suggestion := "Check the key name and the active profiles"
				if failures := env.Failures(); failures != nil {
					suggestion = "Some contexts could not be read, re-run with --debug"
				}
				return dserrors.ConfigError{
					Field:      "key",
					Value:      key,
					Message:    fmt.Sprintf("property not found in contexts %v", env.Contexts),
					Suggestion: suggestion,
				}
			}

			out := cmd.OutOrStdout()
			if !jsonOutput {
				_, err := fmt.Fprint(out, value)
				return err
			}

			origin, _ := env.Properties.Origin(key)
			encoder := json.NewEncoder(out)
			encoder.SetIndent("", "  ")
			return encoder.Encode(map[string]interface{}{
				"key":      key,
				"value":    value,
				"origin":   "vault:" + origin,
				"profiles": env.Application.Profiles,
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format with origin")

	return cmd
}
