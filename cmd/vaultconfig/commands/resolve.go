package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/vaultconfig/internal/config"
	"github.com/systmms/vaultconfig/internal/render"
)

func NewResolveCommand(cfg *config.Config) *cobra.Command {
	var (
		format     string
		showOrigin bool
		keysOnly   bool
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve and print all properties",
		Long: `Log in to Vault, read every context for the application and active
profiles, and print the merged properties.

Contexts are read from most to least specific: application/profile,
application, then the default context. A key in a more specific context
wins.

Examples:
  # Print properties for the active profiles
  vaultconfig resolve

  # Show which context supplied each key
  vaultconfig resolve --profile cloud --show-origin

  # Nested YAML
  vaultconfig resolve --format yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := runBootstrap(ctx, cfg, false, nil)
			if err != nil {
				return err
			}
			defer func() { _ = env.Close(ctx) }()

			out := cmd.OutOrStdout()
			cfg.Logger.Debug("Contexts: %v", env.Contexts)

			if showOrigin || keysOnly {
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				if showOrigin {
					_, _ = fmt.Fprintln(w, "KEY\tORIGIN")
				}
				for _, key := range env.Properties.Keys() {
					if !showOrigin {
						_, _ = fmt.Fprintln(w, key)
						continue
					}
					origin, _ := env.Properties.Origin(key)
					_, _ = fmt.Fprintf(w, "%s\tvault:%s\n", key, origin)
				}
				return w.Flush()
			}

			content, err := render.New(cfg.Logger).Bytes(render.Options{
				Format:     format,
				Properties: env.Map(),
			})
			if err != nil {
				return err
			}
			_, err = out.Write(content)
			return err
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", render.FormatProperties, "Output format: properties, yaml, json, dotenv")
	cmd.Flags().BoolVar(&showOrigin, "show-origin", false, "Show the context each key came from instead of values")
	cmd.Flags().BoolVar(&keysOnly, "keys-only", false, "Print keys without values")

	return cmd
}
