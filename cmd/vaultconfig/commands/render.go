package commands

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/systmms/vaultconfig/internal/config"
	dserrors "github.com/systmms/vaultconfig/internal/errors"
	"github.com/systmms/vaultconfig/internal/render"
)

func NewRenderCommand(cfg *config.Config) *cobra.Command {
	var (
		outputPath   string
		format       string
		templatePath string
		permissions  string
	)

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render resolved properties to a file",
		Long: `Resolve properties and write them in a format an application reads.

Formats:
  properties  Java properties (default)
  yaml        nested YAML, dotted keys become mappings
  json        flat JSON object
  dotenv      KEY=value with keys converted to environment variable names
  template    Go text/template with get, getOr, has, json, base64encode,
              base64decode, indent, sha256, envName, upper and lower

The format is detected from the output file extension when --format is not
given. Without --out the result is printed.

Examples:
  vaultconfig render --out config/application.properties
  vaultconfig render --out .env
  vaultconfig render --template nginx.conf.tmpl --out /etc/nginx/conf.d/app.conf`,
		RunE: func(cmd *cobra.Command, args []string) error {
			perms, err := parsePermissions(permissions)
			if err != nil {
				return err
			}

			var body string
			if templatePath != "" {
				raw, err := os.ReadFile(templatePath)
				if err != nil {
					return dserrors.UserError{
						Message:    "Failed to read template",
						Details:    err.Error(),
						Suggestion: "Check the --template path",
						Err:        err,
					}
				}
				body = string(raw)
				if format == "" {
					format = render.FormatTemplate
				}
			}
			if format == render.FormatTemplate && body == "" {
				return dserrors.UserError{
					Message:    "Template format requires a template",
					Suggestion: "Pass --template <file>",
				}
			}

			ctx := cmd.Context()
			env, err := runBootstrap(ctx, cfg, false, nil)
			if err != nil {
				return err
			}
			defer func() { _ = env.Close(ctx) }()

			renderer := render.New(cfg.Logger)
			opts := render.Options{
				Format:      format,
				Properties:  env.Map(),
				OutputPath:  outputPath,
				Template:    body,
				Permissions: perms,
			}

			if outputPath == "" {
				if opts.Format == "" {
					opts.Format = render.FormatProperties
				}
				content, err := renderer.Bytes(opts)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(content)
				return err
			}
			return renderer.Render(opts)
		},
	}

	cmd.Flags().StringVarP(&outputPath, "out", "o", "", "Output file path (default: stdout)")
	cmd.Flags().StringVarP(&format, "format", "f", "", "Output format: "+strings.Join(render.Formats, ", "))
	cmd.Flags().StringVar(&templatePath, "template", "", "Template file for the template format")
	cmd.Flags().StringVar(&permissions, "permissions", "0600", "File permissions in octal")

	return cmd
}

func parsePermissions(s string) (os.FileMode, error) {
	if s == "" {
		return 0o600, nil
	}
	perm, err := strconv.ParseUint(s, 8, 32)
	if err != nil || perm > 0o777 {
		return 0, fmt.Errorf("invalid permissions format %q, use octal like '0644'", s)
	}
	return os.FileMode(perm), nil
}
