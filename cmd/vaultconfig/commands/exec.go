package commands

import (
	"github.com/spf13/cobra"

	"github.com/systmms/vaultconfig/internal/config"
	"github.com/systmms/vaultconfig/internal/execenv"
)

func NewExecCommand(cfg *config.Config) *cobra.Command {
	var (
		allowOverride bool
		printVars     bool
		workingDir    string
		timeout       int
	)

	cmd := &cobra.Command{
		Use:   "exec -- <command> [args...]",
		Short: "Run a command with resolved properties in its environment",
		Long: `Resolve properties and run a command with them as environment variables.

Keys are converted the way dotenv rendering does it: upper case, with dots,
dashes and list brackets turned into underscores. spring.datasource.url
becomes SPRING_DATASOURCE_URL. Values stay encrypted in memory until the
child environment is built.

Examples:
  vaultconfig exec -- java -jar app.jar
  vaultconfig exec --profile cloud --print -- ./server`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := execenv.ValidateCommand(args); err != nil {
				cfg.Logger.Warn("%v", err)
			}

			ctx := cmd.Context()
			env, err := runBootstrap(ctx, cfg, true, nil)
			if err != nil {
				return err
			}
			defer func() { _ = env.Close(ctx) }()

			display, sealed, err := execenv.SealEnvironment(env.Map())
			if err != nil {
				return err
			}
			defer execenv.DestroyEnvironment(sealed)

			executor := execenv.New(cfg.Logger)
			return executor.Exec(ctx, execenv.ExecOptions{
				Command:           args,
				Environment:       display,
				SecureEnvironment: sealed,
				AllowOverride:     allowOverride,
				PrintVars:         printVars,
				WorkingDir:        workingDir,
				Timeout:           timeout,
				Stdin:             cmd.InOrStdin(),
				Stdout:            cmd.OutOrStdout(),
				Stderr:            cmd.ErrOrStderr(),
			})
		},
	}

	cmd.Flags().BoolVar(&allowOverride, "allow-override", false, "Let variables already set in the environment win")
	cmd.Flags().BoolVar(&printVars, "print", false, "Print variable names with masked values")
	cmd.Flags().StringVar(&workingDir, "working-dir", "", "Working directory for the command")
	cmd.Flags().IntVar(&timeout, "timeout", 0, "Timeout in seconds (0 for none)")

	return cmd
}
