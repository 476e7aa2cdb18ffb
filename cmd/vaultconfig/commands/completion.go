package commands

import (
	"github.com/spf13/cobra"

	"github.com/systmms/vaultconfig/internal/config"
)

// NewCompletionCommand creates the completion command for generating shell completions
func NewCompletionCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for vaultconfig.

To load completions:

Bash:
  $ source <(vaultconfig completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ vaultconfig completion bash > /etc/bash_completion.d/vaultconfig
  # macOS:
  $ vaultconfig completion bash > $(brew --prefix)/etc/bash_completion.d/vaultconfig

Zsh:
  $ vaultconfig completion zsh > "${fpath[1]}/_vaultconfig"

Fish:
  $ vaultconfig completion fish > ~/.config/fish/completions/vaultconfig.fish

PowerShell:
  PS> vaultconfig completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}

	return cmd
}
