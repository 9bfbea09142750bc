package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate shell completion script for coordkit.

To load completions for your shell:

Bash:
  # To load completions for each session, execute once:
  # Linux:
  coordkit completion bash > /etc/bash_completion.d/coordkit
  # macOS:
  coordkit completion bash > /usr/local/etc/bash_completion.d/coordkit

  # Or add to your ~/.bashrc or ~/.bash_profile:
  source <(coordkit completion bash)

Zsh:
  # To load completions for each session, execute once:
  coordkit completion zsh > "${fpath[1]}/_coordkit"

  # Or add to your ~/.zshrc:
  source <(coordkit completion zsh)

  # You may need to force rebuild the completion cache:
  rm -f ~/.zcompdump
  compinit

Fish:
  # To load completions for each session, execute once:
  coordkit completion fish > ~/.config/fish/completions/coordkit.fish

  # Or add to your ~/.config/fish/config.fish:
  coordkit completion fish | source

PowerShell:
  # To load completions for each session, run:
  coordkit completion powershell | Out-String | Invoke-Expression

  # Or add to your PowerShell profile:
  # (Microsoft.PowerShell_profile.ps1 or profile.ps1)
  coordkit completion powershell | Out-String | Invoke-Expression`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		shell := args[0]

		var err error
		switch shell {
		case "bash":
			err = cmd.Root().GenBashCompletion(os.Stdout)
		case "zsh":
			err = cmd.Root().GenZshCompletion(os.Stdout)
		case "fish":
			err = cmd.Root().GenFishCompletion(os.Stdout, true)
		case "powershell":
			err = cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
		default:
			err = fmt.Errorf("unsupported shell type: %s", shell)
		}

		if err != nil {
			return fmt.Errorf("generate completion for %s: %w", shell, err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}
