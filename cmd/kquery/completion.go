package main

import (
	"os"

	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for kquery.

To load completions:

Bash:
  $ source <(kquery completion bash)
  # Or, to load completions for each session:
  $ kquery completion bash > ~/.bash_completion.d/kquery

Zsh:
  # If shell completion is not already enabled in your environment:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  $ source <(kquery completion zsh)
  # Or, to load completions for each session:
  $ kquery completion zsh > "${fpath[1]}/_kquery"

Fish:
  $ kquery completion fish | source
  # Or, to load completions for each session:
  $ kquery completion fish > ~/.config/fish/completions/kquery.fish
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	Run: func(cmd *cobra.Command, args []string) {
		switch args[0] {
		case "bash":
			_ = cmd.Root().GenBashCompletionV2(os.Stdout, true)
		case "zsh":
			_ = cmd.Root().GenZshCompletion(os.Stdout)
		case "fish":
			_ = cmd.Root().GenFishCompletion(os.Stdout, true)
		}
	},
}
