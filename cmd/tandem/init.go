package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tandemsync/tandem/internal/config"
	"github.com/tandemsync/tandem/internal/utils"
)

const profileTemplate = `# tandem sync profile
roots:
  - %s
  - %s

# auto applies non-conflicting changes without asking.
# batch additionally skips anything that would need a prompt.
auto: false
batch: false

# conflict winner: newer, older, or one of the roots. Empty keeps both
# copies and renames the losing one to *.conflict.*.
prefer: ""

# keep overwritten and deleted files under the state dir
backup: true
max_backups: 5

# skipped paths, one rule per line: Name <glob>, Path <glob>, Regex <re>
ignore:
  - Name *.swp
  - Name .DS_Store
`

func init() {
	rootCmd.AddCommand(newInitCmd())
}

func newInitCmd() *cobra.Command {
	initCmd := &cobra.Command{
		Use:   "init <name> <alpha> <beta>",
		Short: "Create a starter profile for a pair of roots",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			name, alpha, beta := args[0], args[1], args[2]

			path := filepath.Join(config.DefaultProfilesDir, name+".yaml")
			if utils.FileExists(path) {
				return fmt.Errorf("profile %q already exists at %s", name, path)
			}

			alphaAbs, err := utils.ResolvePath(alpha)
			if err != nil {
				return err
			}
			betaAbs, err := utils.ResolvePath(beta)
			if err != nil {
				return err
			}
			for _, root := range []string{alphaAbs, betaAbs} {
				switch {
				case !utils.DirExists(root):
					fmt.Printf("%s root does not exist yet: %s\n", yellow("note:"), root)
				case !utils.IsWritable(root):
					fmt.Printf("%s root is not writable: %s\n", yellow("note:"), root)
				}
			}

			if err := utils.EnsureParent(path); err != nil {
				return err
			}
			content := fmt.Sprintf(profileTemplate, alphaAbs, betaAbs)
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return err
			}

			fmt.Printf("Profile created\n")
			fmt.Printf("  Path:  %s\n", green(path))
			fmt.Printf("  Alpha: %s\n", cyan(alphaAbs))
			fmt.Printf("  Beta:  %s\n", cyan(betaAbs))
			fmt.Printf("\nRun %s to see what the first sync would do.\n", cyan("tandem "+name+" --dry-run"))
			return nil
		},
	}
	return initCmd
}
