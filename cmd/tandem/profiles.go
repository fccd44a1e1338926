package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tandemsync/tandem/internal/config"
)

func init() {
	rootCmd.AddCommand(newProfilesCmd())
}

func newProfilesCmd() *cobra.Command {
	var show string

	profilesCmd := &cobra.Command{
		Use:   "profiles",
		Short: "List profiles, or show one fully resolved",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			if show != "" {
				p, err := loadProfile(cmd, show)
				if err != nil {
					return err
				}
				// the effective profile: defaults filled, paths
				// resolved, mode implications applied
				rendered, err := yaml.Marshal(p)
				if err != nil {
					return err
				}
				fmt.Printf("# %s (%s)\n%s", p.Name, p.Path, rendered)
				return nil
			}

			names, err := config.ListProfiles()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Printf("No profiles in %s. Create one with %s.\n",
					config.DefaultProfilesDir, cyan("tandem init"))
				return nil
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}

	profilesCmd.Flags().StringVar(&show, "show", "", "print this profile with every default resolved")
	return profilesCmd
}
