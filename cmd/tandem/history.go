package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tandemsync/tandem/internal/config"
	"github.com/tandemsync/tandem/internal/engine"
	"github.com/tandemsync/tandem/internal/pair"
	"github.com/tandemsync/tandem/internal/utils"
)

func init() {
	rootCmd.AddCommand(newHistoryCmd())
}

func newHistoryCmd() *cobra.Command {
	var limit int

	historyCmd := &cobra.Command{
		Use:   "history [profile]",
		Short: "Show recent sync runs, for one profile or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			if len(args) == 1 {
				return printHistory(cmd, args[0], limit, false)
			}

			names, err := config.ListProfiles()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Printf("No profiles in %s.\n", config.DefaultProfilesDir)
				return nil
			}
			for _, name := range names {
				if err := printHistory(cmd, name, limit, true); err != nil {
					fmt.Printf("%s %s: %v\n", red("error:"), name, err)
				}
			}
			return nil
		},
	}

	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to show per profile")
	return historyCmd
}

func printHistory(cmd *cobra.Command, ref string, limit int, headed bool) error {
	p, err := loadProfile(cmd, ref)
	if err != nil {
		return err
	}
	if headed {
		fmt.Printf("%s\n", cyan(p.Name))
	}

	// read-only: no pair lock, so history works while a watch is running
	pr, err := pair.New(stateDir(cmd), p.Alpha(), p.Beta())
	if err != nil {
		return err
	}
	if !utils.FileExists(pr.BaselinePath) {
		fmt.Printf("No runs yet for %s.\n", p.Name)
		return nil
	}
	store, err := engine.OpenBaseline(pr.BaselinePath)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.RecentRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Printf("No runs yet for %s.\n", p.Name)
		return nil
	}

	for _, run := range runs {
		status := run.Status
		switch status {
		case engine.StatusClean:
			status = green(status)
		case engine.StatusConflicts, engine.StatusAborted:
			status = yellow(status)
		default:
			status = red(status)
		}
		fmt.Printf("%-22s %-18s %3d copied %3d deleted %3d conflicts %3d errors  (%s)\n",
			humanize.Time(run.StartedAt), status,
			run.Copied, run.Deleted, run.Conflicts, run.Errors,
			run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	return nil
}
