package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tandemsync/tandem/internal/engine"
	"github.com/tandemsync/tandem/internal/version"
)

func init() {
	rootCmd.AddCommand(newWatchCmd())
}

func newWatchCmd() *cobra.Command {
	watchCmd := &cobra.Command{
		Use:   "watch <profile>",
		Short: "Sync continuously on filesystem changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			p, err := loadProfile(cmd, args[0])
			if err != nil {
				return err
			}
			// there is nobody to answer prompts once watching starts
			if !p.Auto {
				return fmt.Errorf("watch needs a prompt-free profile: set auto or batch, or pass --auto")
			}
			if !p.Silent {
				showHeader(p)
			}

			slog.Info("tandem", "version", version.Version, "revision", version.Revision, "build", version.BuildDate)

			e := engine.New(p, engine.WithStateRoot(stateDir(cmd)))
			if err := e.Open(); err != nil {
				return err
			}
			defer e.Close()

			defer slog.Info("Bye!")
			if err := e.Watch(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("watch", "error", err)
				return err
			}
			return nil
		},
	}

	watchCmd.Flags().SortFlags = false
	watchCmd.Flags().BoolP("auto", "a", false, "apply non-conflicting changes without asking")
	watchCmd.Flags().BoolP("batch", "b", false, "never prompt, skip anything that would ask")
	watchCmd.Flags().String("prefer", "", "conflict winner: newer, older or a root path")
	watchCmd.Flags().Int("threads", 0, "parallel file transfers (0 = NumCPU)")
	return watchCmd
}
