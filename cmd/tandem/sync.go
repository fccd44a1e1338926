package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tandemsync/tandem/internal/config"
	"github.com/tandemsync/tandem/internal/engine"
)

func init() {
	rootCmd.Args = cobra.MaximumNArgs(2)
	rootCmd.RunE = runSync

	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().BoolP("dry-run", "n", false, "plan only, change nothing")
	rootCmd.Flags().Bool("json", false, "print the full run report as JSON")
	rootCmd.Flags().BoolP("yes", "y", false, "answer yes to every prompt")
	rootCmd.Flags().Bool("force-bigdel", false, "run plans the big-delete guard would refuse")
	rootCmd.Flags().BoolP("auto", "a", false, "apply non-conflicting changes without asking")
	rootCmd.Flags().BoolP("batch", "b", false, "never prompt, skip anything that would ask")
	rootCmd.Flags().Bool("silent", false, "warnings and summary only")
	rootCmd.Flags().String("prefer", "", "conflict winner: newer, older or a root path")
	rootCmd.Flags().String("force", "", "mirror this root onto the other, no questions")
	rootCmd.Flags().StringArray("ignore", nil, "extra ignore rule, e.g. 'Name *.tmp' (repeatable)")
	rootCmd.Flags().Bool("backup", true, "keep replaced and deleted content")
	rootCmd.Flags().Int("max-backups", 0, "retained versions per path")
	rootCmd.Flags().Int("retry", 0, "extra attempts for transient action failures")
	rootCmd.Flags().Duration("io-timeout", 0, "per-attempt I/O deadline")
	rootCmd.Flags().Int("threads", 0, "parallel file transfers (0 = NumCPU)")
	rootCmd.Flags().Bool("times", true, "propagate modification times")
	rootCmd.Flags().Bool("perms", false, "propagate permission bits")
}

// runSync is the root command: one reconciliation pass over a named
// profile, or over two roots given directly.
func runSync(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return cmd.Help()
	}
	cmd.SilenceUsage = true

	var p *config.Profile
	var err error
	if len(args) == 2 {
		p, err = adhocProfile(cmd, args[0], args[1])
	} else {
		p, err = loadProfile(cmd, args[0])
	}
	if err != nil {
		return err
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	jsonOut, _ := cmd.Flags().GetBool("json")
	yes, _ := cmd.Flags().GetBool("yes")
	if forceBigDel, _ := cmd.Flags().GetBool("force-bigdel"); forceBigDel {
		p.ConfirmBigDel = false
	}

	if !p.Silent && !jsonOut {
		showHeader(p)
	}

	opts := []engine.Option{
		engine.WithStateRoot(stateDir(cmd)),
		engine.WithDryRun(dryRun),
	}
	if yes {
		opts = append(opts, engine.WithConfirm(func(string) bool { return true }))
	} else if !p.Batch {
		opts = append(opts, engine.WithConfirm(promptYesNo))
	}

	e := engine.New(p, opts...)
	if err := e.Open(); err != nil {
		return err
	}
	defer e.Close()

	report, runErr := e.Sync(cmd.Context())
	if report != nil {
		printReport(report, p, jsonOut)
		exitCode = report.ExitCode()
	}
	if runErr != nil {
		if errors.Is(runErr, engine.ErrAborted) || errors.Is(runErr, engine.ErrBigDelete) {
			fmt.Println(yellow("sync aborted: " + runErr.Error()))
			exitCode = 1
			return nil
		}
		return runErr
	}
	return nil
}

// adhocProfile builds a one-off profile for `tandem <alpha> <beta>`:
// defaults plus whatever flags were set, no profile file involved.
func adhocProfile(cmd *cobra.Command, alpha, beta string) (*config.Profile, error) {
	v := viper.New()
	config.SetDefaults(v)
	v.Set("roots", []string{alpha, beta})
	if err := bindProfileFlags(cmd, v); err != nil {
		return nil, err
	}

	p, err := config.LoadProfile(v)
	if err != nil {
		return nil, err
	}
	p.Name = "adhoc"
	return p, nil
}

func printReport(report *engine.Report, p *config.Profile, jsonOut bool) {
	if jsonOut {
		raw, err := report.JSON()
		if err != nil {
			fmt.Println(red("report encode: " + err.Error()))
			return
		}
		fmt.Println(string(raw))
		return
	}

	if report.DryRun {
		if !p.Silent {
			for _, a := range report.Actions {
				fmt.Printf("  %-14s %s  (%s)\n", a.Op, a.Path, a.Reason)
			}
		}
		fmt.Printf("%s %s\n", yellow("planned:"), report.Summary())
		return
	}

	for _, c := range report.Conflicts {
		fmt.Printf("  %s %s (%s)\n", red("conflict:"), c.Path, c.Resolution)
	}
	for _, se := range report.ScanErrors {
		fmt.Printf("  %s %s\n", red("scan:"), se)
	}

	switch report.Status {
	case engine.StatusClean:
		fmt.Printf("%s %s\n", green("done:"), report.Summary())
	default:
		fmt.Printf("%s %s\n", yellow(report.Status+":"), report.Summary())
	}
}
