package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tandemsync/tandem/internal/config"
	"github.com/tandemsync/tandem/internal/utils"
	"github.com/tandemsync/tandem/internal/version"
)

var (
	home, _        = os.UserHomeDir()
	defaultLogFile = filepath.Join(home, ".tandem", "logs", "tandem.log")
)

var (
	red    = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green  = color.New(color.FgHiGreen).SprintFunc()
	cyan   = color.New(color.FgHiCyan).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
)

// exitCode carries the process exit status out of RunE: 0 clean, 2 when
// a run finished with conflicts or action errors. Hard failures exit 1
// through cobra's error path.
var exitCode int

var logLevel = new(slog.LevelVar)

var rootCmd = &cobra.Command{
	Use:     "tandem",
	Short:   "Tandem two-way file synchronizer",
	Long:    "Tandem reconciles two directory trees against a shared baseline,\npropagating one-sided changes and surfacing true conflicts.",
	Version: version.Detailed(),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			logLevel.Set(slog.LevelDebug)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("debug", false, "verbose logging")
	rootCmd.PersistentFlags().String("state-dir", config.DefaultStateDir, "where baselines, backups and locks live")
}

func main() {
	setupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
	os.Exit(exitCode)
}

func setupLogging() {
	stderrHandler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      logLevel,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})

	handlers := []slog.Handler{stderrHandler}
	if file := openLogFile(); file != nil {
		logInterceptor := utils.NewLogInterceptor(file)
		fileHandler := slog.NewTextHandler(logInterceptor, &slog.HandlerOptions{
			Level: slog.LevelDebug,
			// Do not include time as it is added by the log interceptor.
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey && len(groups) == 0 {
					return slog.Attr{}
				}
				return a
			},
		})
		handlers = append(handlers, fileHandler)
	}

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(handlers...)))
}

func openLogFile() *os.File {
	if err := os.MkdirAll(filepath.Dir(defaultLogFile), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create log directory: %v\n", err)
		return nil
	}
	file, err := os.OpenFile(defaultLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		return nil
	}
	return file
}

// profileFlagKeys maps CLI flag names to profile keys so explicitly set
// flags override the profile file.
var profileFlagKeys = map[string]string{
	"auto":        "auto",
	"batch":       "batch",
	"silent":      "silent",
	"prefer":      "prefer",
	"force":       "force",
	"ignore":      "ignore",
	"backup":      "backup",
	"max-backups": "max_backups",
	"retry":       "retry",
	"io-timeout":  "io_timeout",
	"threads":     "max_threads",
	"times":       "times",
	"perms":       "perms",
}

func bindProfileFlags(cmd *cobra.Command, v *viper.Viper) error {
	for flagKey, profileKey := range profileFlagKeys {
		if flag := cmd.Flags().Lookup(flagKey); flag != nil && flag.Changed {
			if err := v.BindPFlag(profileKey, flag); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadProfile assembles the effective profile for a subcommand:
// flags > env > profile file > defaults.
func loadProfile(cmd *cobra.Command, ref string) (*config.Profile, error) {
	path, err := config.FindProfile(ref)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	config.SetDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("profile read '%s': %w", path, err)
	}
	if err := bindProfileFlags(cmd, v); err != nil {
		return nil, err
	}

	v.SetEnvPrefix("TANDEM")
	v.AutomaticEnv()

	p, err := config.LoadProfile(v)
	if err != nil {
		return nil, fmt.Errorf("profile '%s': %w", ref, err)
	}
	if p.Silent {
		logLevel.Set(slog.LevelWarn)
	}
	return p, nil
}

func stateDir(cmd *cobra.Command) string {
	dir, _ := cmd.Flags().GetString("state-dir")
	if dir == "" {
		return config.DefaultStateDir
	}
	return dir
}

// promptYesNo asks on the terminal and defaults to no. Non-interactive
// runs never block: without a terminal the answer is always no.
func promptYesNo(prompt string) bool {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return false
	}
	fmt.Printf("%s [y/N] ", prompt)
	var answer string
	_, _ = fmt.Scanln(&answer)
	return answer == "y" || answer == "Y" || answer == "yes"
}

func showHeader(p *config.Profile) {
	fmt.Printf("%s %s\n", color.New(color.FgHiCyan, color.Bold).Sprint("tandem"), version.Short())
	fmt.Printf("  profile: %s\n", green(p.Name))
	fmt.Printf("  alpha:   %s\n", cyan(p.Alpha()))
	fmt.Printf("  beta:    %s\n", cyan(p.Beta()))
}
