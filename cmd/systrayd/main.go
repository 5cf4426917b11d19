package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dothq/systray/internal/app"
	"github.com/dothq/systray/internal/config"
	"github.com/dothq/systray/internal/logs"
)

var (
	configFile    string
	logLevel      string
	logToFile     bool
	logDir        string
	callTimeout   time.Duration
	outputFormat  string
	hostID        string
	enableWatcher bool
	trackOwners   bool
	metricsListen string

	version = "v0.1.0" // This will be injected by -ldflags during build
)

func main() {
	rootCmd := newRootCommand()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "systrayd",
		Short:         "StatusNotifierItem watcher and host for the session bus",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDaemon,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "Configuration file path")
	flags.StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	flags.BoolVar(&logToFile, "log-to-file", false, "Enable logging to file in standard OS location")
	flags.StringVar(&logDir, "log-dir", "", "Custom log directory path (overrides standard OS location)")
	flags.DurationVar(&callTimeout, "timeout", 50*time.Millisecond, "Timeout of calls to items and the watcher")
	flags.StringVarP(&outputFormat, "format", "o", config.FormatTable, "Output format (table, json, yaml)")
	flags.StringVar(&hostID, "host-id", "", "Suffix of the host bus name (default: process ID)")
	flags.BoolVar(&enableWatcher, "watcher", true, "Run the embedded watcher (use --watcher=false to join an existing one)")
	flags.BoolVar(&trackOwners, "track-owners", false, "Remove items and hosts whose owner left the bus")
	flags.StringVar(&metricsListen, "metrics-listen", "", "Address of the metrics endpoint, e.g. 127.0.0.1:9464 (disabled if empty)")

	rootCmd.AddCommand(
		newRunCommand(),
		newWatcherCommand(),
		newListCommand(),
		newActivateCommand("activate", "Activate an item, like a left click"),
		newActivateCommand("secondary-activate", "Secondary-activate an item, like a middle click"),
		newActivateCommand("context-menu", "Ask an item to show its context menu"),
		newScrollCommand(),
		newVersionCommand(),
	)

	return rootCmd
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the watcher and a host that prints items as they change",
		Args:  cobra.NoArgs,
		RunE:  runDaemon,
	}
}

func newWatcherCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watcher",
		Short: "Run the watcher only",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, true, func(ctx context.Context, a *app.App) error {
				return a.RunWatcher(ctx)
			})
		},
	}
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List items registered in the watcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, false, func(ctx context.Context, a *app.App) error {
				return a.Print(ctx)
			})
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, true, func(ctx context.Context, a *app.App) error {
		return a.Run(ctx)
	})
}

// withApp loads configuration, sets up logging and runs fn until it returns
// or the process receives SIGINT or SIGTERM.
func withApp(cmd *cobra.Command, daemon bool, fn func(context.Context, *app.App) error) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	var levelOverride string
	if cmd.Flags().Changed("log-level") {
		levelOverride = logLevel
	}

	logger, err := logs.SetupCommandLogger(cfg.Logging, daemon, levelOverride)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if daemon {
		logger.Info("Starting systrayd",
			zap.String("version", version),
			zap.Bool("watcher", cfg.Watcher.Enabled),
			zap.Bool("track_owners", cfg.Watcher.TrackOwners),
			zap.Duration("call_timeout", cfg.Host.CallTimeout),
			zap.String("metrics_listen", cfg.Metrics.Listen))
	}

	a, err := app.New(cfg, logger, app.SessionBus, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := fn(ctx, a); err != nil {
		logger.Error("Command failed", zap.String("command", cmd.Name()), zap.Error(err))
		return err
	}

	if daemon {
		logger.Info("Shutting down")
	}

	return nil
}
