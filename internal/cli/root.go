package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/datallboy/packman/internal/app"
	"github.com/datallboy/packman/internal/infra/config"
	"github.com/datallboy/packman/internal/infra/logger"
	"github.com/spf13/cobra"
)

// RootOpts holds global CLI options.
type RootOpts struct {
	Config   string
	LogLevel string
}

// Execute runs the CLI with the given version string.
func Execute(version string) error {
	ro := &RootOpts{}
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	root := &cobra.Command{
		Use:           "packman",
		Short:         "Download, verify and install offline content packs",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	root.PersistentFlags().StringVar(&ro.Config, "config", "config.yaml", "Path to config file")
	root.PersistentFlags().StringVar(&ro.LogLevel, "log-level", "", "Override log.level: debug, info, warn, error")

	root.AddCommand(
		newServeCmd(ro),
		newListCmd(ro),
		newInstallCmd(ro),
		newResumeCmd(ro),
		newCancelCmd(ro),
		newRemoveCmd(ro),
		newCheckUpdatesCmd(ro),
		newHistoryCmd(ro),
	)
	root.SetHelpCommand(&cobra.Command{Use: "help", Hidden: true})

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

// bootstrap loads the config, opens the app and refreshes the catalog.
// Logs only go to stdout for the server so they do not fight the progress bar.
func bootstrap(ctx context.Context, ro *RootOpts, server bool) (*app.Context, error) {
	cfg, err := config.Load(ro.Config)
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if ro.LogLevel != "" {
		level = ro.LogLevel
	}

	log, err := logger.New(cfg.Log.Path, logger.ParseLevel(level), server && cfg.Log.IncludeStdout)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	a, err := app.NewContext(cfg, log)
	if err != nil {
		return nil, err
	}

	if err := a.LoadCatalog(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// withApp runs fn against a bootstrapped app and always closes it.
func withApp(ctx context.Context, ro *RootOpts, fn func(a *app.Context) error) error {
	a, err := bootstrap(ctx, ro, false)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(a)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
