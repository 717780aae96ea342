package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vadiminshakov/sipbot/config"
	"github.com/vadiminshakov/sipbot/internal/app"
	"github.com/vadiminshakov/sipbot/internal/services/notify"
	"github.com/vadiminshakov/sipbot/internal/setup"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sipbot",
		Short:         "sipbot - LLM-driven SIP trading bot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "config.yaml", "Configuration file path")
	root.PersistentFlags().Bool("debug", false, "Enable debug logging")

	root.AddCommand(newRunCmd())
	root.AddCommand(newCycleCmd())
	root.AddCommand(newSetupCmd())
	root.AddCommand(newVersionCmd())

	return root
}

// newRunCmd starts the scheduler and the control API.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run scheduled cycles and serve the control API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bot, logger, err := bootstrap(ctx, cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer bot.Close()

			if err := bot.Run(ctx); err != nil {
				return err
			}
			logger.Info("sipbot stopped")
			return nil
		},
	}
}

// newCycleCmd runs one manual cycle and prints its report.
func newCycleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Run a single manual cycle and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bot, logger, err := bootstrap(ctx, cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer bot.Close()

			rep, err := bot.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), notify.FormatCycle(rep))
			return nil
		},
	}
}

func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive configuration wizard",
		RunE: func(_ *cobra.Command, _ []string) error {
			return setup.RunTUI()
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sipbot %s\n", version)
		},
	}
}

func bootstrap(ctx context.Context, cmd *cobra.Command) (*app.App, *zap.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	debug, _ := cmd.Flags().GetBool("debug")

	logger, err := newLogger(debug)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	bot, err := app.New(ctx, cfg, version, logger)
	if err != nil {
		return nil, nil, err
	}

	return bot, logger, nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
