package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"quakenotify/pkg/failure"
	"quakenotify/pkg/gateway"
	"quakenotify/pkg/logger"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:     "run",
	Aliases: []string{"gateway"},
	Short:   "Run the alert dispatcher",
	Long:    "Consumes envelopes from the configured source and delivers alerts on every enabled channel until TERM or a signal arrives.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		appLogger, closer, err := logger.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		defer closer.Close()
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.run")

		svc, err := gateway.Build(cfg, log)
		if err != nil {
			log.Error("Dispatcher configuration invalid", "error", err, "category", failure.CategoryFromError(err))
			return err
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info("Dispatcher starting", "channels", strings.Join(cfg.EnabledChannels(), ","), "source", cfg.Source.Type)
		if err := svc.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Dispatcher runtime failed", "error", err)
			return err
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
