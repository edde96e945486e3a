package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"quakenotify/pkg/gateway"
	"quakenotify/pkg/logger"
	"quakenotify/pkg/severity"

	"github.com/spf13/cobra"
)

var (
	estimateAt   string
	estimateJSON bool
)

type estimateOutput struct {
	Resolved  bool    `json:"resolved"`
	Intensity float64 `json:"intensity"`
	Shindo    string  `json:"shindo"`
	Message   string  `json:"message"`
}

// estimateCmd queries the early-warning feed once for the configured observer.
var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimate the intensity at the observer from the early-warning feed",
	Long:  "Queries the early-warning feed the same way an ALARM does and prints the estimated intensity at the configured observer.",
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
		log := appLogger.With("component", "cmd.estimate")

		var opts []severity.Option
		if strings.TrimSpace(estimateAt) != "" {
			at, err := parseAt(estimateAt)
			if err != nil {
				return err
			}
			opts = append(opts, severity.WithClock(func() time.Time { return at }))
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		est := gateway.NewEstimator(cfg, log, opts...).Estimate(ctx)
		return printEstimate(cmd.OutOrStdout(), est, estimateJSON)
	},
}

func init() {
	rootCmd.AddCommand(estimateCmd)
	estimateCmd.Flags().StringVar(&estimateAt, "at", "", "query the feed as of this time (RFC3339 or epoch seconds)")
	estimateCmd.Flags().BoolVar(&estimateJSON, "json", false, "print the estimate as JSON")
}

// parseAt accepts RFC3339 timestamps or epoch seconds with optional fraction.
func parseAt(input string) (time.Time, error) {
	value := strings.TrimSpace(input)
	if at, err := time.Parse(time.RFC3339, value); err == nil {
		return at, nil
	}

	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want RFC3339 or epoch seconds", input)
	}

	return time.Unix(0, int64(seconds*float64(time.Second))).UTC(), nil
}

func printEstimate(out io.Writer, est severity.Estimate, asJSON bool) error {
	if !asJSON {
		_, err := fmt.Fprintln(out, est.Message)
		return err
	}

	encoder := json.NewEncoder(out)
	encoder.SetEscapeHTML(false)
	return encoder.Encode(estimateOutput{
		Resolved:  est.Resolved,
		Intensity: est.Intensity,
		Shindo:    est.Shindo.Label(),
		Message:   est.Message,
	})
}
