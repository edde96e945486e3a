/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"
	"strings"

	"quakenotify/pkg/config"

	"github.com/spf13/cobra"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "quakenotify",
	Short: "Fan out seismograph alarms to push notification channels",
	Long: `quakenotify consumes ALARM, IMGPATH and TERM envelopes from a local
seismograph pipeline, estimates the shaking intensity at the observer and
delivers alerts to every enabled channel.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $QUAKENOTIFY_CONFIG, then ./config.json or ./config.yaml)")
}

func loadConfig() (*config.Config, error) {
	if path := strings.TrimSpace(configPath); path != "" {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		return cfg, nil
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
