// Package cmd implements the CLI commands for uom.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/uomlabs/uom/internal/config"
	"github.com/uomlabs/uom/internal/version"
)

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "uom",
	Short:   "Sandbox-first file processing orchestrator",
	Version: version.Short(),
	Long: `uom is the unified orchestration monitor: a sandbox-first file
processing service. Every inbound file is triaged, sandbox-analyzed, and
security-assessed before it is routed to a downstream processing service.

Routing decisions come from an LLM-backed decision engine with deterministic
fallback heuristics, and successful routes are learned as reusable processing
patterns.`,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./.uom.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// loadConfig reads configuration and applies explicit CLI flag overrides.
// Priority: CLI flag > env var > config file > default.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	flags := rootCmd.PersistentFlags()
	if flags.Changed("log-level") {
		level, _ := flags.GetString("log-level")
		cfg.Logging.Level = strings.ToLower(level)
	}
	if flags.Changed("log-format") {
		format, _ := flags.GetString("log-format")
		cfg.Logging.Format = strings.ToLower(format)
	}
	if cfg.Logging.Level == "warning" {
		cfg.Logging.Level = "warn"
	}
	return cfg, nil
}
