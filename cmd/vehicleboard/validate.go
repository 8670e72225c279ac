package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

// validateCmd validates a config file without starting the server.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a VehicleBoard configuration file without starting the server.

This command parses the YAML, expands environment variables, applies flag
and environment overrides, and validates all fields. It's useful for CI/CD
pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  vehicleboard validate -c config.yaml
  vehicleboard validate --config /etc/vehicleboard/config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	if configFile, _ := cmd.Flags().GetString("config"); configFile == "" {
		return fmt.Errorf("a config file is required (-c)")
	}

	cfg, err := loadSettings(cmd)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	poll := "disabled"
	if d := cfg.Poll.Interval.Duration(); d > 0 {
		poll = d.String()
	}

	extractors := make([]string, 0, len(cfg.Extractors))
	for key, ec := range cfg.Extractors {
		kind := ec.Type
		if kind == "" {
			kind = "default"
		}
		extractors = append(extractors, key+"="+kind)
	}
	sort.Strings(extractors)

	fmt.Printf("Config is valid!\n")
	fmt.Printf("  Port:          %d\n", cfg.Port)
	fmt.Printf("  Gateway:       %s\n", cfg.Gateway.URL)
	fmt.Printf("  Retries:       %d every %s\n", cfg.Gateway.MaxRetries, cfg.Gateway.RetryDelay.Duration())
	fmt.Printf("  Fanout:        %s\n", cfg.Feed.Fanout)
	fmt.Printf("  Stream:        every %ds, %d updates\n", cfg.Stream.Interval, cfg.Stream.MaxUpdates)
	fmt.Printf("  Poll interval: %s\n", poll)
	if len(extractors) > 0 {
		fmt.Printf("  Extractors:    %v\n", extractors)
	}

	return nil
}
