// Package main is the entry point for the vehicleboard CLI.
//
// VehicleBoard can be run either as a library (SDK) or as a standalone binary
// with YAML configuration. This CLI provides the standalone binary approach.
//
// Usage:
//
//	vehicleboard serve                    # Start with defaults
//	vehicleboard serve -c config.yaml     # Start the dashboard
//	vehicleboard validate -c config.yaml  # Validate configuration
//	vehicleboard version                  # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "vehicleboard",
	Short: "A live telemetry dashboard for a connected vehicle",
	Long: `VehicleBoard is a real-time telemetry dashboard for a connected vehicle.

It talks to a vehicle gateway over HTTP, caches the latest fuel level and
headlight state, relays live fuel streams, and pushes every update to the
browser with Server-Sent Events.

Quick start:
  1. Point it at a gateway: export VEHICLE_GATEWAY_URL=http://localhost:8080
  2. Run: vehicleboard serve
  3. Open http://localhost:5000 in your browser

Example config:
  port: 5000
  gateway:
    url: http://localhost:8080
  feed:
    fanout: broadcast
  poll:
    interval: 30s`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this vehicleboard binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("vehicleboard %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "path to config file")
	flags.String("gateway-url", "", "vehicle gateway base URL (env VEHICLE_GATEWAY_URL)")
	flags.Int("port", 0, "dashboard HTTP port (env PORT)")
	flags.String("log-level", "", "log level: debug, info, warn, error (env LOG_LEVEL)")
}
