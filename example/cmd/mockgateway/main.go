// Standalone simulated vehicle gateway for trying the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockgateway --port 8080
//
// Then in another terminal:
//
//	go run ./cmd/vehicleboard serve -c example/config.yaml
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jpalmerr/vehicleboard/internal/gatewaymock"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mockgateway",
	Short: "Run a simulated vehicle gateway",
	RunE:  run,
}

func init() {
	flags := rootCmd.Flags()
	flags.Int("port", 8080, "port to listen on")
	flags.Float64("fuel", 75, "starting fuel level in percent")
	flags.Float64("drain", 1, "fuel consumed per stream update in percent")
	flags.String("vehicle", "demo-vehicle", "vehicle id reported in payloads")
}

func run(cmd *cobra.Command, args []string) error {
	port, _ := cmd.Flags().GetInt("port")
	fuel, _ := cmd.Flags().GetFloat64("fuel")
	drain, _ := cmd.Flags().GetFloat64("drain")
	vehicle, _ := cmd.Flags().GetString("vehicle")

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	gw := gatewaymock.New(
		gatewaymock.WithFuelLevel(fuel),
		gatewaymock.WithDrain(drain),
		gatewaymock.WithVehicleID(vehicle),
		gatewaymock.WithLogger(logger),
	)

	fmt.Printf("Mock vehicle gateway starting on :%d\n", port)
	fmt.Printf("Fuel starts at %.1f%% and drains %.1f%% per stream update\n", fuel, drain)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
