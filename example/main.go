package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/vehicleboard"
	"github.com/jpalmerr/vehicleboard/internal/gatewaymock"
)

// wholePercentExtractor reports fuel in whole percent, e.g. "79%". Digits
// after the decimal point are dropped, not rounded.
func wholePercentExtractor() vehicleboard.ValueExtractor {
	digits := vehicleboard.MustRegexExtractor(`"level_percent":\s*(\d+)`)
	return func(payload []byte) (string, error) {
		v, err := digits(payload)
		if err != nil {
			return "", err
		}
		return v + "%", nil
	}
}

func main() {
	// in-process simulated vehicle, draining 0.5% per stream update
	gw := gatewaymock.New(
		gatewaymock.WithFuelLevel(80),
		gatewaymock.WithDrain(0.5),
	)
	gatewayServer := httptest.NewServer(gw.Handler())
	defer gatewayServer.Close()

	vb, err := vehicleboard.New(
		vehicleboard.WithGatewayURL(gatewayServer.URL),
		vehicleboard.WithPort(5000),
		vehicleboard.WithTitle("Demo Vehicle"),
		vehicleboard.WithFanoutMode(vehicleboard.FanoutBroadcast),
		vehicleboard.WithPollInterval(10*time.Second),
		vehicleboard.WithStreamDefaults(1, 30),
		vehicleboard.WithValueExtractor("fuel_level", wholePercentExtractor()),
	)
	if err != nil {
		slog.Error("failed to create vehicleboard", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════════════════╗")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   VehicleBoard Demo                                   ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Open http://localhost:5000 in your browser          ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Simulated gateway:                                  ║")
	fmt.Println("  ║   • fuel starts at 80%, drains 0.5% per update        ║")
	fmt.Println("  ║   • polled every 10s, streams 30 updates at 1s        ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Press Ctrl+C to stop                                ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ╚═══════════════════════════════════════════════════════╝")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := vb.Start(ctx); err != nil {
		slog.Error("vehicleboard error", "error", err)
		os.Exit(1)
	}
}
