// Package vehicleboard provides an embeddable dashboard backend for
// vehicle telemetry.
//
// VehicleBoard talks to a remote vehicle gateway over HTTP, caches the
// latest value of each telemetry key, and republishes updates to browser
// clients over Server-Sent Events or a WebSocket. It is configured with
// functional options and runs until its context is cancelled.
//
// # Quick Start
//
//	vb, _ := vehicleboard.New(vehicleboard.WithGatewayURL("http://localhost:8080"))
//
//	// Set up graceful shutdown on SIGINT/SIGTERM
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	vb.Start(ctx) // blocks until context is cancelled
//
// # Configuration
//
//	vb, err := vehicleboard.New(
//	    vehicleboard.WithGatewayURL("http://gateway:8080"),
//	    vehicleboard.WithPort(9090),
//	    vehicleboard.WithMaxRetries(5),
//	    vehicleboard.WithFanoutMode(vehicleboard.FanoutBroadcast),
//	    vehicleboard.WithPollInterval(30 * time.Second),
//	)
//
// # Value Extractors
//
// Extractors turn a gateway payload into the display value kept in the
// cache:
//
//   - [JSONFieldExtractor]: reads a JSON field using dot notation, with an optional suffix
//   - [RegexExtractor]: returns the first capture group of a pattern
//   - [FirstMatch]: tries multiple extractors in order
//   - [DefaultFuelExtractor] and [DefaultHeadlightExtractor]: the built-in defaults
//
// Replace one with [WithValueExtractor].
//
// # Event Delivery
//
// In [FanoutQueue] mode all subscribers share one queue, so each event is
// delivered to exactly one of them. [FanoutBroadcast] delivers every event
// to every subscriber connected when it was published.
//
// # Architecture
//
// VehicleBoard consists of several internal packages (under internal/):
//
//   - internal/gateway: Retrying HTTP client and event-stream decoder for the vehicle gateway
//   - internal/store: Shared data cache of the latest record per key
//   - internal/events: Event queue, fan-out bus and keepalive feed
//   - internal/stream: Background stream tasks, one per telemetry key
//   - internal/telemetry: One-shot requests and headlight control
//   - internal/poller: Optional periodic refresh with a worker pool
//   - internal/server: HTTP server with REST API, Server-Sent Events and WebSocket
//   - dashboard: Embedded web UI assets
//
// The internal packages are not part of the public API and may change
// without notice.
package vehicleboard
