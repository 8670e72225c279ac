package vehicleboard

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/jpalmerr/vehicleboard/dashboard"
	"github.com/jpalmerr/vehicleboard/internal/events"
	"github.com/jpalmerr/vehicleboard/internal/gateway"
	"github.com/jpalmerr/vehicleboard/internal/poller"
	"github.com/jpalmerr/vehicleboard/internal/server"
	"github.com/jpalmerr/vehicleboard/internal/store"
	"github.com/jpalmerr/vehicleboard/internal/stream"
	"github.com/jpalmerr/vehicleboard/internal/telemetry"
)

const (
	defaultGatewayURL       = "http://localhost:8080"
	defaultPort             = 5000
	defaultStreamInterval   = 2
	defaultStreamMaxUpdates = 10
	defaultMaxConcurrency   = 2

	// taskShutdownTimeout bounds the wait for stream tasks on exit.
	taskShutdownTimeout = 5 * time.Second
)

// VehicleBoard is the main orchestrator for vehicle telemetry and dashboard
// serving.
//
// VehicleBoard wires a gateway client, the shared data cache, the stream
// controller and the event feed together, and serves the dashboard and its
// API over HTTP. It is created using [New] with functional options and
// started with [VehicleBoard.Start].
//
// The typical lifecycle is:
//
//	vb, err := vehicleboard.New(vehicleboard.WithGatewayURL("http://localhost:8080"))
//	if err != nil {
//	    slog.Error("failed to create vehicleboard", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	vb.Start(ctx) // blocks until context cancelled
type VehicleBoard struct {
	cfg    vbConfig
	logger *slog.Logger

	mu    sync.Mutex
	addr  net.Addr
	ready chan struct{} // closed once the current run is listening
}

// New creates a new [VehicleBoard] instance with the given options.
//
// Every option has a default:
//   - Gateway URL: http://localhost:8080
//   - Port: 5000
//   - Request timeout 10s, 3 attempts, 1s between attempts
//   - Keepalive: 1s
//   - Fan-out: [FanoutQueue]
//   - Stream defaults: interval 2, max updates 10
//   - Polling: disabled
//
// Returns an error if any option is invalid.
func New(opts ...Option) (*VehicleBoard, error) {
	cfg := vbConfig{
		gatewayURL:       defaultGatewayURL,
		port:             defaultPort,
		requestTimeout:   gateway.DefaultTimeout,
		maxRetries:       gateway.DefaultMaxRetries,
		retryDelay:       gateway.DefaultRetryDelay,
		keepalive:        events.DefaultKeepalive,
		fanout:           events.ModeQueue,
		streamInterval:   defaultStreamInterval,
		streamMaxUpdates: defaultStreamMaxUpdates,
		maxConcurrency:   defaultMaxConcurrency,
		extractors: map[string]ValueExtractor{
			telemetry.KeyFuelLevel:  DefaultFuelExtractor,
			telemetry.KeyHeadlights: DefaultHeadlightExtractor,
		},
	}

	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	// default to slog.Default() if no logger provided
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &VehicleBoard{
		cfg:    cfg,
		logger: logger,
		ready:  make(chan struct{}),
	}, nil
}

// Start connects to the gateway and serves the dashboard.
//
// Start is a blocking call that runs until the provided context is cancelled.
// During execution:
//
//   - The HTTP server starts on the configured port
//   - Stream requests spawn background tasks that fill the cache and feed
//   - When polling is enabled, every key is refreshed immediately and then
//     at the poll interval
//
// On cancellation the server shuts down, the poller stops, and running
// stream tasks are cancelled and awaited.
//
// Returns nil on graceful shutdown. Returns an error if the HTTP server fails to start.
func (vb *VehicleBoard) Start(ctx context.Context) error {
	vb.logger.Info("vehicleboard starting",
		"gateway_url", vb.cfg.gatewayURL,
		"fanout", string(vb.cfg.fanout),
	)

	// check if context already cancelled
	if ctx.Err() != nil {
		return nil
	}

	client := gateway.NewClient(gateway.Config{
		BaseURL:    vb.cfg.gatewayURL,
		Timeout:    vb.cfg.requestTimeout,
		MaxRetries: vb.cfg.maxRetries,
		RetryDelay: vb.cfg.retryDelay,
		RateLimit:  vb.cfg.rateLimit,
		Burst:      vb.cfg.burst,
	}, vb.logger)
	defer client.Close()

	cache := store.NewMemoryStore()
	feed := events.NewFeed(events.NewBus(vb.cfg.fanout), vb.cfg.keepalive, vb.logger)

	fuelExtractor := vb.cfg.extractors[telemetry.KeyFuelLevel]
	controller := stream.NewController(map[string]stream.Source{
		telemetry.KeyFuelLevel: {
			Open:    fuelStreamOpener(client),
			Extract: stream.Extractor(fuelExtractor),
		},
	}, cache, feed, vb.logger)

	service := telemetry.NewService(client, cache, vb.telemetryExtractors(), vb.logger)

	// cleanup function ensures background work is stopped and drained
	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), taskShutdownTimeout)
		defer cancel()
		if err := controller.Shutdown(shutdownCtx); err != nil {
			vb.logger.Warn("stream tasks did not stop in time", "error", err)
		}
	}

	if vb.cfg.pollInterval > 0 {
		stopPolling := vb.startPolling(ctx, service, feed)
		prev := cleanup
		cleanup = func() {
			stopPolling()
			prev()
		}
	}

	httpServer := server.NewServer(server.Config{
		Port:             vb.cfg.port,
		Assets:           dashboard.Assets,
		Title:            vb.cfg.title,
		StreamInterval:   vb.cfg.streamInterval,
		StreamMaxUpdates: vb.cfg.streamMaxUpdates,
	}, service, controller, feed, vb.logger)
	if err := httpServer.Start(ctx); err != nil {
		cleanup()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	vb.mu.Lock()
	vb.addr = httpServer.Addr()
	close(vb.ready)
	vb.mu.Unlock()

	vb.logger.Info("dashboard available", "url", fmt.Sprintf("http://%s", httpServer.Addr()))

	<-ctx.Done()
	cleanup()

	// re-arm so Addr blocks until a later run is listening
	vb.mu.Lock()
	vb.ready = make(chan struct{})
	vb.addr = nil
	vb.mu.Unlock()

	vb.logger.Info("vehicleboard stopped")
	return nil
}

// startPolling runs the periodic refresher and publishes every successful
// refresh. The returned function stops it and waits for the consumer.
func (vb *VehicleBoard) startPolling(ctx context.Context, service *telemetry.Service, feed *events.Feed) func() {
	keys := service.Keys()
	jobs := make([]poller.Job, len(keys))
	for i, key := range keys {
		jobs[i] = poller.Job{Key: key}
	}

	scheduler := poller.NewScheduler(jobs, vb.cfg.pollInterval, vb.cfg.maxConcurrency, service.Refresh, vb.logger)
	scheduler.Start(ctx)
	vb.logger.Info("polling configured", "interval", vb.cfg.pollInterval.String(), "keys", keys)

	// track the results consumer goroutine to ensure clean shutdown
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for result := range scheduler.Results() {
			logAttrs := []any{
				"key", result.Key,
				"latency_ms", result.Latency.Milliseconds(),
			}
			if result.Error != nil {
				vb.logger.Warn("refresh failed", append(logAttrs, "error", result.Error.Error())...)
				continue
			}
			// the cache already holds the record; subscribers may read it back
			feed.Publish(events.Update(result.Key, result.Record.Raw))
			vb.logger.Debug("refresh completed", append(logAttrs, "value", result.Record.Value)...)
		}
	}()

	return func() {
		scheduler.Stop() // closes results channel
		wg.Wait()        // wait for all results to be processed
	}
}

func (vb *VehicleBoard) telemetryExtractors() map[string]telemetry.Extractor {
	out := make(map[string]telemetry.Extractor, len(vb.cfg.extractors))
	for key, extractor := range vb.cfg.extractors {
		out[key] = telemetry.Extractor(extractor)
	}
	return out
}

// fuelStreamOpener adapts the client's fuel stream to a stream source.
func fuelStreamOpener(client *gateway.Client) stream.Opener {
	return func(ctx context.Context, interval, maxUpdates int) (stream.Updates, error) {
		s, err := client.StreamFuelLevel(ctx, interval, maxUpdates)
		if err != nil {
			// avoid returning a typed nil inside the interface
			return nil, err
		}
		return s, nil
	}
}

// Addr blocks until the server is listening and returns its address, or
// returns nil if ctx ends first. Once a run has stopped, Addr blocks again
// until the instance is started anew.
func (vb *VehicleBoard) Addr(ctx context.Context) net.Addr {
	vb.mu.Lock()
	ready := vb.ready
	vb.mu.Unlock()

	select {
	case <-ready:
	case <-ctx.Done():
		return nil
	}
	vb.mu.Lock()
	defer vb.mu.Unlock()
	return vb.addr
}

// Port returns the configured HTTP port for the dashboard server.
func (vb *VehicleBoard) Port() int {
	return vb.cfg.port
}

// GatewayURL returns the configured vehicle gateway base URL.
func (vb *VehicleBoard) GatewayURL() string {
	return vb.cfg.gatewayURL
}

// FanoutMode returns the configured fan-out mode.
func (vb *VehicleBoard) FanoutMode() string {
	return string(vb.cfg.fanout)
}

// StreamDefaults returns the interval and update count applied to stream
// requests that omit them.
func (vb *VehicleBoard) StreamDefaults() (interval, maxUpdates int) {
	return vb.cfg.streamInterval, vb.cfg.streamMaxUpdates
}

// PollInterval returns the configured poll interval; zero means disabled.
func (vb *VehicleBoard) PollInterval() time.Duration {
	return vb.cfg.pollInterval
}
