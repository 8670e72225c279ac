package vehicleboard

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/jpalmerr/vehicleboard/internal/events"
	"github.com/jpalmerr/vehicleboard/internal/telemetry"
)

// Fan-out modes accepted by [WithFanoutMode].
const (
	// FanoutQueue shares one queue between all feed subscribers; each
	// event reaches exactly one of them.
	FanoutQueue = string(events.ModeQueue)

	// FanoutBroadcast gives every subscriber its own queue; each event
	// reaches every subscriber connected when it was published.
	FanoutBroadcast = string(events.ModeBroadcast)
)

// vbConfig holds mutable state during VehicleBoard construction.
type vbConfig struct {
	title            string
	gatewayURL       string
	port             int
	requestTimeout   time.Duration
	maxRetries       int
	retryDelay       time.Duration
	rateLimit        float64
	burst            int
	keepalive        time.Duration
	fanout           events.Mode
	streamInterval   int
	streamMaxUpdates int
	pollInterval     time.Duration
	maxConcurrency   int
	extractors       map[string]ValueExtractor
	logger           *slog.Logger
}

// Option is a function that configures a [VehicleBoard] instance during construction.
//
// Option implements the functional options pattern, allowing optional
// configuration to be passed to [New] in a type-safe, extensible way.
// Options return an error if validation fails.
type Option func(*vbConfig) error

// WithGatewayURL sets the base URL of the vehicle gateway.
//
// Defaults to http://localhost:8080. The URL must be absolute with an
// http or https scheme.
//
// Example:
//
//	vb, err := vehicleboard.New(
//	    vehicleboard.WithGatewayURL("http://gateway.internal:8080"),
//	)
func WithGatewayURL(raw string) Option {
	return func(cfg *vbConfig) error {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid gateway URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("gateway URL must use http or https, got %q", raw)
		}
		if u.Host == "" {
			return fmt.Errorf("gateway URL must include a host, got %q", raw)
		}
		cfg.gatewayURL = raw
		return nil
	}
}

// WithPort sets the HTTP port for the dashboard server.
//
// The dashboard UI and API will be available at http://localhost:<port>.
// Defaults to 5000. Zero picks a free port; see [VehicleBoard.Addr].
//
// Returns an error if the port is outside the range 0-65535.
func WithPort(port int) Option {
	return func(cfg *vbConfig) error {
		if port < 0 || port > 65535 {
			return errors.New("port must be between 0 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the VehicleBoard instance.
//
// This allows SDK consumers to control where logs are written and in what
// format. If not specified, [slog.Default] is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *vbConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithRequestTimeout bounds each gateway request attempt. Defaults to 10s.
//
// Returns an error if the duration is zero or negative.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *vbConfig) error {
		if d <= 0 {
			return errors.New("request timeout must be positive")
		}
		cfg.requestTimeout = d
		return nil
	}
}

// WithMaxRetries sets the total number of attempts for a gateway request,
// the first one included. Defaults to 3.
//
// Returns an error if n is less than 1.
func WithMaxRetries(n int) Option {
	return func(cfg *vbConfig) error {
		if n < 1 {
			return errors.New("max retries must be at least 1")
		}
		cfg.maxRetries = n
		return nil
	}
}

// WithRetryDelay sets the fixed wait between gateway request attempts.
// Defaults to 1s.
//
// Returns an error if the duration is negative.
func WithRetryDelay(d time.Duration) Option {
	return func(cfg *vbConfig) error {
		if d < 0 {
			return errors.New("retry delay cannot be negative")
		}
		if d == 0 {
			// the client treats zero as "use the default"
			d = -1
		}
		cfg.retryDelay = d
		return nil
	}
}

// WithRateLimit caps outbound gateway requests to rps per second with the
// given burst. Zero rps disables limiting, which is the default.
//
// Returns an error if either value is negative.
func WithRateLimit(rps float64, burst int) Option {
	return func(cfg *vbConfig) error {
		if rps < 0 {
			return errors.New("rate limit cannot be negative")
		}
		if burst < 0 {
			return errors.New("burst cannot be negative")
		}
		cfg.rateLimit = rps
		cfg.burst = burst
		return nil
	}
}

// WithKeepaliveInterval sets how long an idle event feed waits before
// sending a keepalive. Defaults to 1s.
//
// Returns an error if the duration is zero or negative.
func WithKeepaliveInterval(d time.Duration) Option {
	return func(cfg *vbConfig) error {
		if d <= 0 {
			return errors.New("keepalive interval must be positive")
		}
		cfg.keepalive = d
		return nil
	}
}

// WithFanoutMode selects how events reach feed subscribers: [FanoutQueue]
// (the default) or [FanoutBroadcast].
//
// Example:
//
//	vb, err := vehicleboard.New(
//	    vehicleboard.WithFanoutMode(vehicleboard.FanoutBroadcast),
//	)
func WithFanoutMode(mode string) Option {
	return func(cfg *vbConfig) error {
		m, err := events.ParseMode(mode)
		if err != nil {
			return err
		}
		cfg.fanout = m
		return nil
	}
}

// WithStreamDefaults sets the interval (seconds) and update count used when
// a stream request does not specify them. Defaults to 2 and 10.
//
// Returns an error if either value is less than 1.
func WithStreamDefaults(interval, maxUpdates int) Option {
	return func(cfg *vbConfig) error {
		if interval < 1 {
			return errors.New("stream interval must be at least 1")
		}
		if maxUpdates < 1 {
			return errors.New("stream max updates must be at least 1")
		}
		cfg.streamInterval = interval
		cfg.streamMaxUpdates = maxUpdates
		return nil
	}
}

// WithPollInterval enables periodic refresh of every one-shot telemetry
// key. Each refresh updates the cache and publishes an update event.
// Zero disables polling, which is the default.
//
// Example:
//
//	vb, err := vehicleboard.New(
//	    vehicleboard.WithPollInterval(30 * time.Second),
//	)
//
// Returns an error if the duration is negative.
func WithPollInterval(d time.Duration) Option {
	return func(cfg *vbConfig) error {
		if d < 0 {
			return errors.New("poll interval cannot be negative")
		}
		cfg.pollInterval = d
		return nil
	}
}

// WithMaxConcurrency sets how many keys the poller refreshes at once.
// Defaults to 2.
//
// Returns an error if the value is zero or negative.
func WithMaxConcurrency(n int) Option {
	return func(cfg *vbConfig) error {
		if n <= 0 {
			return errors.New("max concurrency must be positive")
		}
		cfg.maxConcurrency = n
		return nil
	}
}

// WithValueExtractor replaces the extractor for a telemetry key
// ("fuel_level" or "headlights"). It applies to one-shot requests, polling
// and streams alike.
//
// Example:
//
//	vb, err := vehicleboard.New(
//	    vehicleboard.WithValueExtractor("fuel_level",
//	        vehicleboard.JSONFieldExtractor("data.fuel.percent", " %")),
//	)
//
// Returns an error for an unknown key or a nil extractor.
func WithValueExtractor(key string, extractor ValueExtractor) Option {
	return func(cfg *vbConfig) error {
		if extractor == nil {
			return errors.New("extractor cannot be nil")
		}
		switch key {
		case telemetry.KeyFuelLevel, telemetry.KeyHeadlights:
		default:
			return fmt.Errorf("unknown telemetry key: %q", key)
		}
		cfg.extractors[key] = extractor
		return nil
	}
}

// WithTitle sets the dashboard title displayed in the browser tab and header.
//
// If not specified, defaults to "Vehicle Dashboard".
func WithTitle(title string) Option {
	return func(cfg *vbConfig) error {
		cfg.title = title
		return nil
	}
}
