package config

import (
	"fmt"
	"sort"

	"github.com/jpalmerr/vehicleboard"
)

// BuildOptions converts parsed configuration into SDK options.
//
// Logging is not included; the caller owns the logger and adds it with
// [vehicleboard.WithLogger].
func BuildOptions(cfg *Config) ([]vehicleboard.Option, error) {
	opts := []vehicleboard.Option{
		vehicleboard.WithPort(cfg.Port),
		vehicleboard.WithGatewayURL(cfg.Gateway.URL),
		vehicleboard.WithRequestTimeout(cfg.Gateway.Timeout.Duration()),
		vehicleboard.WithMaxRetries(cfg.Gateway.MaxRetries),
		vehicleboard.WithRetryDelay(cfg.Gateway.RetryDelay.Duration()),
		vehicleboard.WithRateLimit(cfg.Gateway.RateLimit, cfg.Gateway.Burst),
		vehicleboard.WithKeepaliveInterval(cfg.Feed.Keepalive.Duration()),
		vehicleboard.WithFanoutMode(cfg.Feed.Fanout),
		vehicleboard.WithStreamDefaults(cfg.Stream.Interval, cfg.Stream.MaxUpdates),
		vehicleboard.WithPollInterval(cfg.Poll.Interval.Duration()),
		vehicleboard.WithMaxConcurrency(cfg.Poll.MaxConcurrency),
	}

	if cfg.Title != "" {
		opts = append(opts, vehicleboard.WithTitle(cfg.Title))
	}

	// sort keys for deterministic ordering
	keys := make([]string, 0, len(cfg.Extractors))
	for k := range cfg.Extractors {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		extractor, err := buildExtractor(cfg.Extractors[key])
		if err != nil {
			return nil, fmt.Errorf("extractors[%s]: %w", key, err)
		}
		if extractor != nil {
			opts = append(opts, vehicleboard.WithValueExtractor(key, extractor))
		}
	}

	return opts, nil
}

// buildExtractor converts ExtractorConfig to a ValueExtractor.
// Returns nil for default/empty extractors (the SDK keeps its built-in one).
func buildExtractor(ec ExtractorConfig) (vehicleboard.ValueExtractor, error) {
	switch ec.Type {
	case "", "default":
		return nil, nil
	case "json":
		return vehicleboard.JSONFieldExtractor(ec.Path, ec.Suffix), nil
	case "regex":
		return vehicleboard.RegexExtractor(ec.Pattern)
	default:
		return nil, fmt.Errorf("unknown extractor type %q", ec.Type)
	}
}
