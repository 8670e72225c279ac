// Package config provides YAML configuration parsing for VehicleBoard.
//
// This package enables running VehicleBoard as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
// Every field is optional; a missing file section keeps its default.
//
// Example configuration:
//
//	title: Fleet 7
//	port: 5000
//
//	gateway:
//	  url: ${VEHICLE_GATEWAY_URL:-http://localhost:8080}
//	  timeout: 10s
//	  max_retries: 3
//	  retry_delay: 1s
//
//	feed:
//	  keepalive: 1s
//	  fanout: broadcast
//
//	stream:
//	  interval: 2
//	  max_updates: 10
//
//	poll:
//	  interval: 30s
//
//	extractors:
//	  fuel_level: json:data.level_percent
//
//	log:
//	  level: info
//	  file: /var/log/vehicleboard.log
package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// minPollInterval is the minimum allowed polling interval when polling is
// enabled. This keeps a misconfigured board from hammering the gateway.
const minPollInterval = 1 * time.Second

// Defaults applied by [Default] and [Parse].
const (
	DefaultPort             = 5000
	DefaultGatewayURL       = "http://localhost:8080"
	DefaultTimeout          = 10 * time.Second
	DefaultMaxRetries       = 3
	DefaultRetryDelay       = 1 * time.Second
	DefaultKeepalive        = 1 * time.Second
	DefaultFanout           = "queue"
	DefaultStreamInterval   = 2
	DefaultStreamMaxUpdates = 10
	DefaultMaxConcurrency   = 2
	DefaultLogLevel         = "info"
	DefaultLogMaxSizeMB     = 100
	DefaultLogMaxBackups    = 3
	DefaultLogMaxAgeDays    = 28
)

// Config is the root configuration structure for VehicleBoard.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML, or [Default] when no
// file is given.
type Config struct {
	// Title is the dashboard title. Defaults to "Vehicle Dashboard" if not set.
	Title string `yaml:"title"`

	// Port is the HTTP server port. Defaults to 5000.
	Port int `yaml:"port"`

	Gateway    GatewayConfig              `yaml:"gateway"`
	Feed       FeedConfig                 `yaml:"feed"`
	Stream     StreamConfig               `yaml:"stream"`
	Poll       PollConfig                 `yaml:"poll"`
	Extractors map[string]ExtractorConfig `yaml:"extractors"`
	Log        LogConfig                  `yaml:"log"`
}

// GatewayConfig configures the vehicle gateway client.
type GatewayConfig struct {
	// URL is the gateway base URL.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	URL string `yaml:"url"`

	// Timeout bounds each request attempt. Defaults to 10s.
	Timeout Duration `yaml:"timeout"`

	// MaxRetries is the total number of attempts per request. Defaults to 3.
	MaxRetries int `yaml:"max_retries"`

	// RetryDelay is the fixed wait between attempts. Defaults to 1s.
	RetryDelay Duration `yaml:"retry_delay"`

	// RateLimit caps requests per second; zero disables limiting.
	RateLimit float64 `yaml:"rate_limit"`

	// Burst is the rate limiter bucket size.
	Burst int `yaml:"burst"`
}

// FeedConfig configures event delivery to browser clients.
type FeedConfig struct {
	// Keepalive is how long an idle feed waits before a keepalive. Defaults to 1s.
	Keepalive Duration `yaml:"keepalive"`

	// Fanout is "queue" (default) or "broadcast".
	Fanout string `yaml:"fanout"`
}

// StreamConfig holds the defaults for stream requests that omit them.
type StreamConfig struct {
	// Interval is the seconds between stream updates. Defaults to 2.
	Interval int `yaml:"interval"`

	// MaxUpdates is the number of updates per stream. Defaults to 10.
	MaxUpdates int `yaml:"max_updates"`
}

// PollConfig configures the optional periodic refresh.
type PollConfig struct {
	// Interval between refreshes. Zero (the default) disables polling;
	// otherwise it must be at least 1s.
	Interval Duration `yaml:"interval"`

	// MaxConcurrency caps concurrent refreshes. Defaults to 2.
	MaxConcurrency int `yaml:"max_concurrency"`
}

// LogConfig configures the CLI logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string `yaml:"level"`

	// File, when set, receives logs through a rotating writer instead of
	// stderr. Supports environment variable substitution.
	File string `yaml:"file"`

	MaxSizeMB  int `yaml:"max_size_mb"`
	MaxBackups int `yaml:"max_backups"`
	MaxAgeDays int `yaml:"max_age_days"`
}

// ExtractorConfig specifies how to derive a telemetry value from a payload.
//
// It supports two formats in YAML:
//
// Shorthand string:
//
//	fuel_level: json:data.level_percent
//	fuel_level: regex:"level_percent":\s*([\d.]+)
//	headlights: default
//
// Structured object:
//
//	fuel_level:
//	  type: json
//	  path: data.level_percent
//	  suffix: "%"
type ExtractorConfig struct {
	// Type is the extractor type: "default", "json", "regex".
	Type string

	// Path is the JSON field path (for type: json).
	Path string

	// Pattern is the regular expression with one capture group (for type: regex).
	Pattern string

	// Suffix is appended to the extracted value (for type: json).
	Suffix string
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler for ExtractorConfig.
func (e *ExtractorConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		return e.parseShorthand(s)
	}

	if node.Kind == yaml.MappingNode {
		// temporary struct to avoid infinite recursion
		var raw struct {
			Type    string `yaml:"type"`
			Path    string `yaml:"path"`
			Pattern string `yaml:"pattern"`
			Suffix  string `yaml:"suffix"`
		}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		e.Type = raw.Type
		e.Path = raw.Path
		e.Pattern = raw.Pattern
		e.Suffix = raw.Suffix
		return nil
	}

	return fmt.Errorf("extractor must be a string or object, got %v", node.Kind)
}

// parseShorthand parses extractor shorthand syntax.
//
// Supported formats:
//   - "default" → use the built-in extractor for the key
//   - "json:path" → extract from JSON field
//   - "regex:pattern" → first capture group of pattern
func (e *ExtractorConfig) parseShorthand(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	if kind, value, ok := strings.Cut(s, ":"); ok {
		e.Type = kind
		switch kind {
		case "json":
			e.Path = value
		case "regex":
			e.Pattern = value
		default:
			return fmt.Errorf("unknown extractor type %q", kind)
		}
		return nil
	}

	if s != "default" {
		return fmt.Errorf("unknown extractor %q (expected 'default', 'json:path', or 'regex:pattern')", s)
	}
	e.Type = s
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		varName := submatches[1]
		hasDefault := submatches[2] != ""
		defaultVal := submatches[3]

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Default returns a Config holding every default.
func Default() *Config {
	return &Config{
		Port: DefaultPort,
		Gateway: GatewayConfig{
			URL:        DefaultGatewayURL,
			Timeout:    Duration(DefaultTimeout),
			MaxRetries: DefaultMaxRetries,
			RetryDelay: Duration(DefaultRetryDelay),
		},
		Feed: FeedConfig{
			Keepalive: Duration(DefaultKeepalive),
			Fanout:    DefaultFanout,
		},
		Stream: StreamConfig{
			Interval:   DefaultStreamInterval,
			MaxUpdates: DefaultStreamMaxUpdates,
		},
		Poll: PollConfig{
			MaxConcurrency: DefaultMaxConcurrency,
		},
		Log: LogConfig{
			Level:      DefaultLogLevel,
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
		},
	}
}

// Load reads and parses a YAML configuration file.
//
// Returns an error if the file cannot be read, parsed or validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data on top of [Default].
//
// Environment variables are expanded in gateway.url and log.file, then the
// result is validated.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	expanded, err := expandEnvVars(cfg.Gateway.URL)
	if err != nil {
		return nil, fmt.Errorf("gateway.url: %w", err)
	}
	cfg.Gateway.URL = expanded

	expanded, err = expandEnvVars(cfg.Log.File)
	if err != nil {
		return nil, fmt.Errorf("log.file: %w", err)
	}
	cfg.Log.File = expanded

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field. It is called by [Parse], and again by
// callers that override fields afterwards (e.g. from flags).
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}

	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	parsedURL, err := url.Parse(c.Gateway.URL)
	if err != nil {
		return fmt.Errorf("gateway.url: invalid url: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("gateway.url: scheme must be http or https, got %q", parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("gateway.url: host is required")
	}

	if c.Gateway.Timeout.Duration() <= 0 {
		return fmt.Errorf("gateway.timeout must be positive, got %s", c.Gateway.Timeout.Duration())
	}
	if c.Gateway.MaxRetries < 1 {
		return fmt.Errorf("gateway.max_retries must be at least 1, got %d", c.Gateway.MaxRetries)
	}
	if c.Gateway.RetryDelay.Duration() < 0 {
		return fmt.Errorf("gateway.retry_delay cannot be negative, got %s", c.Gateway.RetryDelay.Duration())
	}
	if c.Gateway.RateLimit < 0 {
		return fmt.Errorf("gateway.rate_limit cannot be negative, got %v", c.Gateway.RateLimit)
	}
	if c.Gateway.Burst < 0 {
		return fmt.Errorf("gateway.burst cannot be negative, got %d", c.Gateway.Burst)
	}

	if c.Feed.Keepalive.Duration() <= 0 {
		return fmt.Errorf("feed.keepalive must be positive, got %s", c.Feed.Keepalive.Duration())
	}
	switch c.Feed.Fanout {
	case "", "queue", "broadcast":
	default:
		return fmt.Errorf("feed.fanout must be queue or broadcast, got %q", c.Feed.Fanout)
	}

	if c.Stream.Interval < 1 {
		return fmt.Errorf("stream.interval must be at least 1, got %d", c.Stream.Interval)
	}
	if c.Stream.MaxUpdates < 1 {
		return fmt.Errorf("stream.max_updates must be at least 1, got %d", c.Stream.MaxUpdates)
	}

	if d := c.Poll.Interval.Duration(); d != 0 && d < minPollInterval {
		return fmt.Errorf("poll.interval must be 0 or at least %s, got %s", minPollInterval, d)
	}
	if c.Poll.MaxConcurrency < 1 {
		return fmt.Errorf("poll.max_concurrency must be at least 1, got %d", c.Poll.MaxConcurrency)
	}

	for key, e := range c.Extractors {
		if key != "fuel_level" && key != "headlights" {
			return fmt.Errorf("extractors: unknown telemetry key %q (expected fuel_level or headlights)", key)
		}
		if err := validateExtractor(e, fmt.Sprintf("extractors[%s]", key)); err != nil {
			return err
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		return fmt.Errorf("log rotation settings cannot be negative")
	}

	return nil
}

// validateExtractor validates an extractor configuration.
func validateExtractor(e ExtractorConfig, context string) error {
	switch e.Type {
	case "", "default":
		// the key's built-in extractor
	case "json":
		if e.Path == "" {
			return fmt.Errorf("%s: extractor type 'json' requires a path", context)
		}
	case "regex":
		if e.Pattern == "" {
			return fmt.Errorf("%s: extractor type 'regex' requires a pattern", context)
		}
		re, err := regexp.Compile(e.Pattern)
		if err != nil {
			return fmt.Errorf("%s: invalid pattern: %w", context, err)
		}
		if re.NumSubexp() < 1 {
			return fmt.Errorf("%s: pattern needs a capture group", context)
		}
	default:
		return fmt.Errorf("%s: unknown extractor type %q", context, e.Type)
	}

	return nil
}
