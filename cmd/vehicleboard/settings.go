package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jpalmerr/vehicleboard/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

// overrides maps viper keys to their flag and environment variable.
var overrides = []struct {
	key  string
	flag string
	env  string
}{
	{key: "gateway_url", flag: "gateway-url", env: "VEHICLE_GATEWAY_URL"},
	{key: "port", flag: "port", env: "PORT"},
	{key: "log_level", flag: "log-level", env: "LOG_LEVEL"},
}

// loadSettings reads the config file named by --config (or the defaults when
// none is given), then applies flag and environment overrides. Flags win
// over environment variables, which win over the file.
func loadSettings(cmd *cobra.Command) (*config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")

	cfg := config.Default()
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	v := viper.New()
	for _, o := range overrides {
		if f := cmd.Flags().Lookup(o.flag); f != nil {
			if err := v.BindPFlag(o.key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", o.flag, err)
			}
		}
		if err := v.BindEnv(o.key, o.env); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", o.env, err)
		}
	}

	if v.IsSet("gateway_url") {
		cfg.Gateway.URL = v.GetString("gateway_url")
	}
	if v.IsSet("port") {
		cfg.Port = v.GetInt("port")
	}
	if v.IsSet("log_level") {
		cfg.Log.Level = v.GetString("log_level")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger creates a JSON logger for CLI use. Output goes to stderr, or to
// a size-rotated file when log.file is set.
func newLogger(cfg config.LogConfig) (*slog.Logger, func() error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	closeLog := func() error { return nil }
	if cfg.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		out = rotating
		closeLog = rotating.Close
	}

	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})), closeLog
}
