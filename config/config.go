// Package config loads emitter configuration from the environment, an optional
// .env file, or a YAML file.
//
// Environment variables:
//
//	EMITTER_NAME               emitter name (default "emitter")
//	EMITTER_INTERVAL           tick interval as a Go duration (default "1s")
//	EMITTER_MAX_EVENTS         event limit, 0 for unbounded (default 0)
//	EMITTER_DRIVER             "thread" or "loop" (default "thread")
//	EMITTER_LOG_LEVEL          zerolog level (default "info")
//	EMITTER_LOG_FORMAT         "json" or "console" (default "json")
//	EMITTER_HISTORY_PATH       badger directory for run history, empty keeps it in memory
//	EMITTER_HISTORY_RETENTION  how long finished runs are kept (default "24h")
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/ahmed-com/emitter"
)

// Worker strategies accepted in Driver
const (
	DriverThread = "thread"
	DriverLoop   = "loop"
)

// Log output formats accepted in LogFormat
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

var (
	// ErrParsingConfig is returned when the environment or file cannot be decoded
	ErrParsingConfig = errors.New("failed to parse config")

	// ErrInvalidConfig is returned by Validate
	ErrInvalidConfig = errors.New("invalid config")
)

// Config describes one emitter and its surroundings
type Config struct {
	Name             string        `env:"EMITTER_NAME" envDefault:"emitter" yaml:"name"`
	Interval         time.Duration `env:"EMITTER_INTERVAL" envDefault:"1s" yaml:"interval"`
	MaxEvents        uint64        `env:"EMITTER_MAX_EVENTS" envDefault:"0" yaml:"max_events"`
	Driver           string        `env:"EMITTER_DRIVER" envDefault:"thread" yaml:"driver"`
	LogLevel         string        `env:"EMITTER_LOG_LEVEL" envDefault:"info" yaml:"log_level"`
	LogFormat        string        `env:"EMITTER_LOG_FORMAT" envDefault:"json" yaml:"log_format"`
	HistoryPath      string        `env:"EMITTER_HISTORY_PATH" yaml:"history_path"`
	HistoryRetention time.Duration `env:"EMITTER_HISTORY_RETENTION" envDefault:"24h" yaml:"history_retention"`
}

// Default returns the configuration used when nothing is set
func Default() Config {
	return Config{
		Name:             emitter.DefaultName,
		Interval:         emitter.DefaultInterval,
		Driver:           DriverThread,
		LogLevel:         "info",
		LogFormat:        FormatJSON,
		HistoryRetention: 24 * time.Hour,
	}
}

var defaultEnvLoaded sync.Once

// Load reads the .env file in the working directory, if any, then parses
// EMITTER_* variables over the defaults and validates the result.
// Variables already present in the environment win over the .env file.
func Load() (Config, error) {
	defaultEnvLoaded.Do(func() {
		// Ignore errors - the .env file might not exist and that's ok
		_ = godotenv.Load()
	})

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Join(ErrParsingConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile decodes a YAML file over the defaults and validates the result
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Join(ErrParsingConfig, fmt.Errorf("%s: %w", path, err))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem found, wrapped in ErrInvalidConfig
func (c Config) Validate() error {
	var errs []error

	if c.Name == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}
	if _, err := c.Settings(); err != nil {
		errs = append(errs, err)
	}
	switch c.Driver {
	case DriverThread, DriverLoop:
	default:
		errs = append(errs, fmt.Errorf("unknown driver %q", c.Driver))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}
	switch c.LogFormat {
	case FormatJSON, FormatConsole:
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	if c.HistoryRetention < 0 {
		errs = append(errs, errors.New("history retention must be >= 0"))
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
}

// Settings builds emitter settings from Interval and MaxEvents
func (c Config) Settings() (emitter.Settings, error) {
	s, err := emitter.NewSettings().SetInterval(c.Interval)
	if err != nil {
		return s, err
	}
	if c.MaxEvents > 0 {
		return s.SetMaxEvents(c.MaxEvents)
	}
	return s, nil
}

// Logger builds a zerolog logger writing to w at the configured level
func (c Config) Logger(w io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level: %w", err)
	}

	if c.LogFormat == FormatConsole {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}
