// Package config holds the settings shared by the engine commands and the
// analysis server.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hailam/abnnue/internal/engine"
)

// Config is the JSON-backed configuration.
type Config struct {
	Weights          string `json:"weights"`            // network file; empty = random test network
	CacheBits        int    `json:"cache_bits"`         // log2 slots per pass cache
	RequestCacheBits int    `json:"request_cache_bits"` // same, for per-request and bench engines
	Quiescence       bool   `json:"quiescence"`         // enable the capture/promotion extension
	QuiescenceDepth  int    `json:"quiescence_depth"`   // plies of quiescence
	DataDir          string `json:"data_dir"`           // empty = platform default
	UseBook          bool   `json:"use_book"`           // persist root scores in the database
	Listen           string `json:"listen"`             // analysis server address
	MaxConcurrent    int    `json:"max_concurrent"`     // analyses running at once
	MoveTimeMs       int    `json:"move_time_ms"`       // default per-request budget
	MaxMoveTimeMs    int    `json:"max_move_time_ms"`   // cap on per-request budget
	LogLevel         string `json:"log_level"`
}

// DefaultRequestCacheBits sizes the caches of engines built per analysis
// request or bench job: 4 MB each instead of the 64 MB of the UCI engine.
const DefaultRequestCacheBits = 18

// Default returns the default configuration.
func Default() Config {
	return Config{
		CacheBits:        engine.DefaultCacheBits,
		RequestCacheBits: DefaultRequestCacheBits,
		Quiescence:       false,
		QuiescenceDepth:  engine.DefaultQuiescenceDepth,
		UseBook:          true,
		Listen:           ":8080",
		MaxConcurrent:    2,
		MoveTimeMs:       1000,
		MaxMoveTimeMs:    30000,
		LogLevel:         "info",
	}
}

// Load overlays the JSON file at path on the defaults. An empty path yields
// the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.CacheBits < engine.MinCacheBits || c.CacheBits > engine.MaxCacheBits {
		errs = append(errs, fmt.Errorf("cache_bits %d outside [%d, %d]", c.CacheBits, engine.MinCacheBits, engine.MaxCacheBits))
	}
	if c.RequestCacheBits < engine.MinCacheBits || c.RequestCacheBits > c.CacheBits {
		errs = append(errs, fmt.Errorf("request_cache_bits %d outside [%d, cache_bits=%d]", c.RequestCacheBits, engine.MinCacheBits, c.CacheBits))
	}
	if c.QuiescenceDepth < 1 || c.QuiescenceDepth > 16 {
		errs = append(errs, fmt.Errorf("quiescence_depth %d outside [1, 16]", c.QuiescenceDepth))
	}
	if c.MaxConcurrent < 1 {
		errs = append(errs, errors.New("max_concurrent must be positive"))
	}
	if c.MoveTimeMs < 0 || c.MaxMoveTimeMs < c.MoveTimeMs {
		errs = append(errs, fmt.Errorf("move_time_ms %d must be within [0, max_move_time_ms=%d]", c.MoveTimeMs, c.MaxMoveTimeMs))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	return errors.Join(errs...)
}

// Level returns the configured log level, info when unparsable.
func (c Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// MoveTime returns the default per-request budget.
func (c Config) MoveTime() time.Duration {
	return time.Duration(c.MoveTimeMs) * time.Millisecond
}

// MaxMoveTime returns the cap on per-request budgets.
func (c Config) MaxMoveTime() time.Duration {
	return time.Duration(c.MaxMoveTimeMs) * time.Millisecond
}

// EngineOptions converts the search settings into engine options.
func (c Config) EngineOptions(logger zerolog.Logger) engine.Options {
	return engine.Options{
		CacheBits:       c.CacheBits,
		Quiescence:      c.Quiescence,
		QuiescenceDepth: c.QuiescenceDepth,
		Logger:          logger,
	}
}

// RequestEngineOptions is EngineOptions for the short-lived engines built per
// analysis request. Many may be alive at once, so their caches are smaller.
func (c Config) RequestEngineOptions(logger zerolog.Logger) engine.Options {
	opts := c.EngineOptions(logger)
	opts.CacheBits = c.RequestCacheBits
	return opts
}

// Store guards a Config that may be replaced at runtime.
type Store struct {
	mu     sync.RWMutex
	config Config
}

// NewStore returns a store holding cfg.
func NewStore(cfg Config) *Store {
	return &Store{config: cfg}
}

// Get returns the current configuration.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Update validates and replaces the configuration.
func (s *Store) Update(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.config = cfg
	s.mu.Unlock()
	return nil
}
