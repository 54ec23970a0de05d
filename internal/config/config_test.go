package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	data := `{"cache_bits": 18, "quiescence": true, "listen": "127.0.0.1:9000", "log_level": "debug"}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CacheBits != 18 || !cfg.Quiescence || cfg.Listen != "127.0.0.1:9000" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.MaxConcurrent != Default().MaxConcurrent {
		t.Errorf("default max_concurrent lost: %d", cfg.MaxConcurrent)
	}
	if cfg.Level() != zerolog.DebugLevel {
		t.Errorf("Level() = %v", cfg.Level())
	}

	opts := cfg.EngineOptions(zerolog.Nop())
	if opts.CacheBits != 18 || !opts.Quiescence {
		t.Errorf("EngineOptions = %+v", opts)
	}
}

func TestRequestEngineOptions(t *testing.T) {
	cfg := Default()
	opts := cfg.RequestEngineOptions(zerolog.Nop())
	if opts.CacheBits != DefaultRequestCacheBits || opts.CacheBits >= cfg.CacheBits {
		t.Errorf("request CacheBits = %d, engine CacheBits = %d", opts.CacheBits, cfg.CacheBits)
	}
	if opts.QuiescenceDepth != cfg.QuiescenceDepth {
		t.Errorf("request options lost search settings: %+v", opts)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("missing file accepted")
	}

	tests := map[string]string{
		"syntax":     `{"cache_bits": }`,
		"cache bits": `{"cache_bits": 3}`,
		"request":    `{"cache_bits": 16, "request_cache_bits": 20}`,
		"log level":  `{"log_level": "loud"}`,
		"move time":  `{"move_time_ms": 5000, "max_move_time_ms": 100}`,
		"concurrent": `{"max_concurrent": 0}`,
	}
	for name, data := range tests {
		path := filepath.Join(dir, name+".json")
		if err := os.WriteFile(path, []byte(data), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Errorf("%s: invalid config accepted", name)
		}
	}
}

func TestStore(t *testing.T) {
	s := NewStore(Default())
	cfg := s.Get()
	cfg.CacheBits = 2
	if err := s.Update(cfg); err == nil {
		t.Error("Update accepted an invalid config")
	}
	cfg.CacheBits = 20
	if err := s.Update(cfg); err != nil {
		t.Fatal(err)
	}
	if s.Get().CacheBits != 20 {
		t.Errorf("Get().CacheBits = %d", s.Get().CacheBits)
	}
}

func TestNewEvaluator(t *testing.T) {
	cfg := Default()
	cfg.DataDir = t.TempDir()

	path, err := cfg.FindWeights()
	if err != nil || path != "" {
		t.Fatalf("FindWeights on empty dir = %q, %v", path, err)
	}
	eval, err := cfg.NewEvaluator(7, zerolog.Nop())
	if err != nil {
		t.Fatalf("random fallback: %v", err)
	}

	dir := filepath.Join(cfg.DataDir, "nnue")
	want := filepath.Join(dir, NetworkFiles[1])
	if err := eval.Network().SaveFile(want); err != nil {
		t.Fatal(err)
	}
	if path, _ := cfg.FindWeights(); path != want {
		t.Errorf("FindWeights = %q, want %q", path, want)
	}
	loaded, err := cfg.NewEvaluator(0, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	if loaded.Network().InputBias != eval.Network().InputBias {
		t.Error("loaded network differs from the saved one")
	}

	cfg.Weights = filepath.Join(dir, "missing.nnue")
	if _, err := cfg.NewEvaluator(0, zerolog.Nop()); err == nil {
		t.Error("missing configured weights accepted")
	}
}

func TestOpenStorage(t *testing.T) {
	cfg := Default()
	cfg.DataDir = t.TempDir()
	s, err := cfg.OpenStorage(zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenStorage: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(cfg.DataDir, "db")); err != nil {
		t.Errorf("database dir: %v", err)
	}
}
