package config

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/hailam/abnnue/internal/nnue"
	"github.com/hailam/abnnue/internal/storage"
)

// NetworkFiles are the names looked up in the data directory when no weights
// file is configured, in order of preference.
var NetworkFiles = []string{"abnnue.nnue.zst", "abnnue.nnue"}

// Logger returns a console logger on w at the configured level.
func (c Config) Logger(w io.Writer) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}).
		Level(c.Level()).
		With().Timestamp().Logger()
}

// FindWeights returns the configured weights file, or the first of
// NetworkFiles present in the data directory. It returns "" when neither
// exists.
func (c Config) FindWeights() (string, error) {
	if c.Weights != "" {
		return c.Weights, nil
	}
	dir, err := storage.GetNNUEDir(c.DataDir)
	if err != nil {
		return "", err
	}
	for _, name := range NetworkFiles {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
	}
	return "", nil
}

// NewEvaluator loads the network found by FindWeights. Without one it falls
// back to random weights from seed, which play legal but weak chess.
func (c Config) NewEvaluator(seed int64, log zerolog.Logger) (*nnue.Evaluator, error) {
	path, err := c.FindWeights()
	if err != nil {
		return nil, err
	}
	if path == "" {
		log.Warn().Int64("seed", seed).Msg("no network found, using random weights")
		net := nnue.NewNetwork()
		net.InitRandom(seed)
		return nnue.NewEvaluatorFromNetwork(net), nil
	}
	net, err := nnue.LoadFile(path)
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", path).Msg("network loaded")
	return nnue.NewEvaluatorFromNetwork(net), nil
}

// OpenStorage opens the database under the data directory.
func (c Config) OpenStorage(log zerolog.Logger) (*storage.Storage, error) {
	dir, err := storage.GetDatabaseDir(c.DataDir)
	if err != nil {
		return nil, err
	}
	return storage.Open(dir, log)
}
