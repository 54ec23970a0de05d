package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/hailam/abnnue/internal/engine"
)

// Storage keys
const (
	keyStats       = "stats"
	prefixBook     = "book/"
	prefixAnalysis = "analysis/"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Analysis is the stored outcome of one search.
type Analysis struct {
	FEN       string        `json:"fen"`
	Move      string        `json:"move"`
	Ponder    string        `json:"ponder,omitempty"`
	Score     float64       `json:"score"`
	Depth     int           `json:"depth"`
	Nodes     uint64        `json:"nodes"`
	Elapsed   time.Duration `json:"elapsed"`
	PV        []string      `json:"pv,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// SearchStats accumulates totals over every recorded search.
type SearchStats struct {
	Searches  int           `json:"searches"`
	Nodes     uint64        `json:"nodes"`
	Time      time.Duration `json:"time"`
	MaxDepth  int           `json:"max_depth"`
	LastSaved time.Time     `json:"last_saved"`
}

// NPS returns the average nodes per second.
func (s *SearchStats) NPS() float64 {
	if s.Time <= 0 {
		return 0
	}
	return float64(s.Nodes) / s.Time.Seconds()
}

// Storage wraps BadgerDB for persistent storage
type Storage struct {
	db  *badger.DB
	log zerolog.Logger
}

// Open opens the database in dir, or an in-memory database when dir is empty.
func Open(dir string, logger zerolog.Logger) (*Storage, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = badgerLogger{logger.With().Str("component", "badger").Logger()}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	logger.Debug().Str("dir", dir).Msg("storage opened")
	return &Storage{db: db, log: logger}, nil
}

// Close closes the database
func (s *Storage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func bookKey(rootHash uint64) []byte {
	return binary.BigEndian.AppendUint64([]byte(prefixBook), rootHash)
}

// RootScores returns the scores saved for the children of rootHash.
func (s *Storage) RootScores(rootHash uint64) ([]engine.RootScore, error) {
	var scores []engine.RootScore
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(bookKey(rootHash))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &scores)
		})
	})
	return scores, err
}

// SaveRootScores replaces the scores saved for the children of rootHash.
func (s *Storage) SaveRootScores(rootHash uint64, scores []engine.RootScore) error {
	data, err := json.Marshal(scores)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(bookKey(rootHash), data)
	})
}

// SaveAnalysis stores a, keyed by its FEN, replacing any earlier record.
func (s *Storage) SaveAnalysis(a *Analysis) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixAnalysis+a.FEN), data)
	})
}

// LoadAnalysis returns the record for fen, or ErrNotFound.
func (s *Storage) LoadAnalysis(fen string) (*Analysis, error) {
	var a Analysis
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixAnalysis + fen))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("analysis for %q: %w", fen, ErrNotFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &a)
		})
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAnalyses returns up to limit records in key order (all when limit <= 0).
func (s *Storage) ListAnalyses(limit int) ([]Analysis, error) {
	var out []Analysis
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixAnalysis)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var a Analysis
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &a)
			}); err != nil {
				return err
			}
			out = append(out, a)
		}
		return nil
	})
	return out, err
}

// LoadStats loads search statistics, returns empty stats if not found
func (s *Storage) LoadStats() (*SearchStats, error) {
	stats := &SearchStats{}

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyStats))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil // Use empty stats
		}
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, stats)
		})
	})

	return stats, err
}

// RecordSearch adds one search to the statistics.
func (s *Storage) RecordSearch(res engine.Result, elapsed time.Duration) error {
	return s.db.Update(func(txn *badger.Txn) error {
		stats := &SearchStats{}
		item, err := txn.Get([]byte(keyStats))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, stats)
			}); err != nil {
				return err
			}
		}

		stats.Searches++
		stats.Nodes += res.Nodes
		stats.Time += elapsed
		stats.MaxDepth = max(stats.MaxDepth, res.Depth)
		stats.LastSaved = time.Now()

		data, err := json.Marshal(stats)
		if err != nil {
			return err
		}
		return txn.Set([]byte(keyStats), data)
	})
}

// badgerLogger routes badger's messages through zerolog. Badger is chatty at
// info level, so info is demoted to debug.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msgf(format, args...)
}
