package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/hailam/abnnue/internal/chess"
	"github.com/hailam/abnnue/internal/config"
	"github.com/hailam/abnnue/internal/engine"
	"github.com/hailam/abnnue/internal/game"
	"github.com/hailam/abnnue/internal/storage"
)

// ErrBadRequest wraps request validation failures.
var ErrBadRequest = errors.New("bad request")

// AnalyzeRequest asks for the best move in a position.
type AnalyzeRequest struct {
	FEN        string   `json:"fen,omitempty"` // empty = start position
	Moves      []string `json:"moves,omitempty"`
	MoveTimeMs int      `json:"movetime_ms,omitempty"`
	Depth      int      `json:"depth,omitempty"`
	Nodes      uint64   `json:"nodes,omitempty"`
}

// Info is one completed pass as streamed to websocket clients.
type Info struct {
	Depth     int      `json:"depth"`
	Score     float64  `json:"score"`
	Mate      int      `json:"mate,omitempty"`
	Nodes     uint64   `json:"nodes"`
	TimeMs    int64    `json:"time_ms"`
	PV        []string `json:"pv"`
	CacheFill int      `json:"cache_fill"`
}

func moveStrings(moves []game.Move) []string {
	return lo.Map(moves, func(m game.Move, _ int) string { return m.String() })
}

func newInfo(si engine.SearchInfo) Info {
	info := Info{
		Depth:     si.Depth,
		Score:     si.Score,
		Nodes:     si.Nodes,
		TimeMs:    si.Time.Milliseconds(),
		PV:        moveStrings(si.PV),
		CacheFill: si.CacheFill,
	}
	if engine.IsMateScore(si.Score) {
		info.Mate = engine.MateIn(si.Score)
	}
	return info
}

// position builds the root described by req.
func (req AnalyzeRequest) position() (*chess.Position, error) {
	pos := chess.NewPosition()
	if req.FEN != "" {
		var err error
		if pos, err = chess.FromFEN(req.FEN); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
	}
	for _, s := range req.Moves {
		m, err := chess.ParseLegalMove(pos, s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		pos.MakeMove(m)
	}
	return pos, nil
}

// limits turns the request budget into search limits. The move time is
// capped by the configuration and defaults to it when unset.
func (req AnalyzeRequest) limits(cfg config.Config) (engine.Limits, error) {
	if req.MoveTimeMs < 0 || req.Depth < 0 {
		return engine.Limits{}, fmt.Errorf("%w: negative budget", ErrBadRequest)
	}
	moveTime := time.Duration(req.MoveTimeMs) * time.Millisecond
	if moveTime == 0 {
		moveTime = cfg.MoveTime()
	}
	if limit := cfg.MaxMoveTime(); limit > 0 && moveTime > limit {
		moveTime = limit
	}
	return engine.Limits{MoveTime: moveTime, Depth: req.Depth, Nodes: req.Nodes}, nil
}

// analyze runs one search on a fresh engine sharing the server's evaluator.
// It blocks until a search slot is free or ctx is done.
func (s *Server) analyze(ctx context.Context, req AnalyzeRequest, onInfo func(Info)) (*storage.Analysis, error) {
	cfg := s.cfg.Get()
	pos, err := req.position()
	if err != nil {
		return nil, err
	}
	limits, err := req.limits(cfg)
	if err != nil {
		return nil, err
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	opts := cfg.RequestEngineOptions(s.log)
	if s.store != nil && cfg.UseBook {
		opts.Book = s.store
	}
	eng := engine.NewEngine(s.eval, opts)
	if err := eng.Setup(pos, nil); err != nil {
		return nil, err
	}

	var cb func(engine.SearchInfo)
	if onInfo != nil {
		cb = func(si engine.SearchInfo) { onInfo(newInfo(si)) }
	}
	start := time.Now()
	res, err := eng.Search(ctx, limits, cb)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	a := &storage.Analysis{
		FEN:     pos.FEN(),
		Move:    res.Move.String(),
		Score:   res.Score,
		Depth:   res.Depth,
		Nodes:   res.Nodes,
		Elapsed: elapsed,
		PV:      moveStrings(res.PV),
	}
	if res.Ponder != game.NoMove {
		a.Ponder = res.Ponder.String()
	}
	s.log.Info().Str("fen", a.FEN).Str("move", a.Move).Float64("score", a.Score).
		Int("depth", a.Depth).Uint64("nodes", a.Nodes).Dur("elapsed", elapsed).Msg("analysis complete")

	if s.store != nil {
		if err := s.store.SaveAnalysis(a); err != nil {
			s.log.Warn().Err(err).Msg("failed to save analysis")
		}
		if err := s.store.RecordSearch(res, elapsed); err != nil {
			s.log.Warn().Err(err).Msg("failed to record search stats")
		}
	}
	return a, nil
}
