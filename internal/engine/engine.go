// Package engine implements iterative-deepening alpha-beta search over a
// game.Position, scoring leaves with an incrementally updated NNUE
// accumulator.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/hailam/abnnue/internal/game"
	"github.com/hailam/abnnue/internal/nnue"
)

// Errors returned by the engine.
var (
	ErrNoLegalMoves = errors.New("no legal moves")
	ErrIllegalMove  = errors.New("illegal move")
	ErrNoPosition   = errors.New("no position set up")
)

// Evaluator scores positions through an accumulator the search keeps in step
// with the tree.
type Evaluator interface {
	// Refresh recomputes acc for pos from scratch.
	Refresh(acc *nnue.Accumulator, pos game.Position)
	// Update turns acc, the accumulator of pos, into that of pos after m.
	// pos must be left unchanged.
	Update(acc *nnue.Accumulator, pos game.Position, m game.Move)
	// Evaluate returns the score of pos from pov's point of view.
	Evaluate(acc *nnue.Accumulator, pos game.Position, pov game.Side) float64
}

// RootScore is the last known score of a root child, keyed by the child's
// hash and given from White's point of view.
type RootScore struct {
	Hash  uint64
	Score float64
}

// ScoreBook persists root child scores between searches and runs.
type ScoreBook interface {
	RootScores(rootHash uint64) ([]RootScore, error)
	SaveRootScores(rootHash uint64, scores []RootScore) error
}

// SearchInfo contains information about a completed pass.
type SearchInfo struct {
	Depth     int // plies searched
	Score     float64
	Nodes     uint64
	Time      time.Duration
	PV        []game.Move
	CacheFill int // Permille of the pass cache used
}

// Result is the outcome of a search.
type Result struct {
	Move   game.Move
	Ponder game.Move
	Score  float64
	Depth  int
	Nodes  uint64
	PV     []game.Move
}

// Options configures an Engine.
type Options struct {
	CacheBits       int // log2 of the slots in each pass cache
	Quiescence      bool
	QuiescenceDepth int
	Logger          zerolog.Logger
	Book            ScoreBook // optional
}

// Engine is the search driver. Search runs on the caller's goroutine; Stop
// and PonderHit may be called from any goroutine.
type Engine struct {
	eval Evaluator
	opts Options
	log  zerolog.Logger

	mu   sync.Mutex // serializes Setup, Search and Reset
	root game.Position
	prev *ScoreCache
	cur  *ScoreCache

	stop   atomic.Bool
	budget atomic.Pointer[Budget]
}

// NewEngine creates an engine that scores positions with eval.
func NewEngine(eval Evaluator, opts Options) *Engine {
	if opts.CacheBits == 0 {
		opts.CacheBits = DefaultCacheBits
	}
	if opts.QuiescenceDepth <= 0 {
		opts.QuiescenceDepth = DefaultQuiescenceDepth
	}
	return &Engine{
		eval: eval,
		opts: opts,
		log:  opts.Logger,
		prev: NewScoreCache(opts.CacheBits),
		cur:  NewScoreCache(opts.CacheBits),
	}
}

// SetQuiescence toggles the quiescence extension for later searches.
func (e *Engine) SetQuiescence(on bool) {
	e.mu.Lock()
	e.opts.Quiescence = on
	e.mu.Unlock()
}

// Resize reallocates the pass caches with 1<<bits slots each.
func (e *Engine) Resize(bits int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opts.CacheBits = bits
	e.prev = NewScoreCache(bits)
	e.cur = NewScoreCache(bits)
}

// Setup sets the root to root with moves played from it. root is cloned.
func (e *Engine) Setup(root game.Position, moves []game.Move) error {
	pos := root.Clone()
	for i, m := range moves {
		legal := false
		for _, lm := range pos.LegalMoves() {
			if lm == m {
				legal = true
				break
			}
		}
		if !legal {
			return fmt.Errorf("%w: %s at index %d", ErrIllegalMove, m, i)
		}
		pos.MakeMove(m)
	}

	e.mu.Lock()
	e.root = pos
	e.mu.Unlock()
	return nil
}

// Position returns a copy of the current root.
func (e *Engine) Position() game.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.root == nil {
		return nil
	}
	return e.root.Clone()
}

// Reset clears the caches for a new game.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prev.Clear()
	e.cur.Clear()
}

// Stop stops the current search. The search returns its best move so far.
// A Stop that arrives before Search starts ends that search after its first
// root move.
func (e *Engine) Stop() {
	e.stop.Store(true)
	if b := e.budget.Load(); b != nil {
		b.wake()
	}
}

// ResetStop discards a Stop left over from a search that already returned.
// Callers that run Search on another goroutine call it before starting that
// goroutine.
func (e *Engine) ResetStop() {
	e.stop.Store(false)
}

// PonderHit puts a pondering search on the clock.
func (e *Engine) PonderHit() {
	if b := e.budget.Load(); b != nil {
		b.PonderHit()
	}
}

// Search finds the best move from the root set by Setup. It deepens one ply
// per pass until the budget runs out, ctx is cancelled or Stop is called,
// calling onInfo (which may be nil) after each completed pass. The result
// always comes from the last pass that completed; only when the first pass
// is cut short does its partial choice stand in.
func (e *Engine) Search(ctx context.Context, limits Limits, onInfo func(SearchInfo)) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.stop.Store(false)

	if e.root == nil {
		return Result{}, ErrNoPosition
	}
	pos := e.root.Clone()
	if len(pos.LegalMoves()) == 0 {
		return Result{}, ErrNoLegalMoves
	}

	side := pos.SideToMove()
	budget := NewBudget(limits.Allocate(side), limits.Nodes, &e.stop, limits.Ponder)
	e.budget.Store(budget)
	defer e.budget.Store(nil)
	if ctx.Err() != nil {
		e.stop.Store(true)
	}
	release := context.AfterFunc(ctx, e.Stop)
	defer release()

	rootHash := pos.Hash()
	e.loadBook(rootHash, side)

	var acc nnue.Accumulator
	e.eval.Refresh(&acc, pos)
	s := NewSearcher(pos, e.eval, e.opts.Quiescence, e.opts.QuiescenceDepth)

	maxPasses := MaxPly - 1
	if limits.Depth > 0 && limits.Depth < maxPasses {
		maxPasses = limits.Depth
	}

	var result Result
	var lines []rootLine
	single := len(pos.LegalMoves()) == 1

	for d := 0; d < maxPasses; d++ {
		e.cur.Clear()
		pr := s.searchRoot(&acc, d+1, budget, e.prev, e.cur)

		switch {
		case pr.complete:
			result = Result{Move: pr.best.move, Score: pr.best.score, Depth: d + 1, PV: pr.pv}
			lines = pr.lines
		case result.Move == game.NoMove:
			// The first pass never finished; its partial choice beats nothing.
			result = Result{Move: pr.best.move, Score: pr.best.score, Depth: d + 1, PV: pr.pv}
			lines = pr.lines
		}

		if !pr.complete {
			e.log.Debug().Int("depth", d+1).Uint64("nodes", s.Nodes()).
				Dur("elapsed", budget.Elapsed()).Msg("pass interrupted")
			break
		}

		e.prev, e.cur = e.cur, e.prev

		info := SearchInfo{
			Depth:     d + 1,
			Score:     pr.best.score,
			Nodes:     s.Nodes(),
			Time:      budget.Elapsed(),
			PV:        pr.pv,
			CacheFill: e.prev.Fill(),
		}
		e.log.Debug().Int("depth", info.Depth).Float64("score", info.Score).
			Uint64("nodes", info.Nodes).Dur("elapsed", info.Time).
			Str("best", pr.best.move.String()).Msg("pass complete")
		if onInfo != nil {
			onInfo(info)
		}

		if IsMateScore(pr.best.score) || single || budget.Expired(s.Nodes()) {
			break
		}
	}

	// Pondering and infinite searches that ran out of depth wait for
	// ponderhit or stop so the move is not reported early.
	for (budget.ponder.Load() || limits.Infinite) && !e.stop.Load() {
		<-budget.wakeup
	}

	result.Nodes = s.Nodes()
	if len(result.PV) > 1 {
		result.Ponder = result.PV[1]
	}
	e.saveBook(rootHash, side, lines)
	return result, nil
}

func (e *Engine) loadBook(rootHash uint64, side game.Side) {
	if e.opts.Book == nil {
		return
	}
	scores, err := e.opts.Book.RootScores(rootHash)
	if err != nil {
		e.log.Warn().Err(err).Msg("score book lookup failed")
		return
	}
	for _, rs := range scores {
		score := rs.Score
		if side == game.Black {
			score = -score
		}
		e.prev.Store(rs.Hash, score)
	}
	if len(scores) > 0 {
		e.log.Debug().Int("entries", len(scores)).Msg("seeded ordering from score book")
	}
}

func (e *Engine) saveBook(rootHash uint64, side game.Side, lines []rootLine) {
	if e.opts.Book == nil || len(lines) == 0 {
		return
	}
	scores := make([]RootScore, 0, len(lines))
	for _, l := range lines {
		score := l.score
		if side == game.Black {
			score = -score
		}
		scores = append(scores, RootScore{Hash: l.hash, Score: score})
	}
	if err := e.opts.Book.SaveRootScores(rootHash, scores); err != nil {
		e.log.Warn().Err(err).Msg("score book update failed")
	}
}
