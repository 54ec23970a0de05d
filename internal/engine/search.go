package engine

import (
	"github.com/samber/lo"

	"github.com/hailam/abnnue/internal/game"
	"github.com/hailam/abnnue/internal/nnue"
)

// Search constants
const (
	Infinity  = 1e9
	MateScore = 1e6
	MaxPly    = 128

	DefaultQuiescenceDepth = 2
)

// IsMateScore reports whether score encodes a forced mate.
func IsMateScore(score float64) bool {
	return score >= MateScore-MaxPly || score <= -MateScore+MaxPly
}

// MateIn converts a mate score into moves to mate, negative when the root
// side is being mated.
func MateIn(score float64) int {
	if score > 0 {
		plies := int(MateScore - score)
		return (plies + 1) / 2
	}
	plies := int(MateScore + score)
	return -(plies + 1) / 2
}

// PVTable stores the principal variation.
type PVTable struct {
	length [MaxPly + 1]int
	moves  [MaxPly + 1][MaxPly + 1]game.Move
}

func (pv *PVTable) clear(ply int) {
	pv.length[ply] = ply
}

func (pv *PVTable) update(ply int, m game.Move) {
	pv.moves[ply][ply] = m
	next := pv.length[ply+1]
	if next < ply+1 {
		next = ply + 1
	}
	copy(pv.moves[ply][ply+1:next], pv.moves[ply+1][ply+1:next])
	pv.length[ply] = next
}

// Line returns the variation from the root.
func (pv *PVTable) Line() []game.Move {
	return append([]game.Move(nil), pv.moves[0][:pv.length[0]]...)
}

// Searcher walks one alpha-beta pass. Scores are always from the root side's
// point of view: max nodes are the root side to move, min nodes its opponent.
type Searcher struct {
	pos     game.Position
	eval    Evaluator
	pov     game.Side
	orderer *MoveOrderer

	prev *ScoreCache // previous pass, read for ordering
	cur  *ScoreCache // this pass, written with backed-up values

	budget  *Budget
	horizon int

	quiescence      bool
	quiescenceDepth int

	nodes       uint64
	interrupted bool
	pv          PVTable
}

// NewSearcher creates a searcher over pos, which it mutates and restores.
func NewSearcher(pos game.Position, eval Evaluator, quiescence bool, quiescenceDepth int) *Searcher {
	if quiescenceDepth <= 0 {
		quiescenceDepth = DefaultQuiescenceDepth
	}
	return &Searcher{
		pos:             pos,
		eval:            eval,
		pov:             pos.SideToMove(),
		orderer:         NewMoveOrderer(),
		quiescence:      quiescence,
		quiescenceDepth: quiescenceDepth,
	}
}

// Nodes returns the number of nodes searched.
func (s *Searcher) Nodes() uint64 {
	return s.nodes
}

// rootLine is the outcome of one root child.
type rootLine struct {
	move     game.Move
	hash     uint64
	score    float64
	complete bool
}

// passResult is the outcome of one iterative-deepening pass.
type passResult struct {
	best     rootLine   // best child seen, complete or not
	lines    []rootLine // every root child that was searched
	pv       []game.Move
	complete bool
}

// searchRoot runs one pass that looks horizon plies ahead. The root is a max
// node; the first child is always searched so a pass never returns NoMove.
func (s *Searcher) searchRoot(acc *nnue.Accumulator, horizon int, budget *Budget, prev, cur *ScoreCache) passResult {
	s.horizon = horizon
	s.budget = budget
	s.prev, s.cur = prev, cur
	s.pv.clear(0)

	var res passResult
	res.best.score = -Infinity

	moves := s.pos.LegalMoves()
	children := s.orderer.Children(0, s.pos, acc, moves, s.eval, s.pov, prev, true)

	alpha, beta := -Infinity, Infinity
	res.complete = true
	for i, c := range children {
		if i > 0 && budget.Expired(s.nodes) {
			res.complete = false
			break
		}

		s.interrupted = false
		u := s.pos.MakeMove(c.move)
		v := s.alphaBeta(s.orderer.Acc(0, c), 1, alpha, beta, false)
		s.pos.UnmakeMove(c.move, u)

		line := rootLine{move: c.move, hash: c.hash, score: v, complete: !s.interrupted}
		res.lines = append(res.lines, line)
		if !line.complete {
			res.complete = false
		}

		if res.best.move == game.NoMove || v > res.best.score {
			res.best = line
			s.pv.update(0, c.move)
		}
		if v > alpha {
			alpha = v
		}
	}

	s.cur.Store(s.pos.Hash(), res.best.score)
	res.pv = s.pv.Line()
	return res
}

// terminal scores checkmate and stalemate. Mates are preferred when nearer
// the root.
func (s *Searcher) terminal(ply int) (float64, bool) {
	if s.pos.IsCheckmate() {
		if s.pos.SideToMove() == s.pov {
			return -(MateScore - float64(ply)), true
		}
		return MateScore - float64(ply), true
	}
	if s.pos.IsStalemate() {
		return 0, true
	}
	return 0, false
}

// alphaBeta is the minimax core. Leaves and cutoffs share one return path so
// an interrupted search still yields a well-formed score.
func (s *Searcher) alphaBeta(acc *nnue.Accumulator, ply int, alpha, beta float64, maximizing bool) float64 {
	s.nodes++
	s.pv.clear(ply)
	hash := s.pos.Hash()

	if v, ok := s.terminal(ply); ok {
		s.cur.Store(hash, v)
		return v
	}

	expired := s.budget.Expired(s.nodes)
	if expired {
		s.interrupted = true
	}
	if expired || ply >= s.horizon || ply >= MaxPly-1 {
		v := s.leaf(acc, ply, alpha, beta, maximizing, !expired)
		s.cur.Store(hash, v)
		return v
	}

	moves := s.pos.LegalMoves()
	if len(moves) == 0 {
		v := s.eval.Evaluate(acc, s.pos, s.pov)
		s.cur.Store(hash, v)
		return v
	}

	children := s.orderer.Children(ply, s.pos, acc, moves, s.eval, s.pov, s.prev, maximizing)

	best := Infinity
	if maximizing {
		best = -Infinity
	}
	for _, c := range children {
		u := s.pos.MakeMove(c.move)
		v := s.alphaBeta(s.orderer.Acc(ply, c), ply+1, alpha, beta, !maximizing)
		s.pos.UnmakeMove(c.move, u)

		if maximizing {
			if v > best {
				best = v
				s.pv.update(ply, c.move)
			}
			if v > alpha {
				alpha = v
			}
			if v >= beta {
				break
			}
		} else {
			if v < best {
				best = v
				s.pv.update(ply, c.move)
			}
			if v < beta {
				beta = v
			}
			if v <= alpha {
				break
			}
		}
	}

	s.cur.Store(hash, best)
	return best
}

// leaf scores a horizon or cutoff node, extending into quiescence when
// enabled and there is time for it.
func (s *Searcher) leaf(acc *nnue.Accumulator, ply int, alpha, beta float64, maximizing, extend bool) float64 {
	if s.quiescence && extend {
		return s.quiesce(acc, ply, s.quiescenceDepth, alpha, beta, maximizing)
	}
	return s.eval.Evaluate(acc, s.pos, s.pov)
}

// quiesce searches captures and promotions only, standing pat on the static
// score. A position without such moves is stable and is scored directly.
func (s *Searcher) quiesce(acc *nnue.Accumulator, ply, depth int, alpha, beta float64, maximizing bool) float64 {
	standPat := s.eval.Evaluate(acc, s.pos, s.pov)
	if depth <= 0 || ply >= MaxPly-1 {
		return standPat
	}
	if s.budget.Expired(s.nodes) {
		s.interrupted = true
		return standPat
	}

	noisy := lo.Reject(s.pos.LegalMoves(), func(m game.Move, _ int) bool {
		return game.IsQuiet(s.pos, m)
	})
	if len(noisy) == 0 {
		return standPat
	}

	best := standPat
	if maximizing {
		if best >= beta {
			return best
		}
		alpha = max(alpha, best)
	} else {
		if best <= alpha {
			return best
		}
		beta = min(beta, best)
	}

	children := s.orderer.Children(ply, s.pos, acc, noisy, s.eval, s.pov, s.prev, maximizing)
	for _, c := range children {
		s.nodes++
		u := s.pos.MakeMove(c.move)
		v, ok := s.terminal(ply + 1)
		if !ok {
			v = s.quiesce(s.orderer.Acc(ply, c), ply+1, depth-1, alpha, beta, !maximizing)
		}
		s.pos.UnmakeMove(c.move, u)

		if maximizing {
			best = max(best, v)
			alpha = max(alpha, v)
			if v >= beta {
				break
			}
		} else {
			best = min(best, v)
			beta = min(beta, v)
			if v <= alpha {
				break
			}
		}
	}
	return best
}
