package engine

import (
	"cmp"
	"slices"

	"github.com/hailam/abnnue/internal/game"
	"github.com/hailam/abnnue/internal/nnue"
)

// child is one ordered successor of a node. acc indexes the ply's
// accumulator buffer so that sorting moves small values only.
type child struct {
	move  game.Move
	hash  uint64
	score float64
	acc   int
}

// plyBuffer holds the children of the node being expanded at one ply.
type plyBuffer struct {
	children []child
	accs     []nnue.Accumulator
}

// MoveOrderer builds and sorts the children of a node. It keeps one buffer per
// ply so expanding a node never allocates once the buffers are warm.
type MoveOrderer struct {
	plies [MaxPly + 1]plyBuffer
}

// NewMoveOrderer creates a new move orderer.
func NewMoveOrderer() *MoveOrderer {
	return &MoveOrderer{}
}

// Children computes a child accumulator and an ordering score for every move
// of pos, then stably sorts them: descending at max nodes, ascending at min
// nodes. Scores come from prev when the child is cached there, otherwise from
// a fresh evaluation of the child.
func (mo *MoveOrderer) Children(ply int, pos game.Position, acc *nnue.Accumulator, moves []game.Move,
	eval Evaluator, pov game.Side, prev *ScoreCache, maximizing bool) []child {

	buf := &mo.plies[ply]
	if cap(buf.accs) < len(moves) {
		buf.accs = make([]nnue.Accumulator, len(moves))
		buf.children = make([]child, len(moves))
	}
	buf.accs = buf.accs[:len(moves)]
	buf.children = buf.children[:len(moves)]

	for i, m := range moves {
		a := &buf.accs[i]
		*a = *acc
		eval.Update(a, pos, m)

		u := pos.MakeMove(m)
		h := pos.Hash()
		score, ok := prev.Probe(h)
		if !ok {
			score = eval.Evaluate(a, pos, pov)
		}
		pos.UnmakeMove(m, u)

		buf.children[i] = child{move: m, hash: h, score: score, acc: i}
	}

	if maximizing {
		slices.SortStableFunc(buf.children, func(a, b child) int { return cmp.Compare(b.score, a.score) })
	} else {
		slices.SortStableFunc(buf.children, func(a, b child) int { return cmp.Compare(a.score, b.score) })
	}
	return buf.children
}

// Acc returns the accumulator of c, valid until ply is expanded again.
func (mo *MoveOrderer) Acc(ply int, c child) *nnue.Accumulator {
	return &mo.plies[ply].accs[c.acc]
}
