// Package nnue implements a HalfKP NNUE (Efficiently Updatable Neural Network)
// evaluator with an incrementally updated first layer.
package nnue

import (
	"golang.org/x/exp/constraints"

	"github.com/hailam/abnnue/internal/game"
)

// Network architecture constants
const (
	// HalfKP feature dimensions
	NumKingSquares  = 64
	NumPieceKinds   = 5 // P, N, B, R, Q (kings only select the bucket)
	NumPieceSides   = 2 // own, opponent
	NumPieceSquares = 64

	// King square * side * kind * square
	HalfKPSize = NumKingSquares * NumPieceSides * NumPieceKinds * NumPieceSquares // 40960

	L1Size = 256 // Accumulator width per perspective (512 concatenated)
	L2Size = 32
	L3Size = 32
)

func relu[T constraints.Float](x T) T {
	if x < 0 {
		return 0
	}
	return x
}

// Evaluator scores positions with a shared, read-only network. It holds no
// per-search state and is safe for concurrent use.
type Evaluator struct {
	net *Network
}

// NewEvaluator loads weights from weightsFile. An empty name yields a
// deterministic random network, which is only useful for testing.
func NewEvaluator(weightsFile string) (*Evaluator, error) {
	if weightsFile == "" {
		net := NewNetwork()
		net.InitRandom(12345)
		return &Evaluator{net: net}, nil
	}
	net, err := LoadFile(weightsFile)
	if err != nil {
		return nil, err
	}
	return &Evaluator{net: net}, nil
}

// NewEvaluatorFromNetwork wraps an already loaded network.
func NewEvaluatorFromNetwork(net *Network) *Evaluator {
	return &Evaluator{net: net}
}

// Network returns the underlying weights.
func (e *Evaluator) Network() *Network {
	return e.net
}

// Refresh recomputes both perspectives of acc from pos.
func (e *Evaluator) Refresh(acc *Accumulator, pos game.Position) {
	acc.RefreshAll(e.net, pos)
}

// Update turns acc, the accumulator of pos, into the accumulator of the
// position after m. pos is left as it was found.
func (e *Evaluator) Update(acc *Accumulator, pos game.Position, m game.Move) {
	var stale [2]bool
	for _, p := range [2]game.Side{game.White, game.Black} {
		stale[p] = !acc.Apply(e.net, p, m, pos)
	}
	if !stale[game.White] && !stale[game.Black] {
		return
	}
	u := pos.MakeMove(m)
	for _, p := range [2]game.Side{game.White, game.Black} {
		if stale[p] {
			acc.Refresh(e.net, p, pos)
		}
	}
	pos.UnmakeMove(m, u)
}

// Evaluate returns the network score of pos from pov's point of view.
func (e *Evaluator) Evaluate(acc *Accumulator, pos game.Position, pov game.Side) float64 {
	stm := pos.SideToMove()
	score := e.net.Score(&acc.Vectors[stm], &acc.Vectors[stm.Other()])
	if stm != pov {
		return -score
	}
	return score
}
