package nnue

import "github.com/hailam/abnnue/internal/game"

// Accumulator stores the first-layer sums for both perspectives together with
// the king squares they were computed against. It is a plain value: copying it
// forks the state for a sibling branch.
type Accumulator struct {
	Vectors [2][L1Size]float32
	Kings   [2]game.Square
}

// Refresh recomputes perspective's vector from scratch.
func (acc *Accumulator) Refresh(net *Network, perspective game.Side, pos game.Position) {
	var buf [32]int
	features := ActiveFeatures(pos, perspective, buf[:0])

	vec := &acc.Vectors[perspective]
	*vec = net.InputBias
	for _, idx := range features {
		row := &net.InputWeights[idx]
		for i := range vec {
			vec[i] += row[i]
		}
	}
	acc.Kings[perspective] = pos.KingSquare(perspective)
}

// RefreshAll recomputes both perspectives.
func (acc *Accumulator) RefreshAll(net *Network, pos game.Position) {
	acc.Refresh(net, game.White, pos)
	acc.Refresh(net, game.Black, pos)
}

// Apply updates perspective's vector for m played from pos, the position
// before the move. It returns false, leaving the vector untouched, when m
// moves perspective's own king; the caller must Refresh after the move.
func (acc *Accumulator) Apply(net *Network, perspective game.Side, m game.Move, pos game.Position) bool {
	d, ok := changedFeatures(pos, perspective, acc.Kings[perspective], m)
	if !ok {
		return false
	}

	vec := &acc.Vectors[perspective]
	for _, idx := range d.removed[:d.nRem] {
		row := &net.InputWeights[idx]
		for i := range vec {
			vec[i] -= row[i]
		}
	}
	for _, idx := range d.added[:d.nAdd] {
		row := &net.InputWeights[idx]
		for i := range vec {
			vec[i] += row[i]
		}
	}
	return true
}
