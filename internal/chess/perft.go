package chess

import (
	"fmt"

	"github.com/hailam/abnnue/internal/game"
)

// Perft counts the leaf nodes of the legal move tree to the given depth.
func Perft(p game.Position, depth int) uint64 {
	if depth == 0 {
		return 1
	}

	moves := p.LegalMoves()
	if depth == 1 {
		return uint64(len(moves))
	}

	var nodes uint64
	for _, m := range moves {
		u := p.MakeMove(m)
		nodes += Perft(p, depth-1)
		p.UnmakeMove(m, u)
	}
	return nodes
}

// Divide returns the perft count below each root move.
func Divide(p game.Position, depth int) map[game.Move]uint64 {
	out := make(map[game.Move]uint64)
	if depth < 1 {
		return out
	}
	for _, m := range p.LegalMoves() {
		u := p.MakeMove(m)
		out[m] = Perft(p, depth-1)
		p.UnmakeMove(m, u)
	}
	return out
}

// ParseLegalMove parses UCI notation and checks it against the legal moves of p.
func ParseLegalMove(p game.Position, s string) (game.Move, error) {
	m, err := game.ParseMove(s)
	if err != nil {
		return game.NoMove, err
	}
	for _, legal := range p.LegalMoves() {
		if legal == m {
			return m, nil
		}
	}
	return game.NoMove, fmt.Errorf("illegal move %s", s)
}
