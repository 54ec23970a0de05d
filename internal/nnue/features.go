package nnue

import "github.com/hailam/abnnue/internal/game"

// FeatureIndex computes the HalfKP index of a non-king piece seen from
// perspective, whose king stands on king:
//
//	640*king + 320*relSide + 64*kind + square
//
// relSide is 0 for the perspective's own pieces and 1 for the opponent's.
// Black's perspective mirrors the board vertically so both sides see their
// king from the same edge.
func FeatureIndex(perspective game.Side, king game.Square, side game.Side, kind game.PieceKind, sq game.Square) int {
	if perspective == game.Black {
		king = king.Mirror()
		sq = sq.Mirror()
	}
	rel := 0
	if side != perspective {
		rel = 1
	}
	return int(king)*(NumPieceSides*NumPieceKinds*NumPieceSquares) +
		rel*(NumPieceKinds*NumPieceSquares) +
		int(kind)*NumPieceSquares +
		int(sq)
}

// ActiveFeatures appends the active feature indices of pos for perspective to
// buf and returns it.
func ActiveFeatures(pos game.Position, perspective game.Side, buf []int) []int {
	king := pos.KingSquare(perspective)
	for _, side := range [2]game.Side{game.White, game.Black} {
		for kind := game.Pawn; kind <= game.Queen; kind++ {
			bb := pos.Pieces(side, kind)
			for bb != 0 {
				sq := bb.PopLSB()
				buf = append(buf, FeatureIndex(perspective, king, side, kind, sq))
			}
		}
	}
	return buf
}

// delta collects the feature rows a move adds and removes.
type delta struct {
	added   [2]int
	removed [3]int
	nAdd    int
	nRem    int
}

func (d *delta) add(idx int) {
	d.added[d.nAdd] = idx
	d.nAdd++
}

func (d *delta) remove(idx int) {
	d.removed[d.nRem] = idx
	d.nRem++
}

// changedFeatures computes the delta of m, played in pos, for perspective
// whose king stays on king. ok is false when m moves perspective's own king.
func changedFeatures(pos game.Position, perspective game.Side, king game.Square, m game.Move) (d delta, ok bool) {
	from, to := m.From(), m.To()
	side, kind := pos.PieceAt(from)
	if kind == game.King && side == perspective {
		return d, false
	}

	if kind == game.King {
		if game.IsCastle(pos, m) {
			rf, rt := game.CastleRook(m)
			d.remove(FeatureIndex(perspective, king, side, game.Rook, rf))
			d.add(FeatureIndex(perspective, king, side, game.Rook, rt))
		}
	} else {
		d.remove(FeatureIndex(perspective, king, side, kind, from))
		placed := kind
		if m.IsPromotion() {
			placed = m.Promotion()
		}
		d.add(FeatureIndex(perspective, king, side, placed, to))
	}

	if capSide, capKind := pos.PieceAt(to); capSide != game.NoSide {
		if capKind != game.King {
			d.remove(FeatureIndex(perspective, king, capSide, capKind, to))
		}
	} else if kind == game.Pawn && from.File() != to.File() {
		// En passant: the captured pawn sits beside the mover, not on to.
		victim := game.NewSquare(to.File(), from.Rank())
		d.remove(FeatureIndex(perspective, king, side.Other(), game.Pawn, victim))
	}
	return d, true
}
