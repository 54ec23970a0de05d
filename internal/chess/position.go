// Package chess adapts the dragontoothmg move generator to the game.Position
// contract used by the search engine.
package chess

import (
	"errors"
	"fmt"
	"math/bits"
	"strings"

	dragon "github.com/dylhunn/dragontoothmg"

	"github.com/hailam/abnnue/internal/game"
)

// StartFEN is the standard starting position.
const StartFEN = dragon.Startpos

// ErrInvalidFEN is returned for FEN strings the parser rejects.
var ErrInvalidFEN = errors.New("invalid FEN")

// Position is a game.Position backed by a dragontoothmg board.
//
// Legal move lists are cached per ply so that MakeMove can map a game.Move
// back onto the generator's encoding without regenerating.
type Position struct {
	board dragon.Board
	ply   int
	lists []plyMoves
}

type plyMoves struct {
	hash  uint64
	valid bool
	moves []dragon.Move
}

// NewPosition returns the starting position.
func NewPosition() *Position {
	p, _ := FromFEN(StartFEN)
	return p
}

// FromFEN parses a FEN string.
func FromFEN(fen string) (p *Position, err error) {
	fields := strings.Fields(fen)
	if len(fields) < 4 {
		return nil, fmt.Errorf("%w: %q: expected at least 4 fields", ErrInvalidFEN, fen)
	}
	if strings.Count(fields[0], "/") != 7 {
		return nil, fmt.Errorf("%w: %q: expected 8 ranks", ErrInvalidFEN, fen)
	}
	if fields[1] != "w" && fields[1] != "b" {
		return nil, fmt.Errorf("%w: %q: bad side to move", ErrInvalidFEN, fen)
	}
	if len(fields) == 4 {
		fields = append(fields, "0", "1")
	}

	// The generator indexes into its tables without bounds checks on
	// malformed input.
	defer func() {
		if r := recover(); r != nil {
			p, err = nil, fmt.Errorf("%w: %q: %v", ErrInvalidFEN, fen, r)
		}
	}()
	board := dragon.ParseFen(strings.Join(fields, " "))
	if bits.OnesCount64(board.White.Kings) != 1 || bits.OnesCount64(board.Black.Kings) != 1 {
		return nil, fmt.Errorf("%w: %q: each side needs exactly one king", ErrInvalidFEN, fen)
	}
	return &Position{board: board}, nil
}

// FEN returns the position in Forsyth-Edwards notation.
func (p *Position) FEN() string {
	return p.board.ToFen()
}

func (p *Position) cached() *plyMoves {
	for len(p.lists) <= p.ply {
		p.lists = append(p.lists, plyMoves{})
	}
	pm := &p.lists[p.ply]
	if !pm.valid || pm.hash != p.board.Hash() {
		pm.moves = p.board.GenerateLegalMoves()
		pm.hash = p.board.Hash()
		pm.valid = true
	}
	return pm
}

// LegalMoves returns all legal moves in generator order.
func (p *Position) LegalMoves() []game.Move {
	pm := p.cached()
	out := make([]game.Move, len(pm.moves))
	for i := range pm.moves {
		out[i] = fromDragon(pm.moves[i])
	}
	return out
}

func fromDragon(dm dragon.Move) game.Move {
	from := game.Square(dm.From())
	to := game.Square(dm.To())
	if promo := dm.Promote(); promo != dragon.Nothing {
		return game.NewPromotion(from, to, game.PieceKind(promo-1))
	}
	return game.NewMove(from, to)
}

func (p *Position) toDragon(m game.Move) (dragon.Move, bool) {
	pm := p.cached()
	for _, dm := range pm.moves {
		if fromDragon(dm) == m {
			return dm, true
		}
	}
	return 0, false
}

// IsLegal reports whether m is legal in the position.
func (p *Position) IsLegal(m game.Move) bool {
	_, ok := p.toDragon(m)
	return ok
}

type undo func()

// MakeMove plays m, which must be legal. Illegal moves leave the position
// untouched and return nil.
func (p *Position) MakeMove(m game.Move) game.Undo {
	dm, ok := p.toDragon(m)
	if !ok {
		return nil
	}
	u := undo(p.board.Apply(dm))
	p.ply++
	return u
}

// UnmakeMove reverts the move made with the given token.
func (p *Position) UnmakeMove(_ game.Move, u game.Undo) {
	fn, ok := u.(undo)
	if !ok || fn == nil {
		return
	}
	fn()
	p.ply--
}

// IsCheckmate reports whether the side to move is mated.
func (p *Position) IsCheckmate() bool {
	return len(p.cached().moves) == 0 && p.board.OurKingInCheck()
}

// IsStalemate reports whether the side to move has no moves and is not in check.
func (p *Position) IsStalemate() bool {
	return len(p.cached().moves) == 0 && !p.board.OurKingInCheck()
}

// InCheck reports whether the side to move is in check.
func (p *Position) InCheck() bool {
	return p.board.OurKingInCheck()
}

func (p *Position) Hash() uint64 {
	return p.board.Hash()
}

func (p *Position) SideToMove() game.Side {
	if p.board.Wtomove {
		return game.White
	}
	return game.Black
}

func (p *Position) bitboards(side game.Side) *dragon.Bitboards {
	if side == game.White {
		return &p.board.White
	}
	return &p.board.Black
}

// Pieces returns the squares holding side's pieces of the given kind.
func (p *Position) Pieces(side game.Side, kind game.PieceKind) game.Bitboard {
	bb := p.bitboards(side)
	switch kind {
	case game.Pawn:
		return game.Bitboard(bb.Pawns)
	case game.Knight:
		return game.Bitboard(bb.Knights)
	case game.Bishop:
		return game.Bitboard(bb.Bishops)
	case game.Rook:
		return game.Bitboard(bb.Rooks)
	case game.Queen:
		return game.Bitboard(bb.Queens)
	case game.King:
		return game.Bitboard(bb.Kings)
	}
	return 0
}

// PieceAt returns the occupant of sq.
func (p *Position) PieceAt(sq game.Square) (game.Side, game.PieceKind) {
	mask := uint64(1) << sq
	for _, side := range [2]game.Side{game.White, game.Black} {
		if p.bitboards(side).All&mask == 0 {
			continue
		}
		for kind := game.Pawn; kind <= game.King; kind++ {
			if uint64(p.Pieces(side, kind))&mask != 0 {
				return side, kind
			}
		}
	}
	return game.NoSide, game.NoPieceKind
}

// KingSquare returns the square of side's king.
func (p *Position) KingSquare(side game.Side) game.Square {
	k := p.bitboards(side).Kings
	if k == 0 {
		return game.NoSquare
	}
	return game.Square(bits.TrailingZeros64(k))
}

// Clone returns an independent copy.
func (p *Position) Clone() game.Position {
	return p.Copy()
}

// Copy is Clone with the concrete type.
func (p *Position) Copy() *Position {
	return &Position{board: p.board}
}

// String renders the board as eight text ranks followed by the FEN.
func (p *Position) String() string {
	var sb strings.Builder
	for rank := 7; rank >= 0; rank-- {
		for file := 0; file < 8; file++ {
			side, kind := p.PieceAt(game.NewSquare(file, rank))
			c := kind.Letter()
			if side == game.White {
				c -= 'a' - 'A'
			}
			sb.WriteByte(c)
			if file < 7 {
				sb.WriteByte(' ')
			}
		}
		sb.WriteByte('\n')
	}
	sb.WriteString("fen: ")
	sb.WriteString(p.FEN())
	return sb.String()
}
