package game

import "fmt"

// Move encodes a move in 16 bits:
// bits 0-5:   from square
// bits 6-11:  to square
// bits 12-14: promotion kind + 1 (0 = no promotion)
type Move uint16

// NoMove is the null move.
const NoMove Move = 0

// NewMove creates a non-promoting move.
func NewMove(from, to Square) Move {
	return Move(from) | Move(to)<<6
}

// NewPromotion creates a move that promotes to kind.
func NewPromotion(from, to Square, kind PieceKind) Move {
	return NewMove(from, to) | Move(kind+1)<<12
}

// From returns the origin square.
func (m Move) From() Square {
	return Square(m & 0x3F)
}

// To returns the destination square.
func (m Move) To() Square {
	return Square((m >> 6) & 0x3F)
}

// Promotion returns the promoted kind, or NoPieceKind.
func (m Move) Promotion() PieceKind {
	p := (m >> 12) & 0x7
	if p == 0 {
		return NoPieceKind
	}
	return PieceKind(p - 1)
}

// IsPromotion reports whether the move promotes a pawn.
func (m Move) IsPromotion() bool {
	return (m>>12)&0x7 != 0
}

// String returns the move in UCI notation (e.g. "e2e4", "e7e8q").
func (m Move) String() string {
	if m == NoMove {
		return "0000"
	}
	s := m.From().String() + m.To().String()
	if m.IsPromotion() {
		s += string(m.Promotion().Letter())
	}
	return s
}

// ParseMove parses UCI notation. It does not check legality.
func ParseMove(s string) (Move, error) {
	if len(s) < 4 || len(s) > 5 {
		return NoMove, fmt.Errorf("invalid move %q", s)
	}
	from, err := ParseSquare(s[0:2])
	if err != nil {
		return NoMove, fmt.Errorf("invalid move %q: %w", s, err)
	}
	to, err := ParseSquare(s[2:4])
	if err != nil {
		return NoMove, fmt.Errorf("invalid move %q: %w", s, err)
	}
	if len(s) == 5 {
		switch s[4] {
		case 'n':
			return NewPromotion(from, to, Knight), nil
		case 'b':
			return NewPromotion(from, to, Bishop), nil
		case 'r':
			return NewPromotion(from, to, Rook), nil
		case 'q':
			return NewPromotion(from, to, Queen), nil
		default:
			return NoMove, fmt.Errorf("invalid promotion in %q", s)
		}
	}
	return NewMove(from, to), nil
}
