package game

// Undo is an opaque token returned by MakeMove and consumed by UnmakeMove.
type Undo any

// Position is the rules engine the search consumes. Implementations own their
// state; the engine only mutates positions it cloned.
type Position interface {
	LegalMoves() []Move
	MakeMove(m Move) Undo
	UnmakeMove(m Move, u Undo)

	IsCheckmate() bool
	IsStalemate() bool

	Hash() uint64
	SideToMove() Side

	// PieceAt returns NoSide, NoPieceKind for an empty square.
	PieceAt(sq Square) (Side, PieceKind)
	Pieces(side Side, kind PieceKind) Bitboard
	KingSquare(side Side) Square

	Clone() Position
}

// IsCapture reports whether m takes a piece in pos, en passant included.
func IsCapture(pos Position, m Move) bool {
	if side, _ := pos.PieceAt(m.To()); side != NoSide {
		return true
	}
	return IsEnPassant(pos, m)
}

// IsEnPassant reports whether m is a pawn capturing onto an empty square.
func IsEnPassant(pos Position, m Move) bool {
	_, kind := pos.PieceAt(m.From())
	if kind != Pawn || m.From().File() == m.To().File() {
		return false
	}
	side, _ := pos.PieceAt(m.To())
	return side == NoSide
}

// IsCastle reports whether m is a king moving two files.
func IsCastle(pos Position, m Move) bool {
	_, kind := pos.PieceAt(m.From())
	if kind != King {
		return false
	}
	d := m.To().File() - m.From().File()
	return d == 2 || d == -2
}

// IsQuiet reports whether m is neither a capture nor a promotion.
func IsQuiet(pos Position, m Move) bool {
	return !m.IsPromotion() && !IsCapture(pos, m)
}

// CastleRook returns the rook's origin and destination for a castling move.
func CastleRook(m Move) (from, to Square) {
	rank := m.To().Rank()
	if m.To().File() > m.From().File() {
		return NewSquare(7, rank), NewSquare(5, rank)
	}
	return NewSquare(0, rank), NewSquare(3, rank)
}
