package nnue

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hailam/abnnue/internal/chess"
	"github.com/hailam/abnnue/internal/game"
)

const tolerance = 1e-4

var (
	testNetOnce sync.Once
	testNet     *Network
)

// sharedNetwork returns a random network built once for the whole package.
func sharedNetwork(t *testing.T) *Network {
	t.Helper()
	testNetOnce.Do(func() {
		testNet = NewNetwork()
		testNet.InitRandom(7)
	})
	return testNet
}

func mustFEN(t *testing.T, fen string) *chess.Position {
	t.Helper()
	pos, err := chess.FromFEN(fen)
	if err != nil {
		t.Fatalf("FromFEN(%q): %v", fen, err)
	}
	return pos
}

// checkMatchesRefresh verifies that acc equals a from-scratch refresh of pos,
// vector-wise and through the forward pass.
func checkMatchesRefresh(t *testing.T, eval *Evaluator, acc *Accumulator, pos game.Position, ctx string) {
	t.Helper()
	var fresh Accumulator
	eval.Refresh(&fresh, pos)

	for _, p := range [2]game.Side{game.White, game.Black} {
		if acc.Kings[p] != fresh.Kings[p] {
			t.Fatalf("%s: %v king square %s, refresh has %s", ctx, p, acc.Kings[p], fresh.Kings[p])
		}
		for i := range acc.Vectors[p] {
			if d := math.Abs(float64(acc.Vectors[p][i] - fresh.Vectors[p][i])); d > tolerance {
				t.Fatalf("%s: %v vector[%d] differs by %g", ctx, p, i, d)
			}
		}
	}
	got := eval.Evaluate(acc, pos, game.White)
	want := eval.Evaluate(&fresh, pos, game.White)
	if math.Abs(got-want) > tolerance {
		t.Fatalf("%s: incremental score %f, refresh score %f", ctx, got, want)
	}
}

// checkAllChildren updates acc for every legal move of pos and compares the
// result with a refresh of the child.
func checkAllChildren(t *testing.T, eval *Evaluator, acc *Accumulator, pos game.Position, ctx string) {
	t.Helper()
	for _, m := range pos.LegalMoves() {
		child := *acc
		eval.Update(&child, pos, m)
		u := pos.MakeMove(m)
		checkMatchesRefresh(t, eval, &child, pos, ctx+" "+m.String())
		pos.UnmakeMove(m, u)
	}
}

func TestFeatureIndex(t *testing.T) {
	e1, _ := game.ParseSquare("e1")
	e2, _ := game.ParseSquare("e2")
	e7, _ := game.ParseSquare("e7")
	e8, _ := game.ParseSquare("e8")

	tests := []struct {
		name        string
		perspective game.Side
		king        game.Square
		side        game.Side
		kind        game.PieceKind
		sq          game.Square
		want        int
	}{
		{"white own pawn", game.White, e1, game.White, game.Pawn, e2, 640*4 + 12},
		{"white enemy pawn", game.White, e1, game.Black, game.Pawn, e7, 640*4 + 320 + 52},
		{"black own pawn mirrored", game.Black, e8, game.Black, game.Pawn, e7, 640*4 + 12},
		{"black enemy queen", game.Black, e8, game.White, game.Queen, e1, 640*4 + 320 + 4*64 + 60},
		{"white own rook", game.White, e1, game.White, game.Rook, game.H1, 640*4 + 3*64 + 7},
	}
	for _, tt := range tests {
		if got := FeatureIndex(tt.perspective, tt.king, tt.side, tt.kind, tt.sq); got != tt.want {
			t.Errorf("%s: FeatureIndex = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestActiveFeaturesStartPosition(t *testing.T) {
	pos := chess.NewPosition()
	for _, p := range [2]game.Side{game.White, game.Black} {
		features := ActiveFeatures(pos, p, nil)
		if len(features) != 30 {
			t.Errorf("%v: %d active features, want 30", p, len(features))
		}
		seen := make(map[int]bool)
		for _, idx := range features {
			if idx < 0 || idx >= HalfKPSize {
				t.Fatalf("%v: feature %d out of range", p, idx)
			}
			if seen[idx] {
				t.Errorf("%v: duplicate feature %d", p, idx)
			}
			seen[idx] = true
		}
	}
}

// The start position is symmetric, so both perspectives see the same features.
func TestStartPositionPerspectivesAgree(t *testing.T) {
	net := sharedNetwork(t)
	var acc Accumulator
	acc.RefreshAll(net, chess.NewPosition())
	if acc.Vectors[game.White] != acc.Vectors[game.Black] {
		t.Error("start position perspectives differ")
	}
}

func TestMirroredPositionScoresEqual(t *testing.T) {
	eval := NewEvaluatorFromNetwork(sharedNetwork(t))
	pairs := [][2]string{
		{"4k3/8/8/8/8/8/4P3/4K3 w - - 0 1", "4k3/4p3/8/8/8/8/8/4K3 b - - 0 1"},
		{"r3k3/1q6/8/8/3N4/8/8/4K2R w - - 0 1", "4k2r/8/8/3n4/8/8/1Q6/R3K3 b - - 0 1"},
	}
	for _, pair := range pairs {
		a, b := mustFEN(t, pair[0]), mustFEN(t, pair[1])
		var accA, accB Accumulator
		eval.Refresh(&accA, a)
		eval.Refresh(&accB, b)
		sa := eval.Evaluate(&accA, a, a.SideToMove())
		sb := eval.Evaluate(&accB, b, b.SideToMove())
		if math.Abs(sa-sb) > tolerance {
			t.Errorf("%s scores %f, mirror scores %f", pair[0], sa, sb)
		}
	}
}

func TestEvaluatePointOfView(t *testing.T) {
	eval := NewEvaluatorFromNetwork(sharedNetwork(t))
	pos := mustFEN(t, "r3k3/1q6/8/8/3N4/8/8/4K2R w - - 0 1")
	var acc Accumulator
	eval.Refresh(&acc, pos)
	w := eval.Evaluate(&acc, pos, game.White)
	b := eval.Evaluate(&acc, pos, game.Black)
	if w != -b {
		t.Errorf("Evaluate(white) = %f, Evaluate(black) = %f", w, b)
	}
}

func TestUpdateMatchesRefreshSpecialMoves(t *testing.T) {
	eval := NewEvaluatorFromNetwork(sharedNetwork(t))
	fens := []string{
		chess.StartFEN,
		"r3k2r/p1ppqpb1/bn2pnp1/3PN3/1p2P3/2N2Q1p/PPPBBPPP/R3K2R w KQkq - 0 1",
		"r3k2r/p1ppqpb1/bn2pnp1/3PN3/Pp2P3/2N2Q1p/1PPBBPPP/R3K2R b KQkq a3 0 1",
		"4k3/8/8/3pP3/8/8/8/4K3 w - d6 0 1",
		"4k3/8/8/8/3Pp3/8/8/4K3 b - d3 0 1",
		"3r3k/4P3/8/8/8/8/8/K7 w - - 0 1",
		"k7/8/8/8/8/8/4p3/K2R4 b - - 0 1",
		"r3k2r/Pppp1ppp/1b3nbN/nP6/BBP1P3/q4N2/Pp1P2PP/R2Q1RK1 w kq - 0 1",
	}
	for _, fen := range fens {
		pos := mustFEN(t, fen)
		var acc Accumulator
		eval.Refresh(&acc, pos)
		checkAllChildren(t, eval, &acc, pos, fen)
	}
}

func TestCastlingDelta(t *testing.T) {
	eval := NewEvaluatorFromNetwork(sharedNetwork(t))
	tests := []struct {
		name string
		fen  string
		move string
	}{
		{"white kingside", "r3k2r/pppppppp/8/8/8/8/PPPPPPPP/R3K2R w KQkq - 0 1", "e1g1"},
		{"white queenside", "r3k2r/pppppppp/8/8/8/8/PPPPPPPP/R3K2R w KQkq - 0 1", "e1c1"},
		{"black kingside", "r3k2r/pppppppp/8/8/8/8/PPPPPPPP/R3K2R b KQkq - 0 1", "e8g8"},
		{"black queenside", "r3k2r/pppppppp/8/8/8/8/PPPPPPPP/R3K2R b KQkq - 0 1", "e8c8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos := mustFEN(t, tt.fen)
			m, err := chess.ParseLegalMove(pos, tt.move)
			if err != nil {
				t.Fatal(err)
			}
			mover := pos.SideToMove()

			var acc Accumulator
			eval.Refresh(&acc, pos)
			before := acc

			// The mover's own perspective cannot take the delta path.
			if acc.Apply(eval.Network(), mover, m, pos) {
				t.Fatal("Apply accepted a move of the perspective's own king")
			}
			if acc.Vectors[mover] != before.Vectors[mover] {
				t.Fatal("rejected Apply modified the vector")
			}
			if !acc.Apply(eval.Network(), mover.Other(), m, pos) {
				t.Fatal("Apply rejected the far perspective")
			}

			u := pos.MakeMove(m)
			acc.Refresh(eval.Network(), mover, pos)
			checkMatchesRefresh(t, eval, &acc, pos, tt.name)
			pos.UnmakeMove(m, u)
		})
	}
}

func TestAccumulatorEquivalenceRandomPlayouts(t *testing.T) {
	eval := NewEvaluatorFromNetwork(sharedNetwork(t))
	starts := []string{
		chess.StartFEN,
		"r3k2r/p1ppqpb1/bn2pnp1/3PN3/1p2P3/2N2Q1p/PPPBBPPP/R3K2R w KQkq - 0 1",
		"8/2p5/3p4/KP5r/1R3p1k/8/4P1P1/8 w - - 0 1",
	}
	rng := rand.New(rand.NewPCG(1, 2))

	for _, fen := range starts {
		for i := 0; i < 3; i++ {
			pos := mustFEN(t, fen)
			var acc Accumulator
			eval.Refresh(&acc, pos)

			for ply := 0; ply < 40; ply++ {
				moves := pos.LegalMoves()
				if len(moves) == 0 {
					break
				}
				if ply%8 == 0 {
					checkAllChildren(t, eval, &acc, pos, fen)
				}
				m := moves[rng.IntN(len(moves))]
				eval.Update(&acc, pos, m)
				pos.MakeMove(m)
				checkMatchesRefresh(t, eval, &acc, pos, fen+" after "+m.String())
			}
		}
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	a := NewNetwork()
	a.InitRandom(3)
	b := NewNetwork()
	b.InitRandom(3)
	pos := chess.NewPosition()
	var accA, accB Accumulator
	accA.RefreshAll(a, pos)
	accB.RefreshAll(b, pos)
	if a.Score(&accA.Vectors[0], &accA.Vectors[1]) != b.Score(&accB.Vectors[0], &accB.Vectors[1]) {
		t.Error("same seed produced different scores")
	}
}

func TestSaveLoad(t *testing.T) {
	net := sharedNetwork(t)
	pos := mustFEN(t, "r3k2r/p1ppqpb1/bn2pnp1/3PN3/1p2P3/2N2Q1p/PPPBBPPP/R3K2R w KQkq - 0 1")
	var acc Accumulator
	acc.RefreshAll(net, pos)
	want := net.Score(&acc.Vectors[0], &acc.Vectors[1])

	dir := t.TempDir()
	for _, name := range []string{"net.bin", "net.bin.zst"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := net.SaveFile(path); err != nil {
				t.Fatalf("SaveFile: %v", err)
			}
			loaded, err := LoadFile(path)
			if err != nil {
				t.Fatalf("LoadFile: %v", err)
			}
			if loaded.InputWeights[HalfKPSize-1] != net.InputWeights[HalfKPSize-1] ||
				loaded.OutputBias != net.OutputBias {
				t.Fatal("loaded weights differ")
			}
			var acc2 Accumulator
			acc2.RefreshAll(loaded, pos)
			if got := loaded.Score(&acc2.Vectors[0], &acc2.Vectors[1]); got != want {
				t.Errorf("score after reload = %f, want %f", got, want)
			}
		})
	}
}

func TestLoadMalformed(t *testing.T) {
	header := func(h FileHeader) []byte {
		var buf bytes.Buffer
		binary.Write(&buf, binary.LittleEndian, &h)
		return buf.Bytes()
	}

	badMagic := currentHeader()
	badMagic.Magic = 0xDEADBEEF
	badVersion := currentHeader()
	badVersion.Version = 99
	badDims := currentHeader()
	badDims.L1Size = 512

	nan := header(currentHeader())
	nan = binary.LittleEndian.AppendUint32(nan, math.Float32bits(float32(math.NaN())))
	nan = append(nan, make([]byte, 4*(L1Size-1))...)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, io.EOF},
		{"bad magic", header(badMagic), ErrBadMagic},
		{"bad version", header(badVersion), ErrBadVersion},
		{"bad dimensions", header(badDims), ErrBadDimensions},
		{"truncated", append(header(currentHeader()), 0, 0, 0, 0), io.ErrUnexpectedEOF},
		{"nan", nan, ErrNonFinite},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(bytes.NewReader(tt.data))
			if err == nil {
				t.Fatal("Load succeeded on malformed data")
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNewEvaluatorMissingFile(t *testing.T) {
	if _, err := NewEvaluator(filepath.Join(t.TempDir(), "missing.bin")); err == nil {
		t.Error("NewEvaluator succeeded without a weights file")
	}
}
