// Package uci implements the Universal Chess Interface protocol on top of the
// search engine.
package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/hailam/abnnue/internal/chess"
	"github.com/hailam/abnnue/internal/engine"
	"github.com/hailam/abnnue/internal/game"
	"github.com/hailam/abnnue/internal/nnue"
)

// UCI implements the Universal Chess Interface protocol.
type UCI struct {
	engine   *engine.Engine
	opts     engine.Options
	position *chess.Position // root after the last "position" command

	out   io.Writer
	outMu sync.Mutex
	log   zerolog.Logger

	// Search state
	searching  bool
	limits     engine.Limits
	searchDone chan struct{}
}

// New creates a protocol handler that writes responses to out. opts is kept
// so the engine can be rebuilt when a new network is loaded.
func New(eng *engine.Engine, opts engine.Options, out io.Writer) *UCI {
	u := &UCI{
		engine:   eng,
		opts:     opts,
		position: chess.NewPosition(),
		out:      out,
		log:      opts.Logger.With().Str("component", "uci").Logger(),
	}
	u.setup()
	return u
}

// Run reads commands from in until "quit", EOF or ctx is cancelled. A search
// still running at that point is stopped and its bestmove reported.
func (u *UCI) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	defer u.handleStop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				// Searches that only end on "stop" are stopped at EOF;
				// bounded ones run to completion.
				if u.limits.Infinite || u.limits.Ponder {
					u.handleStop()
				}
				u.waitSearch()
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if quit := u.Execute(line); quit {
				return nil
			}
		}
	}
}

// Execute handles one command line and reports whether it was "quit".
func (u *UCI) Execute(line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd, args := parts[0], parts[1:]

	switch cmd {
	case "uci":
		u.handleUCI()
	case "isready":
		u.println("readyok")
	case "ucinewgame":
		u.handleNewGame()
	case "position":
		u.handlePosition(args)
	case "go":
		u.handleGo(args)
	case "stop":
		u.handleStop()
	case "ponderhit":
		u.engine.PonderHit()
	case "quit":
		return true
	case "setoption":
		u.handleSetOption(args)
	// Debug commands
	case "d":
		u.println(u.position.String())
		u.printf("Fen: %s\n", u.position.FEN())
	case "perft":
		u.handlePerft(args)
	default:
		u.log.Debug().Str("command", cmd).Msg("unknown command")
	}
	return false
}

func (u *UCI) println(s string) {
	u.outMu.Lock()
	defer u.outMu.Unlock()
	fmt.Fprintln(u.out, s)
}

func (u *UCI) printf(format string, args ...any) {
	u.outMu.Lock()
	defer u.outMu.Unlock()
	fmt.Fprintf(u.out, format, args...)
}

// handleUCI responds to the "uci" command.
func (u *UCI) handleUCI() {
	u.println("id name abnnue")
	u.println("id author abnnue developers")
	u.println("")
	u.printf("option name Hash type spin default %d min 1 max 4096\n", cacheMB(engine.DefaultCacheBits))
	u.println("option name Quiescence type check default false")
	u.println("option name EvalFile type string default <empty>")
	u.println("option name Ponder type check default false")
	u.println("uciok")
}

// cacheMB is the memory taken by both pass caches at the given size.
func cacheMB(bits int) int {
	// 8 bytes of score and 1 bit of occupancy per slot, two caches.
	return max(1, int((uint64(1)<<bits)*2*8>>20))
}

// handleNewGame resets the engine for a new game.
func (u *UCI) handleNewGame() {
	u.handleStop()
	u.engine.Reset()
	u.position = chess.NewPosition()
	u.setup()
}

// handlePosition parses and sets up a position.
// Formats:
//   - position startpos
//   - position startpos moves e2e4 e7e5
//   - position fen <fen>
//   - position fen <fen> moves e2e4
func (u *UCI) handlePosition(args []string) {
	if len(args) == 0 {
		return
	}

	movesAt := lo.IndexOf(args, "moves")
	if movesAt < 0 {
		movesAt = len(args)
	}

	var root *chess.Position
	switch args[0] {
	case "startpos":
		root = chess.NewPosition()
	case "fen":
		pos, err := chess.FromFEN(strings.Join(args[1:movesAt], " "))
		if err != nil {
			u.printf("info string Invalid FEN: %v\n", err)
			u.log.Warn().Err(err).Msg("position rejected")
			return
		}
		root = pos
	default:
		return
	}

	pos := root.Copy()
	var moves []game.Move
	if movesAt < len(args) {
		for _, s := range args[movesAt+1:] {
			m, err := chess.ParseLegalMove(pos, s)
			if err != nil {
				u.printf("info string Invalid move: %s\n", s)
				u.log.Warn().Err(err).Str("move", s).Msg("position rejected")
				return
			}
			pos.MakeMove(m)
			moves = append(moves, m)
		}
	}

	u.position = pos
	if err := u.engine.Setup(root, moves); err != nil {
		u.printf("info string %v\n", err)
	}
}

// setup hands the current position to the engine as the root.
func (u *UCI) setup() {
	if err := u.engine.Setup(u.position, nil); err != nil {
		u.printf("info string %v\n", err)
	}
}

// ParseGo converts "go" arguments into search limits. Increments and
// movestogo are accepted but do not affect the budget.
func ParseGo(args []string) engine.Limits {
	var limits engine.Limits
	ms := func(i int) time.Duration {
		if i >= len(args) {
			return 0
		}
		v, _ := strconv.Atoi(args[i])
		return time.Duration(max(v, 0)) * time.Millisecond
	}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "depth":
			if i+1 < len(args) {
				limits.Depth, _ = strconv.Atoi(args[i+1])
				i++
			}
		case "nodes":
			if i+1 < len(args) {
				limits.Nodes, _ = strconv.ParseUint(args[i+1], 10, 64)
				i++
			}
		case "movetime":
			limits.MoveTime = ms(i + 1)
			i++
		case "wtime":
			limits.Clock[game.White] = ms(i + 1)
			i++
		case "btime":
			limits.Clock[game.Black] = ms(i + 1)
			i++
		case "winc", "binc", "movestogo":
			i++
		case "infinite":
			limits.Infinite = true
		case "ponder":
			limits.Ponder = true
		}
	}
	return limits
}

// handleGo starts a search with the given parameters.
func (u *UCI) handleGo(args []string) {
	u.handleStop()
	limits := ParseGo(args)

	u.searching = true
	u.limits = limits
	u.searchDone = make(chan struct{})
	eng, done := u.engine, u.searchDone
	// A "stop" may arrive before the goroutine below reaches Search.
	eng.ResetStop()

	go func() {
		defer close(done)

		res, err := eng.Search(context.Background(), limits, u.sendInfo)
		switch {
		case errors.Is(err, engine.ErrNoLegalMoves):
			u.println("bestmove 0000")
		case err != nil:
			u.log.Error().Err(err).Msg("search failed")
			u.printf("info string search failed: %v\n", err)
			u.println("bestmove 0000")
		case res.Ponder != game.NoMove:
			u.printf("bestmove %s ponder %s\n", res.Move, res.Ponder)
		default:
			u.printf("bestmove %s\n", res.Move)
		}
	}()
}

// FormatScore renders a root-side score as "cp N" or "mate N".
func FormatScore(score float64) string {
	if engine.IsMateScore(score) {
		return fmt.Sprintf("mate %d", engine.MateIn(score))
	}
	return fmt.Sprintf("cp %d", int(math.Round(score*100)))
}

// FormatInfo renders one completed pass as a UCI info line.
func FormatInfo(info engine.SearchInfo) string {
	parts := []string{
		fmt.Sprintf("depth %d", info.Depth),
		"score " + FormatScore(info.Score),
		fmt.Sprintf("nodes %d", info.Nodes),
		fmt.Sprintf("time %d", info.Time.Milliseconds()),
	}
	if info.Time > 0 {
		parts = append(parts, fmt.Sprintf("nps %d", uint64(float64(info.Nodes)/info.Time.Seconds())))
	}
	if info.CacheFill > 0 {
		parts = append(parts, fmt.Sprintf("hashfull %d", info.CacheFill))
	}
	if len(info.PV) > 0 {
		parts = append(parts, "pv "+strings.Join(lo.Map(info.PV, func(m game.Move, _ int) string {
			return m.String()
		}), " "))
	}
	return "info " + strings.Join(parts, " ")
}

// sendInfo outputs search info in UCI format.
func (u *UCI) sendInfo(info engine.SearchInfo) {
	u.println(FormatInfo(info))
}

// handleStop stops the current search and waits for its bestmove.
func (u *UCI) handleStop() {
	if u.searching {
		u.engine.Stop()
		u.waitSearch()
	}
}

func (u *UCI) waitSearch() {
	if u.searching {
		<-u.searchDone
		u.searching = false
	}
}

// handleSetOption processes "setoption" commands.
func (u *UCI) handleSetOption(args []string) {
	// Format: setoption name <name> value <value>
	var name, value []string
	var target *[]string
	for _, arg := range args {
		switch arg {
		case "name":
			target = &name
		case "value":
			target = &value
		default:
			if target != nil {
				*target = append(*target, arg)
			}
		}
	}
	val := strings.Join(value, " ")

	u.handleStop()
	switch strings.ToLower(strings.Join(name, " ")) {
	case "hash":
		mb, err := strconv.Atoi(val)
		if err != nil || mb < 1 {
			u.printf("info string Invalid Hash value: %s\n", val)
			return
		}
		bits := engine.CacheBitsForMB(mb)
		u.opts.CacheBits = bits
		u.engine.Resize(bits)
	case "quiescence":
		on := strings.EqualFold(val, "true")
		u.opts.Quiescence = on
		u.engine.SetQuiescence(on)
	case "evalfile":
		u.loadNetwork(val)
	case "ponder":
		// Pondering is driven by "go ponder"; nothing to configure.
	}
}

// loadNetwork swaps in a new network. The engine is rebuilt around it and the
// current position carried over.
func (u *UCI) loadNetwork(path string) {
	if path == "" || path == "<empty>" {
		return
	}
	net, err := nnue.LoadFile(path)
	if err != nil {
		u.printf("info string Failed to load network: %v\n", err)
		u.log.Error().Err(err).Str("path", path).Msg("network load failed")
		return
	}
	u.engine = engine.NewEngine(nnue.NewEvaluatorFromNetwork(net), u.opts)
	u.setup()
	u.printf("info string Network loaded from %s\n", path)
	u.log.Info().Str("path", path).Msg("network loaded")
}

// handlePerft runs a perft test.
func (u *UCI) handlePerft(args []string) {
	depth := 5
	if len(args) > 0 {
		if d, err := strconv.Atoi(args[0]); err == nil && d >= 0 {
			depth = d
		}
	}

	start := time.Now()
	div := chess.Divide(u.position.Copy(), depth)
	moves := lo.Keys(div)
	slices.SortFunc(moves, func(a, b game.Move) int { return strings.Compare(a.String(), b.String()) })

	var nodes uint64
	for _, m := range moves {
		u.printf("%s: %d\n", m, div[m])
		nodes += div[m]
	}
	elapsed := time.Since(start)

	u.printf("Nodes: %d\n", nodes)
	u.printf("Time: %v\n", elapsed)
	if elapsed > 0 {
		u.printf("NPS: %.0f\n", float64(nodes)/elapsed.Seconds())
	}
}
