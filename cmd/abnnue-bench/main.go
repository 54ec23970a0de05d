// Command abnnue-bench searches a fixed suite of positions in parallel and
// reports node counts and speed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/hailam/abnnue/internal/chess"
	"github.com/hailam/abnnue/internal/config"
	"github.com/hailam/abnnue/internal/engine"
)

var suite = []string{
	chess.StartFEN,
	"r3k2r/p1ppqpb1/bn2pnp1/3PN3/1p2P3/2N2Q1p/PPPBBPPP/R3K2R w KQkq - 0 1",
	"8/2p5/3p4/KP5r/1R3p1k/8/4P1P1/8 w - - 0 1",
	"r3k2r/Pppp1ppp/1b3nbN/nP6/BBP1P3/q4N2/Pp1P2PP/R2Q1RK1 w kq - 0 1",
	"rnbq1k1r/pp1Pbppp/2p5/8/2B5/8/PPP1NnPP/RNBQK2R w KQ - 1 8",
	"r4rk1/1pp1qppp/p1np1n2/2b1p1B1/2B1P1b1/P1NP1N2/1PP1QPPP/R4RK1 w - - 0 10",
	"6k1/5ppp/8/8/8/8/8/R5K1 w - - 0 1",
	"4k3/8/8/8/8/8/4P3/4K3 w - - 0 1",
}

type benchResult struct {
	fen     string
	res     engine.Result
	elapsed time.Duration
}

func main() {
	configPath := flag.String("config", "", "JSON config file")
	weights := flag.String("weights", "", "network weights file (overrides config)")
	moveTime := flag.Duration("movetime", 0, "time per position (0 = depth only)")
	depth := flag.Int("depth", 4, "plies per position (0 = time only)")
	jobs := flag.Int("jobs", runtime.NumCPU(), "positions searched at once")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if *weights != "" {
		cfg.Weights = *weights
	}
	log.Logger = cfg.Logger(os.Stderr)
	if *depth <= 0 && *moveTime <= 0 {
		log.Fatal().Msg("either -depth or -movetime must be positive")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, engine.Limits{MoveTime: *moveTime, Depth: *depth}, *jobs); err != nil {
		log.Fatal().Err(err).Msg("bench failed")
	}
}

func run(ctx context.Context, cfg config.Config, limits engine.Limits, jobs int) error {
	eval, err := cfg.NewEvaluator(12345, log.Logger)
	if err != nil {
		return err
	}
	log.Info().Int("positions", len(suite)).Int("jobs", jobs).
		Int("depth", limits.Depth).Dur("movetime", limits.MoveTime).Msg("bench started")

	results := make([]benchResult, len(suite))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(jobs, 1))
	start := time.Now()

	for i, fen := range suite {
		i, fen := i, fen
		g.Go(func() error {
			pos, err := chess.FromFEN(fen)
			if err != nil {
				return fmt.Errorf("position %d: %w", i, err)
			}
			// The bench measures search alone, so no score book.
			eng := engine.NewEngine(eval, cfg.RequestEngineOptions(log.Logger))
			if err := eng.Setup(pos, nil); err != nil {
				return err
			}
			t := time.Now()
			res, err := eng.Search(ctx, limits, nil)
			if err != nil {
				return fmt.Errorf("position %d: %w", i, err)
			}
			results[i] = benchResult{fen: fen, res: res, elapsed: time.Since(t)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	wall := time.Since(start)

	var nodes uint64
	for i, r := range results {
		nodes += r.res.Nodes
		fmt.Printf("%2d %-6s depth %2d nodes %10d %8v  %s\n",
			i+1, r.res.Move, r.res.Depth, r.res.Nodes, r.elapsed.Round(time.Millisecond), r.fen)
	}
	fmt.Printf("total nodes %d, wall %v, nps %.0f\n", nodes, wall.Round(time.Millisecond), float64(nodes)/wall.Seconds())
	return nil
}
