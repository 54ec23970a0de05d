package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime/pprof"

	"github.com/rs/zerolog/log"

	"github.com/hailam/abnnue/internal/config"
	"github.com/hailam/abnnue/internal/engine"
	"github.com/hailam/abnnue/internal/uci"
)

var (
	configPath = flag.String("config", "", "JSON config file")
	weights    = flag.String("weights", "", "network weights file (overrides config)")
	cpuprofile = flag.String("cpuprofile", "", "write cpu profile to file")
	seed       = flag.Int64("seed", 12345, "seed for random weights when no network is found")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if *weights != "" {
		cfg.Weights = *weights
	}
	// stdout carries the protocol.
	log.Logger = cfg.Logger(os.Stderr)

	// Start CPU profiling if requested (via flag or environment variable)
	profilePath := *cpuprofile
	if profilePath == "" {
		profilePath = os.Getenv("CPUPROFILE")
	}
	if profilePath != "" {
		f, err := os.Create(profilePath)
		if err != nil {
			log.Fatal().Err(err).Msg("could not create CPU profile")
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
		log.Info().Str("path", profilePath).Msg("CPU profiling enabled")
	}

	eval, err := cfg.NewEvaluator(*seed, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load network")
	}

	opts := cfg.EngineOptions(log.Logger)
	if cfg.UseBook {
		store, err := cfg.OpenStorage(log.Logger)
		if err != nil {
			log.Warn().Err(err).Msg("score book disabled")
		} else {
			defer store.Close()
			opts.Book = store
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	protocol := uci.New(engine.NewEngine(eval, opts), opts, os.Stdout)
	if err := protocol.Run(ctx, os.Stdin); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("input failed")
	}
}
