// abnnue analysis server: searches positions on request over HTTP and streams
// progress over a websocket.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/hailam/abnnue/internal/config"
	"github.com/hailam/abnnue/internal/server"
)

func main() {
	configPath := flag.String("config", "", "JSON config file")
	listen := flag.String("listen", "", "listen address (overrides config)")
	weights := flag.String("weights", "", "network weights file (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *weights != "" {
		cfg.Weights = *weights
	}
	log.Logger = cfg.Logger(os.Stderr)

	eval, err := cfg.NewEvaluator(12345, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load network")
	}
	store, err := cfg.OpenStorage(log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open storage")
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(config.NewStore(cfg), eval, store, log.Logger)
	if err := srv.Run(ctx, cfg.Listen); err != nil {
		log.Error().Err(err).Msg("server stopped")
	}
}
