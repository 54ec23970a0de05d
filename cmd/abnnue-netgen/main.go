// Command abnnue-netgen writes a network with deterministic random weights.
// Such networks are only useful for testing the plumbing.
package main

import (
	"flag"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/hailam/abnnue/internal/config"
	"github.com/hailam/abnnue/internal/nnue"
)

func main() {
	out := flag.String("out", "abnnue.nnue", "output file")
	seed := flag.Int64("seed", 12345, "random seed")
	compress := flag.Bool("zstd", false, "zstd-compress the output (adds .zst)")
	flag.Parse()

	log.Logger = config.Default().Logger(os.Stderr)

	path := *out
	if *compress && !strings.HasSuffix(path, ".zst") {
		path += ".zst"
	}

	net := nnue.NewNetwork()
	net.InitRandom(*seed)
	if err := net.SaveFile(path); err != nil {
		log.Fatal().Err(err).Msg("failed to write network")
	}

	if _, err := nnue.LoadFile(path); err != nil {
		log.Fatal().Err(err).Msg("written network does not load back")
	}
	log.Info().Str("path", path).Int64("seed", *seed).Msg("network written")
}
