// rectgen generates deterministic datasets of synthetic rectangle content
// ids for standalone cache benchmarking (outside `go test`). It builds a
// fixed pool of distinct pixel tiles, hashes each once, then emits draws
// from that pool under a chosen distribution so the resulting id sequence
// has a realistic reuse/skew pattern instead of being all-distinct.
//
// Usage:
//
//	go run ./tools/rectgen -n 1000000 -pool 5000 -dist=zipf -seed=42 -out ids.txt
//
// Flags:
//
//	-n       number of draws to emit (default 1e6)
//	-pool    number of distinct tiles backing the draws (default 5000)
//	-w, -h   tile dimensions in pixels (default 32x32)
//	-dist    distribution: "uniform" or "zipf" (default uniform)
//	-zipfs   Zipf s parameter (>1) (default 1.2)
//	-zipfv   Zipf v parameter (>=1) (default 1.0)
//	-seed    PRNG seed (default current time)
//	-out     output file (default stdout); one line per draw: "<w> <h> <contentId hex>"
//
// © 2025 pxcache authors. MIT License.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/arcvnc/pxcache/internal/contenthash"
	"github.com/arcvnc/pxcache/pkg/pixfmt"
)

func main() {
	var (
		n       = flag.Int("n", 1_000_000, "number of draws to emit")
		pool    = flag.Int("pool", 5000, "number of distinct tiles backing the draws")
		width   = flag.Int("w", 32, "tile width in pixels")
		height  = flag.Int("h", 32, "tile height in pixels")
		dist    = flag.String("dist", "uniform", "distribution: uniform or zipf")
		zipfS   = flag.Float64("zipfs", 1.2, "zipf s parameter (>1)")
		zipfV   = flag.Float64("zipfv", 1.0, "zipf v parameter (>=1)")
		seedVal = flag.Int64("seed", time.Now().UnixNano(), "PRNG seed")
		outPath = flag.String("out", "", "output file (default stdout)")
	)
	flag.Parse()

	rnd := rand.New(rand.NewSource(*seedVal))
	pf := pixfmt.PixelFormat{BitsPerPixel: 32, Depth: 24, TrueColour: true}

	ids := make([]uint64, *pool)
	tile := make([]byte, *width**height*pf.BytesPerPixel())
	for i := range ids {
		rnd.Read(tile)
		ids[i] = contenthash.SumTight(tile, pf, *width, *height)
	}

	var draw func() int
	switch *dist {
	case "uniform":
		draw = func() int { return rnd.Intn(*pool) }
	case "zipf":
		if *zipfS <= 1.0 || *zipfV < 1.0 {
			fmt.Fprintln(os.Stderr, "zipfs must be >1 and zipfv >=1")
			os.Exit(1)
		}
		z := rand.NewZipf(rnd, *zipfS, *zipfV, uint64(*pool-1))
		draw = func() int { return int(z.Uint64()) }
	default:
		fmt.Fprintln(os.Stderr, "unknown dist:", *dist)
		os.Exit(1)
		return
	}

	var out *os.File
	var err error
	if *outPath == "" {
		out = os.Stdout
	} else {
		out, err = os.Create(*outPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "cannot create file:", err)
			os.Exit(1)
		}
		defer out.Close()
	}

	w := bufio.NewWriterSize(out, 1<<20)
	defer w.Flush()
	for i := 0; i < *n; i++ {
		fmt.Fprintf(w, "%d %d %016x\n", *width, *height, ids[draw()])
	}
}
