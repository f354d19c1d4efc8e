// Command synthframe writes synthetic PINet output dumps (.lgd) with a
// known number of straight lanes, for exercising lanedecode without an
// inference engine.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"

	"github.com/huyhung411991/PINetTensorRT/internal/security"
)

func main() {
	outDir := flag.String("o", "frames", "output directory")
	frames := flag.Int("n", 10, "number of frames")
	lanes := flag.Int("lanes", 4, "lanes per frame")
	height := flag.Int("height", 32, "grid height")
	width := flag.Int("width", 64, "grid width")
	dims := flag.Int("dims", 4, "embedding dimensions")
	stacks := flag.Int("stacks", 2, "output stacks per frame")
	noise := flag.Float64("noise", 0.02, "embedding noise amplitude")
	seed := flag.Int64("seed", 1, "random seed")
	prefix := flag.String("prefix", "synth", "frame name prefix")
	flag.Parse()

	p := synthParams{
		Height:  *height,
		Width:   *width,
		Dims:    *dims,
		Lanes:   *lanes,
		Stacks:  *stacks,
		Noise:   float32(*noise),
		LaneLen: *height * 3 / 4,
	}
	if err := p.validate(); err != nil {
		log.Fatalf("invalid parameters: %v", err)
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("failed to create %s: %v", *outDir, err)
	}

	rng := rand.New(rand.NewSource(*seed))
	base := security.SanitizeFilename(*prefix)
	for i := 0; i < *frames; i++ {
		name := fmt.Sprintf("%s-%04d", base, i)
		f, err := synthesize(name, p, rng)
		if err != nil {
			log.Fatalf("frame %d: %v", i, err)
		}
		if err := writeFrame(*outDir, name, f); err != nil {
			log.Fatalf("frame %d: %v", i, err)
		}
		if (i+1)%10 == 0 {
			log.Printf("%d/%d frames", i+1, *frames)
		}
	}
	log.Printf("created %d frames in %s", *frames, *outDir)
}
