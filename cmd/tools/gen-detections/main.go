// Command gen-detections writes a synthetic chain detection log in JSONL form
// for replay with chaintrack -input.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"

	"github.com/amombay/Hexcitations/internal/fsutil"
	"github.com/amombay/Hexcitations/internal/security"
	"github.com/amombay/Hexcitations/internal/source"
)

func main() {
	output := flag.String("o", "", "output path (default derived from -markers and -seed)")
	frames := flag.Int("n", 300, "number of frames")
	markerCount := flag.Int("markers", 8, "markers in the chain")
	seed := flag.Int64("seed", 1, "random seed")
	occlusion := flag.Float64("occlusion", 0, "probability that a marker is missing from a frame")
	jitter := flag.Float64("jitter", 0, "corner noise standard deviation in pixels")
	spin := flag.Float64("spin", 0, "rigid rotation of the chain in radians per frame")
	flag.Parse()

	if *frames < 1 || *markerCount < 1 {
		log.Fatal("-n and -markers must be positive")
	}
	if *occlusion < 0 || *occlusion >= 1 {
		log.Fatal("-occlusion must be in [0, 1)")
	}

	path := *output
	if path == "" {
		path = defaultOutput(*markerCount, *seed)
	}

	g := source.NewSyntheticChain(*markerCount, *seed)
	g.Frames = *frames
	g.Occlusion = *occlusion
	g.Jitter = *jitter
	g.Spin = *spin

	n, err := generate(context.Background(), fsutil.OSFileSystem{}, path, g)
	if err != nil {
		log.Fatalf("failed to generate detections: %v", err)
	}
	log.Printf("✓ Created: %s (%d frames)", path, n)
}

// defaultOutput names the log after the generator settings.
func defaultOutput(markers int, seed int64) string {
	return security.SanitizeFilename(fmt.Sprintf("chain-%dm-seed%d", markers, seed)) + ".jsonl"
}

// generate drains src into a JSONL file at path and returns the number of
// frames written.
func generate(ctx context.Context, fsys fsutil.FileSystem, path string, src source.Source) (int, error) {
	n := 0
	err := fsutil.WriteAtomic(fsys, path, func(w io.Writer) error {
		jw := source.NewJSONLWriter(w)
		for {
			frame, err := src.Next(ctx)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
			if err := jw.Write(frame); err != nil {
				return err
			}
			n++
			if n%100 == 0 {
				log.Printf("%d frames", n)
			}
		}
		return jw.Flush()
	})
	return n, err
}
