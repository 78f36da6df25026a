// prepare stages reconstructed meshes into the directory layout the
// SceneComplete registration pipeline expects.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/chsahit/metric-sam3d/capture"
	"github.com/chsahit/metric-sam3d/scenecomplete"
)

func main() {
	var (
		captureDir string
		meshDir    string
		outDir     string
		renderer   string
	)

	flag.StringVar(&captureDir, "capture", "", "Path to capture directory")
	flag.StringVar(&meshDir, "meshes", "", "Directory holding numbered .obj reconstructions")
	flag.StringVar(&outDir, "out", "", "Experiment root to build grasp_data/ and imesh_outputs/ under")
	flag.StringVar(&renderer, "renderer", "", "Offscreen renderer command (optional; placeholders when unset)")
	flag.Parse()

	if captureDir == "" || meshDir == "" || outDir == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s -capture <dir> -meshes <dir> -out <dir> [-renderer <cmd>]\n", os.Args[0])
		os.Exit(2)
	}

	cap := capture.New(captureDir)
	if _, err := cap.Validate(); err != nil {
		log.Fatalf("invalid capture: %v", err)
	}

	p := &scenecomplete.Preparer{
		Capture: cap,
		MeshDir: meshDir,
		Layout:  scenecomplete.NewLayout(outDir),
	}
	if renderer != "" {
		p.Renderer = &scenecomplete.Renderer{Command: renderer}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	manifest, err := p.Prepare(ctx)
	if err != nil {
		log.Fatalf("prepare failed: %v", err)
	}

	log.Printf("Prepared %d objects under %s", len(manifest.Objects), outDir)
	for _, obj := range manifest.Objects {
		fmt.Printf("  %s: %s\n", obj.ID, obj.MeshPath)
	}
}
