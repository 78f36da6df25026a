// generate reconstructs every masked object in a capture directory from the
// command line, without going through the server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/chsahit/metric-sam3d/capture"
	"github.com/chsahit/metric-sam3d/sam3d"
)

func main() {
	var (
		captureDir string
		outDir     string
		script     string
		python     string
		checkpoint string
		device     string
		seed       int
		timeoutMin int
	)

	flag.StringVar(&captureDir, "capture", "", "Path to capture directory (rgb.png, depth.png, intrinsics.npy, masks/)")
	flag.StringVar(&outDir, "out", "", "Output directory for meshes and splats")
	flag.StringVar(&script, "script", "", "Path to the SAM-3D-Objects inference script")
	flag.StringVar(&python, "python", "python3", "Python interpreter")
	flag.StringVar(&checkpoint, "checkpoints", "", "Model checkpoint directory")
	flag.StringVar(&device, "device", "0", "CUDA device index")
	flag.IntVar(&seed, "seed", sam3d.DefaultSeed, "Random seed")
	flag.IntVar(&timeoutMin, "timeout", 30, "Per-run timeout in minutes")
	flag.Parse()

	if captureDir == "" || outDir == "" || script == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s -capture <dir> -out <dir> -script <inference.py> [-python python3] [-checkpoints <dir>] [-device 0] [-seed 42]\n", os.Args[0])
		os.Exit(2)
	}

	cap := capture.New(captureDir)
	maskCount, err := cap.Validate()
	if err != nil {
		log.Fatalf("invalid capture: %v", err)
	}
	log.Printf("Capture %s: %d masks", captureDir, maskCount)

	runner := &sam3d.Runner{
		PythonPath:      python,
		InferenceScript: script,
		CheckpointDir:   checkpoint,
		Seed:            seed,
		Timeout:         time.Duration(timeoutMin) * time.Minute,
		LineFunc:        func(line string) { fmt.Println(line) },
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start := time.Now()
	result, err := runner.GenerateMeshes(ctx, cap, outDir, device)
	if err != nil {
		log.Fatalf("generation failed: %v", err)
	}

	log.Printf("Reconstructed %d objects in %v", len(result.Objects), time.Since(start).Round(time.Second))
	for _, obj := range result.Objects {
		fmt.Printf("  %s: %s\n", obj.ID, obj.MeshPath)
	}
}
