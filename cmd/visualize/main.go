// visualize inspects reconstruction output: it summarizes meshes and point
// clouds and can hand a file to an external viewer. Modes mirror what the
// reconstruction pipeline produces:
//
//	meshes  - numbered .obj reconstructions
//	splats  - Gaussian-splat and point-cloud .ply files
//	scene   - the registered scene_complete.ply, if present
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pkg/browser"

	"github.com/chsahit/metric-sam3d/appconfig"
	"github.com/chsahit/metric-sam3d/meshio"
	"github.com/chsahit/metric-sam3d/platform"
)

func main() {
	var (
		dir    string
		mode   string
		open   string
		viewer string
	)

	flag.StringVar(&dir, "dir", "", "Reconstruction output directory")
	flag.StringVar(&mode, "mode", "meshes", "What to summarize: meshes | splats | scene | all")
	flag.StringVar(&open, "open", "", "Open the given object ID (or file path) in a viewer")
	flag.StringVar(&viewer, "viewer", "", "Viewer command (defaults to the configured viewerCommand, then the system handler)")
	flag.Parse()

	if viewer == "" {
		if cfg, _, err := appconfig.Load(); err == nil {
			viewer = cfg.ViewerCommand
		}
	}

	if dir == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s -dir <dir> [-mode meshes|splats|scene|all] [-open <id>] [-viewer <cmd>]\n", os.Args[0])
		os.Exit(2)
	}

	if open != "" {
		if err := openInViewer(dir, open, viewer); err != nil {
			log.Fatalf("failed to open viewer: %v", err)
		}
		return
	}

	switch mode {
	case "meshes":
		summarizeMeshes(dir)
	case "splats":
		summarizeSplats(dir)
	case "scene":
		summarizeScene(dir)
	case "all":
		summarizeMeshes(dir)
		summarizeSplats(dir)
		summarizeScene(dir)
	default:
		log.Fatalf("unknown mode %q; use meshes|splats|scene|all", mode)
	}
}

func summarizeMeshes(dir string) {
	meshes, err := meshio.ListNumbered(dir)
	if err != nil {
		log.Fatalf("failed to list meshes: %v", err)
	}
	if len(meshes) == 0 {
		fmt.Println("no numbered meshes found")
		return
	}

	for _, m := range meshes {
		info, err := meshio.ScanObj(m.Path)
		if err != nil {
			fmt.Printf("%d: unreadable (%v)\n", m.ID, err)
			continue
		}
		fmt.Printf("%d: %d vertices, %d faces, centroid (%.3f %.3f %.3f), extent (%.3f %.3f %.3f)\n",
			m.ID, info.VertexCount, info.FaceCount,
			info.Centroid[0], info.Centroid[1], info.Centroid[2],
			info.Max[0]-info.Min[0], info.Max[1]-info.Min[1], info.Max[2]-info.Min[2])
		for _, mtl := range info.MTLLibs {
			refs, err := meshio.TextureRefs(filepath.Join(dir, mtl))
			if err != nil {
				continue
			}
			fmt.Printf("   material %s: textures %v\n", mtl, refs)
		}
	}
}

func summarizeSplats(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Fatalf("failed to read %s: %v", dir, err)
	}
	found := false
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".ply" {
			continue
		}
		found = true
		info, err := meshio.ScanPly(filepath.Join(dir, e.Name()))
		if err != nil {
			fmt.Printf("%s: unreadable (%v)\n", e.Name(), err)
			continue
		}
		kind := "point cloud"
		if info.IsGaussianSplat() {
			kind = "gaussian splat"
		}
		fmt.Printf("%s: %s, %d points (%s)\n", e.Name(), kind, info.VertexCount, info.Format)
	}
	if !found {
		fmt.Println("no .ply files found")
	}
}

func summarizeScene(dir string) {
	scenePath := filepath.Join(dir, "scene_complete.ply")
	info, err := meshio.ScanPly(scenePath)
	if err != nil {
		fmt.Printf("no registered scene at %s\n", scenePath)
		return
	}
	fmt.Printf("scene: %d points, %d faces (%s)\n", info.VertexCount, info.FaceCount, info.Format)
}

// openInViewer resolves the target (an object ID like "0" or a file path)
// and hands it to the configured viewer, or the system handler when none
// is set.
func openInViewer(dir, target, viewer string) error {
	path := target
	if _, err := os.Stat(path); err != nil {
		path = filepath.Join(dir, target+".obj")
		if _, err := os.Stat(path); err != nil {
			path = filepath.Join(dir, target+".ply")
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("no mesh or splat named %q in %s", target, dir)
			}
		}
	}

	if viewer != "" {
		cmd := exec.Command(viewer, path)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		return cmd.Run()
	}
	if err := platform.OpenFile(path); err != nil {
		// Last resort: the browser can at least show the containing folder
		return browser.OpenFile(path)
	}
	return nil
}
