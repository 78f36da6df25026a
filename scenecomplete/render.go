package scenecomplete

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/chsahit/metric-sam3d/capture"
)

// renderTimeout bounds a single offscreen render. Renders are per-object
// and fast; anything longer means the renderer is wedged.
const renderTimeout = 2 * time.Minute

// Renderer shells out to an offscreen mesh renderer to produce the RGB and
// depth renders correspondence computation consumes. The renderer binary is
// an external dependency; hosts without a GPU or EGL simply leave it
// unconfigured and get placeholders instead.
type Renderer struct {
	Command string
}

// Render invokes the renderer as:
//
//	<command> <mesh.obj> --intrinsics <cam_K.json> --rgb <out_rgb> --depth <out_depth>
func (r *Renderer) Render(ctx context.Context, meshPath, camKPath, outRGB, outDepth string) error {
	runCtx, cancel := context.WithTimeout(ctx, renderTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.Command, meshPath,
		"--intrinsics", camKPath,
		"--rgb", outRGB,
		"--depth", outDepth,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("renderer failed for %s: %v: %s", meshPath, err, out)
	}
	return nil
}

// render produces the correspondence render for one object, falling back to
// placeholder copies of the masked RGB and depth when no renderer is
// configured or the render fails. Registration quality degrades with
// placeholders but the pipeline stays runnable.
func (p *Preparer) render(ctx context.Context, obj ObjectFiles) error {
	if p.Renderer != nil && p.Renderer.Command != "" {
		// A GLB export carries its textures in one file, which offscreen
		// renderers handle more reliably than obj+mtl. Prefer it when the
		// reconstruction wrote one.
		meshPath := obj.MeshPath
		if glb := filepath.Join(p.MeshDir, obj.ID+".glb"); fileExists(glb) {
			meshPath = glb
		}
		camKPath := filepath.Join(p.Layout.GraspDataDir(), CamKJSONFile)
		err := p.Renderer.Render(ctx, meshPath, camKPath, obj.RenderRGB, obj.RenderDep)
		if err == nil {
			return nil
		}
		log.Printf("Render failed for object %s, writing placeholders: %v", obj.ID, err)
	}

	if err := capture.CopyFile(obj.MaskedPath, obj.RenderRGB); err != nil {
		return err
	}
	return capture.CopyFile(obj.DepthPath, obj.RenderDep)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
