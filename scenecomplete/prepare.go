package scenecomplete

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/chsahit/metric-sam3d/capture"
	"github.com/chsahit/metric-sam3d/imaging"
	"github.com/chsahit/metric-sam3d/meshio"
)

// ObjectFiles lists what Prepare wrote for one object.
type ObjectFiles struct {
	ID         string
	MaskPath   string
	MaskedPath string
	DepthPath  string
	MeshPath   string
	ImagePath  string
	RenderRGB  string
	RenderDep  string
	RenderCamK string
}

// Manifest is the outcome of a Prepare run.
type Manifest struct {
	Layout  Layout
	Objects []ObjectFiles
}

// Preparer stages a finished reconstruction for SceneComplete.
type Preparer struct {
	Capture capture.Capture
	MeshDir string // directory holding numbered <id>.obj outputs
	Layout  Layout

	// Renderer, when non-nil, produces the correspondence renders. When
	// nil (or when a render fails) the masked RGB and depth stand in as
	// placeholders so registration can still run.
	Renderer *Renderer
}

// Prepare builds the SceneComplete tree from a capture and its reconstructed
// meshes. Objects are discovered as .obj files in MeshDir; a mesh with no
// matching mask is skipped with a warning. Per object it writes the mask,
// blacked-out RGB, and masked depth into grasp_data, the mesh with its
// material and texture into meshes/, a scene-image marker into images/, and
// a render (or placeholder) with its intrinsics JSON into videos/.
func (p *Preparer) Prepare(ctx context.Context) (*Manifest, error) {
	if err := p.Layout.Setup(); err != nil {
		return nil, err
	}

	rgb, err := imaging.LoadImage(p.Capture.RGBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load capture image: %w", err)
	}
	depth, err := imaging.LoadDepth(p.Capture.DepthPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load capture depth: %w", err)
	}
	bounds := rgb.Bounds()

	graspDir := p.Layout.GraspDataDir()

	// Scene-level files
	if err := capture.CopyFile(p.Capture.RGBPath(), filepath.Join(graspDir, SceneRGBFile)); err != nil {
		return nil, err
	}
	if err := capture.CopyFile(p.Capture.DepthPath(), filepath.Join(graspDir, SceneDepthFile)); err != nil {
		return nil, err
	}

	intr, err := p.Capture.Intrinsics()
	if err != nil {
		return nil, err
	}
	if err := intr.WriteJSON(filepath.Join(graspDir, CamKJSONFile)); err != nil {
		return nil, err
	}
	if err := intr.WriteTxt(filepath.Join(graspDir, CamKTxtFile)); err != nil {
		return nil, err
	}

	meshes, err := meshio.ListObjs(p.MeshDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list meshes in %s: %w", p.MeshDir, err)
	}
	if len(meshes) == 0 {
		return nil, fmt.Errorf("no .obj meshes in %s", p.MeshDir)
	}

	manifest := &Manifest{Layout: p.Layout}
	for _, meshSrc := range meshes {
		if err := ctx.Err(); err != nil {
			return manifest, err
		}

		id := strings.TrimSuffix(filepath.Base(meshSrc), filepath.Ext(meshSrc))
		obj := ObjectFiles{ID: id}

		maskPath := filepath.Join(p.Capture.MasksDir(), id+".png")
		if _, err := os.Stat(maskPath); err != nil {
			log.Printf("No mask for mesh %s, skipping object %s", meshSrc, id)
			continue
		}

		mask, err := imaging.LoadMask(maskPath)
		if err != nil {
			return manifest, fmt.Errorf("failed to load mask %s: %w", maskPath, err)
		}
		mask = imaging.FitMask(mask, bounds.Dx(), bounds.Dy())

		obj.MaskPath = filepath.Join(graspDir, id+"_mask.png")
		if err := imaging.SavePNG(obj.MaskPath, mask); err != nil {
			return manifest, err
		}

		obj.MaskedPath = filepath.Join(graspDir, id+"_masked.png")
		if err := imaging.SavePNG(obj.MaskedPath, imaging.MaskRGB(rgb, mask)); err != nil {
			return manifest, err
		}

		obj.DepthPath = filepath.Join(graspDir, id+"_depth.png")
		if err := imaging.SavePNG(obj.DepthPath, imaging.MaskDepth(depth, mask)); err != nil {
			return manifest, err
		}

		// The scaling script only enumerates images/ to learn which
		// objects exist; the content is a copy of the scene image.
		obj.ImagePath = filepath.Join(p.Layout.ImagesDir(), id+"_rgba.png")
		if err := capture.CopyFile(p.Capture.RGBPath(), obj.ImagePath); err != nil {
			return manifest, err
		}

		obj.MeshPath, err = p.stageMesh(meshSrc, id)
		if err != nil {
			return manifest, err
		}

		obj.RenderRGB = filepath.Join(p.Layout.VideosDir(), id+"_rgba.png")
		obj.RenderDep = filepath.Join(p.Layout.VideosDir(), id+"_rgba_depth.png")
		obj.RenderCamK = filepath.Join(p.Layout.VideosDir(), id+"_rgba.json")
		if err := p.render(ctx, obj); err != nil {
			return manifest, err
		}
		if err := intr.WriteJSON(obj.RenderCamK); err != nil {
			return manifest, err
		}

		manifest.Objects = append(manifest.Objects, obj)
	}
	return manifest, nil
}

// stageMesh copies <id>.obj with its material and texture into meshes/ as
// <id>_rgba.*, then duplicates the texture under the material_<id>.png name
// registration also looks for.
func (p *Preparer) stageMesh(meshSrc, id string) (string, error) {
	dest, err := meshio.CopyWithAssets(meshSrc, p.Layout.MeshesDir(), id+"_rgba")
	if err != nil {
		return "", err
	}

	texture := filepath.Join(p.Layout.MeshesDir(), id+"_rgba.png")
	if _, err := os.Stat(texture); err == nil {
		material := filepath.Join(p.Layout.MeshesDir(), "material_"+id+".png")
		if err := capture.CopyFile(texture, material); err != nil {
			return "", err
		}
	}
	return dest, nil
}
