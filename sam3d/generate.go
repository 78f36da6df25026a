package sam3d

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chsahit/metric-sam3d/capture"
	"github.com/chsahit/metric-sam3d/imaging"
)

// ObjectResult records the files produced for a single masked object.
type ObjectResult struct {
	ID         string
	MaskPath   string
	MaskedPath string
	MeshPath   string
	SplatPath  string
}

// GenerateResult is the outcome of reconstructing every mask in a capture.
type GenerateResult struct {
	Objects []ObjectResult
}

// maskID is the mask filename without extension, e.g. "0" for masks/0.png.
// It names the object through the rest of the pipeline.
func maskID(maskPath string) string {
	base := filepath.Base(maskPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// GenerateMeshes reconstructs each masked object in the capture. For every
// mask it composites the RGB image with the mask as an alpha channel, runs
// inference on the result, and collects the produced mesh and splat under
// outDir. Per-object inference output lands in outDir/<id>/, with the mesh
// and splat also copied to outDir/<id>.obj and outDir/<id>.ply so downstream
// registration can glob numbered meshes.
func (r *Runner) GenerateMeshes(ctx context.Context, cap capture.Capture, outDir, device string) (*GenerateResult, error) {
	masks, err := cap.Masks()
	if err != nil {
		return nil, err
	}
	if len(masks) == 0 {
		return nil, fmt.Errorf("capture %s has no masks", cap.Dir)
	}

	rgb, err := imaging.LoadImage(cap.RGBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load capture image: %w", err)
	}
	bounds := rgb.Bounds()

	maskedDir := filepath.Join(outDir, "masked")
	if err := os.MkdirAll(maskedDir, 0755); err != nil {
		return nil, err
	}

	result := &GenerateResult{}
	for _, maskPath := range masks {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		id := maskID(maskPath)

		mask, err := imaging.LoadMask(maskPath)
		if err != nil {
			return result, fmt.Errorf("failed to load mask %s: %w", maskPath, err)
		}
		mask = imaging.FitMask(mask, bounds.Dx(), bounds.Dy())

		masked := imaging.ApplyAlphaMask(rgb, mask)
		maskedPath := filepath.Join(maskedDir, id+"_masked.png")
		if err := imaging.SavePNG(maskedPath, masked); err != nil {
			return result, fmt.Errorf("failed to save masked image for %s: %w", id, err)
		}

		objDir := filepath.Join(outDir, id)
		if err := os.MkdirAll(objDir, 0755); err != nil {
			return result, err
		}
		if _, err := r.RunInference(ctx, maskedPath, objDir, device); err != nil {
			return result, fmt.Errorf("inference failed for object %s: %w", id, err)
		}

		meshSrc := filepath.Join(objDir, MeshFileName)
		if _, err := os.Stat(meshSrc); err != nil {
			return result, fmt.Errorf("inference produced no mesh for object %s: %w", id, err)
		}

		meshPath := filepath.Join(outDir, id+".obj")
		if err := capture.CopyFile(meshSrc, meshPath); err != nil {
			return result, err
		}

		splatPath := ""
		splatSrc := filepath.Join(objDir, SplatFileName)
		if _, err := os.Stat(splatSrc); err == nil {
			splatPath = filepath.Join(outDir, id+".ply")
			if err := capture.CopyFile(splatSrc, splatPath); err != nil {
				return result, err
			}
		}

		result.Objects = append(result.Objects, ObjectResult{
			ID:         id,
			MaskPath:   maskPath,
			MaskedPath: maskedPath,
			MeshPath:   meshPath,
			SplatPath:  splatPath,
		})
	}
	return result, nil
}
