// Package scenecomplete reshapes reconstruction output into the directory
// schema the downstream SceneComplete scaling-and-registration pipeline
// expects. Everything here is deterministic file plumbing; the layout is
// dictated by the external tool and is not ours to change.
package scenecomplete

import (
	"os"
	"path/filepath"
)

// Filenames SceneComplete looks for inside grasp_data.
const (
	SceneRGBFile   = "scene_full_image.png"
	SceneDepthFile = "scene_full_depth.png"
	CamKJSONFile   = "cam_K.json"
	CamKTxtFile    = "cam_K.txt"
)

// Layout addresses the SceneComplete experiment tree:
//
//	<root>/grasp_data/
//	<root>/imesh_outputs/instant-mesh-large/meshes/
//	<root>/imesh_outputs/instant-mesh-large/videos/
//	<root>/imesh_outputs/instant-mesh-large/images/
type Layout struct {
	Root string
}

func NewLayout(root string) Layout {
	return Layout{Root: root}
}

func (l Layout) GraspDataDir() string {
	return filepath.Join(l.Root, "grasp_data")
}

func (l Layout) imeshDir() string {
	return filepath.Join(l.Root, "imesh_outputs", "instant-mesh-large")
}

func (l Layout) MeshesDir() string {
	return filepath.Join(l.imeshDir(), "meshes")
}

func (l Layout) VideosDir() string {
	return filepath.Join(l.imeshDir(), "videos")
}

func (l Layout) ImagesDir() string {
	return filepath.Join(l.imeshDir(), "images")
}

// Setup creates the full directory tree.
func (l Layout) Setup() error {
	for _, dir := range []string{
		l.GraspDataDir(),
		l.MeshesDir(),
		l.VideosDir(),
		l.ImagesDir(),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
