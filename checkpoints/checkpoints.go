// Package checkpoints tracks the model weights the inference scripts need.
// Weights are multi-gigabyte files that ship separately from the code; the
// service refuses reconstruction work until all required artifacts are
// present in the checkpoint directory.
package checkpoints

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chsahit/metric-sam3d/archive"
)

// ArtifactStatus represents the current state of an artifact.
type ArtifactStatus string

const (
	StatusMissing     ArtifactStatus = "missing"
	StatusInstalled   ArtifactStatus = "installed"
	StatusDownloading ArtifactStatus = "downloading"
)

// Artifact is one model file the pipeline loads.
type Artifact struct {
	ID           string
	Name         string
	FileName     string
	DownloadURL  string
	ExpectedSize int64

	// Optional artifacts don't block reconstruction (e.g. texture refiner)
	Optional bool
}

// Info is an Artifact plus its observed on-disk state, as reported to the
// setup endpoint.
type Info struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	FileName string         `json:"fileName"`
	Status   ArtifactStatus `json:"status"`
	Size     int64          `json:"size"`
	Optional bool           `json:"optional"`
}

var (
	mu          sync.RWMutex
	registry    = make(map[string]*Artifact)
	downloading = make(map[string]bool)
)

func init() {
	Register(&Artifact{
		ID:           "sam3d-objects",
		Name:         "SAM-3D-Objects checkpoint",
		FileName:     "sam3d_objects.ckpt",
		DownloadURL:  "https://huggingface.co/facebook/sam-3d-objects/resolve/main/sam3d_objects.ckpt",
		ExpectedSize: 4 << 30,
	})
	Register(&Artifact{
		ID:           "texture-refiner",
		Name:         "Texture refinement weights",
		FileName:     "texture_refiner.pt",
		DownloadURL:  "https://huggingface.co/facebook/sam-3d-objects/resolve/main/texture_refiner.pt",
		ExpectedSize: 1 << 30,
		Optional:     true,
	})
}

// Register adds an artifact to the registry.
func Register(a *Artifact) {
	mu.Lock()
	defer mu.Unlock()
	registry[a.ID] = a
}

// Get retrieves an artifact by ID.
func Get(id string) (*Artifact, bool) {
	mu.RLock()
	defer mu.RUnlock()
	a, ok := registry[id]
	return a, ok
}

// Path returns where the artifact lives under dir.
func (a *Artifact) Path(dir string) string {
	return filepath.Join(dir, a.FileName)
}

// Check reports whether the artifact exists in dir and its size.
func (a *Artifact) Check(dir string) (bool, int64) {
	stat, err := os.Stat(a.Path(dir))
	if err != nil {
		return false, 0
	}
	return true, stat.Size()
}

// List reports the status of every registered artifact in dir.
func List(dir string) []Info {
	mu.RLock()
	defer mu.RUnlock()

	infos := make([]Info, 0, len(registry))
	for _, a := range registry {
		info := Info{
			ID:       a.ID,
			Name:     a.Name,
			FileName: a.FileName,
			Optional: a.Optional,
		}
		if downloading[a.ID] {
			info.Status = StatusDownloading
		} else if exists, size := a.Check(dir); exists {
			info.Status = StatusInstalled
			info.Size = size
		} else {
			info.Status = StatusMissing
		}
		infos = append(infos, info)
	}
	return infos
}

// Ready reports whether every required artifact is present in dir. The
// server runs in setup mode while this is false.
func Ready(dir string) bool {
	mu.RLock()
	defer mu.RUnlock()
	for _, a := range registry {
		if a.Optional {
			continue
		}
		if exists, _ := a.Check(dir); !exists {
			return false
		}
	}
	return true
}

// Missing returns the required artifacts not present in dir.
func Missing(dir string) []*Artifact {
	mu.RLock()
	defer mu.RUnlock()
	var missing []*Artifact
	for _, a := range registry {
		if a.Optional {
			continue
		}
		if exists, _ := a.Check(dir); !exists {
			missing = append(missing, a)
		}
	}
	return missing
}

// Download fetches the artifact into dir. Artifacts distributed as zip or
// 7z archives are unpacked into dir after the download. Concurrent
// downloads of the same artifact are rejected.
func Download(ctx context.Context, id, dir string, progress ByteProgressCallback) error {
	a, ok := Get(id)
	if !ok {
		return fmt.Errorf("unknown artifact: %s", id)
	}

	mu.Lock()
	if downloading[id] {
		mu.Unlock()
		return fmt.Errorf("artifact %s is already downloading", id)
	}
	downloading[id] = true
	mu.Unlock()

	defer func() {
		mu.Lock()
		delete(downloading, id)
		mu.Unlock()
	}()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := DownloadWithRetry(ctx, a.Path(dir), a.DownloadURL, progress); err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(a.FileName)) {
	case ".zip", ".7z":
		if err := archive.Extract(a.Path(dir), dir); err != nil {
			return fmt.Errorf("failed to unpack %s: %w", a.FileName, err)
		}
	}
	return nil
}
