// Package capture models an RGB-D capture folder: rgb.png, depth.png,
// intrinsics.npy, and a masks/ subfolder with one PNG per segmented object.
// It validates uploads and normalizes the layouts produced by different
// zipping conventions.
package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/chsahit/metric-sam3d/camera"
	"github.com/chsahit/metric-sam3d/imaging"
)

// Canonical file names inside a capture folder.
const (
	RGBFile        = "rgb.png"
	DepthFile      = "depth.png"
	IntrinsicsFile = "intrinsics.npy"
	MasksDirName   = "masks"
)

// Capture is a handle on a capture folder on disk.
type Capture struct {
	Dir string
}

// New returns a Capture rooted at dir.
func New(dir string) Capture {
	return Capture{Dir: dir}
}

// RGBPath returns the path to the scene color image.
func (c Capture) RGBPath() string { return filepath.Join(c.Dir, RGBFile) }

// DepthPath returns the path to the 16-bit depth image (millimeters).
func (c Capture) DepthPath() string { return filepath.Join(c.Dir, DepthFile) }

// IntrinsicsPath returns the path to the 3x3 intrinsics matrix.
func (c Capture) IntrinsicsPath() string { return filepath.Join(c.Dir, IntrinsicsFile) }

// MasksDir returns the path to the object masks folder.
func (c Capture) MasksDir() string { return filepath.Join(c.Dir, MasksDirName) }

// Validate checks that the capture has every required file and at least one
// object mask. It returns the mask count on success.
func (c Capture) Validate() (int, error) {
	for _, name := range []string{RGBFile, DepthFile, IntrinsicsFile} {
		if _, err := os.Stat(filepath.Join(c.Dir, name)); err != nil {
			return 0, fmt.Errorf("missing required file: %s", name)
		}
	}

	if _, err := os.Stat(c.MasksDir()); err != nil {
		return 0, fmt.Errorf("missing %s/ subfolder", MasksDirName)
	}

	masks, err := c.Masks()
	if err != nil {
		return 0, err
	}
	if len(masks) == 0 {
		return 0, fmt.Errorf("no PNG files found in %s/ subfolder", MasksDirName)
	}
	return len(masks), nil
}

// Masks returns the mask PNG paths in the capture, sorted by filename.
func (c Capture) Masks() ([]string, error) {
	entries, err := os.ReadDir(c.MasksDir())
	if err != nil {
		return nil, err
	}
	var masks []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".png") {
			masks = append(masks, filepath.Join(c.MasksDir(), e.Name()))
		}
	}
	sort.Strings(masks)
	return masks, nil
}

// Intrinsics reads intrinsics.npy and attaches the dimensions of rgb.png.
func (c Capture) Intrinsics() (camera.Intrinsics, error) {
	width, height, err := imaging.Dimensions(c.RGBPath())
	if err != nil {
		return camera.Intrinsics{}, fmt.Errorf("failed to read rgb image: %v", err)
	}
	return camera.ReadNPYIntrinsics(c.IntrinsicsPath(), width, height)
}

// Normalize rearranges an extracted upload under parentDir into
// parentDir/capture. Uploads come in two layouts: the zip contains the
// capture folder itself (capture/rgb.png), or the files sit at the archive
// root (rgb.png). Entries named in ignore (e.g. the uploaded archive) are
// left alone.
func Normalize(parentDir string, ignore ...string) (Capture, error) {
	captureDir := filepath.Join(parentDir, "capture")

	ignored := make(map[string]bool, len(ignore))
	for _, name := range ignore {
		ignored[name] = true
	}

	entries, err := os.ReadDir(parentDir)
	if err != nil {
		return Capture{}, err
	}
	var items []os.DirEntry
	for _, e := range entries {
		if !ignored[e.Name()] {
			items = append(items, e)
		}
	}

	if len(items) == 1 && items[0].IsDir() {
		// Single extracted subfolder: rename it to capture/.
		extracted := filepath.Join(parentDir, items[0].Name())
		if extracted != captureDir {
			if err := os.Rename(extracted, captureDir); err != nil {
				return Capture{}, fmt.Errorf("failed to move extracted folder: %v", err)
			}
		}
		return New(captureDir), nil
	}

	// Files extracted directly: move them into capture/.
	if err := os.MkdirAll(captureDir, 0755); err != nil {
		return Capture{}, err
	}
	for _, e := range items {
		src := filepath.Join(parentDir, e.Name())
		if src == captureDir {
			continue
		}
		dst := filepath.Join(captureDir, e.Name())
		if err := os.Rename(src, dst); err != nil {
			return Capture{}, fmt.Errorf("failed to move %s: %v", e.Name(), err)
		}
	}
	return New(captureDir), nil
}

// NewExperimentID returns a timestamp-based experiment identifier.
func NewExperimentID(now time.Time) string {
	return now.Format("20060102_150405")
}

// CopyFile copies src to dst, creating parent directories as needed.
func CopyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}
