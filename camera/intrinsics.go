// Package camera holds the pinhole intrinsics model shared by the capture
// pipeline and the registration prep step, along with readers and writers
// for the on-disk formats the surrounding tools use: NumPy .npy matrices
// from the capture side and cam_K.txt / cam_K.json for SceneComplete.
package camera

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// ErrNoIntrinsics is returned when a capture has no intrinsics file.
var ErrNoIntrinsics = errors.New("camera intrinsics are not available")

// Intrinsics holds the parameters of a pinhole projection of a 3D scene
// onto the 2D image plane. Width and Height are the dimensions of the
// image the matrix was calibrated against.
type Intrinsics struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Cx     float64 `json:"cx"`
	Cy     float64 `json:"cy"`
	Skew   float64 `json:"skew,omitempty"`
}

// Matrix returns the 3x3 row-major intrinsic matrix K.
func (in Intrinsics) Matrix() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		in.Fx, in.Skew, in.Cx,
		0, in.Fy, in.Cy,
		0, 0, 1,
	})
}

// FromMatrix builds Intrinsics from a 3x3 matrix. The image dimensions are
// not encoded in the matrix and must be supplied by the caller.
func FromMatrix(k mat.Matrix, width, height int) (Intrinsics, error) {
	r, c := k.Dims()
	if r != 3 || c != 3 {
		return Intrinsics{}, fmt.Errorf("intrinsic matrix must be 3x3, got %dx%d", r, c)
	}
	return Intrinsics{
		Width:  width,
		Height: height,
		Fx:     k.At(0, 0),
		Fy:     k.At(1, 1),
		Cx:     k.At(0, 2),
		Cy:     k.At(1, 2),
		Skew:   k.At(0, 1),
	}, nil
}

// Validate checks the parameters are usable for projection.
func (in Intrinsics) Validate() error {
	if in.Fx <= 0 || in.Fy <= 0 {
		return fmt.Errorf("focal lengths must be positive, got fx=%v fy=%v", in.Fx, in.Fy)
	}
	if in.Width < 0 || in.Height < 0 {
		return fmt.Errorf("image dimensions must be non-negative, got %dx%d", in.Width, in.Height)
	}
	return nil
}

// camKJSON is the serialization SceneComplete's scaling script reads:
// image dimensions plus the row-major flattened 3x3 matrix.
type camKJSON struct {
	Width           int       `json:"width"`
	Height          int       `json:"height"`
	IntrinsicMatrix []float64 `json:"intrinsic_matrix"`
}

// WriteJSON writes the intrinsics to path in the cam_K.json schema.
func (in Intrinsics) WriteJSON(path string) error {
	k := in.Matrix()
	out := camKJSON{
		Width:           in.Width,
		Height:          in.Height,
		IntrinsicMatrix: make([]float64, 0, 9),
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out.IntrinsicMatrix = append(out.IntrinsicMatrix, k.At(r, c))
		}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal intrinsics: %v", err)
	}
	return os.WriteFile(path, data, 0644)
}

// ReadJSON reads a cam_K.json file.
func ReadJSON(path string) (Intrinsics, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Intrinsics{}, err
	}
	var raw camKJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return Intrinsics{}, fmt.Errorf("failed to parse %s: %v", path, err)
	}
	if len(raw.IntrinsicMatrix) != 9 {
		return Intrinsics{}, fmt.Errorf("intrinsic_matrix in %s has %d entries, want 9", path, len(raw.IntrinsicMatrix))
	}
	k := mat.NewDense(3, 3, raw.IntrinsicMatrix)
	return FromMatrix(k, raw.Width, raw.Height)
}

// WriteTxt writes the 3x3 matrix as three space-separated rows (cam_K.txt).
func (in Intrinsics) WriteTxt(path string) error {
	k := in.Matrix()
	var b strings.Builder
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			if c > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(strconv.FormatFloat(k.At(r, c), 'g', -1, 64))
		}
		b.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(b.String()), 0644)
}

// ReadTxt reads a whitespace-separated 3x3 matrix. Image dimensions are not
// stored in this format and are left zero for the caller to fill in.
func ReadTxt(path string) (Intrinsics, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Intrinsics{}, err
	}
	fields := strings.Fields(string(data))
	if len(fields) != 9 {
		return Intrinsics{}, fmt.Errorf("intrinsics file %s has %d values, want 9", path, len(fields))
	}
	vals := make([]float64, 9)
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return Intrinsics{}, fmt.Errorf("bad value %q in %s: %v", f, path, err)
		}
		vals[i] = v
	}
	return FromMatrix(mat.NewDense(3, 3, vals), 0, 0)
}
