package camera

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"regexp"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Capture folders store intrinsics as a 3x3 NumPy array (intrinsics.npy).
// Only the subset of the NPY format those files actually use is handled:
// little-endian float32/float64, C order, version 1.0 or 2.0 headers.

var npyMagic = []byte("\x93NUMPY")

var npyHeaderRe = regexp.MustCompile(`'descr':\s*'([^']+)',\s*'fortran_order':\s*(True|False),\s*'shape':\s*\(([^)]*)\)`)

// ReadNPY reads a 3x3 float matrix from a .npy file.
func ReadNPY(path string) (*mat.Dense, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseNPY(data, path)
}

func parseNPY(data []byte, name string) (*mat.Dense, error) {
	if len(data) < 10 || !bytes.HasPrefix(data, npyMagic) {
		return nil, fmt.Errorf("%s is not a .npy file", name)
	}
	major := data[6]
	var headerLen, offset int
	switch major {
	case 1:
		headerLen = int(binary.LittleEndian.Uint16(data[8:10]))
		offset = 10
	case 2:
		if len(data) < 12 {
			return nil, fmt.Errorf("%s: truncated npy header", name)
		}
		headerLen = int(binary.LittleEndian.Uint32(data[8:12]))
		offset = 12
	default:
		return nil, fmt.Errorf("%s: unsupported npy version %d", name, major)
	}
	if len(data) < offset+headerLen {
		return nil, fmt.Errorf("%s: truncated npy header", name)
	}
	header := string(data[offset : offset+headerLen])
	m := npyHeaderRe.FindStringSubmatch(header)
	if m == nil {
		return nil, fmt.Errorf("%s: unrecognized npy header %q", name, strings.TrimSpace(header))
	}
	descr, fortran, shape := m[1], m[2], strings.ReplaceAll(m[3], " ", "")
	if fortran == "True" {
		return nil, fmt.Errorf("%s: fortran-order arrays are not supported", name)
	}
	if shape != "3,3" && shape != "3,3," {
		return nil, fmt.Errorf("%s: intrinsics must have shape (3, 3), got (%s)", name, m[3])
	}

	body := data[offset+headerLen:]
	vals := make([]float64, 9)
	switch descr {
	case "<f8":
		if len(body) < 9*8 {
			return nil, fmt.Errorf("%s: truncated npy data", name)
		}
		for i := range vals {
			vals[i] = math.Float64frombits(binary.LittleEndian.Uint64(body[i*8:]))
		}
	case "<f4":
		if len(body) < 9*4 {
			return nil, fmt.Errorf("%s: truncated npy data", name)
		}
		for i := range vals {
			vals[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(body[i*4:])))
		}
	default:
		return nil, fmt.Errorf("%s: unsupported npy dtype %q", name, descr)
	}
	return mat.NewDense(3, 3, vals), nil
}

// WriteNPY writes a 3x3 matrix as a version 1.0 little-endian float64 .npy
// file, so Go-produced intrinsics can feed back into the Python tooling.
func WriteNPY(path string, k mat.Matrix) error {
	r, c := k.Dims()
	if r != 3 || c != 3 {
		return fmt.Errorf("intrinsic matrix must be 3x3, got %dx%d", r, c)
	}

	header := "{'descr': '<f8', 'fortran_order': False, 'shape': (3, 3), }"
	// Total header (magic+version+len+dict+newline) must be a multiple of 64.
	total := len(npyMagic) + 2 + 2 + len(header) + 1
	if pad := 64 - total%64; pad != 64 {
		header += strings.Repeat(" ", pad)
	}
	header += "\n"

	var buf bytes.Buffer
	buf.Write(npyMagic)
	buf.WriteByte(1)
	buf.WriteByte(0)
	var lenBytes [2]byte
	binary.LittleEndian.PutUint16(lenBytes[:], uint16(len(header)))
	buf.Write(lenBytes[:])
	buf.WriteString(header)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var v [8]byte
			binary.LittleEndian.PutUint64(v[:], math.Float64bits(k.At(i, j)))
			buf.Write(v[:])
		}
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// ReadNPYIntrinsics reads intrinsics.npy and attaches image dimensions.
func ReadNPYIntrinsics(path string, width, height int) (Intrinsics, error) {
	k, err := ReadNPY(path)
	if err != nil {
		return Intrinsics{}, err
	}
	return FromMatrix(k, width, height)
}
