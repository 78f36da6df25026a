package camera

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func testIntrinsics() Intrinsics {
	return Intrinsics{
		Width:  640,
		Height: 480,
		Fx:     615.0,
		Fy:     615.0,
		Cx:     320.0,
		Cy:     240.0,
	}
}

// TestMatrixRoundTrip verifies Matrix/FromMatrix preserve all parameters
func TestMatrixRoundTrip(t *testing.T) {
	in := testIntrinsics()
	out, err := FromMatrix(in.Matrix(), in.Width, in.Height)
	if err != nil {
		t.Fatalf("FromMatrix error = %v", err)
	}
	if out != in {
		t.Errorf("round trip = %+v; want %+v", out, in)
	}
}

// TestFromMatrixRejectsWrongShape verifies non-3x3 matrices are rejected
func TestFromMatrixRejectsWrongShape(t *testing.T) {
	_, err := FromMatrix(mat.NewDense(2, 2, []float64{1, 0, 0, 1}), 640, 480)
	if err == nil {
		t.Error("FromMatrix accepted a 2x2 matrix")
	}
}

// TestValidate checks parameter validation
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Intrinsics)
		wantErr bool
	}{
		{"valid", func(in *Intrinsics) {}, false},
		{"zero fx", func(in *Intrinsics) { in.Fx = 0 }, true},
		{"negative fy", func(in *Intrinsics) { in.Fy = -1 }, true},
		{"negative width", func(in *Intrinsics) { in.Width = -640 }, true},
		{"zero dims allowed", func(in *Intrinsics) { in.Width, in.Height = 0, 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := testIntrinsics()
			tt.mutate(&in)
			err := in.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v; wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestWriteJSONSchema verifies cam_K.json uses the downstream schema
func TestWriteJSONSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cam_K.json")

	in := testIntrinsics()
	if err := in.WriteJSON(path); err != nil {
		t.Fatalf("WriteJSON error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading cam_K.json: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("cam_K.json is not valid JSON: %v", err)
	}

	for _, key := range []string{"width", "height", "intrinsic_matrix"} {
		if _, ok := parsed[key]; !ok {
			t.Errorf("cam_K.json missing key %q", key)
		}
	}

	matrix, ok := parsed["intrinsic_matrix"].([]interface{})
	if !ok || len(matrix) != 9 {
		t.Fatalf("intrinsic_matrix = %v; want 9-element array", parsed["intrinsic_matrix"])
	}
	if matrix[0].(float64) != 615.0 {
		t.Errorf("intrinsic_matrix[0] = %v; want 615", matrix[0])
	}
	if matrix[8].(float64) != 1.0 {
		t.Errorf("intrinsic_matrix[8] = %v; want 1", matrix[8])
	}
}

// TestJSONRoundTrip verifies WriteJSON/ReadJSON round trip
func TestJSONRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cam_K.json")

	in := testIntrinsics()
	if err := in.WriteJSON(path); err != nil {
		t.Fatalf("WriteJSON error = %v", err)
	}

	out, err := ReadJSON(path)
	if err != nil {
		t.Fatalf("ReadJSON error = %v", err)
	}
	if out != in {
		t.Errorf("ReadJSON = %+v; want %+v", out, in)
	}
}

// TestTxtRoundTrip verifies the cam_K.txt format round trips
func TestTxtRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cam_K.txt")

	in := testIntrinsics()
	if err := in.WriteTxt(path); err != nil {
		t.Fatalf("WriteTxt error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading cam_K.txt: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("cam_K.txt has %d rows; want 3", len(lines))
	}
	if len(strings.Fields(lines[0])) != 3 {
		t.Errorf("cam_K.txt row %q should have 3 values", lines[0])
	}

	out, err := ReadTxt(path)
	if err != nil {
		t.Fatalf("ReadTxt error = %v", err)
	}
	// Dimensions are not stored in the txt format
	in.Width, in.Height = 0, 0
	if out != in {
		t.Errorf("ReadTxt = %+v; want %+v", out, in)
	}
}

// TestReadTxtRejectsBadInput verifies malformed matrices are rejected
func TestReadTxtRejectsBadInput(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{"too few values", "1 2 3\n4 5 6\n"},
		{"not numbers", "a b c\nd e f\ng h i\n"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".txt")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := ReadTxt(path); err == nil {
				t.Error("ReadTxt accepted malformed input")
			}
		})
	}
}

// TestNPYRoundTrip verifies .npy write/read round trips
func TestNPYRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "intrinsics.npy")

	in := testIntrinsics()
	if err := WriteNPY(path, in.Matrix()); err != nil {
		t.Fatalf("WriteNPY error = %v", err)
	}

	k, err := ReadNPY(path)
	if err != nil {
		t.Fatalf("ReadNPY error = %v", err)
	}

	want := in.Matrix()
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			if math.Abs(k.At(r, c)-want.At(r, c)) > 1e-12 {
				t.Errorf("K[%d,%d] = %v; want %v", r, c, k.At(r, c), want.At(r, c))
			}
		}
	}
}

// TestReadNPYRejectsBadFiles verifies corrupt npy inputs are rejected
func TestReadNPYRejectsBadFiles(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"not npy", []byte("hello world, definitely not numpy")},
		{"truncated magic", []byte("\x93NUM")},
		{"bad version", append([]byte("\x93NUMPY"), 9, 0, 0, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseNPY(tt.data, tt.name); err == nil {
				t.Error("parseNPY accepted corrupt input")
			}
		})
	}
}

// TestReadNPYFortranOrderRejected verifies fortran-order arrays are refused
func TestReadNPYFortranOrderRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "intrinsics.npy")

	if err := WriteNPY(path, testIntrinsics().Matrix()); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	corrupted := []byte(strings.Replace(string(data), "False", "True ", 1))
	if _, err := parseNPY(corrupted, "fortran.npy"); err == nil {
		t.Error("parseNPY accepted a fortran-order array")
	}
}
