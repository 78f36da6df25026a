package meshio

import (
	"os"
	"path/filepath"
	"testing"
)

const testObj = `# exported mesh
mtllib 0.mtl
v 0.0 0.0 0.0
v 1.0 0.0 0.0
v 0.0 2.0 0.0
v 0.0 0.0 3.0
f 1 2 3
f 1 3 4
`

const testMtl = `newmtl material_0
Ka 1.0 1.0 1.0
map_Kd texture.png
map_Bump -bm 0.5 bump.png
`

const testPly = `ply
format binary_little_endian 1.0
comment produced for tests
element vertex 1234
property float x
property float y
property float z
property uchar red
end_header
`

const splatPly = `ply
format binary_little_endian 1.0
element vertex 10
property float x
property float y
property float z
property float f_dc_0
property float f_rest_0
property float opacity
property float scale_0
end_header
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// TestScanObj verifies counts, bounds, centroid, and mtllib references
func TestScanObj(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "0.obj")
	writeFile(t, path, testObj)

	info, err := ScanObj(path)
	if err != nil {
		t.Fatalf("ScanObj error = %v", err)
	}

	if info.VertexCount != 4 {
		t.Errorf("VertexCount = %d; want 4", info.VertexCount)
	}
	if info.FaceCount != 2 {
		t.Errorf("FaceCount = %d; want 2", info.FaceCount)
	}
	if len(info.MTLLibs) != 1 || info.MTLLibs[0] != "0.mtl" {
		t.Errorf("MTLLibs = %v; want [0.mtl]", info.MTLLibs)
	}
	if info.Min != [3]float64{0, 0, 0} {
		t.Errorf("Min = %v; want origin", info.Min)
	}
	if info.Max != [3]float64{1, 2, 3} {
		t.Errorf("Max = %v; want [1 2 3]", info.Max)
	}
	if info.Centroid != [3]float64{0.25, 0.5, 0.75} {
		t.Errorf("Centroid = %v; want [0.25 0.5 0.75]", info.Centroid)
	}
}

// TestScanObjRejectsEmpty verifies meshes without vertices error out
func TestScanObjRejectsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.obj")
	writeFile(t, path, "# nothing here\n")

	if _, err := ScanObj(path); err == nil {
		t.Error("ScanObj accepted an OBJ without vertices")
	}
}

// TestTextureRefs verifies map_* lines are collected, options skipped
func TestTextureRefs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "0.mtl")
	writeFile(t, path, testMtl)

	refs, err := TextureRefs(path)
	if err != nil {
		t.Fatalf("TextureRefs error = %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("TextureRefs = %v; want 2 entries", refs)
	}
	if refs[0] != "texture.png" || refs[1] != "bump.png" {
		t.Errorf("TextureRefs = %v; want [texture.png bump.png]", refs)
	}
}

// TestListNumbered verifies numeric sort and filtering
func TestListNumbered(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"10.obj", "2.obj", "0.obj", "scene.obj", "mask_0.png"} {
		writeFile(t, filepath.Join(dir, name), testObj)
	}

	meshes, err := ListNumbered(dir)
	if err != nil {
		t.Fatalf("ListNumbered error = %v", err)
	}

	wantIDs := []int{0, 2, 10}
	if len(meshes) != len(wantIDs) {
		t.Fatalf("ListNumbered returned %d meshes; want %d", len(meshes), len(wantIDs))
	}
	for i, want := range wantIDs {
		if meshes[i].ID != want {
			t.Errorf("meshes[%d].ID = %d; want %d", i, meshes[i].ID, want)
		}
	}
}

// TestListObjsNumericOrder verifies 10.obj sorts after 2.obj
func TestListObjsNumericOrder(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"10.obj", "2.obj", "1.obj"} {
		writeFile(t, filepath.Join(dir, name), testObj)
	}

	objs, err := ListObjs(dir)
	if err != nil {
		t.Fatalf("ListObjs error = %v", err)
	}
	want := []string{"1.obj", "2.obj", "10.obj"}
	for i, w := range want {
		if filepath.Base(objs[i]) != w {
			t.Errorf("objs[%d] = %s; want %s", i, filepath.Base(objs[i]), w)
		}
	}
}

// TestCopyWithAssets verifies the obj, mtl, and texture travel together
func TestCopyWithAssets(t *testing.T) {
	srcDir := t.TempDir()
	destDir := filepath.Join(t.TempDir(), "meshes")

	writeFile(t, filepath.Join(srcDir, "0.obj"), testObj)
	writeFile(t, filepath.Join(srcDir, "0.mtl"), testMtl)
	writeFile(t, filepath.Join(srcDir, "0.png"), "not really a png")

	dst, err := CopyWithAssets(filepath.Join(srcDir, "0.obj"), destDir, "0_rgba")
	if err != nil {
		t.Fatalf("CopyWithAssets error = %v", err)
	}
	if filepath.Base(dst) != "0_rgba.obj" {
		t.Errorf("destination = %s; want 0_rgba.obj", filepath.Base(dst))
	}

	for _, name := range []string{"0_rgba.obj", "0_rgba.mtl", "0_rgba.png"} {
		if _, err := os.Stat(filepath.Join(destDir, name)); err != nil {
			t.Errorf("expected %s to be copied: %v", name, err)
		}
	}
}

// TestCopyWithAssetsNoSiblings verifies missing assets are not an error
func TestCopyWithAssetsNoSiblings(t *testing.T) {
	srcDir := t.TempDir()
	destDir := t.TempDir()
	writeFile(t, filepath.Join(srcDir, "1.obj"), testObj)

	if _, err := CopyWithAssets(filepath.Join(srcDir, "1.obj"), destDir, "1_rgba"); err != nil {
		t.Fatalf("CopyWithAssets error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(destDir, "1_rgba.mtl")); !os.IsNotExist(err) {
		t.Error("unexpected mtl file appeared")
	}
}

// TestScanPly verifies header parsing for a typical scene cloud
func TestScanPly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scene_complete.ply")
	writeFile(t, path, testPly)

	info, err := ScanPly(path)
	if err != nil {
		t.Fatalf("ScanPly error = %v", err)
	}
	if info.Format != "binary_little_endian" {
		t.Errorf("Format = %q; want binary_little_endian", info.Format)
	}
	if info.VertexCount != 1234 {
		t.Errorf("VertexCount = %d; want 1234", info.VertexCount)
	}
	if info.FaceCount != 0 {
		t.Errorf("FaceCount = %d; want 0", info.FaceCount)
	}
	if len(info.Properties) != 4 || info.Properties[3] != "red" {
		t.Errorf("Properties = %v; want [x y z red]", info.Properties)
	}
	if info.IsGaussianSplat() {
		t.Error("plain point cloud misidentified as gaussian splat")
	}
}

// TestIsGaussianSplat verifies splat detection from SH properties
func TestIsGaussianSplat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "completed_rgb.ply")
	writeFile(t, path, splatPly)

	info, err := ScanPly(path)
	if err != nil {
		t.Fatalf("ScanPly error = %v", err)
	}
	if !info.IsGaussianSplat() {
		t.Error("gaussian splat not detected")
	}
}

// TestScanPlyRejectsNonPly verifies the magic check
func TestScanPlyRejectsNonPly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mesh.obj")
	writeFile(t, path, testObj)

	if _, err := ScanPly(path); err == nil {
		t.Error("ScanPly accepted a non-PLY file")
	}
}
