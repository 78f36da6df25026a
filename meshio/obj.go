// Package meshio provides the lightweight mesh and point-cloud file handling
// the orchestration layer needs: scanning OBJ/PLY files for summaries,
// resolving material and texture references, and copying meshes together
// with their assets into the layout the registration tool expects. It is
// deliberately not a mesh-processing library; geometry work stays in the
// external reconstruction tooling.
package meshio

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ObjInfo summarizes a Wavefront OBJ file.
type ObjInfo struct {
	Path        string
	VertexCount int
	FaceCount   int
	MTLLibs     []string

	// Axis-aligned bounds and centroid of the vertices.
	Min      [3]float64
	Max      [3]float64
	Centroid [3]float64
}

// ScanObj reads an OBJ file and collects vertex/face counts, bounds,
// centroid, and referenced material libraries.
func ScanObj(path string) (*ObjInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info := &ObjInfo{Path: path}
	var sum [3]float64

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "v "):
			fields := strings.Fields(line)
			if len(fields) < 4 {
				return nil, fmt.Errorf("%s: malformed vertex line %q", path, line)
			}
			var v [3]float64
			for i := 0; i < 3; i++ {
				v[i], err = strconv.ParseFloat(fields[i+1], 64)
				if err != nil {
					return nil, fmt.Errorf("%s: bad vertex coordinate %q: %v", path, fields[i+1], err)
				}
			}
			if info.VertexCount == 0 {
				info.Min, info.Max = v, v
			} else {
				for i := 0; i < 3; i++ {
					if v[i] < info.Min[i] {
						info.Min[i] = v[i]
					}
					if v[i] > info.Max[i] {
						info.Max[i] = v[i]
					}
				}
			}
			for i := 0; i < 3; i++ {
				sum[i] += v[i]
			}
			info.VertexCount++
		case strings.HasPrefix(line, "f "):
			info.FaceCount++
		case strings.HasPrefix(line, "mtllib "):
			name := strings.TrimSpace(strings.TrimPrefix(line, "mtllib"))
			if name != "" {
				info.MTLLibs = append(info.MTLLibs, name)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	if info.VertexCount == 0 {
		return nil, fmt.Errorf("%s: no vertices found", path)
	}
	for i := 0; i < 3; i++ {
		info.Centroid[i] = sum[i] / float64(info.VertexCount)
	}
	return info, nil
}

// TextureRefs scans an MTL file for texture map references (map_Kd and
// friends).
func TextureRefs(mtlPath string) ([]string, error) {
	f, err := os.Open(mtlPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var refs []string
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "map_") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		// Texture file is the last field; earlier ones may be options.
		tex := fields[len(fields)-1]
		if !seen[tex] {
			seen[tex] = true
			refs = append(refs, tex)
		}
	}
	return refs, scanner.Err()
}

var numericObjRe = regexp.MustCompile(`^(\d+)\.obj$`)

// NumberedMesh is a reconstruction output identified by its object ID.
type NumberedMesh struct {
	ID   int
	Path string
}

// ListNumbered returns the numeric-ID OBJ files in dir (0.obj, 1.obj, ...)
// sorted by ID, matching how the pipeline names per-object outputs.
func ListNumbered(dir string) ([]NumberedMesh, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var meshes []NumberedMesh
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := numericObjRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		meshes = append(meshes, NumberedMesh{ID: id, Path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(meshes, func(i, j int) bool { return meshes[i].ID < meshes[j].ID })
	return meshes, nil
}

// ListObjs returns all OBJ files in dir sorted numerically when the names
// are numeric, lexically otherwise.
func ListObjs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var objs []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".obj") {
			objs = append(objs, filepath.Join(dir, e.Name()))
		}
	}
	sort.Slice(objs, func(i, j int) bool {
		a := strings.TrimSuffix(filepath.Base(objs[i]), filepath.Ext(objs[i]))
		b := strings.TrimSuffix(filepath.Base(objs[j]), filepath.Ext(objs[j]))
		ai, aerr := strconv.Atoi(a)
		bi, berr := strconv.Atoi(b)
		if aerr == nil && berr == nil {
			return ai < bi
		}
		return a < b
	})
	return objs, nil
}

// CopyWithAssets copies an OBJ into destDir under the given base name and
// brings along sibling assets with the source stem: the .mtl and .png that
// mesh exporters write next to the OBJ. Returns the destination OBJ path.
func CopyWithAssets(objPath, destDir, baseName string) (string, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", err
	}

	dst := filepath.Join(destDir, baseName+".obj")
	if err := copyFile(objPath, dst); err != nil {
		return "", fmt.Errorf("failed to copy mesh: %v", err)
	}

	srcDir := filepath.Dir(objPath)
	stem := strings.TrimSuffix(filepath.Base(objPath), filepath.Ext(objPath))
	for _, ext := range []string{".mtl", ".png"} {
		src := filepath.Join(srcDir, stem+ext)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := copyFile(src, filepath.Join(destDir, baseName+ext)); err != nil {
			return "", fmt.Errorf("failed to copy %s: %v", filepath.Base(src), err)
		}
	}
	return dst, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}
