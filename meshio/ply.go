package meshio

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// PlyInfo summarizes a PLY file from its header. Both scene point clouds
// and Gaussian-splat exports use PLY; only the header is read, so binary
// payloads of any size are cheap to inspect.
type PlyInfo struct {
	Path        string
	Format      string // "ascii", "binary_little_endian", "binary_big_endian"
	VertexCount int
	FaceCount   int
	Properties  []string // vertex property names, in declaration order
}

// ScanPly reads the header of a PLY file.
func ScanPly(path string) (*PlyInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	magic, err := reader.ReadString('\n')
	if err != nil || strings.TrimSpace(magic) != "ply" {
		return nil, fmt.Errorf("%s is not a PLY file", path)
	}

	info := &PlyInfo{Path: path}
	currentElement := ""
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("%s: header ended before end_header", path)
		}
		line = strings.TrimSpace(line)
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "format":
			if len(fields) < 2 {
				return nil, fmt.Errorf("%s: malformed format line %q", path, line)
			}
			info.Format = fields[1]
		case "element":
			if len(fields) < 3 {
				return nil, fmt.Errorf("%s: malformed element line %q", path, line)
			}
			count, err := strconv.Atoi(fields[2])
			if err != nil {
				return nil, fmt.Errorf("%s: bad element count %q: %v", path, fields[2], err)
			}
			currentElement = fields[1]
			switch currentElement {
			case "vertex":
				info.VertexCount = count
			case "face":
				info.FaceCount = count
			}
		case "property":
			if currentElement == "vertex" && len(fields) >= 2 {
				info.Properties = append(info.Properties, fields[len(fields)-1])
			}
		case "comment", "obj_info":
			// ignore
		case "end_header":
			if info.Format == "" {
				return nil, fmt.Errorf("%s: header has no format line", path)
			}
			return info, nil
		}
	}
}

// IsGaussianSplat reports whether the vertex properties look like a 3D
// Gaussian splat export (spherical-harmonic color plus opacity/scale
// fields) rather than a plain point cloud.
func (p *PlyInfo) IsGaussianSplat() bool {
	var hasOpacity, hasSH bool
	for _, prop := range p.Properties {
		if prop == "opacity" {
			hasOpacity = true
		}
		if strings.HasPrefix(prop, "f_dc_") || strings.HasPrefix(prop, "f_rest_") {
			hasSH = true
		}
	}
	return hasOpacity && hasSH
}
