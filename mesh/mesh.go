// Package mesh holds the triangle mesh produced by shape generation and the
// encoders used to write it to disk (GLB, glTF, PLY, STL).
package mesh

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrEmptyMesh    = errors.New("mesh has no triangles")
	ErrInvalidIndex = errors.New("mesh index out of range")
)

// Mesh is an indexed triangle list. Normals and Colors are optional and,
// when present, have one entry per position.
type Mesh struct {
	Name      string
	Positions [][3]float32
	Normals   [][3]float32
	Colors    [][4]uint8
	Indices   []uint32
}

func (m *Mesh) VertexCount() int { return len(m.Positions) }

func (m *Mesh) FaceCount() int { return len(m.Indices) / 3 }

func (m *Mesh) Validate() error {
	if len(m.Positions) == 0 || len(m.Indices) < 3 {
		return ErrEmptyMesh
	}
	if len(m.Indices)%3 != 0 {
		return fmt.Errorf("index count %d is not a multiple of 3", len(m.Indices))
	}
	n := uint32(len(m.Positions))
	for i, idx := range m.Indices {
		if idx >= n {
			return fmt.Errorf("%w: indices[%d]=%d, vertices=%d", ErrInvalidIndex, i, idx, n)
		}
	}
	if len(m.Normals) != 0 && len(m.Normals) != len(m.Positions) {
		return fmt.Errorf("normal count %d does not match vertex count %d", len(m.Normals), len(m.Positions))
	}
	if len(m.Colors) != 0 && len(m.Colors) != len(m.Positions) {
		return fmt.Errorf("color count %d does not match vertex count %d", len(m.Colors), len(m.Positions))
	}
	return nil
}

// Triangle returns the three corner positions of face i.
func (m *Mesh) Triangle(i int) (a, b, c [3]float32) {
	return m.Positions[m.Indices[3*i]], m.Positions[m.Indices[3*i+1]], m.Positions[m.Indices[3*i+2]]
}

// ComputeNormals replaces Normals with area weighted vertex normals.
func (m *Mesh) ComputeNormals() {
	acc := make([][3]float64, len(m.Positions))
	for i := 0; i < m.FaceCount(); i++ {
		a, b, c := m.Triangle(i)
		n := cross(sub(b, a), sub(c, a))
		for _, idx := range m.Indices[3*i : 3*i+3] {
			acc[idx][0] += n[0]
			acc[idx][1] += n[1]
			acc[idx][2] += n[2]
		}
	}
	m.Normals = make([][3]float32, len(m.Positions))
	for i, n := range acc {
		m.Normals[i] = toFloat32(normalize(n))
	}
}

// Bounds returns the axis aligned bounding box of all positions.
func (m *Mesh) Bounds() (lo, hi [3]float32) {
	if len(m.Positions) == 0 {
		return
	}
	lo, hi = m.Positions[0], m.Positions[0]
	for _, p := range m.Positions[1:] {
		for k := 0; k < 3; k++ {
			lo[k] = min(lo[k], p[k])
			hi[k] = max(hi[k], p[k])
		}
	}
	return lo, hi
}

// Append merges o into m, offsetting o's indices. Optional attributes are
// kept only when both meshes carry them.
func (m *Mesh) Append(o *Mesh) {
	offset := uint32(len(m.Positions))
	if offset == 0 {
		m.Normals = append([][3]float32(nil), o.Normals...)
		m.Colors = append([][4]uint8(nil), o.Colors...)
	} else {
		if len(m.Normals) > 0 && len(o.Normals) == len(o.Positions) {
			m.Normals = append(m.Normals, o.Normals...)
		} else {
			m.Normals = nil
		}
		if len(m.Colors) > 0 && len(o.Colors) == len(o.Positions) {
			m.Colors = append(m.Colors, o.Colors...)
		} else {
			m.Colors = nil
		}
	}
	m.Positions = append(m.Positions, o.Positions...)
	for _, idx := range o.Indices {
		m.Indices = append(m.Indices, idx+offset)
	}
}

func faceNormal(a, b, c [3]float32) [3]float64 {
	return normalize(cross(sub(b, a), sub(c, a)))
}

func sub(a, b [3]float32) [3]float64 {
	return [3]float64{float64(a[0] - b[0]), float64(a[1] - b[1]), float64(a[2] - b[2])}
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func normalize(v [3]float64) [3]float64 {
	norm := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	if norm > 0 {
		for i := 0; i < 3; i++ {
			v[i] /= norm
		}
	}
	return v
}

func toFloat32(v [3]float64) [3]float32 {
	return [3]float32{float32(v[0]), float32(v[1]), float32(v[2])}
}
