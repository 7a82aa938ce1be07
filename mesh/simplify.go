package mesh

import (
	"github.com/fogleman/simplify"
)

// Simplify reduces the triangle count to roughly factor of the original
// with quadric error decimation. factor outside (0, 1) returns m unchanged.
// Normals and colours are dropped; call ComputeNormals on the result.
func (m *Mesh) Simplify(factor float64) *Mesh {
	if factor <= 0 || factor >= 1 || m.FaceCount() == 0 {
		return m
	}

	triangles := make([]*simplify.Triangle, 0, m.FaceCount())
	for i := 0; i < m.FaceCount(); i++ {
		a, b, c := m.Triangle(i)
		triangles = append(triangles, simplify.NewTriangle(vector(a), vector(b), vector(c)))
	}
	reduced := simplify.NewMesh(triangles).Simplify(factor)

	out := &Mesh{Name: m.Name}
	seen := make(map[simplify.Vector]uint32, len(reduced.Triangles)/2)
	index := func(v simplify.Vector) uint32 {
		if i, ok := seen[v]; ok {
			return i
		}
		i := uint32(len(out.Positions))
		seen[v] = i
		out.Positions = append(out.Positions, [3]float32{float32(v.X), float32(v.Y), float32(v.Z)})
		return i
	}
	for _, t := range reduced.Triangles {
		a, b, c := index(t.V1), index(t.V2), index(t.V3)
		if a == b || b == c || a == c {
			continue
		}
		out.Indices = append(out.Indices, a, b, c)
	}
	return out
}

func vector(p [3]float32) simplify.Vector {
	return simplify.Vector{X: float64(p[0]), Y: float64(p[1]), Z: float64(p[2])}
}
