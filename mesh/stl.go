package mesh

import (
	"bufio"
	"fmt"
	"io"
)

// EncodeSTL writes m as an ASCII STL solid, one facet per triangle.
func EncodeSTL(w io.Writer, m *Mesh) error {
	if err := m.Validate(); err != nil {
		return err
	}
	name := m.Name
	if name == "" {
		name = "relief_model"
	}

	bw := bufio.NewWriter(w)
	_, _ = fmt.Fprintf(bw, "solid %s\n", name)
	for i := 0; i < m.FaceCount(); i++ {
		a, b, c := m.Triangle(i)
		writeFacet(bw, a, b, c)
	}
	_, _ = fmt.Fprintf(bw, "endsolid %s\n", name)
	return bw.Flush()
}

func writeFacet(w io.Writer, v1, v2, v3 [3]float32) {
	normal := faceNormal(v1, v2, v3)
	_, _ = fmt.Fprintf(w, "  facet normal %f %f %f\n", normal[0], normal[1], normal[2])
	_, _ = fmt.Fprintf(w, "    outer loop\n")
	_, _ = fmt.Fprintf(w, "      vertex %f %f %f\n", v1[0], v1[1], v1[2])
	_, _ = fmt.Fprintf(w, "      vertex %f %f %f\n", v2[0], v2[1], v2[2])
	_, _ = fmt.Fprintf(w, "      vertex %f %f %f\n", v3[0], v3[1], v3[2])
	_, _ = fmt.Fprintf(w, "    endloop\n")
	_, _ = fmt.Fprintf(w, "  endfacet\n")
}
