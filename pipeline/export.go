package pipeline

import (
	"fmt"
	"io"
	"os"

	"github.com/chaos-io/img2mesh/mesh"
)

const (
	FormatGLB  = "glb"
	FormatGLTF = "gltf"
	FormatSTL  = "stl"
)

// Export writes m to p.Mesh in the given format. gltf goes through an
// intermediate PLY next to the target which is always removed afterwards.
func Export(m *mesh.Mesh, p Paths, format string) error {
	switch format {
	case FormatGLB:
		return writeFile(p.Mesh, m, mesh.EncodeGLB)
	case FormatSTL:
		return writeFile(p.Mesh, m, mesh.EncodeSTL)
	case FormatGLTF:
		return exportViaPLY(m, p)
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

func exportViaPLY(m *mesh.Mesh, p Paths) error {
	if err := writeFile(p.Intermediate, m, mesh.EncodePLY); err != nil {
		return fmt.Errorf("write ply: %w", err)
	}
	defer func() {
		_ = os.Remove(p.Intermediate)
	}()

	f, err := os.Open(p.Intermediate)
	if err != nil {
		return err
	}
	converted, err := mesh.DecodePLY(f)
	_ = f.Close()
	if err != nil {
		return fmt.Errorf("read ply: %w", err)
	}
	converted.Name = m.Name

	return writeFile(p.Mesh, converted, mesh.EncodeGLTF)
}

func writeFile(path string, m *mesh.Mesh, encode func(io.Writer, *mesh.Mesh) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()
	return encode(f, m)
}
