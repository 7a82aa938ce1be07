package mesh

import (
	"fmt"
	"io"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
)

// EncodeGLB writes m as a binary glTF container.
func EncodeGLB(w io.Writer, m *Mesh) error {
	return encodeGLTF(w, m, true)
}

// EncodeGLTF writes m as a JSON glTF document with the vertex buffer
// embedded as a data URI, so the file is self contained.
func EncodeGLTF(w io.Writer, m *Mesh) error {
	return encodeGLTF(w, m, false)
}

func encodeGLTF(w io.Writer, m *Mesh, binary bool) error {
	doc, err := document(m)
	if err != nil {
		return err
	}
	if !binary {
		for _, b := range doc.Buffers {
			b.EmbeddedResource()
		}
	}
	enc := gltf.NewEncoder(w)
	enc.AsBinary = binary
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode gltf: %w", err)
	}
	return nil
}

func document(m *Mesh) (*gltf.Document, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	name := m.Name
	if name == "" {
		name = "mesh"
	}

	doc := gltf.NewDocument()
	attrs := gltf.PrimitiveAttributes{
		gltf.POSITION: modeler.WritePosition(doc, m.Positions),
	}
	if len(m.Normals) > 0 {
		attrs[gltf.NORMAL] = modeler.WriteNormal(doc, m.Normals)
	}
	if len(m.Colors) > 0 {
		attrs[gltf.COLOR_0] = modeler.WriteColor(doc, m.Colors)
	}
	indices := modeler.WriteIndices(doc, m.Indices)

	doc.Meshes = []*gltf.Mesh{{
		Name: name,
		Primitives: []*gltf.Primitive{{
			Indices:    gltf.Index(indices),
			Attributes: attrs,
			Mode:       gltf.PrimitiveTriangles,
		}},
	}}
	doc.Nodes = []*gltf.Node{{Name: name, Mesh: gltf.Index(0)}}
	doc.Scenes[0].Nodes = []int{0}
	return doc, nil
}

// DecodeGLTF reads a .glb or .gltf stream and merges every triangle
// primitive into a single Mesh. Node transforms are not applied.
func DecodeGLTF(r io.Reader) (*Mesh, error) {
	doc := new(gltf.Document)
	if err := gltf.NewDecoder(r).Decode(doc); err != nil {
		return nil, fmt.Errorf("decode gltf: %w", err)
	}
	return fromDocument(doc)
}

func fromDocument(doc *gltf.Document) (*Mesh, error) {
	out := &Mesh{}
	for _, gm := range doc.Meshes {
		if out.Name == "" {
			out.Name = gm.Name
		}
		for _, primitive := range gm.Primitives {
			if primitive.Mode != gltf.PrimitiveTriangles {
				continue
			}
			part, err := readPrimitive(doc, primitive)
			if err != nil {
				return nil, err
			}
			if part != nil {
				out.Append(part)
			}
		}
	}
	if out.FaceCount() == 0 {
		return nil, ErrEmptyMesh
	}
	return out, nil
}

func readPrimitive(doc *gltf.Document, primitive *gltf.Primitive) (*Mesh, error) {
	posIdx, ok := primitive.Attributes[gltf.POSITION]
	if !ok {
		return nil, nil
	}
	positions, err := modeler.ReadPosition(doc, doc.Accessors[posIdx], nil)
	if err != nil {
		return nil, fmt.Errorf("read positions: %w", err)
	}
	part := &Mesh{Positions: positions}

	if idx, ok := primitive.Attributes[gltf.NORMAL]; ok {
		if part.Normals, err = modeler.ReadNormal(doc, doc.Accessors[idx], nil); err != nil {
			return nil, fmt.Errorf("read normals: %w", err)
		}
	}
	if idx, ok := primitive.Attributes[gltf.COLOR_0]; ok {
		if part.Colors, err = modeler.ReadColor(doc, doc.Accessors[idx], nil); err != nil {
			return nil, fmt.Errorf("read colors: %w", err)
		}
	}

	if primitive.Indices != nil {
		part.Indices, err = modeler.ReadIndices(doc, doc.Accessors[*primitive.Indices], nil)
		if err != nil {
			return nil, fmt.Errorf("read indices: %w", err)
		}
	} else {
		part.Indices = make([]uint32, len(positions))
		for k := range part.Indices {
			part.Indices[k] = uint32(k)
		}
	}
	return part, nil
}
