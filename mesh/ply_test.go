package mesh

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodePLY_Decode(t *testing.T) {
	m := quad()
	m.ComputeNormals()
	m.Colors = [][4]uint8{{10, 20, 30, 255}, {1, 2, 3, 4}, {0, 0, 0, 0}, {255, 255, 255, 255}}

	var buf bytes.Buffer
	require.NoError(t, EncodePLY(&buf, m))
	assert.True(t, strings.HasPrefix(buf.String(), "ply\nformat binary_little_endian 1.0\n"))

	got, err := DecodePLY(&buf)
	require.NoError(t, err)
	assert.Equal(t, m.Positions, got.Positions)
	assert.Equal(t, m.Normals, got.Normals)
	assert.Equal(t, m.Colors, got.Colors)
	assert.Equal(t, m.Indices, got.Indices)
}

const asciiPLY = `ply
format ascii 1.0
comment exported by trimesh
element vertex 4
property float x
property float y
property float z
property uchar red
property uchar green
property uchar blue
element face 1
property list uchar int vertex_indices
element edge 1
property int vertex1
property int vertex2
end_header
0 0 0 255 0 0
1 0 0 255 0 0
1 1 0 255 0 0
0 1 0 255 0 0
4 0 1 2 3
0 1
`

func TestDecodePLY_ASCIIQuad(t *testing.T) {
	got, err := DecodePLY(strings.NewReader(asciiPLY))
	require.NoError(t, err)

	assert.Equal(t, 4, got.VertexCount())
	assert.Equal(t, []uint32{0, 1, 2, 0, 2, 3}, got.Indices)
	assert.Nil(t, got.Normals)
	assert.Equal(t, [4]uint8{255, 0, 0, 255}, got.Colors[0])
}

const triangleHeader = "ply\nformat ascii 1.0\n" +
	"element vertex 3\nproperty float x\nproperty float y\nproperty float z\n" +
	"element face 1\nproperty list uchar int vertex_indices\nend_header\n" +
	"0 0 0\n1 0 0\n0 1 0\n"

func TestDecodePLY_Errors(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		format bool
	}{
		{name: "missing magic", input: "solid x\n"},
		{name: "big endian", input: "ply\nformat binary_big_endian 1.0\nend_header\n"},
		{name: "unterminated header", input: "ply\nformat ascii 1.0\nelement vertex 1\n"},
		{name: "truncated body", input: "ply\nformat ascii 1.0\nelement vertex 2\nproperty float x\nproperty float y\nproperty float z\nend_header\n0 0 0\n"},
		{name: "unknown type", input: "ply\nformat binary_little_endian 1.0\nelement vertex 1\nproperty half x\nend_header\n\x00\x00"},
		{name: "negative list count", input: triangleHeader + "-1 0 1 2\n", format: true},
		{name: "fractional list count", input: triangleHeader + "2.5 0 1 2\n", format: true},
		{name: "nan list count", input: triangleHeader + "nan 0 1 2\n", format: true},
		{name: "list count over uchar", input: triangleHeader + "300 0 1 2\n", format: true},
		{name: "float list count type", input: strings.Replace(triangleHeader, "list uchar", "list float", 1) + "3 0 1 2\n", format: true},
		{name: "negative vertex index", input: triangleHeader + "3 0 -1 2\n", format: true},
		{name: "fractional vertex index", input: triangleHeader + "3 0 1.5 2\n", format: true},
		{name: "not a number", input: triangleHeader + "3 0 one 2\n", format: true},
		{name: "huge element count", input: "ply\nformat ascii 1.0\nelement vertex 4000000000\nproperty float x\nend_header\n0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePLY(strings.NewReader(tt.input))
			assert.Error(t, err)
			if tt.format {
				assert.ErrorIs(t, err, ErrPLYFormat)
			}
		})
	}
}
