package mesh

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	modelWidth, modelThickness, baseThickness float64 = 30, 2, 1
)

func TestFromHeightField(t *testing.T) {
	w, h := 5, 4
	depthMap := image.NewGray(image.Rect(0, 0, w, h))
	depthMap.SetGray(2, 1, color.Gray{Y: 255})

	m, err := FromHeightField(depthMap, modelWidth, modelThickness, baseThickness)
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	assert.Equal(t, 2*w*h, m.VertexCount())
	assert.Equal(t, 4*(w-1)*(h-1)+4*(w-1)+4*(h-1), m.FaceCount())

	lo, hi := m.Bounds()
	assert.InDelta(t, -baseThickness, lo[2], 1e-6)
	assert.InDelta(t, modelThickness, hi[2], 1e-6)
	assert.InDelta(t, modelWidth/float64(w)*float64(w-1), hi[0], 1e-4)

	// 像素 (2,1) 对应的顶点被抬到最高
	assert.InDelta(t, modelThickness, m.Positions[1*w+2][2], 1e-6)
}

func TestFromHeightField_TooSmall(t *testing.T) {
	_, err := FromHeightField(image.NewGray(image.Rect(0, 0, 1, 10)), modelWidth, modelThickness, baseThickness)
	assert.Error(t, err)
}
