package mesh

import (
	"fmt"
	"image"
)

// FromHeightField turns a depth map into a closed relief solid: a top
// surface displaced by pixel intensity, a flat base at -baseThickness and
// four side walls joining them. modelWidth is the X extent of the result.
func FromHeightField(depthMap *image.Gray, modelWidth, modelThickness, baseThickness float64) (*Mesh, error) {
	b := depthMap.Bounds()
	width, height := b.Dx(), b.Dy()
	if width < 2 || height < 2 {
		return nil, fmt.Errorf("depth map %dx%d is too small", width, height)
	}
	pixelSize := modelWidth / float64(width)

	m := &Mesh{
		Name:      "relief_model",
		Positions: make([][3]float32, 0, 2*width*height),
	}

	// 顶面顶点
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			z := float64(depthMap.GrayAt(b.Min.X+x, b.Min.Y+y).Y) / 255.0 * modelThickness
			m.Positions = append(m.Positions, [3]float32{
				float32(float64(x) * pixelSize),
				float32(float64(height-y-1) * pixelSize),
				float32(z),
			})
		}
	}
	// 底面顶点 (Z = -baseThickness)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			m.Positions = append(m.Positions, [3]float32{
				float32(float64(x) * pixelSize),
				float32(float64(height-y-1) * pixelSize),
				float32(-baseThickness),
			})
		}
	}

	top := func(x, y int) uint32 { return uint32(y*width + x) }
	bottom := func(x, y int) uint32 { return uint32(width*height + y*width + x) }
	tri := func(a, b, c uint32) { m.Indices = append(m.Indices, a, b, c) }

	for y := 0; y < height-1; y++ {
		for x := 0; x < width-1; x++ {
			tri(top(x, y), top(x+1, y), top(x, y+1))
			tri(top(x+1, y), top(x+1, y+1), top(x, y+1))

			tri(bottom(x, y), bottom(x+1, y+1), bottom(x, y+1))
			tri(bottom(x, y), bottom(x+1, y), bottom(x+1, y+1))
		}
	}

	// 前后边缘
	last := height - 1
	for x := 0; x < width-1; x++ {
		tri(bottom(x, last), bottom(x+1, last), top(x, last))
		tri(bottom(x+1, last), top(x+1, last), top(x, last))

		tri(bottom(x, 0), top(x, 0), bottom(x+1, 0))
		tri(bottom(x+1, 0), top(x, 0), top(x+1, 0))
	}

	// 左右边缘
	right := width - 1
	for y := 0; y < height-1; y++ {
		tri(bottom(0, y), top(0, y), bottom(0, y+1))
		tri(bottom(0, y+1), top(0, y), top(0, y+1))

		tri(bottom(right, y), bottom(right, y+1), top(right, y))
		tri(bottom(right, y+1), top(right, y+1), top(right, y))
	}

	return m, nil
}
