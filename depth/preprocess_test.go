package depth

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cutout 返回透明背景上的一个不透明矩形主体
func cutout(w, h int, subject image.Rectangle) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := subject.Min.Y; y < subject.Max.Y; y++ {
		for x := subject.Min.X; x < subject.Max.X; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	return img
}

func TestPreprocessor_Preprocess(t *testing.T) {
	p := NewPreprocessor()
	got, err := p.Preprocess(cutout(200, 100, image.Rect(20, 30, 60, 50)))
	require.NoError(t, err)

	// 40x20 的主体 → 40x40 的正方形
	assert.Equal(t, image.Rect(0, 0, 40, 40), got.Bounds())
	assert.Equal(t, color.NRGBA{R: 200, G: 100, B: 50, A: 255}, got.NRGBAAt(20, 20))
	// 主体上下是透明黑底
	assert.Equal(t, color.NRGBA{}, got.NRGBAAt(20, 2))
}

func TestPreprocessor_ResizesLargeInput(t *testing.T) {
	p := NewPreprocessor()
	p.MaxSize = 100
	got, err := p.Preprocess(cutout(400, 200, image.Rect(0, 0, 400, 200)))
	require.NoError(t, err)
	assert.Equal(t, 100, got.Bounds().Dx())
}

func TestPreprocessor_OpaqueImageKeepsWholeFrame(t *testing.T) {
	img := cutout(30, 10, image.Rect(0, 0, 30, 10))
	got, err := NewPreprocessor().Preprocess(img)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 30, 30), got.Bounds())
}

func TestPreprocessor_NoForeground(t *testing.T) {
	img := cutout(30, 30, image.Rect(0, 0, 30, 30))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 100
	}
	_, err := NewPreprocessor().Preprocess(img)
	assert.ErrorIs(t, err, ErrNoForeground)
}

func TestPremultiply(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, G: 128, B: 0, A: 127})
	premultiply(img)
	assert.Equal(t, color.NRGBA{R: 127, G: 63, B: 0, A: 127}, img.NRGBAAt(0, 0))
}
