package depth

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

type Options struct {
	// XY 分辨率（影响面数），最长边约为 320*DetailLevel
	DetailLevel float64
	// Z 台阶数（影响高度层次），<=0 不量化
	Levels int
	// 亮处变低
	Invert bool
}

func DefaultOptions() Options {
	return Options{DetailLevel: 1, Levels: 36}
}

const base = 320.0

// GenerateDepthMap 生成深度图：线性灰度 + 缩放 + 轻度高斯模糊 + S 曲线 + Z 量化
func GenerateDepthMap(img image.Image, opts Options) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	// ---------- XY 分辨率：温和降级 ----------
	size := math.Max(1, base*opts.DetailLevel)
	ratio := math.Min(size/float64(w), size/float64(h))
	nw, nh := max(1, int(float64(w)*ratio)), max(1, int(float64(h)*ratio))

	// ---------- 线性灰度 ----------
	gray := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(x+b.Min.X, y+b.Min.Y).RGBA()
			gray.Pix[y*gray.Stride+x] = uint8((299*r + 587*g + 114*bl) / 1000 >> 8)
		}
	}

	// ---------- 缩放 ----------
	resized := image.NewGray(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(resized, resized.Bounds(), gray, gray.Bounds(), draw.Src, nil)

	// ---------- 轻度高斯模糊（仅消噪，边缘像素保持原值） ----------
	blur := image.NewGray(resized.Bounds())
	copy(blur.Pix, resized.Pix)
	k := [3][3]int{
		{1, 2, 1},
		{2, 4, 2},
		{1, 2, 1},
	}
	for y := 1; y < nh-1; y++ {
		for x := 1; x < nw-1; x++ {
			sum := 0
			for ky := -1; ky <= 1; ky++ {
				for kx := -1; kx <= 1; kx++ {
					sum += int(resized.Pix[(y+ky)*resized.Stride+x+kx]) * k[ky+1][kx+1]
				}
			}
			blur.Pix[y*blur.Stride+x] = uint8(sum >> 4)
		}
	}

	// ---------- 轻 S 曲线（保形体） ----------
	var lut [256]uint8
	for i := 0; i < 256; i++ {
		x := float64(i) / 255.0
		y := x * x * (3 - 2*x) // smoothstep
		lut[i] = uint8(y*255 + 0.5)
	}

	// ---------- Z 量化 ----------
	// Levels == 1 时 step 为 256，整张图压平到 0
	step := 1
	if opts.Levels > 0 && opts.Levels < 256 {
		step = 256 / opts.Levels
	}

	out := image.NewGray(blur.Bounds())
	for i, v := range blur.Pix {
		q := uint8(int(lut[v]) / step * step)
		if opts.Invert {
			q = 255 - q
		}
		out.Pix[i] = q
	}

	return out
}
