package depth

import (
	"errors"
	"image"

	"github.com/chaos-io/img2mesh/util"
)

var ErrNoForeground = errors.New("no foreground detected")

type Preprocessor struct {
	// 最长边上限
	MaxSize int
	// alpha > AlphaThreshold*255 的像素视为主体
	AlphaThreshold float64
}

func NewPreprocessor() *Preprocessor {
	return &Preprocessor{
		MaxSize:        1024,
		AlphaThreshold: 0.8,
	}
}

// Preprocess 把去背景后的图片变成
//
//	尺寸 ≤ MaxSize
//	主体被裁成正方形并居中
//	输出为黑底、已乘 alpha（premultiplied alpha）
//
// 没有透明信息的图片整张视为主体
func (p *Preprocessor) Preprocess(input image.Image) (*image.NRGBA, error) {
	src := util.ToNRGBA(input)
	hasAlpha := hasUsefulAlpha(src)

	// 1. 缩放（最长边 <= MaxSize）
	src = resizeWithinMax(src, p.MaxSize)

	// 2. Alpha Bounding Box
	bbox := src.Bounds()
	if hasAlpha {
		var err error
		bbox, err = alphaBBox(src, p.AlphaThreshold)
		if err != nil {
			return nil, err
		}
	}

	// 3. 正方形中心裁剪
	output := cropSquare(src, bbox)

	// 4. 预乘 Alpha
	premultiply(output)

	return output, nil
}

// alphaBBox 从 alpha 通道计算主体 bounding box
// 把 alpha > threshold * 255 的像素当作“主体”，找所有主体像素的坐标
func alphaBBox(img *image.NRGBA, threshold float64) (image.Rectangle, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	th := uint8(threshold * 255)

	minX, minY := w, h
	maxX, maxY := 0, 0
	found := false

	for y := 0; y < h; y++ {
		row := y * img.Stride
		for x := 0; x < w; x++ {
			if img.Pix[row+x*4+3] <= th {
				continue
			}
			found = true
			minX = min(minX, x)
			minY = min(minY, y)
			maxX = max(maxX, x)
			maxY = max(maxY, y)
		}
	}

	if !found {
		return image.Rectangle{}, ErrNoForeground
	}

	return image.Rect(minX, minY, maxX+1, maxY+1).Add(b.Min), nil
}

// premultiply 预乘 Alpha，RGB × alpha
// 例如：红色半透明 (1,0,0,0.5) → (0.5,0,0)，背景自然变黑
func premultiply(img *image.NRGBA) {
	for i := 0; i < len(img.Pix); i += 4 {
		a := float64(img.Pix[i+3]) / 255.0
		img.Pix[i] = uint8(float64(img.Pix[i]) * a)
		img.Pix[i+1] = uint8(float64(img.Pix[i+1]) * a)
		img.Pix[i+2] = uint8(float64(img.Pix[i+2]) * a)
	}
}
