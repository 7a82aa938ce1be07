// Package rembg strips image backgrounds through an external segmentation
// service and returns the subject as an alpha cut-out.
package rembg

import (
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/chaos-io/img2mesh/util"
)

const (
	BackendBiRefNet = "birefnet"
	BackendComfyUI  = "comfyui"
	BackendNone     = "none"
)

// Remover returns img with the subject mask applied as its alpha channel.
// The result has the same size as img.
type Remover interface {
	Remove(ctx context.Context, img image.Image) (image.Image, error)
}

// None keeps the image as is.
type None struct{}

func NewNone() *None {
	return &None{}
}

func (n *None) Remove(_ context.Context, img image.Image) (image.Image, error) {
	return util.ToNRGBA(img), nil
}

// PutAlpha resizes mask to the size of img and uses it as the alpha channel.
// Masks with transparency contribute their alpha, opaque masks their
// luminance.
func PutAlpha(img, mask image.Image) (*image.NRGBA, error) {
	if mask == nil || mask.Bounds().Empty() {
		return nil, fmt.Errorf("empty mask")
	}
	dst := util.ToRGB(img)
	w, h := dst.Bounds().Dx(), dst.Bounds().Dy()

	m := util.ToNRGBA(mask)
	if m.Bounds().Dx() != w || m.Bounds().Dy() != h {
		m = imaging.Resize(m, w, h, imaging.CatmullRom)
	}
	useAlpha := hasTransparency(m)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*m.Stride + x*4
			a := m.Pix[i+3]
			if !useAlpha {
				r, g, b := uint32(m.Pix[i]), uint32(m.Pix[i+1]), uint32(m.Pix[i+2])
				a = uint8((299*r + 587*g + 114*b + 500) / 1000)
			}
			dst.Pix[y*dst.Stride+x*4+3] = a
		}
	}
	return dst, nil
}

// alphaMask extracts the alpha channel of a cut-out as a grayscale mask.
func alphaMask(img image.Image) *image.Gray {
	src := util.ToNRGBA(img)
	mask := image.NewGray(image.Rect(0, 0, src.Bounds().Dx(), src.Bounds().Dy()))
	for y := 0; y < mask.Rect.Dy(); y++ {
		for x := 0; x < mask.Rect.Dx(); x++ {
			mask.Pix[y*mask.Stride+x] = src.Pix[y*src.Stride+x*4+3]
		}
	}
	return mask
}

func hasTransparency(img *image.NRGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 255 {
			return true
		}
	}
	return false
}
