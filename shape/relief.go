package shape

import (
	"context"
	"fmt"
	"image"

	"github.com/chaos-io/img2mesh/depth"
	"github.com/chaos-io/img2mesh/mesh"
)

type ReliefConfig struct {
	ModelWidth     float64
	ModelThickness float64
	BaseThickness  float64
	Depth          depth.Options
	Simplify       float64
}

func DefaultReliefConfig() ReliefConfig {
	return ReliefConfig{
		ModelWidth:     50,
		ModelThickness: 5,
		BaseThickness:  2,
		Depth:          depth.DefaultOptions(),
	}
}

// Relief builds a height-field relief from the cut-out without any model
// service. Transparent pixels end up on the base plane.
type Relief struct {
	cfg        ReliefConfig
	preprocess *depth.Preprocessor
}

func NewRelief(cfg ReliefConfig) *Relief {
	return &Relief{cfg: cfg, preprocess: depth.NewPreprocessor()}
}

func (r *Relief) Load(context.Context) error { return nil }

func (r *Relief) Generate(ctx context.Context, img image.Image) (*mesh.Mesh, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	square, err := r.preprocess.Preprocess(img)
	if err != nil {
		return nil, fmt.Errorf("preprocess: %w", err)
	}

	depthMap := depth.GenerateDepthMap(square, r.cfg.Depth)
	m, err := mesh.FromHeightField(depthMap, r.cfg.ModelWidth, r.cfg.ModelThickness, r.cfg.BaseThickness)
	if err != nil {
		return nil, err
	}
	if r.cfg.Simplify > 0 && r.cfg.Simplify < 1 {
		m = m.Simplify(r.cfg.Simplify)
	}
	m.ComputeNormals()
	return m, nil
}
