// Package shape turns a background-removed image into a 3D mesh.
package shape

import (
	"context"
	"image"

	"github.com/chaos-io/img2mesh/mesh"
)

const (
	BackendHunyuan3D = "hunyuan3d"
	BackendRelief    = "relief"
)

// Generator is a loaded image-to-3D pipeline.
type Generator interface {
	// Load makes sure the model is ready to serve; it is called once before
	// the first Generate.
	Load(ctx context.Context) error
	Generate(ctx context.Context, img image.Image) (*mesh.Mesh, error)
}
