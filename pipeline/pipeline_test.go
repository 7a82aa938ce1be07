package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chaos-io/img2mesh/mesh"
	"github.com/chaos-io/img2mesh/rembg"
	"github.com/chaos-io/img2mesh/shape"
	"github.com/chaos-io/img2mesh/util"
	nhttp "github.com/chaos-io/img2mesh/util/http"
)

var fixedNow = func() time.Time { return time.Date(2025, 3, 7, 15, 4, 5, 0, time.Local) }

type fakeGenerator struct {
	loadErr     error
	generateErr error
	generated   image.Image
	device      string
}

func (f *fakeGenerator) Load(context.Context) error { return f.loadErr }

func (f *fakeGenerator) Generate(ctx context.Context, img image.Image) (*mesh.Mesh, error) {
	f.generated = img
	f.device, _ = shape.DeviceFromContext(ctx)
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	return &mesh.Mesh{
		Positions: [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		Indices:   []uint32{0, 2, 1, 0, 1, 3, 0, 3, 2, 1, 2, 3},
	}, nil
}

type fakeRemover struct {
	err error
}

// Remove 把左半边当作主体
func (f *fakeRemover) Remove(_ context.Context, img image.Image) (image.Image, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := util.ToNRGBA(img)
	w := out.Bounds().Dx()
	for y := 0; y < out.Bounds().Dy(); y++ {
		for x := w / 2; x < w; x++ {
			out.Pix[y*out.Stride+x*4+3] = 0
		}
	}
	return out, nil
}

func writeInput(t *testing.T) string {
	img := image.NewNRGBA(image.Rect(0, 0, 16, 12))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 250, 200, 120, 255
	}
	path := filepath.Join(t.TempDir(), "cake.jpg")
	require.NoError(t, util.SaveImage(img, path))
	return path
}

func newTestPipeline(r rembg.Remover, g *fakeGenerator) *Pipeline {
	return New(r, g, nhttp.NewHTTPClient(), zap.NewNop(), WithClock(fixedNow))
}

func TestPipeline_Run_GLB(t *testing.T) {
	out := t.TempDir()
	gen := &fakeGenerator{}
	p := newTestPipeline(&fakeRemover{}, gen)

	res, err := p.Run(context.Background(), Request{ImagePath: writeInput(t), Label: "cake", OutputDir: out})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(out, "removal", "20250307_cake_no_bg.png"), res.RemovalPath)
	assert.Equal(t, filepath.Join(out, "mesh", "20250307_cake.glb"), res.MeshPath)
	assert.Equal(t, 4, res.Faces)

	cut, err := util.OpenImage(res.RemovalPath)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 12), cut.Bounds())
	assert.Equal(t, uint8(0), color.NRGBAModel.Convert(cut.At(15, 0)).(color.NRGBA).A)

	// 生成器拿到的是去背景后的图
	_, _, _, a := gen.generated.At(15, 0).RGBA()
	assert.Zero(t, a)

	f, err := os.Open(res.MeshPath)
	require.NoError(t, err)
	defer func() {
		_ = f.Close()
	}()
	m, err := mesh.DecodeGLTF(f)
	require.NoError(t, err)
	assert.Equal(t, "cake", m.Name)
}

func TestPipeline_Run_GLTFRemovesIntermediate(t *testing.T) {
	out := t.TempDir()
	p := newTestPipeline(&fakeRemover{}, &fakeGenerator{})

	res, err := p.Run(context.Background(), Request{ImagePath: writeInput(t), Label: "birthday_2", OutputDir: out, Format: FormatGLTF})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(out, "mesh", "20250307_birthday_2.gltf"), res.MeshPath)
	assert.FileExists(t, res.MeshPath)
	assert.NoFileExists(t, filepath.Join(out, "mesh", "20250307_birthday_2.ply"))

	entries, err := os.ReadDir(filepath.Join(out, "mesh"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPipeline_Run_STL(t *testing.T) {
	out := t.TempDir()
	p := newTestPipeline(rembg.NewNone(), &fakeGenerator{})

	res, err := p.Run(context.Background(), Request{ImagePath: writeInput(t), Label: "cake", OutputDir: out, Format: FormatSTL})
	require.NoError(t, err)

	data, err := os.ReadFile(res.MeshPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "solid cake")
}

func TestPipeline_Run_Failures(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name        string
		label       string
		imagePath   func(t *testing.T) string
		remover     rembg.Remover
		generator   *fakeGenerator
		wantStep    string
		wantErr     error
		wantRemoval bool
	}{
		{
			name:      "invalid label",
			label:     "my cake!",
			imagePath: writeInput,
			remover:   &fakeRemover{},
			generator: &fakeGenerator{},
			wantStep:  StepValidateLabel,
			wantErr:   ErrInvalidLabel,
		},
		{
			name:      "model load",
			label:     "cake",
			imagePath: writeInput,
			remover:   &fakeRemover{},
			generator: &fakeGenerator{loadErr: boom},
			wantStep:  StepLoadModel,
			wantErr:   ErrLoadModel,
		},
		{
			name:      "image load",
			label:     "cake",
			imagePath: func(t *testing.T) string { return filepath.Join(t.TempDir(), "missing.png") },
			remover:   &fakeRemover{},
			generator: &fakeGenerator{},
			wantStep:  StepLoadImage,
			wantErr:   ErrLoadImage,
		},
		{
			name:      "background removal",
			label:     "cake",
			imagePath: writeInput,
			remover:   &fakeRemover{err: boom},
			generator: &fakeGenerator{},
			wantStep:  StepRemoveBackground,
			wantErr:   ErrRemoveBackground,
		},
		{
			name:        "generation",
			label:       "cake",
			imagePath:   writeInput,
			remover:     &fakeRemover{},
			generator:   &fakeGenerator{generateErr: boom},
			wantStep:    StepGenerateMesh,
			wantErr:     ErrGenerateMesh,
			wantRemoval: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := t.TempDir()
			p := newTestPipeline(tt.remover, tt.generator)

			res, err := p.Run(context.Background(), Request{ImagePath: tt.imagePath(t), Label: tt.label, OutputDir: out})
			require.Error(t, err)
			assert.Nil(t, res)

			var stepErr *StepError
			require.ErrorAs(t, err, &stepErr)
			assert.Equal(t, tt.wantStep, stepErr.Step)
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.wantErr != ErrLoadModel {
				assert.NotErrorIs(t, err, ErrLoadModel)
			}

			removal := filepath.Join(out, "removal", "20250307_"+tt.label+"_no_bg.png")
			if tt.wantRemoval {
				assert.FileExists(t, removal)
			} else {
				assert.NoFileExists(t, removal)
			}
			assert.NoFileExists(t, filepath.Join(out, "mesh", "20250307_"+tt.label+".glb"))
		})
	}
}

func TestPipeline_Run_InvalidLabelCreatesNothing(t *testing.T) {
	out := filepath.Join(t.TempDir(), "outputs")
	p := newTestPipeline(&fakeRemover{}, &fakeGenerator{})

	_, err := p.Run(context.Background(), Request{ImagePath: writeInput(t), Label: "a-b", OutputDir: out})
	assert.ErrorIs(t, err, ErrInvalidLabel)
	assert.NoDirExists(t, out)
}

func TestExport_UnknownFormat(t *testing.T) {
	p := NewPaths(t.TempDir(), "cake", "obj", fixedNow())
	m := &mesh.Mesh{Positions: [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}, Indices: []uint32{0, 1, 2}}
	assert.ErrorContains(t, Export(m, p, "obj"), "unsupported format")
}

func TestExport_GLTFFailureRemovesIntermediate(t *testing.T) {
	p := NewPaths(t.TempDir(), "cake", FormatGLTF, fixedNow())
	require.NoError(t, p.Ensure())
	// 目标路径被目录占用，写 gltf 必然失败
	require.NoError(t, os.Mkdir(p.Mesh, 0o755))

	m := &mesh.Mesh{Positions: [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}, Indices: []uint32{0, 1, 2}}
	require.Error(t, Export(m, p, FormatGLTF))
	assert.NoFileExists(t, p.Intermediate)
	assert.DirExists(t, p.Mesh)
}

func TestPipeline_Run_ResolvesDevice(t *testing.T) {
	g := &fakeGenerator{}
	p := New(&fakeRemover{}, g, nhttp.NewHTTPClient(), zap.NewNop(), WithClock(fixedNow), WithDevice(DeviceCPU))

	_, err := p.Run(context.Background(), Request{ImagePath: writeInput(t), Label: "cake", OutputDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, DeviceCPU, g.device)
}

func TestStepError_Is(t *testing.T) {
	boom := errors.New("boom")
	err := fmt.Errorf("run: %w", &StepError{Step: StepSaveMesh, Err: boom})
	assert.ErrorIs(t, err, ErrSaveMesh)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrSaveImage)
}
