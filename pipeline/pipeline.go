// Package pipeline runs the image to mesh conversion: load the image,
// strip its background, generate a mesh and export it, one step at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chaos-io/img2mesh/mesh"
	"github.com/chaos-io/img2mesh/rembg"
	"github.com/chaos-io/img2mesh/shape"
	"github.com/chaos-io/img2mesh/util"
	nhttp "github.com/chaos-io/img2mesh/util/http"
)

const (
	StepValidateLabel    = "validate label"
	StepResolveDevice    = "resolve device"
	StepLoadModel        = "load model"
	StepLoadImage        = "load image"
	StepPrepareOutput    = "prepare output"
	StepRemoveBackground = "remove background"
	StepSaveImage        = "save image"
	StepGenerateMesh     = "generate mesh"
	StepSaveMesh         = "save mesh"
)

var (
	ErrLoadModel        = errors.New("load model failed")
	ErrLoadImage        = errors.New("load image failed")
	ErrPrepareOutput    = errors.New("prepare output failed")
	ErrRemoveBackground = errors.New("remove background failed")
	ErrSaveImage        = errors.New("save image failed")
	ErrGenerateMesh     = errors.New("generate mesh failed")
	ErrSaveMesh         = errors.New("save mesh failed")
)

var stepSentinels = map[string]error{
	StepValidateLabel:    ErrInvalidLabel,
	StepLoadModel:        ErrLoadModel,
	StepLoadImage:        ErrLoadImage,
	StepPrepareOutput:    ErrPrepareOutput,
	StepRemoveBackground: ErrRemoveBackground,
	StepSaveImage:        ErrSaveImage,
	StepGenerateMesh:     ErrGenerateMesh,
	StepSaveMesh:         ErrSaveMesh,
}

// StepError tells which step of a run failed. errors.Is matches it against
// the step's sentinel as well as the underlying cause.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return e.Step + ": " + e.Err.Error() }

func (e *StepError) Unwrap() error { return e.Err }

func (e *StepError) Is(target error) bool {
	sentinel, ok := stepSentinels[e.Step]
	return ok && target == sentinel
}

type Request struct {
	// 本地路径或 http(s) URL
	ImagePath string
	Label     string
	OutputDir string
	Format    string
}

type Result struct {
	RemovalPath string
	MeshPath    string
	Vertices    int
	Faces       int
}

type Pipeline struct {
	remover   rembg.Remover
	generator shape.Generator
	cli       nhttp.IClient
	logger    *zap.Logger
	device    string
	now       func() time.Time
}

type Option func(*Pipeline)

// WithDevice sets the requested device: auto, cuda or cpu.
func WithDevice(device string) Option {
	return func(p *Pipeline) { p.device = device }
}

// WithClock overrides the clock used for the date prefix of file names.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func New(remover rembg.Remover, generator shape.Generator, cli nhttp.IClient, logger *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		remover:   remover,
		generator: generator,
		cli:       cli,
		logger:    logger,
		device:    DeviceAuto,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	log := p.logger.With(zap.String("label", req.Label))
	start := p.now()

	if err := ValidateLabel(req.Label); err != nil {
		return nil, p.fail(log, StepValidateLabel, err)
	}
	if req.Format == "" {
		req.Format = FormatGLB
	}

	device := ResolveDevice(p.device)
	log.Info("using device", zap.String("requested", p.device), zap.String("device", device))
	ctx = shape.WithDevice(ctx, device)

	log.Info("loading image-to-3D model")
	if err := p.generator.Load(ctx); err != nil {
		return nil, p.fail(log, StepLoadModel, err)
	}

	log.Info("loading image", zap.String("image", req.ImagePath))
	img, err := util.LoadImage(ctx, p.cli, req.ImagePath)
	if err != nil {
		return nil, p.fail(log, StepLoadImage, err)
	}
	log.Info("image loaded", zap.Stringer("size", img.Bounds().Size()))

	paths := NewPaths(req.OutputDir, req.Label, req.Format, start)
	if err := paths.Ensure(); err != nil {
		return nil, p.fail(log, StepPrepareOutput, err)
	}

	log.Info("removing background")
	cutout, err := p.remover.Remove(ctx, img)
	if err != nil {
		return nil, p.fail(log, StepRemoveBackground, err)
	}
	log.Info("background removed")

	log.Info("saving image with no background", zap.String("path", paths.Removal))
	if err := util.SaveImage(cutout, paths.Removal); err != nil {
		return nil, p.fail(log, StepSaveImage, err)
	}

	log.Info("generating 3D mesh, this may take a few minutes")
	m, err := p.generator.Generate(ctx, cutout)
	if err != nil {
		return nil, p.fail(log, StepGenerateMesh, err)
	}
	if m.Name == "" {
		m.Name = req.Label
	}
	log.Info("3D mesh generated", zap.Int("vertices", m.VertexCount()), zap.Int("faces", m.FaceCount()))

	log.Info("saving mesh", zap.String("path", paths.Mesh), zap.String("format", req.Format))
	if err := p.export(m, paths, req.Format); err != nil {
		return nil, p.fail(log, StepSaveMesh, err)
	}

	log.Info("success",
		zap.String("removal", paths.Removal),
		zap.String("mesh", paths.Mesh),
		zap.Duration("elapsed", p.now().Sub(start)))

	return &Result{
		RemovalPath: paths.Removal,
		MeshPath:    paths.Mesh,
		Vertices:    m.VertexCount(),
		Faces:       m.FaceCount(),
	}, nil
}

func (p *Pipeline) export(m *mesh.Mesh, paths Paths, format string) error {
	if err := m.Validate(); err != nil {
		return err
	}
	return Export(m, paths, format)
}

func (p *Pipeline) fail(log *zap.Logger, step string, err error) error {
	log.Error(fmt.Sprintf("%s failed", step), zap.Error(err))
	return &StepError{Step: step, Err: err}
}
