package shape

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chaos-io/img2mesh/mesh"
	nhttp "github.com/chaos-io/img2mesh/util/http"
)

var ErrGenerationFailed = errors.New("shape generation failed")

type Hunyuan3DConfig struct {
	BaseURL   string
	ModelPath string
	Subfolder string
	Device    string

	Seed              int
	OctreeResolution  int
	NumInferenceSteps int
	GuidanceScale     float64
	NumChunks         int
	FaceCount         int

	PollInterval time.Duration
	Timeout      time.Duration
}

func DefaultHunyuan3DConfig() Hunyuan3DConfig {
	return Hunyuan3DConfig{
		BaseURL:           "http://127.0.0.1:8081",
		ModelPath:         "tencent/Hunyuan3D-2.1",
		Subfolder:         "hunyuan3d-dit-v2-1",
		Device:            "cuda",
		Seed:              1234,
		OctreeResolution:  256,
		NumInferenceSteps: 5,
		GuidanceScale:     5.0,
		NumChunks:         8000,
		FaceCount:         40000,
		PollInterval:      2 * time.Second,
		Timeout:           15 * time.Minute,
	}
}

// Hunyuan3D drives the Hunyuan3D API server: the job is submitted with
// /send and polled on /status/{uid} until the GLB comes back.
type Hunyuan3D struct {
	cfg    Hunyuan3DConfig
	cli    nhttp.IClient
	logger *zap.Logger
}

func NewHunyuan3D(cfg Hunyuan3DConfig, cli nhttp.IClient, logger *zap.Logger) *Hunyuan3D {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Hunyuan3D{cfg: cfg, cli: cli, logger: logger}
}

type healthResp struct {
	Status   string `json:"status"`
	WorkerID string `json:"worker_id"`
}

func (h *Hunyuan3D) Load(ctx context.Context) error {
	resp := &healthResp{}
	err := h.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: h.cfg.BaseURL + "/health",
		Method:     http.MethodGet,
		Response:   resp,
		Timeout:    30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("hunyuan3d health: %w", err)
	}
	if resp.Status != "" && resp.Status != "healthy" {
		return fmt.Errorf("hunyuan3d not ready: status %q", resp.Status)
	}
	h.logger.Info("Hunyuan3D model loaded",
		zap.String("model", h.cfg.ModelPath),
		zap.String("subfolder", h.cfg.Subfolder),
		zap.String("device", h.device(ctx)),
		zap.String("worker", resp.WorkerID))
	return nil
}

// device 优先取 pipeline 解析后放进 context 的设备
func (h *Hunyuan3D) device(ctx context.Context) string {
	if d, ok := DeviceFromContext(ctx); ok {
		return d
	}
	return h.cfg.Device
}

type generateReq struct {
	Image             string  `json:"image"`
	RemoveBackground  bool    `json:"remove_background"`
	Texture           bool    `json:"texture"`
	Seed              int     `json:"seed"`
	OctreeResolution  int     `json:"octree_resolution"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	GuidanceScale     float64 `json:"guidance_scale"`
	NumChunks         int     `json:"num_chunks"`
	FaceCount         int     `json:"face_count"`
	Type              string  `json:"type"`
	Device            string  `json:"device,omitempty"`
}

type sendResp struct {
	UID string `json:"uid"`
}

type statusResp struct {
	Status      string `json:"status"`
	ModelBase64 string `json:"model_base64"`
	Message     string `json:"message"`
}

func (h *Hunyuan3D) Generate(ctx context.Context, img image.Image) (*mesh.Mesh, error) {
	if h.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.Timeout)
		defer cancel()
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}

	req := &generateReq{
		Image:             base64.StdEncoding.EncodeToString(buf.Bytes()),
		RemoveBackground:  false,
		Texture:           false,
		Seed:              h.cfg.Seed,
		OctreeResolution:  h.cfg.OctreeResolution,
		NumInferenceSteps: h.cfg.NumInferenceSteps,
		GuidanceScale:     h.cfg.GuidanceScale,
		NumChunks:         h.cfg.NumChunks,
		FaceCount:         h.cfg.FaceCount,
		Type:              "glb",
		Device:            h.device(ctx),
	}

	send := &sendResp{}
	err := h.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: h.cfg.BaseURL + "/send",
		Method:     http.MethodPost,
		Body:       req,
		Response:   send,
	})
	if err != nil {
		return nil, fmt.Errorf("hunyuan3d send: %w", err)
	}
	if send.UID == "" {
		return nil, fmt.Errorf("%w: empty uid", ErrGenerationFailed)
	}
	h.logger.Debug("generation queued", zap.String("uid", send.UID))

	glb, err := h.waitModel(ctx, send.UID)
	if err != nil {
		return nil, err
	}

	m, err := mesh.DecodeGLTF(bytes.NewReader(glb))
	if err != nil {
		return nil, fmt.Errorf("hunyuan3d model: %w", err)
	}
	h.logger.Debug("mesh decoded", zap.Int("vertices", m.VertexCount()), zap.Int("faces", m.FaceCount()))
	return m, nil
}

func (h *Hunyuan3D) waitModel(ctx context.Context, uid string) ([]byte, error) {
	ticker := time.NewTicker(h.cfg.PollInterval)
	defer ticker.Stop()

	for {
		status := &statusResp{}
		err := h.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
			RequestURI: h.cfg.BaseURL + "/status/" + url.PathEscape(uid),
			Method:     http.MethodGet,
			Response:   status,
		})
		if err != nil {
			return nil, fmt.Errorf("hunyuan3d status: %w", err)
		}

		switch status.Status {
		case "completed":
			glb, err := base64.StdEncoding.DecodeString(status.ModelBase64)
			if err != nil {
				return nil, fmt.Errorf("decode model_base64: %w", err)
			}
			return glb, nil
		case "error":
			return nil, fmt.Errorf("%w: %s", ErrGenerationFailed, status.Message)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
