package rembg

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chaos-io/img2mesh/util"
	nhttp "github.com/chaos-io/img2mesh/util/http"
)

const BiRefNetModel = "birefnet-general"

type BiRefNetConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// BiRefNet calls a rembg HTTP server, asks for the segmentation mask only
// and applies it locally at the source resolution.
type BiRefNet struct {
	cfg    BiRefNetConfig
	cli    nhttp.IClient
	logger *zap.Logger
}

func NewBiRefNet(cfg BiRefNetConfig, cli nhttp.IClient, logger *zap.Logger) *BiRefNet {
	if cfg.Model == "" {
		cfg.Model = BiRefNetModel
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &BiRefNet{cfg: cfg, cli: cli, logger: logger}
}

/*
	curl -X POST "$BASE_URL/api/remove" \
	  -F "file=@my_image.png" \
	  -F "model=birefnet-general" \
	  -F "om=true"
*/
func (b *BiRefNet) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	body, contentType, err := multipartImage("file", "image.png", img, map[string]string{
		"model": b.cfg.Model,
		"om":    "true",
	})
	if err != nil {
		return nil, err
	}

	var data []byte
	err = b.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: b.cfg.BaseURL + "/api/remove",
		Method:     http.MethodPost,
		Header:     map[string]string{"Content-Type": contentType},
		Body:       body,
		Response:   &data,
		Timeout:    b.cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("birefnet remove: %w", err)
	}

	mask, err := util.DecodeImage(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("birefnet mask: %w", err)
	}
	b.logger.Debug("got mask", zap.Stringer("size", mask.Bounds().Size()), zap.String("model", b.cfg.Model))

	return PutAlpha(img, mask)
}

// multipartImage 把图片编码为 PNG 放进表单，附带其他字段
func multipartImage(field, filename string, img image.Image, fields map[string]string) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if err := png.Encode(part, img); err != nil {
		return nil, "", fmt.Errorf("encode png: %w", err)
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}
