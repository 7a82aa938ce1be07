package rembg

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/chaos-io/img2mesh/util"
	nhttp "github.com/chaos-io/img2mesh/util/http"
)

//go:embed workflow.json
var workflowData []byte

var ErrWorkflowFailed = errors.New("comfyui workflow failed")

type ComfyUIConfig struct {
	BaseURL string
	// 自定义 workflow（API 格式），为空使用内置的 BiRefNet workflow
	WorkflowPath string
	PollInterval time.Duration
	Timeout      time.Duration
}

// ComfyUI runs a background removal workflow on a ComfyUI server:
// upload → prompt → poll history → download the saved image.
type ComfyUI struct {
	cfg      ComfyUIConfig
	cli      nhttp.IClient
	logger   *zap.Logger
	clientID string
}

func NewComfyUI(cfg ComfyUIConfig, cli nhttp.IClient, logger *zap.Logger) *ComfyUI {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &ComfyUI{
		cfg:      cfg,
		cli:      cli,
		logger:   logger,
		clientID: ksuid.New().String(),
	}
}

func (c *ComfyUI) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	uploaded, err := c.uploadImage(ctx, img)
	if err != nil {
		return nil, err
	}

	promptID, err := c.prompt(ctx, uploaded.Name)
	if err != nil {
		return nil, err
	}

	output, err := c.waitOutput(ctx, promptID)
	if err != nil {
		return nil, err
	}

	result, err := c.view(ctx, output)
	if err != nil {
		return nil, err
	}

	return PutAlpha(img, alphaMask(result))
}

type uploadImageResp struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

/*
	curl -X POST "$BASE_URL/api/upload/image" \
	  -F "image=@my_image.png" \
	  -F "type=input" \
	  -F "overwrite=true"

{"name": "my_image1.png", "subfolder": "", "type": "input"}
*/
func (c *ComfyUI) uploadImage(ctx context.Context, img image.Image) (*uploadImageResp, error) {
	body, contentType, err := multipartImage("image", ksuid.New().String()+".png", img, map[string]string{
		"type":      "input",
		"overwrite": "true",
	})
	if err != nil {
		return nil, err
	}

	resp := &uploadImageResp{}
	err = c.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: c.cfg.BaseURL + "/api/upload/image",
		Method:     http.MethodPost,
		Header:     map[string]string{"Content-Type": contentType},
		Body:       body,
		Response:   resp,
	})
	if err != nil {
		return nil, fmt.Errorf("upload image: %w", err)
	}
	if resp.Name == "" {
		return nil, errors.New("upload image: empty name in response")
	}

	c.logger.Debug("image uploaded", zap.String("name", resp.Name))
	return resp, nil
}

type promptReq struct {
	Prompt   map[string]any `json:"prompt"`
	ClientID string         `json:"client_id"`
}

type promptResp struct {
	PromptID   string         `json:"prompt_id"`
	Number     int            `json:"number"`
	NodeErrors map[string]any `json:"node_errors"`
}

func (c *ComfyUI) prompt(ctx context.Context, imageName string) (string, error) {
	wk, err := c.workflow(imageName)
	if err != nil {
		return "", err
	}

	resp := &promptResp{}
	err = c.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: c.cfg.BaseURL + "/api/prompt",
		Method:     http.MethodPost,
		Body:       &promptReq{Prompt: wk, ClientID: c.clientID},
		Response:   resp,
	})
	if err != nil {
		return "", fmt.Errorf("queue prompt: %w", err)
	}
	if len(resp.NodeErrors) > 0 {
		return "", fmt.Errorf("%w: node errors %v", ErrWorkflowFailed, resp.NodeErrors)
	}
	if resp.PromptID == "" {
		return "", errors.New("queue prompt: empty prompt_id")
	}

	c.logger.Debug("prompt queued", zap.String("prompt_id", resp.PromptID), zap.Int("number", resp.Number))
	return resp.PromptID, nil
}

// workflow 读取 workflow 并把所有 LoadImage 节点指向上传的图片
func (c *ComfyUI) workflow(imageName string) (map[string]any, error) {
	data := workflowData
	if c.cfg.WorkflowPath != "" {
		var err error
		if data, err = os.ReadFile(c.cfg.WorkflowPath); err != nil {
			return nil, fmt.Errorf("read workflow: %w", err)
		}
	}

	wk := map[string]any{}
	if err := json.Unmarshal(data, &wk); err != nil {
		return nil, fmt.Errorf("unmarshal workflow data: %w", err)
	}

	found := false
	for _, v := range wk {
		node, ok := v.(map[string]any)
		if !ok || node["class_type"] != "LoadImage" {
			continue
		}
		inputs, ok := node["inputs"].(map[string]any)
		if !ok {
			inputs = map[string]any{}
			node["inputs"] = inputs
		}
		inputs["image"] = imageName
		found = true
	}
	if !found {
		return nil, errors.New("workflow has no LoadImage node")
	}
	return wk, nil
}

type outputImage struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

type historyEntry struct {
	Outputs map[string]struct {
		Images []outputImage `json:"images"`
	} `json:"outputs"`
	Status struct {
		StatusStr string `json:"status_str"`
		Completed bool   `json:"completed"`
	} `json:"status"`
}

func (c *ComfyUI) waitOutput(ctx context.Context, promptID string) (*outputImage, error) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		history := map[string]historyEntry{}
		err := c.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
			RequestURI: c.cfg.BaseURL + "/api/history/" + url.PathEscape(promptID),
			Method:     http.MethodGet,
			Response:   &history,
		})
		if err != nil {
			return nil, fmt.Errorf("get history: %w", err)
		}

		if entry, ok := history[promptID]; ok {
			if entry.Status.StatusStr == "error" {
				return nil, fmt.Errorf("%w: prompt %s", ErrWorkflowFailed, promptID)
			}
			for _, out := range entry.Outputs {
				for _, img := range out.Images {
					if img.Type == "output" {
						return &img, nil
					}
				}
			}
			if entry.Status.Completed {
				return nil, fmt.Errorf("%w: prompt %s produced no output image", ErrWorkflowFailed, promptID)
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *ComfyUI) view(ctx context.Context, out *outputImage) (image.Image, error) {
	var data []byte
	err := c.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: c.cfg.BaseURL + "/api/view",
		Method:     http.MethodGet,
		Query: url.Values{
			"filename":  {out.Filename},
			"subfolder": {out.Subfolder},
			"type":      {out.Type},
		},
		Response: &data,
	})
	if err != nil {
		return nil, fmt.Errorf("view output: %w", err)
	}
	return util.DecodeImage(bytes.NewReader(data))
}
