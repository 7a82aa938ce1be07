package main

import (
	"fmt"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/chaos-io/img2mesh/config"
	"github.com/chaos-io/img2mesh/pipeline"
	"github.com/chaos-io/img2mesh/rembg"
	"github.com/chaos-io/img2mesh/shape"
	"github.com/chaos-io/img2mesh/util"
	nhttp "github.com/chaos-io/img2mesh/util/http"
)

type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	pipeline *pipeline.Pipeline
}

func (a *app) close() {
	_ = a.logger.Sync()
}

// setup 读取配置、初始化日志并组装 pipeline
func setup(cmd *cli.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger, err := util.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	p, err := buildPipeline(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, pipeline: p}, nil
}

// loadConfig 默认值 → YAML → 环境变量 → 命令行
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.NewLoader().WithConfigPath(cmd.String("config")).Load()
	if err != nil {
		return nil, err
	}

	overrides := []struct {
		flag   string
		target *string
	}{
		{"output-dir", &cfg.OutputDir},
		{"format", &cfg.Format},
		{"remover", &cfg.Remover.Backend},
		{"generator", &cfg.Generator.Backend},
		{"device", &cfg.Device},
		{"log-level", &cfg.Log.Level},
		{"log-format", &cfg.Log.Format},
	}
	for _, o := range overrides {
		if cmd.IsSet(o.flag) {
			*o.target = cmd.String(o.flag)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func buildPipeline(cfg *config.Config, logger *zap.Logger) (*pipeline.Pipeline, error) {
	httpClient := nhttp.NewHTTPClientWithTimeout(cfg.HTTP.Timeout)

	var remover rembg.Remover
	switch cfg.Remover.Backend {
	case rembg.BackendBiRefNet:
		remover = rembg.NewBiRefNet(cfg.BiRefNet(), httpClient, logger.Named("birefnet"))
	case rembg.BackendComfyUI:
		remover = rembg.NewComfyUI(cfg.ComfyUI(), httpClient, logger.Named("comfyui"))
	case rembg.BackendNone:
		remover = rembg.NewNone()
	default:
		return nil, fmt.Errorf("unknown remover backend %q", cfg.Remover.Backend)
	}

	var generator shape.Generator
	switch cfg.Generator.Backend {
	case shape.BackendHunyuan3D:
		generator = shape.NewHunyuan3D(cfg.Hunyuan3D(), httpClient, logger.Named("hunyuan3d"))
	case shape.BackendRelief:
		generator = shape.NewRelief(cfg.Relief())
	default:
		return nil, fmt.Errorf("unknown generator backend %q", cfg.Generator.Backend)
	}

	logger.Debug("pipeline assembled",
		zap.String("remover", cfg.Remover.Backend),
		zap.String("generator", cfg.Generator.Backend))
	return pipeline.New(remover, generator, httpClient, logger, pipeline.WithDevice(cfg.Device)), nil
}
