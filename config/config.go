// Package config loads img2mesh settings.
//
// 优先级: 默认值 → YAML 文件 → 环境变量（IMG2MESH_*）→ 命令行参数
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("img2mesh.yaml").
//	    Load()
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaos-io/img2mesh/depth"
	"github.com/chaos-io/img2mesh/pipeline"
	"github.com/chaos-io/img2mesh/rembg"
	"github.com/chaos-io/img2mesh/shape"
)

type Config struct {
	// 输出根目录，下面会建 removal/ 和 mesh/
	OutputDir string `yaml:"output_dir" env:"OUTPUT_DIR"`
	// glb / gltf / stl
	Format string `yaml:"format" env:"FORMAT"`
	// auto / cuda / cpu
	Device string `yaml:"device" env:"DEVICE"`

	HTTP      HTTPConfig      `yaml:"http" env:"HTTP"`
	Remover   RemoverConfig   `yaml:"remover" env:"REMOVER"`
	Generator GeneratorConfig `yaml:"generator" env:"GENERATOR"`
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Batch     BatchConfig     `yaml:"batch" env:"BATCH"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
}

type HTTPConfig struct {
	// 单次请求的整体超时，模型推理要留足时间
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

type RemoverConfig struct {
	Backend  string         `yaml:"backend" env:"BACKEND"`
	BiRefNet BiRefNetConfig `yaml:"birefnet" env:"BIREFNET"`
	ComfyUI  ComfyUIConfig  `yaml:"comfyui" env:"COMFYUI"`
}

type BiRefNetConfig struct {
	BaseURL string        `yaml:"base_url" env:"BASE_URL"`
	Model   string        `yaml:"model" env:"MODEL"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

type ComfyUIConfig struct {
	BaseURL      string        `yaml:"base_url" env:"BASE_URL"`
	WorkflowPath string        `yaml:"workflow_path" env:"WORKFLOW_PATH"`
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	Timeout      time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

type GeneratorConfig struct {
	Backend   string          `yaml:"backend" env:"BACKEND"`
	Hunyuan3D Hunyuan3DConfig `yaml:"hunyuan3d" env:"HUNYUAN3D"`
	Relief    ReliefConfig    `yaml:"relief" env:"RELIEF"`
}

type Hunyuan3DConfig struct {
	BaseURL           string        `yaml:"base_url" env:"BASE_URL"`
	ModelPath         string        `yaml:"model_path" env:"MODEL_PATH"`
	Subfolder         string        `yaml:"subfolder" env:"SUBFOLDER"`
	Seed              int           `yaml:"seed" env:"SEED"`
	OctreeResolution  int           `yaml:"octree_resolution" env:"OCTREE_RESOLUTION"`
	NumInferenceSteps int           `yaml:"num_inference_steps" env:"NUM_INFERENCE_STEPS"`
	GuidanceScale     float64       `yaml:"guidance_scale" env:"GUIDANCE_SCALE"`
	NumChunks         int           `yaml:"num_chunks" env:"NUM_CHUNKS"`
	FaceCount         int           `yaml:"face_count" env:"FACE_COUNT"`
	PollInterval      time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	Timeout           time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

type ReliefConfig struct {
	ModelWidth     float64 `yaml:"model_width" env:"MODEL_WIDTH"`
	ModelThickness float64 `yaml:"model_thickness" env:"MODEL_THICKNESS"`
	BaseThickness  float64 `yaml:"base_thickness" env:"BASE_THICKNESS"`
	DetailLevel    float64 `yaml:"detail_level" env:"DETAIL_LEVEL"`
	Levels         int     `yaml:"levels" env:"LEVELS"`
	Invert         bool    `yaml:"invert" env:"INVERT"`
	Simplify       float64 `yaml:"simplify" env:"SIMPLIFY"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
	// 上传图片大小上限（MB）
	MaxUploadMB int `yaml:"max_upload_mb" env:"MAX_UPLOAD_MB"`
}

type BatchConfig struct {
	// cron 表达式，例如 "@every 10m"；为空只跑一次
	Schedule string `yaml:"schedule" env:"SCHEDULE"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

func DefaultConfig() *Config {
	hy := shape.DefaultHunyuan3DConfig()
	relief := shape.DefaultReliefConfig()
	return &Config{
		OutputDir: "outputs",
		Format:    pipeline.FormatGLB,
		Device:    pipeline.DeviceAuto,
		HTTP:      HTTPConfig{Timeout: 10 * time.Minute},
		Remover: RemoverConfig{
			Backend: rembg.BackendBiRefNet,
			BiRefNet: BiRefNetConfig{
				BaseURL: "http://127.0.0.1:7000",
				Model:   rembg.BiRefNetModel,
				Timeout: 5 * time.Minute,
			},
			ComfyUI: ComfyUIConfig{
				BaseURL:      "http://127.0.0.1:8188",
				PollInterval: time.Second,
				Timeout:      5 * time.Minute,
			},
		},
		Generator: GeneratorConfig{
			Backend: shape.BackendHunyuan3D,
			Hunyuan3D: Hunyuan3DConfig{
				BaseURL:           hy.BaseURL,
				ModelPath:         hy.ModelPath,
				Subfolder:         hy.Subfolder,
				Seed:              hy.Seed,
				OctreeResolution:  hy.OctreeResolution,
				NumInferenceSteps: hy.NumInferenceSteps,
				GuidanceScale:     hy.GuidanceScale,
				NumChunks:         hy.NumChunks,
				FaceCount:         hy.FaceCount,
				PollInterval:      hy.PollInterval,
				Timeout:           hy.Timeout,
			},
			Relief: ReliefConfig{
				ModelWidth:     relief.ModelWidth,
				ModelThickness: relief.ModelThickness,
				BaseThickness:  relief.BaseThickness,
				DetailLevel:    relief.Depth.DetailLevel,
				Levels:         relief.Depth.Levels,
				Invert:         relief.Depth.Invert,
				Simplify:       relief.Simplify,
			},
		},
		Server: ServerConfig{Addr: ":8080", MaxUploadMB: 32},
		Log:    LogConfig{Level: "info", Format: "console"},
	}
}

// Validate 检查枚举字段
func (c *Config) Validate() error {
	var errs []error
	switch c.Format {
	case pipeline.FormatGLB, pipeline.FormatGLTF, pipeline.FormatSTL:
	default:
		errs = append(errs, fmt.Errorf("unknown format %q", c.Format))
	}
	switch c.Device {
	case pipeline.DeviceAuto, pipeline.DeviceCUDA, pipeline.DeviceCPU:
	default:
		errs = append(errs, fmt.Errorf("unknown device %q", c.Device))
	}
	switch c.Remover.Backend {
	case rembg.BackendBiRefNet, rembg.BackendComfyUI, rembg.BackendNone:
	default:
		errs = append(errs, fmt.Errorf("unknown remover backend %q", c.Remover.Backend))
	}
	switch c.Generator.Backend {
	case shape.BackendHunyuan3D, shape.BackendRelief:
	default:
		errs = append(errs, fmt.Errorf("unknown generator backend %q", c.Generator.Backend))
	}
	if c.OutputDir == "" {
		errs = append(errs, errors.New("output dir is empty"))
	}
	errs = append(errs, c.Generator.Relief.validate()...)
	return errors.Join(errs...)
}

func (r ReliefConfig) validate() []error {
	var errs []error
	if r.Levels < 0 || r.Levels > 255 {
		errs = append(errs, fmt.Errorf("relief levels %d out of range 0..255", r.Levels))
	}
	if !(r.DetailLevel > 0) {
		errs = append(errs, fmt.Errorf("relief detail level must be positive, got %v", r.DetailLevel))
	}
	if !(r.ModelWidth > 0) {
		errs = append(errs, fmt.Errorf("relief model width must be positive, got %v", r.ModelWidth))
	}
	if r.ModelThickness < 0 || r.BaseThickness < 0 {
		errs = append(errs, errors.New("relief thickness must not be negative"))
	}
	if r.Simplify < 0 || r.Simplify > 1 {
		errs = append(errs, fmt.Errorf("relief simplify %v out of range 0..1", r.Simplify))
	}
	return errs
}

func (c *Config) BiRefNet() rembg.BiRefNetConfig {
	b := c.Remover.BiRefNet
	return rembg.BiRefNetConfig{BaseURL: b.BaseURL, Model: b.Model, Timeout: b.Timeout}
}

func (c *Config) ComfyUI() rembg.ComfyUIConfig {
	cu := c.Remover.ComfyUI
	return rembg.ComfyUIConfig{
		BaseURL:      cu.BaseURL,
		WorkflowPath: cu.WorkflowPath,
		PollInterval: cu.PollInterval,
		Timeout:      cu.Timeout,
	}
}

// Hunyuan3D 转成 shape 的配置；设备由 pipeline 运行时解析后经 context 传入
func (c *Config) Hunyuan3D() shape.Hunyuan3DConfig {
	h := c.Generator.Hunyuan3D
	return shape.Hunyuan3DConfig{
		BaseURL:           h.BaseURL,
		ModelPath:         h.ModelPath,
		Subfolder:         h.Subfolder,
		Seed:              h.Seed,
		OctreeResolution:  h.OctreeResolution,
		NumInferenceSteps: h.NumInferenceSteps,
		GuidanceScale:     h.GuidanceScale,
		NumChunks:         h.NumChunks,
		FaceCount:         h.FaceCount,
		PollInterval:      h.PollInterval,
		Timeout:           h.Timeout,
	}
}

func (c *Config) Relief() shape.ReliefConfig {
	r := c.Generator.Relief
	return shape.ReliefConfig{
		ModelWidth:     r.ModelWidth,
		ModelThickness: r.ModelThickness,
		BaseThickness:  r.BaseThickness,
		Depth: depth.Options{
			DetailLevel: r.DetailLevel,
			Levels:      r.Levels,
			Invert:      r.Invert,
		},
		Simplify: r.Simplify,
	}
}

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
}

func NewLoader() *Loader {
	return &Loader{envPrefix: "IMG2MESH"}
}

func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load 加载配置，不做校验（命令行参数还会覆盖）
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		data, err := os.ReadFile(l.configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}
	return cfg, nil
}

// setFieldsFromEnv 递归设置结构体字段
func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("set %s: %w", envKey, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(strings.TrimSpace(value))
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}
