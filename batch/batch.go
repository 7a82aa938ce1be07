// Package batch converts every image in a directory, once or on a cron
// schedule.
package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/chaos-io/img2mesh/pipeline"
)

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".webp": true,
	".bmp": true, ".gif": true, ".tif": true, ".tiff": true,
}

type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

type Config struct {
	InputDir  string
	OutputDir string
	Format    string
}

type Summary struct {
	Converted int
	Skipped   int
	Failed    int
}

type Batch struct {
	cfg    Config
	runner Runner
	logger *zap.Logger
	now    func() time.Time
	// 防止 cron 触发时上一轮还没跑完
	mu sync.Mutex
}

func New(cfg Config, runner Runner, logger *zap.Logger) *Batch {
	return &Batch{cfg: cfg, runner: runner, logger: logger, now: time.Now}
}

// RunOnce converts every image of InputDir whose mesh for today does not
// exist yet. Failures are logged and counted, they do not stop the scan.
func (b *Batch) RunOnce(ctx context.Context) (Summary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var sum Summary
	files, err := b.images()
	if err != nil {
		return sum, err
	}

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		label := pipeline.SanitizeLabel(name)
		if label == "" {
			b.logger.Warn("no usable label in file name, skipped", zap.String("file", path))
			sum.Skipped++
			continue
		}

		target := pipeline.NewPaths(b.cfg.OutputDir, label, b.cfg.Format, b.now()).Mesh
		if _, err := os.Stat(target); err == nil {
			sum.Skipped++
			continue
		}

		_, err := b.runner.Run(ctx, pipeline.Request{
			ImagePath: path,
			Label:     label,
			OutputDir: b.cfg.OutputDir,
			Format:    b.cfg.Format,
		})
		if err != nil {
			b.logger.Error("convert failed", zap.String("file", path), zap.Error(err))
			sum.Failed++
			continue
		}
		sum.Converted++
	}

	b.logger.Info("batch finished",
		zap.String("dir", b.cfg.InputDir),
		zap.Int("converted", sum.Converted),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed))
	return sum, nil
}

func (b *Batch) images() ([]string, error) {
	entries, err := os.ReadDir(b.cfg.InputDir)
	if err != nil {
		return nil, fmt.Errorf("read input dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(b.cfg.InputDir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// Schedule runs RunOnce immediately and then on every tick of spec until
// ctx is done.
func (b *Batch) Schedule(ctx context.Context, spec string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(spec, func() {
		if _, err := b.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Error("scheduled batch failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	if _, err := b.RunOnce(ctx); err != nil {
		return err
	}

	c.Start()
	b.logger.Info("batch scheduled", zap.String("schedule", spec))
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
