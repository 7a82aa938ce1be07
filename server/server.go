// Package server exposes the conversion pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/chaos-io/img2mesh/pipeline"
)

// Runner runs one conversion.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

type Config struct {
	Addr        string
	OutputDir   string
	Format      string
	MaxUploadMB int
}

type Server struct {
	cfg    Config
	runner Runner
	logger *zap.Logger
	engine *gin.Engine
}

func New(cfg Config, runner Runner, logger *zap.Logger) *Server {
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 32
	}
	s := &Server{cfg: cfg, runner: runner, logger: logger}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.accessLog())
	engine.MaxMultipartMemory = int64(cfg.MaxUploadMB) << 20

	engine.GET("/healthz", s.health)
	v1 := engine.Group("/v1")
	v1.POST("/meshes", s.createMesh)
	v1.GET("/files/*path", s.getFile)

	s.engine = engine
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type meshResponse struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Removal  string `json:"removal"`
	Mesh     string `json:"mesh"`
	Vertices int    `json:"vertices"`
	Faces    int    `json:"faces"`
}

// 表单里除图片外其他字段的余量
const formSlack = 1 << 20

func (s *Server) createMesh(c *gin.Context) {
	limit := int64(s.cfg.MaxUploadMB)<<20 + formSlack
	if c.Request.ContentLength > limit {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	if err := c.Request.ParseMultipartForm(s.engine.MaxMultipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}

	label := c.PostForm("label")
	if err := pipeline.ValidateLabel(label); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	format := c.DefaultPostForm("format", s.cfg.Format)
	switch format {
	case pipeline.FormatGLB, pipeline.FormatGLTF, pipeline.FormatSTL:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported format " + format})
		return
	}

	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing image file"})
		return
	}
	if file.Size > int64(s.cfg.MaxUploadMB)<<20 {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
		return
	}

	id := ksuid.New().String()
	uploadDir := filepath.Join(s.cfg.OutputDir, "uploads")
	if err := os.MkdirAll(uploadDir, os.ModePerm); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	uploadPath := filepath.Join(uploadDir, id+strings.ToLower(filepath.Ext(file.Filename)))
	if err := c.SaveUploadedFile(file, uploadPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer func() {
		_ = os.Remove(uploadPath)
	}()

	res, err := s.runner.Run(c.Request.Context(), pipeline.Request{
		ImagePath: uploadPath,
		Label:     label,
		OutputDir: s.cfg.OutputDir,
		Format:    format,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"id": id, "error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, meshResponse{
		ID:       id,
		Label:    label,
		Removal:  s.fileURL(res.RemovalPath),
		Mesh:     s.fileURL(res.MeshPath),
		Vertices: res.Vertices,
		Faces:    res.Faces,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrInvalidLabel), errors.Is(err, pipeline.ErrLoadImage):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrLoadModel),
		errors.Is(err, pipeline.ErrRemoveBackground),
		errors.Is(err, pipeline.ErrGenerateMesh):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fileURL(path string) string {
	rel, err := filepath.Rel(s.cfg.OutputDir, path)
	if err != nil {
		return ""
	}
	return "/v1/files/" + filepath.ToSlash(rel)
}

// getFile 只允许下载 removal/ 和 mesh/ 下的产物
func (s *Server) getFile(c *gin.Context) {
	rel := filepath.Clean("/" + c.Param("path"))
	rel = strings.TrimPrefix(filepath.ToSlash(rel), "/")
	dir, _, _ := strings.Cut(rel, "/")
	if dir != "removal" && dir != "mesh" {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	path := filepath.Join(s.cfg.OutputDir, filepath.FromSlash(rel))
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.FileAttachment(path, filepath.Base(path))
}
