package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func TestNewHTTPClient(t *testing.T) {
	t.Parallel()

	httpClient, ok := NewHTTPClient().(*HTTPClient)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, httpClient.client.Timeout)

	httpClient, ok = NewHTTPClientWithTimeout(10 * time.Minute).(*HTTPClient)
	require.True(t, ok)
	assert.Equal(t, 10*time.Minute, httpClient.client.Timeout)
}

func multipartBody(t *testing.T) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "image.png")
	require.NoError(t, err)
	_, _ = part.Write(pngMagic)
	require.NoError(t, writer.WriteField("model", "birefnet-general"))
	require.NoError(t, writer.WriteField("om", "true"))
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

type sendResult struct {
	UID string `json:"uid"`
}

func TestHTTPClient_DoHTTPRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		requestParam func(t *testing.T) *RequestParam
		handler      func(t *testing.T) http.HandlerFunc
		path         string
		wantErrMsg   string
		check        func(t *testing.T, p *RequestParam)
	}{
		{
			name: "multipart 上传抠图，原始字节响应",
			path: "/api/remove",
			requestParam: func(t *testing.T) *RequestParam {
				body, contentType := multipartBody(t)
				return &RequestParam{
					Method:   http.MethodPost,
					Header:   map[string]string{"Content-Type": contentType},
					Body:     body,
					Response: &[]byte{},
				}
			},
			handler: func(t *testing.T) http.HandlerFunc {
				return func(w http.ResponseWriter, r *http.Request) {
					assert.Equal(t, http.MethodPost, r.Method)
					if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
						return
					}
					assert.Equal(t, "birefnet-general", r.FormValue("model"))
					assert.Equal(t, "true", r.FormValue("om"))
					file, header, err := r.FormFile("file")
					if !assert.NoError(t, err) {
						return
					}
					defer file.Close()
					assert.Equal(t, "image.png", header.Filename)

					w.Header().Set("Content-Type", "image/png")
					_, _ = w.Write(pngMagic)
				}
			},
			check: func(t *testing.T, p *RequestParam) {
				assert.Equal(t, pngMagic, *p.Response.(*[]byte))
			},
		},
		{
			name: "结构体 body 自动 JSON 编码",
			path: "/send",
			requestParam: func(*testing.T) *RequestParam {
				return &RequestParam{
					Method:   http.MethodPost,
					Body:     map[string]interface{}{"type": "glb", "octree_resolution": 256},
					Response: &sendResult{},
				}
			},
			handler: func(t *testing.T) http.HandlerFunc {
				return func(w http.ResponseWriter, r *http.Request) {
					assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
					var req map[string]interface{}
					assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
					assert.Equal(t, "glb", req["type"])
					assert.EqualValues(t, 256, req["octree_resolution"])
					_, _ = w.Write([]byte(`{"uid": "job-1"}`))
				}
			},
			check: func(t *testing.T, p *RequestParam) {
				assert.Equal(t, "job-1", p.Response.(*sendResult).UID)
			},
		},
		{
			name: "查询参数合并进 URL",
			path: "/api/view?type=output",
			requestParam: func(*testing.T) *RequestParam {
				return &RequestParam{
					Query: url.Values{
						"filename":  {"ComfyUI 00001_.png"},
						"subfolder": {""},
					},
					Response: &bytes.Buffer{},
				}
			},
			handler: func(t *testing.T) http.HandlerFunc {
				return func(w http.ResponseWriter, r *http.Request) {
					assert.Equal(t, http.MethodGet, r.Method)
					q := r.URL.Query()
					assert.Equal(t, "ComfyUI 00001_.png", q.Get("filename"))
					assert.Equal(t, "output", q.Get("type"))
					assert.Contains(t, q, "subfolder")
					_, _ = w.Write(pngMagic)
				}
			},
			check: func(t *testing.T, p *RequestParam) {
				assert.Equal(t, pngMagic, p.Response.(*bytes.Buffer).Bytes())
			},
		},
		{
			name: "空响应体不解码",
			path: "/api/history/abc",
			requestParam: func(*testing.T) *RequestParam {
				return &RequestParam{Response: &map[string]interface{}{}}
			},
			handler: func(*testing.T) http.HandlerFunc {
				return func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusOK)
				}
			},
			check: func(t *testing.T, p *RequestParam) {
				assert.Empty(t, *p.Response.(*map[string]interface{}))
			},
		},
		{
			name: "单次请求超时",
			path: "/status/job-1",
			requestParam: func(*testing.T) *RequestParam {
				return &RequestParam{Timeout: 50 * time.Millisecond}
			},
			handler: func(*testing.T) http.HandlerFunc {
				return func(w http.ResponseWriter, r *http.Request) {
					select {
					case <-r.Context().Done():
					case <-time.After(2 * time.Second):
					}
				}
			},
			wantErrMsg: "context deadline exceeded",
		},
		{
			name: "服务器返回错误状态码",
			path: "/api/remove",
			requestParam: func(*testing.T) *RequestParam {
				return &RequestParam{Method: http.MethodPost, Body: "x"}
			},
			handler: func(*testing.T) http.HandlerFunc {
				return func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusServiceUnavailable)
					_, _ = w.Write([]byte(`{"detail": "model loading"}`))
				}
			},
			wantErrMsg: `status 503: {"detail": "model loading"}`,
		},
		{
			name: "JSON响应解析失败",
			path: "/health",
			requestParam: func(*testing.T) *RequestParam {
				return &RequestParam{Response: &sendResult{}}
			},
			handler: func(*testing.T) http.HandlerFunc {
				return func(w http.ResponseWriter, r *http.Request) {
					_, _ = w.Write([]byte("<html>"))
				}
			},
			wantErrMsg: "unmarshal response",
		},
		{
			name: "JSON序列化失败",
			requestParam: func(*testing.T) *RequestParam {
				return &RequestParam{Method: http.MethodPost, Body: make(chan int)}
			},
			wantErrMsg: "encode body",
		},
		{
			name: "无效的URL",
			requestParam: func(*testing.T) *RequestParam {
				return &RequestParam{RequestURI: "://bad"}
			},
			wantErrMsg: "parse uri",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			param := tt.requestParam(t)
			if tt.handler != nil {
				server := httptest.NewServer(tt.handler(t))
				defer server.Close()
				param.RequestURI = server.URL + tt.path
			}

			err := NewHTTPClient().DoHTTPRequest(context.Background(), param)
			if tt.wantErrMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErrMsg)
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, param)
			}
		})
	}
}

func TestHTTPClient_DoHTTPRequest_NilParam(t *testing.T) {
	t.Parallel()

	err := NewHTTPClient().DoHTTPRequest(context.Background(), nil)
	assert.EqualError(t, err, "request param is nil")
}

func TestHTTPClient_DoHTTPRequest_ContextCancellation(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := NewHTTPClient().DoHTTPRequest(ctx, &RequestParam{RequestURI: server.URL})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPClient_DoHTTPRequest_TruncatesErrorBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(strings.Repeat("x", 4096)))
	}))
	defer server.Close()

	err := NewHTTPClient().DoHTTPRequest(context.Background(), &RequestParam{RequestURI: server.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.Less(t, len(err.Error()), 1024)
}

func TestHTTPClient_DoHTTPRequest_StreamsReaderBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Equal(t, pngMagic, data)
		assert.Empty(t, r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	err := NewHTTPClient().DoHTTPRequest(context.Background(), &RequestParam{
		Method:     http.MethodPut,
		RequestURI: server.URL,
		Body:       bytes.NewReader(pngMagic),
	})
	assert.NoError(t, err)
}
