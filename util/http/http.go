package http

import (
	"context"
	"net/url"
	"time"
)

//go:generate mockgen -destination=mocks/http.go -package=mocks . IClient
type IClient interface {
	DoHTTPRequest(ctx context.Context, requestParam *RequestParam) error
}

// RequestParam 描述一次 HTTP 调用
//
//	Body: nil / io.Reader / []byte / string 原样发送，其余类型按 JSON 序列化
//	Response: *[]byte 接收原始响应体，io.Writer 直接写入，其余按 JSON 反序列化
type RequestParam struct {
	RequestURI string
	Method     string
	Query      url.Values
	Header     map[string]string
	Body       interface{}
	Response   interface{}

	Timeout time.Duration
}
