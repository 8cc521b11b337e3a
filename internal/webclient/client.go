// Package webclient 提供远程错误日志使用的 HTTP 能力抽象及其 net/http 实现。
// 适配器每次调用都通过 Factory 获取一个新的 Client，先设置请求头，再发起一次 GET 或 POST。
package webclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/oriys/relog/internal/telemetry"
)

// 请求头名称
const (
	HeaderContentType = "Content-Type"
	HeaderRequestID   = "X-Request-ID"
	HeaderUserAgent   = "User-Agent"
)

// DefaultTimeout 是 HTTPFactory 未指定超时时使用的请求超时。
const DefaultTimeout = 60 * time.Second

// DefaultUserAgent 是默认的 User-Agent。
const DefaultUserAgent = "relog/1.0"

// Client 是一次调用使用的 HTTP 客户端。
// Header 返回的请求头会随后续的 Get/Post 一起发送。
type Client interface {
	// Header 返回可修改的请求头集合
	Header() http.Header
	// Get 发起 GET 请求并返回响应体
	Get(ctx context.Context, uri string) (string, error)
	// Post 以 data 为请求体发起 POST 请求并返回响应体
	Post(ctx context.Context, uri string, data string) (string, error)
}

// Factory 创建 Client。每次调用 Create 都返回一个拥有独立请求头的新实例。
type Factory interface {
	Create() Client
}

// StatusError 表示远程服务返回了 4xx/5xx 状态码。
type StatusError struct {
	Method     string
	URI        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s %s: http %d", e.Method, e.URI, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: http %d: %s", e.Method, e.URI, e.StatusCode, body)
}

// Options 是 HTTPFactory 的可选配置。
type Options struct {
	// Timeout 请求超时，0 表示使用 DefaultTimeout
	Timeout time.Duration
	// Transport 基础传输层，nil 表示 http.DefaultTransport；始终会包一层追踪传输层
	Transport http.RoundTripper
	// UserAgent 请求的 User-Agent，空表示 DefaultUserAgent
	UserAgent string
	// Logger 调试日志，nil 表示 logrus 标准 logger
	Logger *logrus.Logger
}

// HTTPFactory 是基于 net/http 的 Factory 实现。
// 所有 Client 共享同一个 *http.Client（及其连接池），可以并发使用。
type HTTPFactory struct {
	httpClient *http.Client
	userAgent  string
	logger     *logrus.Logger
}

// NewFactory 创建 HTTPFactory。
func NewFactory(opts Options) *HTTPFactory {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &HTTPFactory{
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: telemetry.HTTPClientTransport(opts.Transport),
		},
		userAgent: opts.UserAgent,
		logger:    opts.Logger,
	}
}

// Create 创建一个新的 Client。
func (f *HTTPFactory) Create() Client {
	return &httpClient{
		factory: f,
		header:  make(http.Header),
	}
}

type httpClient struct {
	factory *HTTPFactory
	header  http.Header
}

func (c *httpClient) Header() http.Header {
	return c.header
}

func (c *httpClient) Get(ctx context.Context, uri string) (string, error) {
	return c.do(ctx, http.MethodGet, uri, nil)
}

func (c *httpClient) Post(ctx context.Context, uri string, data string) (string, error) {
	return c.do(ctx, http.MethodPost, uri, strings.NewReader(data))
}

// do 是内部通用请求方法，负责：
// - 复制调用方设置的请求头，补充 User-Agent 与 X-Request-ID
// - 发起 HTTP 请求并读取响应体
// - 将 4xx/5xx 转换为 *StatusError
func (c *httpClient) do(ctx context.Context, method, uri string, body io.Reader) (string, error) {
	req, err := http.NewRequestWithContext(ctx, method, uri, body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get(HeaderUserAgent) == "" {
		req.Header.Set(HeaderUserAgent, c.factory.userAgent)
	}
	if req.Header.Get(HeaderRequestID) == "" {
		req.Header.Set(HeaderRequestID, uuid.New().String())
	}

	start := time.Now()
	resp, err := c.factory.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	c.factory.logger.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"uri":         uri,
		"status":      resp.StatusCode,
		"request_id":  req.Header.Get(HeaderRequestID),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("HTTP request completed")

	if resp.StatusCode >= 400 {
		return "", &StatusError{
			Method:     method,
			URI:        uri,
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
	}
	return string(respBody), nil
}
