package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Identity 身份校验结果
type Identity struct {
	Site          string   // 解析出的租户
	User          string   // 用户标识
	UserType      string   // 用户类型
	InstalledApps []string // 已安装能力列表
}

// IdentityVerifier 外部身份校验协作方
type IdentityVerifier interface {
	// Verify 以 token 为凭证向租户主机发起身份校验
	Verify(ctx context.Context, site, token string) (*Identity, error)
}

// HTTPVerifier 基于 HTTP 的身份校验客户端
type HTTPVerifier struct {
	client  *http.Client
	scheme  string // http/https
	path    string // 校验接口路径
	tracing bool
}

// HTTPVerifierOption 校验客户端选项
type HTTPVerifierOption func(*HTTPVerifier)

// WithHTTPClient 设置底层 HTTP 客户端
func WithHTTPClient(client *http.Client) HTTPVerifierOption {
	return func(v *HTTPVerifier) {
		v.client = client
	}
}

// WithTracing 启用请求追踪
func WithTracing(enable bool) HTTPVerifierOption {
	return func(v *HTTPVerifier) {
		v.tracing = enable
	}
}

// NewHTTPVerifier 创建身份校验客户端
func NewHTTPVerifier(scheme, path string, opts ...HTTPVerifierOption) *HTTPVerifier {
	v := &HTTPVerifier{
		client: &http.Client{Timeout: 30 * time.Second},
		scheme: scheme,
		path:   path,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// identityResponse 校验接口响应体
type identityResponse struct {
	Message struct {
		User          string   `json:"user"`
		UserType      string   `json:"user_type"`
		InstalledApps []string `json:"installed_apps"`
	} `json:"message"`
}

// Verify 执行身份校验请求
func (v *HTTPVerifier) Verify(ctx context.Context, site, token string) (*Identity, error) {
	url := v.scheme + "://" + site + v.path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	var span trace.Span
	if v.tracing {
		tracer := otel.Tracer("tide.auth")
		var sctx context.Context
		sctx, span = tracer.Start(ctx, "identity.verify",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("http.method", http.MethodGet),
				attribute.String("http.url", url),
				attribute.String("tide.site", site),
			),
		)
		req = req.WithContext(sctx)
		defer span.End()
	}

	resp, err := v.client.Do(req)
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, fmt.Errorf("auth: verify request: %w", err)
	}
	defer resp.Body.Close()

	if span != nil {
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if span != nil {
			span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
		}
		return nil, fmt.Errorf("auth: verify returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("auth: read verify response: %w", err)
	}

	var parsed identityResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("auth: decode verify response: %w", err)
	}
	if parsed.Message.User == "" {
		return nil, fmt.Errorf("auth: verify response missing user")
	}

	return &Identity{
		Site:          site,
		User:          parsed.Message.User,
		UserType:      parsed.Message.UserType,
		InstalledApps: parsed.Message.InstalledApps,
	}, nil
}
