package auth

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// siteContextKey 上下文中缓存的租户键
type siteContextKey struct{}

// WithSite 在上下文中缓存已解析的租户
func WithSite(ctx context.Context, site string) context.Context {
	return context.WithValue(ctx, siteContextKey{}, site)
}

// SiteFromContext 读取上下文中缓存的租户
func SiteFromContext(ctx context.Context) string {
	site, _ := ctx.Value(siteContextKey{}).(string)
	return site
}

// Resolver 租户解析器
//
// 从握手上下文推导租户标识，优先级依次为：上下文缓存、
// 租户提示 Header、回环 Host 的默认租户、Origin 主机名、
// 租户根路径段、Host 主机名兜底。
type Resolver struct {
	DefaultSite string // 回环地址使用的默认租户
	HintHeader  string // 租户提示 Header 名
	AppPrefix   string // 应用命名空间前缀
}

// Resolve 解析租户标识
func (r *Resolver) Resolve(req *http.Request, nsPath string) string {
	if site := SiteFromContext(req.Context()); site != "" {
		return site
	}

	if hint := req.Header.Get(r.HintHeader); hint != "" {
		return hostname(hint)
	}

	if r.DefaultSite != "" && isLoopback(hostname(req.Host)) {
		return r.DefaultSite
	}

	if origin := req.Header.Get("Origin"); origin != "" {
		if host := originHostname(origin); host != "" {
			return host
		}
	}

	if tenant, ok := rootTenant(nsPath, r.AppPrefix); ok {
		return tenant
	}

	return hostname(req.Host)
}

// rootTenant 提取租户根形式路径（/{tenant}）的租户段
func rootTenant(nsPath, appPrefix string) (string, bool) {
	trimmed := strings.Trim(nsPath, "/")
	if trimmed == "" || strings.Contains(trimmed, "/") {
		return "", false
	}
	// 应用前缀本身不是租户
	if trimmed == appPrefix {
		return "", false
	}
	return trimmed, true
}

// appTenant 提取应用形式路径（/{prefix}/{tenant}）的租户段
func appTenant(nsPath, appPrefix string) (string, bool) {
	trimmed := strings.Trim(nsPath, "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] != appPrefix || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// hostname 剥离端口并归一化主机名
func hostname(hostport string) string {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	return strings.ToLower(strings.TrimSpace(host))
}

// originHostname 提取 Origin 的主机名（剥离协议与端口）
func originHostname(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// isLoopback 判断是否为回环地址别名
func isLoopback(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
