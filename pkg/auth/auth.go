// Package auth 实现连接准入认证。
//
// 每次握手独立执行：解析租户、校验路径与租户一致性、校验
// Origin 与 Host、解析 Bearer 凭证，最后向外部身份协作方发起
// 带超时的校验请求。任一步失败均以类型化错误拒绝握手，连接
// 不会进入任何业务处理。
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/tide/pkg/logger"
)

// Config 认证配置
type Config struct {
	DefaultSite   string        // 回环地址的默认租户
	HintHeader    string        // 租户提示 Header 名
	AppPrefix     string        // 应用命名空间前缀
	EnforceOrigin bool          // 是否校验 Origin 与 Host 一致
	VerifyTimeout time.Duration // 身份校验超时
}

// setDefaults 设置默认值
func (c *Config) setDefaults() {
	if c.HintHeader == "" {
		c.HintHeader = "X-Tide-Site"
	}
	if c.AppPrefix == "" {
		c.AppPrefix = "app"
	}
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = 10 * time.Second
	}
}

// Authenticator 连接准入认证器
type Authenticator struct {
	config   *Config
	resolver *Resolver
	verifier IdentityVerifier
	log      logger.Logger
}

// New 创建认证器
func New(config *Config, verifier IdentityVerifier, log logger.Logger) *Authenticator {
	if config == nil {
		config = &Config{}
	}
	config.setDefaults()
	if log == nil {
		log = logger.Nop()
	}

	return &Authenticator{
		config: config,
		resolver: &Resolver{
			DefaultSite: config.DefaultSite,
			HintHeader:  config.HintHeader,
			AppPrefix:   config.AppPrefix,
		},
		verifier: verifier,
		log:      log,
	}
}

// Authenticate 执行准入认证
//
// nsPath 为归一化后的拨号路径。成功时返回附着到连接的身份，
// 失败时返回 *Error。身份校验调用是唯一的挂起点，受
// VerifyTimeout 约束。
func (a *Authenticator) Authenticate(ctx context.Context, req *http.Request, nsPath string) (*Identity, error) {
	site := a.resolver.Resolve(req, nsPath)

	// 路径与租户一致性：应用形式路径以路径中的租户段为准，
	// 其余路径必须与解析出的租户完全一致（"/" 为命名空间默认拨号）
	if tenant, ok := appTenant(nsPath, a.config.AppPrefix); ok {
		site = tenant
	} else if nsPath != "/" && strings.Trim(nsPath, "/") != site {
		return nil, errNamespaceMismatch("namespace " + nsPath + " does not match site " + site)
	}

	if a.config.EnforceOrigin {
		if err := a.checkOrigin(req); err != nil {
			return nil, err
		}
	}

	token, err := parseBearer(req.Header.Get("Authorization"))
	if err != nil {
		return nil, err
	}

	vctx, cancel := context.WithTimeout(ctx, a.config.VerifyTimeout)
	defer cancel()

	identity, err := a.verifier.Verify(vctx, site, token)
	if err != nil {
		a.log.Warn("identity verification failed",
			zap.String("site", site),
			zap.String("namespace", nsPath),
			zap.Error(err),
		)
		return nil, errAuthentication("identity verification failed", err)
	}
	identity.Site = site

	return identity, nil
}

// checkOrigin 校验 Origin 与 Host 主机名一致
func (a *Authenticator) checkOrigin(req *http.Request) error {
	origin := req.Header.Get("Origin")
	if origin == "" {
		return errOriginMismatch("missing Origin header")
	}

	originHost := originHostname(origin)
	hostHost := hostname(req.Host)
	if originHost != hostHost {
		return errOriginMismatch("origin host " + originHost + " does not match " + hostHost)
	}
	return nil
}

// parseBearer 解析 Authorization Header 的 Bearer 凭证
func parseBearer(value string) (string, error) {
	if value == "" {
		return "", errAuthentication("missing Authorization header", nil)
	}

	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errAuthentication("malformed Authorization header", nil)
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errAuthentication("malformed Authorization header", nil)
	}
	return token, nil
}
