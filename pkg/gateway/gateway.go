package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tokmz/tide/pkg/auth"
	"github.com/tokmz/tide/pkg/logger"
)

// Authenticator 准入闸门
//
// 在连接升级前执行，失败则握手被拒绝，连接不会进入任何处理器。
type Authenticator interface {
	Authenticate(ctx context.Context, req *http.Request, nsPath string) (*auth.Identity, error)
}

// Gateway 网关核心
//
// 持有命名空间注册表并驱动连接生命周期。
type Gateway struct {
	config        *Config
	log           logger.Logger
	authenticator Authenticator
	upgrader      websocket.Upgrader
	router        *Router

	namespaces sync.Map // path -> *Namespace
	count      atomic.Int64

	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	closed       atomic.Bool
	shutdownOnce sync.Once
}

// New 创建网关
func New(authenticator Authenticator, log logger.Logger, opts ...Option) (*Gateway, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if authenticator == nil {
		return nil, errors.New("gateway: authenticator is required")
	}
	if log == nil {
		log = logger.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	g := &Gateway{
		config:        config,
		log:           log,
		authenticator: authenticator,
		router:        NewRouter(),
		ctx:           ctx,
		cancel:        cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   config.ReadBufferSize,
			WriteBufferSize:  config.WriteBufferSize,
			HandshakeTimeout: config.HandshakeTimeout,
			// Origin 策略在升级前由认证器执行，此处放行
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	g.registerHandlers()

	return g, nil
}

// Handler 返回 gin 处理函数
//
// 网关占用整棵路径树（两套地址空间都是动态路径），因此挂在
// NoRoute 上，与静态路由（如 /healthz）互不干扰。
func (g *Gateway) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		g.HandleUpgrade(c.Writer, c.Request)
	}
}

// HandleUpgrade 处理一次握手
func (g *Gateway) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	if g.closed.Load() {
		http.Error(w, ErrGatewayClosed.Error(), http.StatusServiceUnavailable)
		return
	}
	if int(g.count.Load()) >= g.config.MaxConnections {
		http.Error(w, ErrTooManyConnections.Error(), http.StatusServiceUnavailable)
		return
	}

	nsPath := normalizePath(r.URL.Path)
	space := "site"
	if g.isAppPath(nsPath) {
		space = "app"
	}

	identity, err := g.authenticator.Authenticate(r.Context(), r, nsPath)
	if err != nil {
		status := http.StatusUnauthorized
		var aerr *auth.Error
		if errors.As(err, &aerr) {
			status = aerr.HTTPStatus()
		}
		g.log.Info("handshake rejected",
			zap.String("namespace", nsPath),
			zap.String("space", space),
			zap.Int("status", status),
			zap.Error(err),
		)
		http.Error(w, err.Error(), status)
		return
	}

	// 命名空间默认拨号归一化到租户根
	target := nsPath
	if target == "/" {
		target = "/" + identity.Site
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("websocket upgrade failed",
			zap.String("namespace", target),
			zap.Error(err),
		)
		return
	}

	ns := g.Namespace(target)
	conn := newConn(g, ns, identity, ws)
	ns.add(conn)
	g.count.Add(1)

	// 用户定向房间：后端可经 user:{user} 房间直达该用户
	ns.join(conn, "user:"+identity.User)

	g.log.Info("connection admitted",
		zap.String("conn_id", conn.ID),
		zap.String("namespace", target),
		zap.String("space", space),
		zap.String("site", identity.Site),
		zap.String("user", identity.User),
	)

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		conn.run()
	}()
}

// Namespace 按路径获取或惰性创建命名空间
func (g *Gateway) Namespace(path string) *Namespace {
	path = normalizePath(path)
	value, _ := g.namespaces.LoadOrStore(path, newNamespace(path))
	return value.(*Namespace)
}

// Broadcast 向命名空间广播事件
//
// room 为空时投递给命名空间内全部连接。目标不存在或无连接时
// 静默返回，从不报错。
func (g *Gateway) Broadcast(path, event string, payload any, room string) error {
	data, err := encodeEvent(event, payload)
	if err != nil {
		return err
	}

	g.Namespace(path).broadcast(data, room, nil)
	return nil
}

// Count 当前连接总数
func (g *Gateway) Count() int {
	return int(g.count.Load())
}

// Shutdown 优雅关闭
//
// 停止接受新连接并关闭全部已有连接。可重复调用，仅首次生效。
func (g *Gateway) Shutdown(ctx context.Context) error {
	var err error
	g.shutdownOnce.Do(func() {
		g.closed.Store(true)
		g.cancel()

		// 并发关闭所有连接
		var closeWg sync.WaitGroup
		g.namespaces.Range(func(_, value any) bool {
			ns, ok := value.(*Namespace)
			if !ok {
				return true
			}
			ns.conns.Range(func(_, cv any) bool {
				c, ok := cv.(*Conn)
				if !ok {
					return true
				}
				closeWg.Add(1)
				go func(c *Conn) {
					defer closeWg.Done()
					c.close("gateway shutdown")
				}(c)
				return true
			})
			return true
		})

		clientsDone := make(chan struct{})
		go func() {
			closeWg.Wait()
			close(clientsDone)
		}()

		select {
		case <-clientsDone:
		case <-ctx.Done():
		}

		// 等待读写协程结束
		done := make(chan struct{})
		go func() {
			g.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}

// isAppPath 判断应用形式路径（/{prefix}/{tenant}）
func (g *Gateway) isAppPath(nsPath string) bool {
	trimmed := strings.Trim(nsPath, "/")
	parts := strings.Split(trimmed, "/")
	return len(parts) == 2 && parts[0] == g.config.AppPrefix && parts[1] != ""
}

// normalizePath 归一化命名空间路径
func normalizePath(path string) string {
	path = strings.TrimRight(path, "/")
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}
