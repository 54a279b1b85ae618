// Package bridge 将消息总线上的后端事件转发给命名空间路由。
//
// 订阅两条独立的逻辑频道：全局频道携带租户后缀，转发到租户根
// 命名空间并无条件补发到对应的应用命名空间；应用频道携带完整
// 命名空间路径，单次转发。单条消息的解析失败只丢弃该消息，
// 不中断任何频道的订阅。
package bridge

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tokmz/tide/pkg/bus"
	"github.com/tokmz/tide/pkg/logger"
)

// Broadcaster 命名空间路由的转发面
type Broadcaster interface {
	Broadcast(path, event string, payload any, room string) error
}

// Config 事件桥配置
type Config struct {
	GlobalChannel string // 全局事件频道
	AppChannel    string // 应用事件频道
	AppPrefix     string // 应用命名空间前缀
}

// setDefaults 设置默认值
func (c *Config) setDefaults() {
	if c.GlobalChannel == "" {
		c.GlobalChannel = "events"
	}
	if c.AppChannel == "" {
		c.AppChannel = "tide_events"
	}
	if c.AppPrefix == "" {
		c.AppPrefix = "app"
	}
}

// Bridge 事件桥
type Bridge struct {
	config    *Config
	sub       bus.Subscriber
	router    Broadcaster
	log       logger.Logger
	closeOnce sync.Once
	closeErr  error
}

// New 创建事件桥
func New(config *Config, sub bus.Subscriber, router Broadcaster, log logger.Logger) *Bridge {
	if config == nil {
		config = &Config{}
	}
	config.setDefaults()
	if log == nil {
		log = logger.Nop()
	}

	return &Bridge{
		config: config,
		sub:    sub,
		router: router,
		log:    log,
	}
}

// Run 订阅两条频道并转发，阻塞直到 ctx 取消
//
// 两条频道拆分到独立队列并发消费，同一频道内的消息保持到达
// 顺序。
func (b *Bridge) Run(ctx context.Context) error {
	msgs, err := b.sub.Subscribe(ctx, b.config.GlobalChannel, b.config.AppChannel)
	if err != nil {
		return err
	}

	global := make(chan []byte, 64)
	app := make(chan []byte, 64)

	eg, ctx := errgroup.WithContext(ctx)

	// 按频道拆分
	eg.Go(func() error {
		defer close(global)
		defer close(app)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case m, ok := <-msgs:
				if !ok {
					return nil
				}
				switch m.Channel {
				case b.config.GlobalChannel:
					select {
					case global <- m.Payload:
					case <-ctx.Done():
						return ctx.Err()
					}
				case b.config.AppChannel:
					select {
					case app <- m.Payload:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
		}
	})

	eg.Go(func() error {
		return b.consume(global, b.handleGlobal)
	})
	eg.Go(func() error {
		return b.consume(app, b.handleApp)
	})

	return eg.Wait()
}

// consume 消费单条频道队列
func (b *Bridge) consume(ch <-chan []byte, handle func([]byte)) error {
	for payload := range ch {
		handle(payload)
	}
	return nil
}

// Close 关闭总线订阅（幂等，重复调用不再触发关闭）
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		b.closeErr = b.sub.Close()
	})
	return b.closeErr
}

// globalEvent 全局频道消息
//
// namespace 字段携带租户后缀（不含前导斜杠）。
type globalEvent struct {
	Namespace string          `json:"namespace"`
	Room      string          `json:"room"`
	Event     string          `json:"event"`
	Message   json.RawMessage `json:"message"`
}

// appEvent 应用频道消息
//
// namespace 缺省时使用应用默认命名空间。
type appEvent struct {
	Namespace string          `json:"namespace"`
	Room      string          `json:"room"`
	Event     string          `json:"event"`
	Message   json.RawMessage `json:"message"`
}

// handleGlobal 处理全局频道消息
//
// 转发到租户根命名空间，并无条件补发到对应的应用命名空间；
// 后者为尽力而为，目标无连接时静默无事发生。
func (b *Bridge) handleGlobal(payload []byte) {
	var ev globalEvent
	if err := json.Unmarshal(payload, &ev); err != nil || ev.Event == "" || ev.Namespace == "" {
		b.dropMessage(b.config.GlobalChannel, payload, err)
		return
	}

	suffix := strings.TrimPrefix(ev.Namespace, "/")
	target := "/" + suffix
	appTarget := "/" + b.config.AppPrefix + "/" + suffix

	_ = b.router.Broadcast(target, ev.Event, ev.Message, ev.Room)
	_ = b.router.Broadcast(appTarget, ev.Event, ev.Message, ev.Room)
}

// handleApp 处理应用频道消息
func (b *Bridge) handleApp(payload []byte) {
	var ev appEvent
	if err := json.Unmarshal(payload, &ev); err != nil || ev.Event == "" {
		b.dropMessage(b.config.AppChannel, payload, err)
		return
	}

	target := ev.Namespace
	if target == "" {
		target = "/" + b.config.AppPrefix + "/default"
	}

	_ = b.router.Broadcast(target, ev.Event, ev.Message, ev.Room)
}

// dropMessage 丢弃无法解析的消息
func (b *Bridge) dropMessage(channel string, payload []byte, err error) {
	b.log.Warn("drop unparsable bus message",
		zap.String("channel", channel),
		zap.Int("size", len(payload)),
		zap.Error(err),
	)
}
