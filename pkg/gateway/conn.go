package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tokmz/tide/pkg/auth"
)

// Conn 已准入的客户端连接
type Conn struct {
	ID string

	gw       *Gateway
	ns       *Namespace
	identity *auth.Identity
	ws       *websocket.Conn

	// 发送队列
	send chan []byte

	// 房间
	rooms sync.Map // room name -> bool

	// 心跳
	lastPong atomic.Int64 // Unix timestamp

	// 生命周期
	ctx       context.Context
	cancel    context.CancelFunc
	closed    atomic.Bool
	closeOnce sync.Once
	writeDone chan struct{} // 标记 writePump 已退出

	// 限流
	invalidCount atomic.Int32 // 连续无效消息计数
}

// newConn 创建连接
func newConn(gw *Gateway, ns *Namespace, identity *auth.Identity, ws *websocket.Conn) *Conn {
	ctx, cancel := context.WithCancel(gw.ctx)

	c := &Conn{
		ID:        uuid.NewString(),
		gw:        gw,
		ns:        ns,
		identity:  identity,
		ws:        ws,
		send:      make(chan []byte, gw.config.SendQueueSize),
		ctx:       ctx,
		cancel:    cancel,
		writeDone: make(chan struct{}),
	}
	c.lastPong.Store(time.Now().Unix())

	return c
}

// Identity 连接身份
func (c *Conn) Identity() *auth.Identity {
	return c.identity
}

// Namespace 所属命名空间
func (c *Conn) Namespace() *Namespace {
	return c.ns
}

// run 运行读写协程
func (c *Conn) run() {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		c.readPump()
	}()

	go func() {
		defer wg.Done()
		c.writePump()
	}()

	wg.Wait()
	c.close("transport closed")
}

// readPump 读取并路由客户端消息
func (c *Conn) readPump() {
	defer c.close("read loop exited")

	c.ws.SetReadLimit(c.gw.config.MaxMessageSize)
	if err := c.ws.SetReadDeadline(time.Now().Add(c.gw.config.HeartbeatTimeout)); err != nil {
		return
	}
	c.ws.SetPongHandler(func(string) error {
		c.lastPong.Store(time.Now().Unix())
		return c.ws.SetReadDeadline(time.Now().Add(c.gw.config.HeartbeatTimeout))
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			_, data, err := c.ws.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					c.close("abnormal closure")
				} else {
					c.close("client disconnect")
				}
				return
			}

			var msg Message
			if err := json.Unmarshal(data, &msg); err != nil || msg.Event == "" {
				// 连续无效消息超过阈值则断开
				if c.invalidCount.Add(1) > 10 {
					c.close("too many invalid messages")
					return
				}
				_ = c.sendEvent(EventError, map[string]any{"message": ErrInvalidMessage.Error()})
				continue
			}
			c.invalidCount.Store(0)

			// 处理器错误回送给连接自身，连接保持可用
			if err := c.gw.router.Route(c, &msg); err != nil {
				_ = c.sendEvent(EventError, map[string]any{"message": err.Error()})
			}
		}
	}
}

// writePump 写出消息与心跳
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.gw.config.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
		close(c.writeDone)
	}()

	for {
		select {
		case <-c.ctx.Done():
			_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message, ok := <-c.send:
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.writeMessage(message); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.gw.config.WriteWait)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeMessage 写出单条消息
func (c *Conn) writeMessage(message []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.gw.config.WriteWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, message)
}

// enqueue 非阻塞入队
func (c *Conn) enqueue(data []byte) error {
	if c.closed.Load() {
		return ErrConnClosed
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// sendEvent 发送网关事件
func (c *Conn) sendEvent(event string, data any) error {
	payload, err := encodeEvent(event, data)
	if err != nil {
		return err
	}
	return c.enqueue(payload)
}

// close 关闭连接
func (c *Conn) close(reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()

		// 释放命名空间与房间成员身份
		c.ns.remove(c)
		c.gw.count.Add(-1)

		c.gw.log.Info("connection closed",
			zap.String("conn_id", c.ID),
			zap.String("namespace", c.ns.Path),
			zap.String("site", c.identity.Site),
			zap.String("user", c.identity.User),
			zap.String("reason", reason),
		)

		// 关闭底层连接，触发 writePump 退出
		c.ws.Close()

		// 等待 writePump 退出后再关闭发送通道
		go func() {
			select {
			case <-c.writeDone:
			case <-time.After(5 * time.Second):
			}
			close(c.send)
		}()
	})
}
