package gateway

import (
	"fmt"
	"sync"
)

// Handler 消息处理器
type Handler func(*Conn, *Message) error

// Router 消息路由器
type Router struct {
	handlers map[string]Handler
	mu       sync.RWMutex
}

// NewRouter 创建路由器
func NewRouter() *Router {
	return &Router{
		handlers: make(map[string]Handler),
	}
}

// Register 注册处理器
func (r *Router) Register(event string, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[event]; exists {
		return fmt.Errorf("%w: %s", ErrHandlerExists, event)
	}

	r.handlers[event] = handler
	return nil
}

// Route 路由消息
//
// 处理器内的 panic 在此兜底，转换为错误返回，连接不受影响。
func (r *Router) Route(c *Conn, msg *Message) (err error) {
	r.mu.RLock()
	handler, exists := r.handlers[msg.Event]
	r.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrHandlerNotFound, msg.Event)
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("gateway: handler %s panicked: %v", msg.Event, rec)
		}
	}()

	return handler(c, msg)
}
