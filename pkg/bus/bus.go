// Package bus 提供消息总线订阅抽象。
//
// 网关只消费不发布：后端进程经由总线投递事件，网关订阅固定的
// 逻辑频道并将消息转交给事件桥。支持 Redis Pub/Sub（默认）与
// RabbitMQ 两种驱动。
package bus

import (
	"context"
	"errors"
)

// Message 总线消息
type Message struct {
	// Channel 来源逻辑频道
	Channel string
	// Payload 原始消息体
	Payload []byte
}

// Subscriber 总线订阅者
//
// Subscribe 返回的通道在 ctx 取消或 Close 后关闭。
// Close 可重复调用，仅第一次生效。
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) (<-chan Message, error)
	Close() error
}

// 错误定义
var (
	ErrInvalidConfig = errors.New("bus: invalid config")
	ErrClosed        = errors.New("bus: subscriber closed")
	ErrNoChannels    = errors.New("bus: no channels to subscribe")
)
