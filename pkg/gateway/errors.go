package gateway

import "errors"

// 错误定义
var (
	// 连接相关错误
	ErrGatewayClosed      = errors.New("gateway: gateway closed")
	ErrTooManyConnections = errors.New("gateway: too many connections")
	ErrConnClosed         = errors.New("gateway: connection closed")
	ErrSendQueueFull      = errors.New("gateway: send queue full")

	// 消息相关错误
	ErrHandlerExists   = errors.New("gateway: handler already exists")
	ErrHandlerNotFound = errors.New("gateway: unknown event")
	ErrInvalidMessage  = errors.New("gateway: invalid message format")

	// 房间相关错误
	ErrRoomNameRequired = errors.New("gateway: room name required")

	// 配置相关错误
	ErrInvalidConfig = errors.New("gateway: invalid config")
)
