package gateway

import (
	"encoding/json"
	"time"
)

// 内建命令与网关事件名
const (
	// 客户端命令
	CmdRoomJoin      = "room:join"
	CmdRoomLeave     = "room:leave"
	CmdPing          = "ping"
	CmdRoomBroadcast = "room:broadcast"

	// 网关事件
	EventRoomJoined = "room:joined"
	EventRoomLeft   = "room:left"
	EventPong       = "pong"
	EventError      = "error"
)

// Message 客户端入站消息
type Message struct {
	// Event 事件名称（如 "room:join", "ping"）
	Event string `json:"event"`

	// Data 消息数据（JSON）
	Data json.RawMessage `json:"data,omitempty"`
}

// Unmarshal 解析消息数据
func (m *Message) Unmarshal(v any) error {
	return json.Unmarshal(m.Data, v)
}

// eventMessage 出站事件
type eventMessage struct {
	Event     string `json:"event"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// encodeEvent 编码出站事件
func encodeEvent(event string, data any) ([]byte, error) {
	return json.Marshal(&eventMessage{
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}
