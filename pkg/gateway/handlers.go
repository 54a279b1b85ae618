package gateway

import (
	"encoding/json"
	"time"
)

// roomPayload 房间命令数据
type roomPayload struct {
	Room string `json:"room"`
}

// roomBroadcastPayload 房间广播命令数据
type roomBroadcastPayload struct {
	Room  string          `json:"room"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// registerHandlers 安装内建处理器
func (g *Gateway) registerHandlers() {
	_ = g.router.Register(CmdRoomJoin, g.handleRoomJoin)
	_ = g.router.Register(CmdRoomLeave, g.handleRoomLeave)
	_ = g.router.Register(CmdPing, g.handlePing)
	_ = g.router.Register(CmdRoomBroadcast, g.handleRoomBroadcast)
}

// handleRoomJoin 加入房间并确认
func (g *Gateway) handleRoomJoin(c *Conn, msg *Message) error {
	var p roomPayload
	if err := msg.Unmarshal(&p); err != nil || p.Room == "" {
		return ErrRoomNameRequired
	}

	c.ns.join(c, p.Room)
	return c.sendEvent(EventRoomJoined, map[string]any{"room": p.Room})
}

// handleRoomLeave 离开房间并确认
func (g *Gateway) handleRoomLeave(c *Conn, msg *Message) error {
	var p roomPayload
	if err := msg.Unmarshal(&p); err != nil || p.Room == "" {
		return ErrRoomNameRequired
	}

	c.ns.leave(c, p.Room)
	return c.sendEvent(EventRoomLeft, map[string]any{"room": p.Room})
}

// handlePing 健康检查
func (g *Gateway) handlePing(c *Conn, _ *Message) error {
	return c.sendEvent(EventPong, map[string]any{"timestamp": time.Now().UnixMilli()})
}

// handleRoomBroadcast 房间内广播
//
// 载荷附带发送方身份与时间戳，投递给同命名空间内该房间的
// 其他成员（不含发送方）。
func (g *Gateway) handleRoomBroadcast(c *Conn, msg *Message) error {
	var p roomBroadcastPayload
	if err := msg.Unmarshal(&p); err != nil || p.Room == "" {
		return ErrRoomNameRequired
	}
	if p.Event == "" {
		p.Event = "room:message"
	}

	data, err := encodeEvent(p.Event, map[string]any{
		"from":      c.identity.User,
		"timestamp": time.Now().UnixMilli(),
		"data":      p.Data,
	})
	if err != nil {
		return err
	}

	c.ns.broadcast(data, p.Room, c)
	return nil
}
