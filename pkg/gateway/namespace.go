package gateway

import (
	"sync"
	"sync/atomic"
)

// Namespace 命名空间
//
// 按路径字符串标识的连接分区。首次引用（拨号或事件转发目标）
// 时惰性创建，空命名空间是合法的转发目标，从不显式销毁。
type Namespace struct {
	// Path 地址路径（租户根形式或应用形式）
	Path string

	conns sync.Map // connID -> *Conn
	rooms sync.Map // room name -> *Room
	count atomic.Int64
}

// Room 房间
//
// 命名空间内的具名子分组。首个成员加入时创建，清空即消失。
type Room struct {
	name    string
	members sync.Map // connID -> *Conn
	count   atomic.Int32
}

// newNamespace 创建命名空间
func newNamespace(path string) *Namespace {
	return &Namespace{Path: path}
}

// add 纳入连接
func (n *Namespace) add(c *Conn) {
	if _, loaded := n.conns.LoadOrStore(c.ID, c); !loaded {
		n.count.Add(1)
	}
}

// remove 移除连接并释放其全部房间成员身份
func (n *Namespace) remove(c *Conn) {
	if _, loaded := n.conns.LoadAndDelete(c.ID); loaded {
		n.count.Add(-1)
	}

	roomNames := make([]string, 0, 8)
	c.rooms.Range(func(key, _ any) bool {
		if name, ok := key.(string); ok {
			roomNames = append(roomNames, name)
		}
		return true
	})
	for _, name := range roomNames {
		n.leave(c, name)
	}
}

// Count 当前连接数
func (n *Namespace) Count() int {
	return int(n.count.Load())
}

// join 加入房间（惰性创建）
func (n *Namespace) join(c *Conn, room string) {
	value, _ := n.rooms.LoadOrStore(room, &Room{name: room})
	r, ok := value.(*Room)
	if !ok {
		return
	}

	if _, loaded := r.members.LoadOrStore(c.ID, c); !loaded {
		r.count.Add(1)
		c.rooms.Store(room, true)
	}
}

// leave 离开房间，清空的房间即刻回收
func (n *Namespace) leave(c *Conn, room string) {
	value, ok := n.rooms.Load(room)
	if !ok {
		return
	}
	r, ok := value.(*Room)
	if !ok {
		return
	}

	if _, loaded := r.members.LoadAndDelete(c.ID); loaded {
		c.rooms.Delete(room)
		if r.count.Add(-1) <= 0 {
			n.rooms.Delete(room)
		}
	}
}

// RoomCount 房间成员数（房间不存在时为 0）
func (n *Namespace) RoomCount(room string) int {
	value, ok := n.rooms.Load(room)
	if !ok {
		return 0
	}
	r, ok := value.(*Room)
	if !ok {
		return 0
	}
	return int(r.count.Load())
}

// broadcast 向命名空间或其中的房间广播
//
// room 为空时投递给命名空间内全部连接，否则仅投递给房间成员。
// 目标为空时静默返回，发送失败（队列满、连接已关）被忽略，
// 投递语义为尽力而为。
func (n *Namespace) broadcast(data []byte, room string, exclude *Conn) {
	deliver := func(_, value any) bool {
		c, ok := value.(*Conn)
		if !ok {
			return true
		}
		if exclude != nil && c.ID == exclude.ID {
			return true
		}
		_ = c.enqueue(data)
		return true
	}

	if room == "" {
		n.conns.Range(deliver)
		return
	}

	value, ok := n.rooms.Load(room)
	if !ok {
		return
	}
	if r, ok := value.(*Room); ok {
		r.members.Range(deliver)
	}
}
