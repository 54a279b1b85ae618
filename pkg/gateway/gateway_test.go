package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/tokmz/tide/pkg/auth"
	"github.com/tokmz/tide/pkg/logger"
)

// pathAuth 按路径段确定租户的准入桩
type pathAuth struct {
	user string
	err  error
}

func (a *pathAuth) Authenticate(_ context.Context, _ *http.Request, nsPath string) (*auth.Identity, error) {
	if a.err != nil {
		return nil, a.err
	}

	site := "default.test"
	parts := strings.Split(strings.Trim(nsPath, "/"), "/")
	switch {
	case len(parts) == 2:
		site = parts[1]
	case len(parts) == 1 && parts[0] != "":
		site = parts[0]
	}

	user := a.user
	if user == "" {
		user = "u1"
	}
	return &auth.Identity{Site: site, User: user}, nil
}

// newTestServer 启动挂载网关的测试服务
func newTestServer(t *testing.T, authenticator Authenticator, opts ...Option) (*Gateway, *httptest.Server) {
	t.Helper()

	g, err := New(authenticator, logger.Nop(), opts...)
	if err != nil {
		t.Fatalf("create gateway: %v", err)
	}

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.NoRoute(g.Handler())

	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return g, srv
}

// dial 拨号到指定命名空间路径
func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()

	ws, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+path, nil)
	if err != nil {
		t.Fatalf("dial %s: %v (resp: %+v)", path, err, resp)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

// readWireEvent 从客户端连接读取下一个事件
func readWireEvent(t *testing.T, ws *websocket.Conn) *eventMessage {
	t.Helper()

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}

	var ev eventMessage
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode event %s: %v", data, err)
	}
	return &ev
}

// waitFor 轮询等待条件成立
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

// TestGatewayAdmission 测试双地址空间准入
func TestGatewayAdmission(t *testing.T) {
	g, srv := newTestServer(t, &pathAuth{})

	dial(t, srv, "/acme.test")
	dial(t, srv, "/app/acme.test")
	waitFor(t, func() bool { return g.Count() == 2 })

	// 两套地址空间互不混淆
	waitFor(t, func() bool { return g.Namespace("/acme.test").Count() == 1 })
	if g.Namespace("/app/acme.test").Count() != 1 {
		t.Errorf("expected app namespace population, got %d", g.Namespace("/app/acme.test").Count())
	}
}

// TestGatewayDefaultDial 测试根路径拨号归一化到租户根
func TestGatewayDefaultDial(t *testing.T) {
	g, srv := newTestServer(t, &pathAuth{})

	dial(t, srv, "/")
	waitFor(t, func() bool { return g.Namespace("/default.test").Count() == 1 })
}

// TestGatewayRejection 测试握手拒绝
func TestGatewayRejection(t *testing.T) {
	rejection := &auth.Error{Kind: auth.KindAuthentication, Message: "bad credentials"}
	_, srv := newTestServer(t, &pathAuth{err: rejection})

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/acme.test", nil)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

// TestGatewayMaxConnections 测试连接上限
func TestGatewayMaxConnections(t *testing.T) {
	g, srv := newTestServer(t, &pathAuth{}, WithMaxConnections(1))

	dial(t, srv, "/acme.test")
	waitFor(t, func() bool { return g.Count() == 1 })

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/acme.test", nil)
	if err == nil {
		t.Fatal("expected handshake failure over capacity")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %+v", resp)
	}
}

// TestGatewayPingPong 测试应用层心跳
func TestGatewayPingPong(t *testing.T) {
	_, srv := newTestServer(t, &pathAuth{})
	ws := dial(t, srv, "/acme.test")

	if err := ws.WriteJSON(map[string]any{"event": CmdPing}); err != nil {
		t.Fatal(err)
	}
	if ev := readWireEvent(t, ws); ev.Event != EventPong {
		t.Errorf("expected %s, got %q", EventPong, ev.Event)
	}
}

// TestGatewayErrorEventKeepsConnection 测试错误事件不致断开
func TestGatewayErrorEventKeepsConnection(t *testing.T) {
	_, srv := newTestServer(t, &pathAuth{})
	ws := dial(t, srv, "/acme.test")

	// 未知事件回送 error 事件
	if err := ws.WriteJSON(map[string]any{"event": "no-such-event"}); err != nil {
		t.Fatal(err)
	}
	ev := readWireEvent(t, ws)
	if ev.Event != EventError {
		t.Fatalf("expected %s, got %q", EventError, ev.Event)
	}

	// 畸形消息同样回送 error 事件
	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	if ev := readWireEvent(t, ws); ev.Event != EventError {
		t.Fatalf("expected %s, got %q", EventError, ev.Event)
	}

	// 连接仍然可用
	if err := ws.WriteJSON(map[string]any{"event": CmdPing}); err != nil {
		t.Fatal(err)
	}
	if ev := readWireEvent(t, ws); ev.Event != EventPong {
		t.Errorf("connection must survive errors, got %q", ev.Event)
	}
}

// TestGatewayRoomFlow 测试房间全链路
func TestGatewayRoomFlow(t *testing.T) {
	g, srv := newTestServer(t, &pathAuth{})

	member := dial(t, srv, "/acme.test")
	outsider := dial(t, srv, "/acme.test")
	waitFor(t, func() bool { return g.Count() == 2 })

	if err := member.WriteJSON(map[string]any{
		"event": CmdRoomJoin,
		"data":  map[string]any{"room": "kitchen"},
	}); err != nil {
		t.Fatal(err)
	}
	if ev := readWireEvent(t, member); ev.Event != EventRoomJoined {
		t.Fatalf("expected %s, got %q", EventRoomJoined, ev.Event)
	}

	if err := g.Broadcast("/acme.test", "order:update", map[string]any{"id": 7}, "kitchen"); err != nil {
		t.Fatal(err)
	}
	if ev := readWireEvent(t, member); ev.Event != "order:update" {
		t.Errorf("expected order:update, got %q", ev.Event)
	}

	// 未加入房间的连接不接收
	_ = outsider.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := outsider.ReadMessage(); err == nil {
		t.Error("outsider must not receive room event")
	}
}

// TestGatewayUserRoom 测试用户定向房间
//
// 准入即加入 user:{user} 房间，后端可按用户定向投递。
func TestGatewayUserRoom(t *testing.T) {
	g, srv := newTestServer(t, &pathAuth{user: "alice"})

	ws := dial(t, srv, "/acme.test")
	waitFor(t, func() bool { return g.Namespace("/acme.test").RoomCount("user:alice") == 1 })

	if err := g.Broadcast("/acme.test", "direct", map[string]any{"note": "hi"}, "user:alice"); err != nil {
		t.Fatal(err)
	}
	if ev := readWireEvent(t, ws); ev.Event != "direct" {
		t.Errorf("expected direct, got %q", ev.Event)
	}
}

// TestGatewayShutdown 测试优雅关闭
func TestGatewayShutdown(t *testing.T) {
	g, srv := newTestServer(t, &pathAuth{})

	ws := dial(t, srv, "/acme.test")
	waitFor(t, func() bool { return g.Count() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := g.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	// 幂等
	if err := g.Shutdown(ctx); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}

	if g.Count() != 0 {
		t.Errorf("expected 0 connections, got %d", g.Count())
	}

	// 客户端观察到连接终止
	_ = ws.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Error("expected closed connection")
	}

	// 关闭后拒绝新握手
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/acme.test", nil)
	if err == nil {
		t.Fatal("expected handshake failure after shutdown")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %+v", resp)
	}
}
