package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// ClientConn 负责发送（写）数据到客户端的轻量包装
type ClientConn struct {
	ws   *websocket.Conn
	send chan []byte
}

func NewClientConn(ws *websocket.Conn) *ClientConn {
	return &ClientConn{
		ws:   ws,
		send: make(chan []byte, 64),
	}
}

// Enqueue 将要发送的消息压入队列（非阻塞，满则丢弃）
func (c *ClientConn) Enqueue(b []byte) {
	select {
	case c.send <- b:
	default:
		// 为了实时性，丢弃旧消息（防止阻塞会话循环）
	}
}

// forward 把会话推送编码后写入发送队列；订阅关闭后关闭 send，结束写协程
func (c *ClientConn) forward(updates <-chan Update) {
	defer close(c.send)
	for u := range updates {
		b, err := Encode(MsgState, u.Snapshot)
		if err != nil {
			Log.Errorw("encode state", "err", err)
			continue
		}
		c.Enqueue(b)
		for _, ev := range u.Events {
			b, err := Encode(MsgEvent, EventMessage{Kind: ev.Kind(), Data: ev})
			if err != nil {
				continue
			}
			c.Enqueue(b)
		}
	}
}

// writePump 独立协程，负责从 send 队列写出到 WS
func (c *ClientConn) writePump() {
	defer c.ws.Close()
	ping := time.NewTicker(25 * time.Second)
	defer ping.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 读取客户端消息，转换为会话命令
func (c *ClientConn) readPump(s *Session) {
	defer c.ws.Close()
	c.ws.SetReadLimit(1 << 16)
	c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.ws.SetPongHandler(func(string) error { c.ws.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		env, err := DecodeEnvelope(payload)
		if err != nil {
			continue
		}
		if err := Dispatch(s, env); err != nil {
			Log.Debugw("bad client message", "session", s.ID, "type", env.T, "err", err)
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 演示环境：允许所有来源（生产环境需严格限制）
		return true
	},
}

// HandleWS WebSocket 接入：?player=alice&name=Alice&avatar=...&token=...
// 登录与令牌校验由上游完成，这里只读取身份
func HandleWS(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		user := &User{
			ID:          q.Get("player"),
			DisplayName: q.Get("name"),
			AvatarURL:   q.Get("avatar"),
			AuthToken:   q.Get("token"),
		}
		if user.ID == "" {
			http.Error(w, "missing player query", http.StatusBadRequest)
			return
		}
		if user.DisplayName == "" {
			user.DisplayName = user.ID
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			Log.Warnw("upgrade error", "err", err)
			return
		}

		s, err := m.Acquire(user)
		if err != nil {
			Log.Errorw("acquire session", "player", user.ID, "err", err)
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()), time.Now().Add(time.Second))
			_ = ws.Close()
			return
		}
		Log.Infow("player connected", "player", user.ID, "session", s.ID, "remote", r.RemoteAddr)

		client := NewClientConn(ws)
		updates, cancel := s.Subscribe()
		go client.forward(updates)
		go client.writePump()
		go func() {
			client.readPump(s)
			// 读泵退出：取消订阅并释放会话引用
			cancel()
			m.Release(user.ID)
			Log.Infow("player disconnected", "player", user.ID, "session", s.ID)
		}()
	}
}
