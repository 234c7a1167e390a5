package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10 // 54s，须小于 pongWait
)

// EventHandler 网关之上的事件处理层
type EventHandler interface {
	Handle(ctx context.Context, id SessionID, raw []byte)
	Disconnect(id SessionID)
}

// Session 一条 WebSocket 连接；只持有传输层，不持有任何游戏状态
type Session struct {
	id      SessionID
	ws      *websocket.Conn
	send    chan []byte
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	limiter *rate.Limiter
	once    sync.Once

	autoJoin []byte // ?room=&name= 时的首个事件
}

func (s *Session) ID() SessionID { return s.id }

// Enqueue 将要发送的消息压入队列（非阻塞，满则丢弃）
func (s *Session) Enqueue(b []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- b:
		return true
	default:
		// 为了实时性，丢弃新消息（防止阻塞房间 goroutine）
		return false
	}
}

// Gateway 接入层：分配会话标识、维护在线会话、按会话投递消息
type Gateway struct {
	mu       sync.RWMutex
	sessions map[SessionID]*Session

	cfg      Config
	handler  EventHandler
	metrics  *Metrics
	upgrader websocket.Upgrader
}

func NewGateway(cfg Config, metrics *Metrics) *Gateway {
	g := &Gateway{
		sessions: make(map[SessionID]*Session),
		cfg:      cfg,
		metrics:  metrics,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     newOriginChecker(cfg.AllowedOrigins),
	}
	return g
}

// Send 投递给指定会话；会话不存在或队列满时返回 false
func (g *Gateway) Send(id SessionID, msg []byte) bool {
	g.mu.RLock()
	s, ok := g.sessions[id]
	g.mu.RUnlock()
	if !ok {
		return false
	}
	if !s.Enqueue(msg) {
		Log.Warnf("send queue full or closed, frame dropped: session=%s", id)
		return false
	}
	return true
}

// SessionCount 当前在线会话数
func (g *Gateway) SessionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

// HandleWS WebSocket 接入：/ws 或 /ws?room=room-1&name=alice（连接后自动加入）
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	var autoJoin []byte
	q := r.URL.Query()
	if room, name := q.Get("room"), q.Get("name"); room != "" || name != "" {
		autoJoin = encodeJoin(room, name)
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经写回了错误响应
		Log.Warnf("upgrade error: remote=%s err=%v", r.RemoteAddr, err)
		return
	}

	s := g.open(ws)
	s.autoJoin = autoJoin
	Log.Infof("session connected: id=%s remote=%s", s.id, r.RemoteAddr)

	go s.writePump()
	go g.readPump(s)
}

// open 为新连接分配全局唯一的会话标识并登记
func (g *Gateway) open(ws *websocket.Conn) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:      SessionID(uuid.NewString()),
		ws:      ws,
		send:    make(chan []byte, g.cfg.SendBuffer),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		limiter: rate.NewLimiter(rate.Limit(g.cfg.RatePerSecond), g.cfg.RateBurst),
	}
	g.mu.Lock()
	g.sessions[s.id] = s
	g.mu.Unlock()

	g.metrics.ConnectionsTotal.Inc()
	g.metrics.ActiveSessions.Inc()

	if b, err := Encode(welcomeMsg(s.id)); err == nil {
		s.Enqueue(b)
	}
	return s
}

// disconnect 每个会话只执行一次：注销、停止写协程、触发 Reaper
func (g *Gateway) disconnect(s *Session) {
	s.once.Do(func() {
		g.mu.Lock()
		delete(g.sessions, s.id)
		g.mu.Unlock()

		close(s.done)
		s.cancel()
		g.metrics.ActiveSessions.Dec()

		if g.handler != nil {
			g.handler.Disconnect(s.id)
		}
		Log.Infof("session closed: id=%s", s.id)
	})
}

// CloseAll 关闭所有会话（服务退出时调用）
func (g *Gateway) CloseAll() {
	g.mu.RLock()
	sessions := make([]*Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		sessions = append(sessions, s)
	}
	g.mu.RUnlock()

	for _, s := range sessions {
		g.disconnect(s)
	}
}

// readPump 读取客户端事件并交给路由层；退出即视为断线
func (g *Gateway) readPump(s *Session) {
	defer g.disconnect(s)

	s.ws.SetReadLimit(g.cfg.MaxMessageSize)
	_ = s.ws.SetReadDeadline(time.Now().Add(pongWait))
	s.ws.SetPongHandler(func(string) error { return s.ws.SetReadDeadline(time.Now().Add(pongWait)) })

	if s.autoJoin != nil && g.handler != nil {
		g.handler.Handle(s.ctx, s.id, s.autoJoin)
	}

	for {
		mt, payload, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				Log.Debugf("read error: session=%s err=%v", s.id, err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		// 只限流高频的状态更新；加入、离开与伤害必须送达并得到回复
		if throttled(payload) && !s.limiter.Allow() {
			g.metrics.RateLimited.Inc()
			continue
		}
		if g.handler != nil {
			g.handler.Handle(s.ctx, s.id, payload)
		}
	}
}

// throttled 只看 type 字段，完整解码与校验留给路由层
func throttled(payload []byte) bool {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return false
	}
	return head.Type == EvUpdatePosition || head.Type == EvUpdateAnimation
}

// writePump 独立协程，负责从 send 队列写出到 WS，并定时发送 ping
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.ws.Close()
	}()
	for {
		select {
		case msg := <-s.send:
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			_ = s.ws.SetWriteDeadline(time.Now().Add(time.Second))
			_ = s.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
