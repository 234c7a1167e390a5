package server

import (
	"net/http"
	"os"
)

// Server 组装接入层、路由、房间管理与注册表
type Server struct {
	cfg Config

	Registry *Registry
	Rooms    *RoomManager
	Router   *Router
	Gateway  *Gateway
	Metrics  *Metrics
}

// New 按配置创建服务（调用方负责先 Validate）
func New(cfg Config) *Server {
	metrics := NewMetrics()
	registry := NewRegistry()
	gateway := NewGateway(cfg, metrics)
	rooms := NewRoomManager(RoomOptions{
		Capacity:      cfg.RoomCapacity,
		RoundDuration: cfg.RoundDuration,
	}, registry, gateway, metrics)
	router := NewRouter(registry, rooms, gateway, metrics)
	gateway.handler = router

	return &Server{
		cfg:      cfg,
		Registry: registry,
		Rooms:    rooms,
		Router:   router,
		Gateway:  gateway,
		Metrics:  metrics,
	}
}

// Routes HTTP 路由：WebSocket 接入、管理与监控接口、静态资源
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.Gateway.HandleWS)
	mux.HandleFunc("/admin/rooms", s.HandleAdminRooms)
	mux.HandleFunc("/admin/announce", s.HandleAdminAnnounce)
	mux.HandleFunc("/admin/config", s.HandleAdminConfig)
	mux.Handle("/metrics", s.Metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	// 前后端分离：静态目录存在时将 / 映射到客户端资源
	if fi, err := os.Stat(s.cfg.StaticDir); err == nil && fi.IsDir() {
		mux.Handle("/", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}
	return mux
}

// Shutdown 先停止房间，之后不会再有玩家注册成功；再关闭所有会话
func (s *Server) Shutdown() {
	s.Rooms.Stop()
	s.Gateway.CloseAll()
}
