package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 记录服务运行期的关键指标（用于监控与调试）
type Metrics struct {
	registry *prometheus.Registry

	ConnectionsTotal prometheus.Counter     // 累计接入的连接数
	ActiveSessions   prometheus.Gauge       // 当前在线连接数
	ActiveRooms      prometheus.Gauge       // 当前存活的房间数
	EventsTotal      *prometheus.CounterVec // 按类型统计被接受的入站事件
	RejectedTotal    *prometheus.CounterVec // 按原因统计被拒绝的入站事件
	StaleDropped     prometheus.Counter     // 针对已移除玩家的过期更新
	RateLimited      prometheus.Counter     // 因限流被丢弃的入站消息
	OutboundDropped  prometheus.Counter     // 因发送队列满或会话已关闭而丢弃的出站消息
	CommandSeconds   prometheus.Histogram   // 房间 actor 单条命令耗时
}

// NewMetrics 每个 Server 使用独立的 Registry，测试之间互不干扰
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "splash", Name: "connections_total",
			Help: "WebSocket sessions accepted.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "splash", Name: "active_sessions",
			Help: "Currently connected sessions.",
		}),
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "splash", Name: "active_rooms",
			Help: "Rooms with a running actor.",
		}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "splash", Name: "events_total",
			Help: "Inbound events accepted, by type.",
		}, []string{"type"}),
		RejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "splash", Name: "events_rejected_total",
			Help: "Inbound events rejected, by reason.",
		}, []string{"reason"}),
		StaleDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "splash", Name: "stale_updates_dropped_total",
			Help: "Updates that referenced a player no longer in the room.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "splash", Name: "rate_limited_total",
			Help: "Inbound frames dropped by the per-session limiter.",
		}),
		OutboundDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "splash", Name: "outbound_dropped_total",
			Help: "Outbound frames dropped because the send queue was full or closed.",
		}),
		CommandSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "splash", Name: "room_command_seconds",
			Help:    "Time spent executing one room command, fan-out included.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
		}),
	}
	reg.MustRegister(
		m.ConnectionsTotal, m.ActiveSessions, m.ActiveRooms,
		m.EventsTotal, m.RejectedTotal, m.StaleDropped,
		m.RateLimited, m.OutboundDropped, m.CommandSeconds,
	)
	return m
}

// Handler 输出 Prometheus 文本格式
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
