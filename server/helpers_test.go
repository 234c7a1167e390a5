package server

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// recorder 记录每个会话收到的帧，替代真实网关
type recorder struct {
	mu     sync.Mutex
	frames map[SessionID][]envelope
	closed map[SessionID]bool
}

func newRecorder() *recorder {
	return &recorder{frames: make(map[SessionID][]envelope), closed: make(map[SessionID]bool)}
}

func (r *recorder) Send(id SessionID, msg []byte) bool {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		panic(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed[id] {
		return false
	}
	r.frames[id] = append(r.frames[id], env)
	return true
}

// close 模拟连接已断开：之后发往该会话的消息全部丢弃
func (r *recorder) close(id SessionID) {
	r.mu.Lock()
	r.closed[id] = true
	r.mu.Unlock()
}

// of 返回某会话收到的指定类型的帧
func (r *recorder) of(id SessionID, typ string) []envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []envelope
	for _, f := range r.frames[id] {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

func (r *recorder) types(id SessionID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.frames[id]))
	for _, f := range r.frames[id] {
		out = append(out, f.Type)
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.frames = make(map[SessionID][]envelope)
	r.mu.Unlock()
}

func decodeAs[T any](t *testing.T, f envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Data, &v))
	return v
}

type fixture struct {
	registry *Registry
	rooms    *RoomManager
	router   *Router
	rec      *recorder
	metrics  *Metrics
}

// newFixture 回合计时关闭，测试只观察事件驱动的广播
func newFixture(t *testing.T, capacity int) *fixture {
	t.Helper()
	rec := newRecorder()
	metrics := NewMetrics()
	registry := NewRegistry()
	rooms := NewRoomManager(RoomOptions{Capacity: capacity}, registry, rec, metrics)
	t.Cleanup(rooms.Stop)
	return &fixture{
		registry: registry,
		rooms:    rooms,
		router:   NewRouter(registry, rooms, rec, metrics),
		rec:      rec,
		metrics:  metrics,
	}
}

func (f *fixture) join(t *testing.T, id SessionID, room RoomID, name string) {
	t.Helper()
	require.NoError(t, f.router.Dispatch(context.Background(), id, JoinRoom{RoomID: room, DisplayName: name}))
}

func (f *fixture) names(t *testing.T, room RoomID) []string {
	t.Helper()
	members, err := f.rooms.MembersOf(context.Background(), room)
	require.NoError(t, err)
	names := make([]string, 0, len(members))
	for _, m := range members {
		names = append(names, m.DisplayName)
	}
	return names
}
