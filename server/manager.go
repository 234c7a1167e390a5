package server

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// 房间刚被清空回收时重新获取的次数上限
const maxJoinAttempts = 3

// RoomManager 管理多个房间的生命周期：首次加入时惰性创建，清空后立即回收
type RoomManager struct {
	mu      sync.Mutex
	rooms   map[RoomID]*Room
	stopped bool

	opts     RoomOptions
	registry *Registry
	out      Dispatcher
	metrics  *Metrics
}

func NewRoomManager(opts RoomOptions, registry *Registry, out Dispatcher, metrics *Metrics) *RoomManager {
	return &RoomManager{
		rooms:    make(map[RoomID]*Room),
		opts:     opts,
		registry: registry,
		out:      out,
		metrics:  metrics,
	}
}

// GetOrCreateRoom 获取或创建房间，并确保房间 goroutine 已启动
func (m *RoomManager) GetOrCreateRoom(id RoomID) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil, ErrShuttingDown
	}
	r, ok := m.rooms[id]
	if !ok {
		r = NewRoom(id, m.opts, m.registry, m.out, m.metrics, m.remove)
		m.rooms[id] = r
		r.Start()
		m.metrics.ActiveRooms.Inc()
		Log.Infof("room created: %s capacity=%d", id, m.opts.Capacity)
	}
	return r, nil
}

// Room 查找已存在的房间，不会创建
func (m *RoomManager) Room(id RoomID) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	return r, ok
}

// Join 加入房间；房间已满返回 ErrRoomFull 且不改动任何状态
func (m *RoomManager) Join(ctx context.Context, roomID RoomID, id SessionID, displayName string) ([]PlayerState, error) {
	for attempt := 0; attempt < maxJoinAttempts; attempt++ {
		r, err := m.GetOrCreateRoom(roomID)
		if err != nil {
			return nil, err
		}
		roster, err := r.Join(ctx, id, displayName)
		if errors.Is(err, errRoomClosed) {
			continue
		}
		return roster, err
	}
	return nil, errRoomClosed
}

// Leave 离开房间；房间不存在或玩家不在其中时为空操作
func (m *RoomManager) Leave(ctx context.Context, roomID RoomID, id SessionID) (bool, error) {
	r, ok := m.Room(roomID)
	if !ok {
		return false, nil
	}
	left, err := r.Leave(ctx, id)
	if errors.Is(err, errRoomClosed) {
		return false, nil
	}
	return left, err
}

// MembersOf 成员与注册表状态的只读投影；房间不存在时返回空
func (m *RoomManager) MembersOf(ctx context.Context, roomID RoomID) ([]PlayerState, error) {
	r, ok := m.Room(roomID)
	if !ok {
		return nil, nil
	}
	roster, err := r.Members(ctx)
	if errors.Is(err, errRoomClosed) {
		return nil, nil
	}
	return roster, err
}

// Broadcast 在房间内广播，exclude 为空表示发给全部成员
func (m *RoomManager) Broadcast(ctx context.Context, roomID RoomID, msg Message, exclude SessionID) error {
	r, ok := m.Room(roomID)
	if !ok {
		return nil
	}
	if err := r.Broadcast(ctx, msg, exclude); err != nil && !errors.Is(err, errRoomClosed) {
		return err
	}
	return nil
}

// RoomIDs 当前存活房间（排序后）
func (m *RoomManager) RoomIDs() []RoomID {
	m.mu.Lock()
	ids := make([]RoomID, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Options 新建房间时使用的参数
func (m *RoomManager) Options() RoomOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts
}

// SetOptions 热更新房间规则，只影响之后新建的房间
func (m *RoomManager) SetOptions(opts RoomOptions) {
	m.mu.Lock()
	m.opts = opts
	m.mu.Unlock()
}

// Stop 停止所有房间并清除其成员的注册表条目，之后不再创建新房间
func (m *RoomManager) Stop() {
	m.mu.Lock()
	m.stopped = true
	rooms := make([]*Room, 0, len(m.rooms))
	for id, r := range m.rooms {
		rooms = append(rooms, r)
		delete(m.rooms, id)
	}
	m.mu.Unlock()

	for _, r := range rooms {
		r.Stop()
		// actor 已退出，members 不再变化
		for _, id := range r.members {
			m.registry.Remove(id)
		}
		m.metrics.ActiveRooms.Dec()
	}
}

// remove 由房间 goroutine 在清空时调用；只摘除同一实例，避免误删新建的同名房间
func (m *RoomManager) remove(r *Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.rooms[r.ID]; ok && cur == r {
		delete(m.rooms, r.ID)
		m.metrics.ActiveRooms.Dec()
		Log.Infof("room removed: %s", r.ID)
	}
}
