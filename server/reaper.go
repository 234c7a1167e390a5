package server

import "context"

// Reaper 断线清理：把玩家移出房间与注册表，并通知剩余成员一次。
// 主动 leaveRoom 与传输层断开都走这里，重复调用只生效一次。
type Reaper struct {
	registry *Registry
	rooms    *RoomManager
}

func NewReaper(registry *Registry, rooms *RoomManager) *Reaper {
	return &Reaper{registry: registry, rooms: rooms}
}

// Reap 返回本次调用是否真正移除了玩家；未加入房间的会话无事可做
func (r *Reaper) Reap(ctx context.Context, id SessionID) bool {
	p, ok := r.registry.Get(id)
	if !ok {
		return false
	}
	// 房间 goroutine 内完成：移出成员 → 删除注册表条目 → 广播 playerLeft。
	// 清理不随调用方取消而中断，否则会留下没有注册表条目的成员
	left, err := r.rooms.Leave(context.WithoutCancel(ctx), p.RoomID, id)
	if err != nil {
		Log.Warnf("leave %s from room %s: %v", id, p.RoomID, err)
	}
	// 房间已不存在时注册表条目不能残留
	r.registry.Remove(id)
	return left
}
