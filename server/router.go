package server

import (
	"context"
	"errors"
)

// Router 入站事件分发：校验 → 交给房间修改状态 → 由房间按范围广播。
// 每个连接的状态 Unjoined / InRoom 由注册表是否存在该会话决定，连接关闭后进入 Closed。
type Router struct {
	registry *Registry
	rooms    *RoomManager
	out      Dispatcher
	reaper   *Reaper
	metrics  *Metrics
}

func NewRouter(registry *Registry, rooms *RoomManager, out Dispatcher, metrics *Metrics) *Router {
	return &Router{
		registry: registry,
		rooms:    rooms,
		out:      out,
		reaper:   NewReaper(registry, rooms),
		metrics:  metrics,
	}
}

// Handle 解码一帧原始消息并分发；解码失败时只回复发送者
func (rt *Router) Handle(ctx context.Context, id SessionID, raw []byte) {
	ev, err := DecodeInbound(raw)
	if err != nil {
		rt.reject(id, err)
		return
	}
	_ = rt.Dispatch(ctx, id, ev)
}

// Dispatch 处理一个已校验的事件。返回的错误已回复给发送者，调用方只需记录
func (rt *Router) Dispatch(ctx context.Context, id SessionID, ev Inbound) error {
	var err error
	switch e := ev.(type) {
	case JoinRoom:
		err = rt.join(ctx, id, e)
	case UpdatePosition:
		err = rt.inRoom(ctx, id, func(r *Room) error { return r.Move(ctx, id, e.Position, e.Rotation) })
	case UpdateAnimation:
		err = rt.inRoom(ctx, id, func(r *Room) error { return r.Animate(ctx, id, e.Tag) })
	case ReceiveDamage:
		err = rt.inRoom(ctx, id, func(r *Room) error { return r.Damage(ctx, id, e.Amount, e.By) })
	case LeaveRoom:
		if !rt.reaper.Reap(ctx, id) {
			err = ErrNotInRoom
		}
	default:
		err = badRequest(ReasonUnknownType, "%T", ev)
	}
	if err != nil {
		rt.reject(id, err)
		return err
	}
	rt.metrics.EventsTotal.WithLabelValues(ev.inboundType()).Inc()
	return nil
}

// Disconnect 传输层断开：转交给 Reaper，与 leaveRoom 走同一条移除路径
func (rt *Router) Disconnect(id SessionID) {
	if rt.reaper.Reap(context.Background(), id) {
		Log.Infof("session reaped: %s", id)
	}
}

func (rt *Router) join(ctx context.Context, id SessionID, e JoinRoom) error {
	if _, ok := rt.registry.Get(id); ok {
		return ErrAlreadyJoined
	}
	// 名单与 playerJoined 由房间 goroutine 投递，保证与房间内其他广播的顺序一致
	_, err := rt.rooms.Join(ctx, e.RoomID, id, e.DisplayName)
	if errors.Is(err, ErrRoomFull) {
		return &roomFullError{room: e.RoomID}
	}
	return err
}

// inRoom 查出会话所在房间后执行 fn；尚未加入时返回 ErrNotInRoom
func (rt *Router) inRoom(ctx context.Context, id SessionID, fn func(*Room) error) error {
	p, ok := rt.registry.Get(id)
	if !ok {
		return ErrNotInRoom
	}
	r, ok := rt.rooms.Room(p.RoomID)
	if !ok {
		// 房间已回收，玩家条目正在被清理
		rt.metrics.StaleDropped.Inc()
		return nil
	}
	if err := fn(r); err != nil && !errors.Is(err, errRoomClosed) {
		return err
	}
	return nil
}

func (rt *Router) reject(id SessionID, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	var msg Message
	reason := ReasonRoomFull
	if errors.Is(err, ErrRoomFull) {
		var rf *roomFullError
		errors.As(err, &rf)
		msg = roomFullMsg(rf.roomID())
	} else {
		reason = reasonFor(err)
		msg = invalidMsg(reason)
	}
	rt.metrics.RejectedTotal.WithLabelValues(reason).Inc()
	Log.Debugf("request rejected: id=%s reason=%s err=%v", id, reason, err)
	if b, encErr := Encode(msg); encErr == nil {
		rt.out.Send(id, b)
	}
}
