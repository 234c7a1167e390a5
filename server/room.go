package server

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

// Dispatcher 把一帧消息投递给某个会话（非阻塞，队列满或会话不存在返回 false）
type Dispatcher interface {
	Send(id SessionID, msg []byte) bool
}

// Room 房间：成员列表与所有状态修改都在房间自己的 goroutine 里串行执行。
// 容量检查与追加成员是同一条命令，两个并发 join 不可能同时抢到最后一个空位。
type Room struct {
	ID RoomID

	capacity int
	members  []SessionID // 加入顺序

	registry *Registry
	out      Dispatcher
	metrics  *Metrics
	onEmpty  func(*Room)

	cmds     chan func()
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	closed   bool // 只在 actor 内读写

	// 回合计时
	roundLength time.Duration
	roundLeft   time.Duration
}

// RoomOptions 新建房间的参数
type RoomOptions struct {
	Capacity      int
	RoundDuration time.Duration // 为 0 时关闭回合计时
}

// NewRoom 创建房间，需调用 Start 启动 actor
func NewRoom(id RoomID, opts RoomOptions, registry *Registry, out Dispatcher, metrics *Metrics, onEmpty func(*Room)) *Room {
	return &Room{
		ID:          id,
		capacity:    opts.Capacity,
		registry:    registry,
		out:         out,
		metrics:     metrics,
		onEmpty:     onEmpty,
		cmds:        make(chan func()), // 无缓冲：命令被接收即保证会被执行
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		roundLength: opts.RoundDuration,
		roundLeft:   opts.RoundDuration,
	}
}

// do 把 fn 交给房间 goroutine 执行并等待完成
func (r *Room) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	cmd := func() {
		defer close(finished)
		fn()
	}
	select {
	case r.cmds <- cmd:
	case <-r.done:
		return errRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// Join 加入房间，成功时返回包含新玩家在内的完整名单（加入顺序）
func (r *Room) Join(ctx context.Context, id SessionID, displayName string) ([]PlayerState, error) {
	var (
		roster []PlayerState
		err    error
	)
	if e := r.do(ctx, func() { roster, err = r.join(id, displayName) }); e != nil {
		return nil, e
	}
	return roster, err
}

// Leave 移出房间；不在房间内时返回 false 且不产生任何广播
func (r *Room) Leave(ctx context.Context, id SessionID) (bool, error) {
	var left bool
	if err := r.do(ctx, func() { left = r.leave(id) }); err != nil {
		return false, err
	}
	return left, nil
}

// Move 位置更新，广播给除发送者外的成员
func (r *Room) Move(ctx context.Context, id SessionID, position, rotation Vec3) error {
	return r.do(ctx, func() { r.move(id, position, rotation) })
}

// Animate 动画更新，广播给除发送者外的成员
func (r *Room) Animate(ctx context.Context, id SessionID, tag string) error {
	return r.do(ctx, func() { r.animate(id, tag) })
}

// Damage 伤害结算：血量只回给本人，死亡广播给包括本人在内的全房间
func (r *Room) Damage(ctx context.Context, id SessionID, amount int, by SessionID) error {
	return r.do(ctx, func() { r.damage(id, amount, by) })
}

// Members 当前成员的只读快照（加入顺序）
func (r *Room) Members(ctx context.Context) ([]PlayerState, error) {
	var roster []PlayerState
	if err := r.do(ctx, func() { roster = r.roster() }); err != nil {
		return nil, err
	}
	return roster, nil
}

// Broadcast 向当前成员广播任意消息，exclude 为空表示不排除
func (r *Room) Broadcast(ctx context.Context, msg Message, exclude SessionID) error {
	return r.do(ctx, func() {
		var out outbox
		out.broadcast(msg, exclude)
		r.flush(out)
	})
}

// Stop 停止房间 goroutine 并等待退出
func (r *Room) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

// Capacity 创建时确定，之后不变
func (r *Room) Capacity() int { return r.capacity }

// Done 房间 goroutine 退出后关闭
func (r *Room) Done() <-chan struct{} { return r.done }

func (r *Room) join(id SessionID, displayName string) ([]PlayerState, error) {
	if len(r.members) >= r.capacity {
		return nil, ErrRoomFull
	}
	p, err := r.registry.Register(id, displayName, r.ID)
	if err != nil {
		r.releaseIfEmpty()
		return nil, err
	}
	r.members = append(r.members, id)
	roster := r.roster()

	var out outbox
	out.unicast(id, rosterMsg(roster))
	out.broadcast(joinedMsg(p), id)
	out.broadcast(noticeMsg(p.DisplayName+" joined the game"), "")
	if r.roundLength > 0 {
		out.unicast(id, timeMsg(secondsCeil(r.roundLeft)))
	}
	r.flush(out)

	Log.Infof("player joined: room=%s id=%s name=%q members=%d/%d", r.ID, id, displayName, len(r.members), r.capacity)
	return roster, nil
}

func (r *Room) leave(id SessionID) bool {
	idx := slices.Index(r.members, id)
	if idx < 0 {
		return false
	}
	p, _ := r.registry.Get(id)
	r.members = slices.Delete(r.members, idx, idx+1)
	r.registry.Remove(id)

	var out outbox
	out.broadcast(leftMsg(id), "")
	out.broadcast(noticeMsg(p.DisplayName+" left the game"), "")
	r.flush(out)

	Log.Infof("player left: room=%s id=%s members=%d/%d", r.ID, id, len(r.members), r.capacity)
	r.releaseIfEmpty()
	return true
}

func (r *Room) move(id SessionID, position, rotation Vec3) {
	if !r.isMember(id) || !r.registry.ApplyPositionUpdate(id, position, rotation) {
		r.dropStale(id, EvUpdatePosition)
		return
	}
	var out outbox
	out.broadcast(movedMsg(id, position, rotation), id)
	r.flush(out)
}

func (r *Room) animate(id SessionID, tag string) {
	if !r.isMember(id) || !r.registry.ApplyAnimation(id, tag) {
		r.dropStale(id, EvUpdateAnimation)
		return
	}
	var out outbox
	out.broadcast(animationMsg(id, tag), id)
	r.flush(out)
}

func (r *Room) damage(id SessionID, amount int, by SessionID) {
	if !r.isMember(id) {
		r.dropStale(id, EvReceiveDamage)
		return
	}
	res, ok := r.registry.ApplyDamage(id, amount)
	if !ok {
		r.dropStale(id, EvReceiveDamage)
		return
	}
	if res.Ignored {
		Log.Debugf("damage to eliminated player ignored: room=%s id=%s", r.ID, id)
		return
	}
	var out outbox
	out.unicast(id, healthMsg(res.Health))
	if res.Killed {
		out.broadcast(eliminatedMsg(id), "")
		if by != "" && by != id && r.isMember(by) {
			if score, ok := r.registry.AddScore(by, 1); ok {
				out.broadcast(scoreMsg(by, score), "")
			}
		}
		Log.Infof("player eliminated: room=%s id=%s by=%s", r.ID, id, by)
	}
	r.flush(out)
}

func (r *Room) dropStale(id SessionID, kind string) {
	r.metrics.StaleDropped.Inc()
	Log.Debugf("stale %s dropped: room=%s id=%s", kind, r.ID, id)
}

func (r *Room) isMember(id SessionID) bool {
	return slices.Contains(r.members, id)
}

// roster 按加入顺序拼接注册表中的玩家状态
func (r *Room) roster() []PlayerState {
	roster := make([]PlayerState, 0, len(r.members))
	for _, id := range r.members {
		if p, ok := r.registry.Get(id); ok {
			roster = append(roster, p.State())
		}
	}
	return roster
}

// standings 分数从高到低，同分保持加入顺序
func (r *Room) standings() []PlayerState {
	s := r.roster()
	sort.SliceStable(s, func(i, j int) bool { return s[i].Score > s[j].Score })
	return s
}

// releaseIfEmpty 房间清空后立即回收：从管理器摘除，actor 在本条命令结束后退出
func (r *Room) releaseIfEmpty() {
	if len(r.members) > 0 || r.closed {
		return
	}
	r.closed = true
	if r.onEmpty != nil {
		r.onEmpty(r)
	}
}

// delivery 一条待投递消息；to 非空为单播，否则广播给 exclude 以外的成员
type delivery struct {
	msg     Message
	to      SessionID
	exclude SessionID
}

// outbox 状态修改完成后才统一投递
type outbox []delivery

func (o *outbox) unicast(to SessionID, msg Message) {
	*o = append(*o, delivery{msg: msg, to: to})
}

func (o *outbox) broadcast(msg Message, exclude SessionID) {
	*o = append(*o, delivery{msg: msg, exclude: exclude})
}

// flush 每条消息只序列化一次；投递是非阻塞入队，慢客户端不会拖住房间
func (r *Room) flush(o outbox) {
	for _, d := range o {
		b, err := Encode(d.msg)
		if err != nil {
			Log.Errorf("encode %s: %v", d.msg.Type, err)
			continue
		}
		if d.to != "" {
			r.deliver(d.to, b)
			continue
		}
		for _, id := range r.members {
			if id != d.exclude {
				r.deliver(id, b)
			}
		}
	}
}

func (r *Room) deliver(id SessionID, b []byte) {
	if !r.out.Send(id, b) {
		r.metrics.OutboundDropped.Inc()
	}
}
