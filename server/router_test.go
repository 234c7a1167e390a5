package server

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRouter_RoomCapacity 6 人满员后第 7 人收到 roomFull，名单不变
func TestRouter_RoomCapacity(t *testing.T) {
	f := newFixture(t, 6)
	ctx := context.Background()

	for i := 1; i <= 6; i++ {
		f.join(t, SessionID(fmt.Sprintf("s%d", i)), "r1", fmt.Sprintf("P%d", i))
	}

	err := f.router.Dispatch(ctx, "s7", JoinRoom{RoomID: "r1", DisplayName: "P7"})
	require.ErrorIs(t, err, ErrRoomFull)

	full := f.rec.of("s7", MsgRoomFull)
	require.Len(t, full, 1)
	assert.Equal(t, RoomID("r1"), decodeAs[roomFullData](t, full[0]).RoomID)

	assert.Equal(t, []string{"P1", "P2", "P3", "P4", "P5", "P6"}, f.names(t, "r1"))
	_, ok := f.registry.Get("s7")
	assert.False(t, ok, "failed join must not create a registry entry")
	assert.Equal(t, 6, f.registry.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RejectedTotal.WithLabelValues(ReasonRoomFull)))
}

// TestRouter_JoinBroadcasts 新玩家收到完整名单，其他人收到 playerJoined
func TestRouter_JoinBroadcasts(t *testing.T) {
	f := newFixture(t, 6)

	f.join(t, "s1", "r1", "P1")
	f.join(t, "s2", "r1", "P2")

	rosters := f.rec.of("s2", MsgRoomRoster)
	require.Len(t, rosters, 1)
	members := decodeAs[rosterData](t, rosters[0]).Members
	require.Len(t, members, 2)
	assert.Equal(t, "P1", members[0].DisplayName)
	assert.Equal(t, "P2", members[1].DisplayName)
	assert.Equal(t, MaxHealth, members[1].Health)

	joined := f.rec.of("s1", MsgPlayerJoined)
	require.Len(t, joined, 1)
	data := decodeAs[joinedData](t, joined[0])
	assert.Equal(t, SessionID("s2"), data.ID)
	assert.Equal(t, "P2", data.DisplayName)
	assert.Equal(t, MaxHealth, data.State.Health)

	assert.Empty(t, f.rec.of("s2", MsgPlayerJoined), "joiner is excluded from its own playerJoined")
	assert.Len(t, f.rec.of("s1", MsgRoomRoster), 1, "existing member only got its own roster")
	assert.Len(t, f.rec.of("s1", MsgNotice), 2)
}

// TestRouter_Damage 40、40、30 → 60、20、0 并淘汰
func TestRouter_Damage(t *testing.T) {
	f := newFixture(t, 6)
	ctx := context.Background()
	f.join(t, "s1", "r1", "P1")
	f.join(t, "s2", "r1", "P2")

	p, _ := f.registry.Get("s1")
	require.Equal(t, 100, p.Health)

	for _, amount := range []int{40, 40, 30} {
		require.NoError(t, f.router.Dispatch(ctx, "s1", ReceiveDamage{Amount: amount}))
	}

	var healths []int
	for _, fr := range f.rec.of("s1", MsgHealthChanged) {
		healths = append(healths, decodeAs[healthData](t, fr).Health)
	}
	assert.Equal(t, []int{60, 20, 0}, healths)
	assert.Empty(t, f.rec.of("s2", MsgHealthChanged), "health goes to the damaged player only")

	for _, id := range []SessionID{"s1", "s2"} {
		elim := f.rec.of(id, MsgPlayerEliminated)
		require.Len(t, elim, 1, "elimination reaches %s", id)
		assert.Equal(t, SessionID("s1"), decodeAs[idData](t, elim[0]).ID)
	}

	p, ok := f.registry.Get("s1")
	require.True(t, ok)
	assert.Equal(t, 0, p.Health)
	assert.Equal(t, 0, p.Score)
	assert.True(t, p.Dead)
}

// TestRouter_DamageAfterElimination 已淘汰的玩家再受伤害时不产生任何消息
func TestRouter_DamageAfterElimination(t *testing.T) {
	f := newFixture(t, 6)
	ctx := context.Background()
	f.join(t, "s1", "r1", "P1")
	f.join(t, "s2", "r1", "P2")
	require.NoError(t, f.router.Dispatch(ctx, "s1", ReceiveDamage{Amount: 100}))

	f.rec.reset()
	require.NoError(t, f.router.Dispatch(ctx, "s1", ReceiveDamage{Amount: 10, By: "s2"}))
	assert.Empty(t, f.rec.types("s1"))
	assert.Empty(t, f.rec.types("s2"))

	p2, _ := f.registry.Get("s2")
	assert.Equal(t, 0, p2.Score, "no credit for hitting an eliminated player")
}

func TestRouter_KillCredit(t *testing.T) {
	f := newFixture(t, 6)
	ctx := context.Background()
	f.join(t, "s1", "r1", "P1")
	f.join(t, "s2", "r1", "P2")
	f.join(t, "s3", "r2", "Other")

	// 不同房间的攻击者不得分
	require.NoError(t, f.router.Dispatch(ctx, "s1", ReceiveDamage{Amount: 100, By: "s3"}))
	p3, _ := f.registry.Get("s3")
	assert.Equal(t, 0, p3.Score)

	require.NoError(t, f.router.Dispatch(ctx, "s2", ReceiveDamage{Amount: 100, By: "s1"}))
	assert.Empty(t, f.rec.of("s2", MsgScoreChanged), "dead attacker scores nothing")

	require.True(t, f.registry.Revive("s1"))
	require.True(t, f.registry.Revive("s2"))

	require.NoError(t, f.router.Dispatch(ctx, "s2", ReceiveDamage{Amount: 100, By: "s1"}))
	scores := f.rec.of("s2", MsgScoreChanged)
	require.Len(t, scores, 1)
	assert.Equal(t, scoreData{ID: "s1", Score: 1}, decodeAs[scoreData](t, scores[0]))
}

// TestRouter_DisconnectThenStaleUpdate 断线后迟到的位置更新被丢弃
func TestRouter_DisconnectThenStaleUpdate(t *testing.T) {
	f := newFixture(t, 6)
	ctx := context.Background()
	f.join(t, "s1", "r1", "P1")
	f.join(t, "s2", "r1", "P2")

	f.rec.close("s1")
	f.router.Disconnect("s1")

	assert.Equal(t, []string{"P2"}, f.names(t, "r1"))
	left := f.rec.of("s2", MsgPlayerLeft)
	require.Len(t, left, 1)
	assert.Equal(t, SessionID("s1"), decodeAs[idData](t, left[0]).ID)

	f.rec.reset()
	err := f.router.Dispatch(ctx, "s1", UpdatePosition{Position: Vec3{X: 9}})
	assert.ErrorIs(t, err, ErrNotInRoom)
	assert.Empty(t, f.rec.of("s2", MsgPlayerMoved))
	_, ok := f.registry.Get("s1")
	assert.False(t, ok, "stale update must not recreate the player")

	// 直接打到房间 goroutine 的过期更新同样静默丢弃
	room, ok := f.rooms.Room("r1")
	require.True(t, ok)
	require.NoError(t, room.Move(ctx, "s1", Vec3{X: 9}, Vec3{}))
	assert.Empty(t, f.rec.of("s2", MsgPlayerMoved))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StaleDropped))
	assert.Equal(t, 1, f.registry.Len())
}

// TestRouter_UpdateBeforeJoin 未加入房间时的位置更新
func TestRouter_UpdateBeforeJoin(t *testing.T) {
	f := newFixture(t, 6)

	err := f.router.Dispatch(context.Background(), "s1", UpdatePosition{Position: Vec3{X: 1}})
	require.ErrorIs(t, err, ErrNotInRoom)

	invalid := f.rec.of("s1", MsgInvalidRequest)
	require.Len(t, invalid, 1)
	assert.Equal(t, ReasonNotInRoom, decodeAs[reasonData](t, invalid[0]).Reason)
	assert.Equal(t, []string{MsgInvalidRequest}, f.rec.types("s1"))
	assert.Equal(t, 0, f.registry.Len())
	assert.Empty(t, f.rooms.RoomIDs())
}

func TestRouter_AlreadyJoined(t *testing.T) {
	f := newFixture(t, 6)
	ctx := context.Background()
	f.join(t, "s1", "r1", "P1")

	for _, room := range []RoomID{"r1", "r2"} {
		err := f.router.Dispatch(ctx, "s1", JoinRoom{RoomID: room, DisplayName: "P1"})
		require.ErrorIs(t, err, ErrAlreadyJoined)
	}
	invalid := f.rec.of("s1", MsgInvalidRequest)
	require.Len(t, invalid, 2)
	assert.Equal(t, ReasonAlreadyJoined, decodeAs[reasonData](t, invalid[0]).Reason)

	assert.Equal(t, []string{"P1"}, f.names(t, "r1"))
	assert.Equal(t, []RoomID{"r1"}, f.rooms.RoomIDs(), "rejected join must not leave an empty room behind")
}

func TestRouter_MoveAndAnimateExcludeSender(t *testing.T) {
	f := newFixture(t, 6)
	ctx := context.Background()
	f.join(t, "s1", "r1", "P1")
	f.join(t, "s2", "r1", "P2")
	f.join(t, "s3", "r2", "P3")

	pos, rot := Vec3{X: 1, Y: 2, Z: 3}, Vec3{Y: 0.5}
	require.NoError(t, f.router.Dispatch(ctx, "s1", UpdatePosition{Position: pos, Rotation: rot}))
	require.NoError(t, f.router.Dispatch(ctx, "s1", UpdateAnimation{Tag: "run"}))

	moved := f.rec.of("s2", MsgPlayerMoved)
	require.Len(t, moved, 1)
	assert.Equal(t, movedData{ID: "s1", Position: pos, Rotation: rot}, decodeAs[movedData](t, moved[0]))
	anim := f.rec.of("s2", MsgAnimationChanged)
	require.Len(t, anim, 1)
	assert.Equal(t, animationData{ID: "s1", Tag: "run"}, decodeAs[animationData](t, anim[0]))

	assert.Empty(t, f.rec.of("s1", MsgPlayerMoved))
	assert.Empty(t, f.rec.of("s1", MsgAnimationChanged))
	assert.Empty(t, f.rec.of("s3", MsgPlayerMoved), "other rooms never see the update")

	p, _ := f.registry.Get("s1")
	assert.Equal(t, pos, p.Position)
	assert.Equal(t, "run", p.Animation)
}

// TestRouter_LeaveIsIdempotent leaveRoom 与断线重复发生时只产生一次离开效果
func TestRouter_LeaveIsIdempotent(t *testing.T) {
	f := newFixture(t, 6)
	ctx := context.Background()
	f.join(t, "s1", "r1", "P1")
	f.join(t, "s2", "r1", "P2")

	require.NoError(t, f.router.Dispatch(ctx, "s1", LeaveRoom{}))
	err := f.router.Dispatch(ctx, "s1", LeaveRoom{})
	assert.ErrorIs(t, err, ErrNotInRoom)
	f.router.Disconnect("s1")
	f.router.Disconnect("s1")

	assert.Len(t, f.rec.of("s2", MsgPlayerLeft), 1)
	assert.Equal(t, []string{"P2"}, f.names(t, "r1"))

	// 离开后可以重新加入
	f.join(t, "s1", "r2", "P1")
	assert.Equal(t, []string{"P1"}, f.names(t, "r2"))
}

func TestRouter_EmptyRoomIsRemoved(t *testing.T) {
	f := newFixture(t, 6)
	f.join(t, "s1", "r1", "P1")
	room, ok := f.rooms.Room("r1")
	require.True(t, ok)

	f.router.Disconnect("s1")
	<-room.Done()

	_, ok = f.rooms.Room("r1")
	assert.False(t, ok)
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.ActiveRooms))

	// 同名房间重新创建
	f.join(t, "s2", "r1", "P2")
	assert.Equal(t, []string{"P2"}, f.names(t, "r1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ActiveRooms))
}

func TestRouter_HandleRejectsMalformed(t *testing.T) {
	f := newFixture(t, 6)
	ctx := context.Background()

	f.router.Handle(ctx, "s1", []byte(`{"type":"joinRoom","data":{"roomId":"r1","displayName":""}}`))
	f.router.Handle(ctx, "s1", []byte(`{{{`))

	invalid := f.rec.of("s1", MsgInvalidRequest)
	require.Len(t, invalid, 2)
	assert.Equal(t, ReasonInvalidName, decodeAs[reasonData](t, invalid[0]).Reason)
	assert.Equal(t, ReasonMalformed, decodeAs[reasonData](t, invalid[1]).Reason)
	assert.Equal(t, 0, f.registry.Len())

	f.router.Handle(ctx, "s1", []byte(`{"type":"joinRoom","data":{"roomId":"r1","displayName":"P1"}}`))
	assert.Equal(t, []string{"P1"}, f.names(t, "r1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.EventsTotal.WithLabelValues(EvJoinRoom)))
}

// TestRouter_ConcurrentJoinLastSlot 并发抢最后的空位，只有容量内的人成功
func TestRouter_ConcurrentJoinLastSlot(t *testing.T) {
	const capacity, contenders = 6, 50
	f := newFixture(t, capacity)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		success int32
		full    int32
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := f.router.Dispatch(ctx, SessionID(fmt.Sprintf("s%d", i)), JoinRoom{RoomID: "r1", DisplayName: fmt.Sprintf("P%d", i)})
			switch {
			case err == nil:
				atomic.AddInt32(&success, 1)
			case assert.ErrorIs(t, err, ErrRoomFull):
				atomic.AddInt32(&full, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(capacity), success)
	assert.Equal(t, int32(contenders-capacity), full)
	assert.Len(t, f.names(t, "r1"), capacity)
	assert.Equal(t, capacity, f.registry.Len())
}

// TestRouter_RoomsInParallel 不同房间互不影响
func TestRouter_RoomsInParallel(t *testing.T) {
	const rooms, perRoom = 20, 4
	f := newFixture(t, perRoom)
	ctx := context.Background()

	var wg sync.WaitGroup
	for r := 0; r < rooms; r++ {
		for p := 0; p < perRoom; p++ {
			wg.Add(1)
			go func(r, p int) {
				defer wg.Done()
				id := SessionID(fmt.Sprintf("s%d-%d", r, p))
				room := RoomID(fmt.Sprintf("r%d", r))
				assert.NoError(t, f.router.Dispatch(ctx, id, JoinRoom{RoomID: room, DisplayName: string(id)}))
				for i := 0; i < 10; i++ {
					assert.NoError(t, f.router.Dispatch(ctx, id, UpdatePosition{Position: Vec3{X: float64(i)}}))
				}
			}(r, p)
		}
	}
	wg.Wait()

	assert.Len(t, f.rooms.RoomIDs(), rooms)
	assert.Equal(t, rooms*perRoom, f.registry.Len())
	for r := 0; r < rooms; r++ {
		assert.Len(t, f.names(t, RoomID(fmt.Sprintf("r%d", r))), perRoom)
	}
}

// TestRouter_PerSenderOrdering 同一发送者的连续更新在接收方保持顺序
func TestRouter_PerSenderOrdering(t *testing.T) {
	f := newFixture(t, 6)
	ctx := context.Background()
	f.join(t, "s1", "r1", "P1")
	f.join(t, "s2", "r1", "P2")
	f.join(t, "s3", "r1", "P3")

	const n = 100
	var wg sync.WaitGroup
	for _, sender := range []SessionID{"s1", "s2"} {
		wg.Add(1)
		go func(sender SessionID) {
			defer wg.Done()
			for i := 0; i < n; i++ {
				assert.NoError(t, f.router.Dispatch(ctx, sender, UpdatePosition{Position: Vec3{X: float64(i)}}))
			}
		}(sender)
	}
	wg.Wait()

	last := map[SessionID]float64{"s1": -1, "s2": -1}
	count := map[SessionID]int{}
	for _, fr := range f.rec.of("s3", MsgPlayerMoved) {
		m := decodeAs[movedData](t, fr)
		require.Greater(t, m.Position.X, last[m.ID], "updates from %s out of order", m.ID)
		last[m.ID] = m.Position.X
		count[m.ID]++
	}
	assert.Equal(t, n, count["s1"])
	assert.Equal(t, n, count["s2"])
}
