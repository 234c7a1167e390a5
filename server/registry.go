package server

import (
	"fmt"
	"sync"
)

// DamageResult 一次伤害结算后的结果
type DamageResult struct {
	Health  int
	Killed  bool // 本次伤害触发了死亡
	Ignored bool // 玩家已死亡，本次伤害未结算
}

// Registry 玩家注册表：会话标识 -> 玩家状态，是血量、位置、朝向、动画、分数的唯一来源。
// mu 只保护 map 本身与字段读写的可见性；同一玩家的修改总是由其所在房间的 actor 串行发起。
type Registry struct {
	mu      sync.RWMutex
	players map[SessionID]*Player
}

func NewRegistry() *Registry {
	return &Registry{players: make(map[SessionID]*Player)}
}

// Register 以默认状态创建玩家（零位置、满血、空动画、0 分）
func (r *Registry) Register(id SessionID, displayName string, room RoomID) (Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.players[id]; ok {
		return Player{}, fmt.Errorf("register %s: %w", id, ErrDuplicateSession)
	}
	p := &Player{
		ID:          id,
		DisplayName: displayName,
		Health:      MaxHealth,
		RoomID:      room,
	}
	r.players[id] = p
	return *p, nil
}

// Get 返回玩家副本
func (r *Registry) Get(id SessionID) (Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.players[id]
	if !ok {
		return Player{}, false
	}
	return *p, true
}

// ApplyPositionUpdate 更新位置与朝向；玩家不存在时静默忽略（断线后乱序到达的更新）
func (r *Registry) ApplyPositionUpdate(id SessionID, position, rotation Vec3) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[id]
	if !ok {
		return false
	}
	p.Position = position
	p.Rotation = rotation
	return true
}

// ApplyAnimation 更新动画标签，语义同 ApplyPositionUpdate
func (r *Registry) ApplyAnimation(id SessionID, tag string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[id]
	if !ok {
		return false
	}
	p.Animation = tag
	return true
}

// ApplyDamage 扣血并裁剪到 [0,100]。血量归零时进入死亡：血量与分数清零。
// 已死亡的玩家不再结算伤害。
func (r *Registry) ApplyDamage(id SessionID, amount int) (DamageResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[id]
	if !ok {
		return DamageResult{}, false
	}
	if p.Dead {
		return DamageResult{Health: p.Health, Ignored: true}, true
	}
	p.Health = clampHealth(p.Health - amount)
	if p.Health <= 0 {
		p.Health = 0
		p.Score = 0
		p.Dead = true
		return DamageResult{Health: 0, Killed: true}, true
	}
	return DamageResult{Health: p.Health}, true
}

// AddScore 给存活玩家加分，返回新分数
func (r *Registry) AddScore(id SessionID, delta int) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[id]
	if !ok || p.Dead {
		return 0, false
	}
	p.Score += delta
	if p.Score < 0 {
		p.Score = 0
	}
	return p.Score, true
}

// Revive 新一局开始：满血、复活、分数清零
func (r *Registry) Revive(id SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[id]
	if !ok {
		return false
	}
	p.Health = MaxHealth
	p.Score = 0
	p.Dead = false
	return true
}

// Remove 幂等删除
func (r *Registry) Remove(id SessionID) {
	r.mu.Lock()
	delete(r.players, id)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

func clampHealth(h int) int {
	if h < 0 {
		return 0
	}
	if h > MaxHealth {
		return MaxHealth
	}
	return h
}
