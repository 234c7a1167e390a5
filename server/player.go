package server

// SessionID 连接会话标识，在进程生命周期内唯一
type SessionID string

// RoomID 房间标识
type RoomID string

// MaxHealth 满血值，新玩家与复活后的初始血量
const MaxHealth = 100

// Vec3 位置或朝向（服务端只存储与转发，不做模拟）
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Player 玩家权威状态，字段只由 Registry 修改
type Player struct {
	ID          SessionID
	DisplayName string
	Position    Vec3
	Rotation    Vec3
	Health      int
	Score       int
	Animation   string
	Dead        bool
	RoomID      RoomID
}

// PlayerState 为广播给客户端的公开状态
type PlayerState struct {
	ID          SessionID `json:"id"`
	DisplayName string    `json:"displayName"`
	Position    Vec3      `json:"position"`
	Rotation    Vec3      `json:"rotation"`
	Health      int       `json:"health"`
	Score       int       `json:"score"`
	Animation   string    `json:"animation"`
	Dead        bool      `json:"dead"`
}

// State 投影为公开状态
func (p Player) State() PlayerState {
	return PlayerState{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		Position:    p.Position,
		Rotation:    p.Rotation,
		Health:      p.Health,
		Score:       p.Score,
		Animation:   p.Animation,
		Dead:        p.Dead,
	}
}
