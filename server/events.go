package server

import (
	"encoding/json"
	"strings"
	"unicode"
	"unicode/utf8"
)

// 入站事件类型
const (
	EvJoinRoom        = "joinRoom"
	EvUpdatePosition  = "updatePosition"
	EvUpdateAnimation = "updateAnimation"
	EvReceiveDamage   = "receiveDamage"
	EvLeaveRoom       = "leaveRoom"
)

// 出站事件类型
const (
	MsgWelcome          = "welcome"
	MsgRoomRoster       = "roomRoster"
	MsgPlayerJoined     = "playerJoined"
	MsgPlayerMoved      = "playerMoved"
	MsgAnimationChanged = "playerAnimationChanged"
	MsgHealthChanged    = "healthChanged"
	MsgPlayerEliminated = "playerEliminated"
	MsgPlayerLeft       = "playerLeft"
	MsgRoomFull         = "roomFull"
	MsgInvalidRequest   = "invalidRequest"
	MsgNotice           = "notice"
	MsgScoreChanged     = "scoreChanged"
	MsgTimeUpdated      = "timeUpdated"
	MsgRoundEnded       = "roundEnded"
)

const (
	maxRoomIDLen      = 64
	maxDisplayNameLen = 32
	maxTagLen         = 64
)

// envelope 所有 WebSocket 文本帧的外层结构
// 示例：{"type":"updatePosition","data":{"position":{"x":1,"y":0,"z":2},"rotation":{"x":0,"y":1.5,"z":0}}}
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Inbound 入站事件（封闭集合，解码时已完成校验）
type Inbound interface {
	inboundType() string
}

type JoinRoom struct {
	RoomID      RoomID
	DisplayName string
}

type UpdatePosition struct {
	Position Vec3
	Rotation Vec3
}

type UpdateAnimation struct {
	Tag string
}

// ReceiveDamage 客户端上报自己受到的伤害；By 为可选的攻击者
type ReceiveDamage struct {
	Amount int
	By     SessionID
}

type LeaveRoom struct{}

func (JoinRoom) inboundType() string        { return EvJoinRoom }
func (UpdatePosition) inboundType() string  { return EvUpdatePosition }
func (UpdateAnimation) inboundType() string { return EvUpdateAnimation }
func (ReceiveDamage) inboundType() string   { return EvReceiveDamage }
func (LeaveRoom) inboundType() string       { return EvLeaveRoom }

// DecodeInbound 解析并校验一帧入站消息，字段缺失或非法时返回 *RequestError
func DecodeInbound(b []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, badRequest(ReasonMalformed, "%v", err)
	}
	switch env.Type {
	case EvJoinRoom:
		var w struct {
			RoomID      *string `json:"roomId"`
			DisplayName *string `json:"displayName"`
		}
		if err := decodeData(env.Data, &w); err != nil {
			return nil, err
		}
		if w.RoomID == nil || !validRoomID(*w.RoomID) {
			return nil, badRequest(ReasonInvalidRoom, "roomId %q", deref(w.RoomID))
		}
		name, ok := normalizeName(deref(w.DisplayName))
		if w.DisplayName == nil || !ok {
			return nil, badRequest(ReasonInvalidName, "displayName %q", deref(w.DisplayName))
		}
		return JoinRoom{RoomID: RoomID(*w.RoomID), DisplayName: name}, nil

	case EvUpdatePosition:
		var w struct {
			Position *Vec3 `json:"position"`
			Rotation *Vec3 `json:"rotation"`
		}
		if err := decodeData(env.Data, &w); err != nil {
			return nil, err
		}
		if w.Position == nil || w.Rotation == nil {
			return nil, badRequest(ReasonMissingField, "position and rotation are required")
		}
		return UpdatePosition{Position: *w.Position, Rotation: *w.Rotation}, nil

	case EvUpdateAnimation:
		var w struct {
			Tag *string `json:"tag"`
		}
		if err := decodeData(env.Data, &w); err != nil {
			return nil, err
		}
		if w.Tag == nil || *w.Tag == "" || len(*w.Tag) > maxTagLen {
			return nil, badRequest(ReasonInvalidTag, "tag %q", deref(w.Tag))
		}
		return UpdateAnimation{Tag: *w.Tag}, nil

	case EvReceiveDamage:
		var w struct {
			Amount *int    `json:"amount"`
			By     *string `json:"by"`
		}
		if err := decodeData(env.Data, &w); err != nil {
			return nil, err
		}
		if w.Amount == nil || *w.Amount < 0 {
			return nil, badRequest(ReasonInvalidAmount, "amount must be a non-negative integer")
		}
		return ReceiveDamage{Amount: *w.Amount, By: SessionID(deref(w.By))}, nil

	case EvLeaveRoom:
		return LeaveRoom{}, nil

	case "":
		return nil, badRequest(ReasonMissingField, "type is required")
	}
	return nil, badRequest(ReasonUnknownType, "%q", env.Type)
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return badRequest(ReasonMissingField, "data is required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return badRequest(ReasonMalformed, "%v", err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func validRoomID(id string) bool {
	if id == "" || len(id) > maxRoomIDLen {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

func normalizeName(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxDisplayNameLen {
		return "", false
	}
	for _, c := range name {
		if unicode.IsControl(c) {
			return "", false
		}
	}
	return name, true
}

// encodeJoin 构造一帧 joinRoom（用于 ?room=&name= 自动加入）
func encodeJoin(room, name string) []byte {
	data, _ := json.Marshal(map[string]string{"roomId": room, "displayName": name})
	b, _ := json.Marshal(envelope{Type: EvJoinRoom, Data: data})
	return b
}

// Message 出站事件
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Encode 序列化为文本帧
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

type idData struct {
	ID SessionID `json:"id"`
}

type rosterData struct {
	Members []PlayerState `json:"members"`
}

type joinedData struct {
	ID          SessionID   `json:"id"`
	DisplayName string      `json:"displayName"`
	State       PlayerState `json:"state"`
}

type movedData struct {
	ID       SessionID `json:"id"`
	Position Vec3      `json:"position"`
	Rotation Vec3      `json:"rotation"`
}

type animationData struct {
	ID  SessionID `json:"id"`
	Tag string    `json:"tag"`
}

type healthData struct {
	Health int `json:"health"`
}

type roomFullData struct {
	RoomID RoomID `json:"roomId"`
}

type reasonData struct {
	Reason string `json:"reason"`
}

type noticeData struct {
	Text string `json:"text"`
}

type scoreData struct {
	ID    SessionID `json:"id"`
	Score int       `json:"score"`
}

type timeData struct {
	SecondsLeft int `json:"secondsLeft"`
}

type standingsData struct {
	Standings []PlayerState `json:"standings"`
}

func welcomeMsg(id SessionID) Message { return Message{MsgWelcome, idData{id}} }

func rosterMsg(members []PlayerState) Message {
	return Message{MsgRoomRoster, rosterData{members}}
}

func joinedMsg(p Player) Message {
	return Message{MsgPlayerJoined, joinedData{p.ID, p.DisplayName, p.State()}}
}

func movedMsg(id SessionID, pos, rot Vec3) Message {
	return Message{MsgPlayerMoved, movedData{id, pos, rot}}
}

func animationMsg(id SessionID, tag string) Message {
	return Message{MsgAnimationChanged, animationData{id, tag}}
}

func healthMsg(h int) Message              { return Message{MsgHealthChanged, healthData{h}} }
func eliminatedMsg(id SessionID) Message   { return Message{MsgPlayerEliminated, idData{id}} }
func leftMsg(id SessionID) Message         { return Message{MsgPlayerLeft, idData{id}} }
func roomFullMsg(room RoomID) Message      { return Message{MsgRoomFull, roomFullData{room}} }
func invalidMsg(reason string) Message     { return Message{MsgInvalidRequest, reasonData{reason}} }
func noticeMsg(text string) Message        { return Message{MsgNotice, noticeData{text}} }
func timeMsg(secondsLeft int) Message      { return Message{MsgTimeUpdated, timeData{secondsLeft}} }
func scoreMsg(id SessionID, s int) Message { return Message{MsgScoreChanged, scoreData{id, s}} }

func roundEndedMsg(standings []PlayerState) Message {
	return Message{MsgRoundEnded, standingsData{standings}}
}

// NoticeMessage 管理端公告
func NoticeMessage(text string) Message { return noticeMsg(text) }
