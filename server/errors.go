package server

import (
	"errors"
	"fmt"
)

var (
	// 容量错误
	ErrRoomFull = errors.New("room full")

	// 时序错误
	ErrAlreadyJoined = errors.New("already joined a room")
	ErrNotInRoom     = errors.New("not in a room")

	// 校验错误
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidName    = fmt.Errorf("%w: display name", ErrInvalidRequest)
	ErrInvalidRoom    = fmt.Errorf("%w: room id", ErrInvalidRequest)

	ErrDuplicateSession = errors.New("session already registered")
	ErrShuttingDown     = errors.New("server shutting down")

	// 房间 actor 已退出（房间被清空回收），调用方应重新获取房间
	errRoomClosed = errors.New("room closed")
)

// 返回给客户端的 invalidRequest 原因码
const (
	ReasonAlreadyJoined = "already_joined"
	ReasonNotInRoom     = "not_in_room"
	ReasonInvalidName   = "invalid_name"
	ReasonInvalidRoom   = "invalid_room"
	ReasonInvalidAmount = "invalid_amount"
	ReasonInvalidTag    = "invalid_tag"
	ReasonMissingField  = "missing_field"
	ReasonMalformed     = "malformed"
	ReasonUnknownType   = "unknown_type"
	ReasonShuttingDown  = "shutting_down"

	// 只用于指标标签，客户端收到的是 roomFull 事件
	ReasonRoomFull = "room_full"
)

// RequestError 入站事件解码或校验失败
type RequestError struct {
	Reason string
	Detail string
}

func (e *RequestError) Error() string {
	if e.Detail == "" {
		return "invalid request: " + e.Reason
	}
	return "invalid request: " + e.Reason + ": " + e.Detail
}

// Unwrap 让 errors.Is(err, ErrInvalidRequest) 成立；名字与房间号错误额外对应各自的哨兵
func (e *RequestError) Unwrap() error {
	switch e.Reason {
	case ReasonInvalidName:
		return ErrInvalidName
	case ReasonInvalidRoom:
		return ErrInvalidRoom
	}
	return ErrInvalidRequest
}

// roomFullError 携带房间号的 ErrRoomFull
type roomFullError struct {
	room RoomID
}

func (e *roomFullError) Error() string { return "room " + string(e.room) + " is full" }
func (e *roomFullError) Unwrap() error { return ErrRoomFull }

func (e *roomFullError) roomID() RoomID {
	if e == nil {
		return ""
	}
	return e.room
}

func badRequest(reason, format string, args ...any) *RequestError {
	return &RequestError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// reasonFor 将错误映射为原因码；ErrRoomFull 单独以 roomFull 事件回复，不经过这里
func reasonFor(err error) string {
	var re *RequestError
	switch {
	case errors.As(err, &re):
		return re.Reason
	case errors.Is(err, ErrAlreadyJoined), errors.Is(err, ErrDuplicateSession):
		return ReasonAlreadyJoined
	case errors.Is(err, ErrNotInRoom):
		return ReasonNotInRoom
	case errors.Is(err, ErrShuttingDown), errors.Is(err, errRoomClosed):
		return ReasonShuttingDown
	}
	return ReasonMalformed
}
