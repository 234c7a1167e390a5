package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

type roomView struct {
	Room     RoomID        `json:"room"`
	Capacity int           `json:"capacity"`
	Members  []PlayerState `json:"members"`
}

// HandleAdminRooms 输出房间名单
// GET /admin/rooms             所有房间
// GET /admin/rooms?room=room-1 指定房间（不存在时 404，不会创建）
func (s *Server) HandleAdminRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ids := s.Rooms.RoomIDs()
	if id := r.URL.Query().Get("room"); id != "" {
		if _, ok := s.Rooms.Room(RoomID(id)); !ok {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		ids = []RoomID{RoomID(id)}
	}

	views := make([]roomView, 0, len(ids))
	for _, id := range ids {
		room, ok := s.Rooms.Room(id)
		if !ok {
			continue // 期间已被回收
		}
		members, err := room.Members(r.Context())
		if errors.Is(err, errRoomClosed) {
			continue
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		views = append(views, roomView{Room: id, Capacity: room.Capacity(), Members: members})
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": views, "sessions": s.Gateway.SessionCount()})
}

// HandleAdminAnnounce 向房间内所有成员推送公告
// POST /admin/announce?room=room-1  载荷 {"text":"..."}
func (s *Server) HandleAdminAnnounce(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	roomID := RoomID(r.URL.Query().Get("room"))
	if _, ok := s.Rooms.Room(roomID); !ok {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Text) == "" {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.Rooms.Broadcast(r.Context(), roomID, NoticeMessage(body.Text), ""); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	Log.Infof("announcement sent: room=%s text=%q", roomID, body.Text)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// HandleAdminConfig 提供配置的读取与房间规则的热更新
// GET  /admin/config  返回当前生效的配置
// POST /admin/config  以 JSON 载荷更新部分字段，只影响之后新建的房间
// 示例：{"roomCapacity":8,"roundDuration":90000000000}
func (s *Server) HandleAdminConfig(w http.ResponseWriter, r *http.Request) {
	type rules struct {
		RoomCapacity  *int           `json:"roomCapacity,omitempty"`
		RoundDuration *time.Duration `json:"roundDuration,omitempty"`
	}

	switch r.Method {
	case http.MethodGet:
		cur := s.cfg
		opts := s.Rooms.Options()
		cur.RoomCapacity = opts.Capacity
		cur.RoundDuration = opts.RoundDuration
		writeJSON(w, http.StatusOK, cur)
	case http.MethodPost:
		var body rules
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		opts := s.Rooms.Options()
		if body.RoomCapacity != nil {
			if *body.RoomCapacity < 1 {
				http.Error(w, "roomCapacity must be positive", http.StatusBadRequest)
				return
			}
			opts.Capacity = *body.RoomCapacity
		}
		if body.RoundDuration != nil {
			if *body.RoundDuration < 0 {
				http.Error(w, "roundDuration must not be negative", http.StatusBadRequest)
				return
			}
			opts.RoundDuration = *body.RoundDuration
		}
		s.Rooms.SetOptions(opts)
		Log.Infof("room rules updated: capacity=%d round=%v", opts.Capacity, opts.RoundDuration)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
