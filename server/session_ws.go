package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"Anicut/core/auth"
	"Anicut/core/timeline"
	"Anicut/logger"
	"Anicut/model"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
)

// 会话消息类型
const (
	MsgPointerDown    = "pointer_down"
	MsgPointerMove    = "pointer_move"
	MsgPointerUp      = "pointer_up"
	MsgSeek           = "seek"
	MsgPlay           = "play"
	MsgPause          = "pause"
	MsgSelect         = "select"
	MsgClearSelection = "clear_selection"
	MsgSelectMedia    = "select_media"
	MsgState          = "state"

	EventDragStart   = "drag_start"
	EventDrag        = "drag"
	EventResizeStart = "resize_start"
	EventResize      = "resize"
	EventCommitted   = "committed"
	EventState       = "state"
	EventError       = "error"

	GestureDrag   = "drag"
	GestureResize = "resize"
)

var errNoGesture = errors.New("no active gesture")

// SessionMessage 客户端发来的消息
type SessionMessage struct {
	Type       string  `json:"type"`
	Mode       string  `json:"mode,omitempty"`
	KeyframeID string  `json:"keyframeId,omitempty"`
	MediaID    string  `json:"mediaId,omitempty"`
	X          float64 `json:"x"`
	WidthPx    float64 `json:"widthPx,omitempty"`
	Seconds    float64 `json:"seconds"`
}

// SessionEvent 服务端推送的消息
type SessionEvent struct {
	Type       string                 `json:"type"`
	KeyframeID string                 `json:"keyframeId,omitempty"`
	OffsetPx   *float64               `json:"offsetPx,omitempty"`
	WidthPx    *float64               `json:"widthPx,omitempty"`
	Timestamp  *int64                 `json:"timestamp,omitempty"`
	Duration   *int64                 `json:"duration,omitempty"`
	Bounds     *timeline.Bounds       `json:"bounds,omitempty"`
	Keyframe   *model.Keyframe        `json:"keyframe,omitempty"`
	State      *timeline.SessionState `json:"state,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

func errorEvent(err error) SessionEvent {
	return SessionEvent{Type: EventError, Error: err.Error()}
}

func stateEvent(s *timeline.Session) SessionEvent {
	st := s.State()
	return SessionEvent{Type: EventState, State: &st}
}

// SessionWebSocketHandler 项目编辑会话：播放光标、选中与拖动手势
func (h *APIHandler) SessionWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Token required", http.StatusUnauthorized)
		return
	}
	claims, err := auth.ParseToken(token)
	if err != nil {
		logger.Warn("Invalid WebSocket token", logger.ErrorField(err))
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	r = r.WithContext(withUser(r.Context(), claims))
	project, ok := h.projectScope(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade WebSocket", logger.String("userID", claims.UserID), logger.ErrorField(err))
		return
	}

	sess := h.sessions.Open(uuid.NewString(), project.ID)
	defer func() {
		h.sessions.Close(sess.ID)
		conn.Close()
	}()
	logger.Info("会话已连接", logger.String("sessionId", sess.ID), logger.String("projectId", project.ID))

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// 连接只允许一个并发写者，所有写入经由 writeLoop
	writes := make(chan SessionEvent, 16)
	done := make(chan struct{})
	stopped := make(chan struct{})
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	go func() {
		defer close(stopped)
		h.writeLoop(conn, writes, done, ticker.C)
	}()
	defer close(done)

	send := func(ev SessionEvent) bool {
		select {
		case writes <- ev:
			return true
		case <-stopped:
			return false
		}
	}

	send(stateEvent(sess))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logger.Warn("WebSocket unexpected close", logger.String("sessionId", sess.ID), logger.ErrorField(err))
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg SessionMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			send(SessionEvent{Type: EventError, Error: "Invalid message format"})
			continue
		}
		for _, ev := range h.handleSessionMessage(r.Context(), sess, msg) {
			send(ev)
		}
	}

	// 连接断开时未松开的手势直接丢弃
	sess.EndGesture()
}

// eventConn writeLoop 用到的连接方法
type eventConn interface {
	SetWriteDeadline(t time.Time) error
	WriteJSON(v interface{}) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// writeLoop 串行写出事件并定时发送 ping，任一写入失败都关闭连接，读循环随之退出
func (h *APIHandler) writeLoop(conn eventConn, writes <-chan SessionEvent, done <-chan struct{}, ping <-chan time.Time) {
	for {
		select {
		case ev := <-writes:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				logger.Warn("写入会话消息失败", logger.ErrorField(err))
				conn.Close()
				return
			}
		case <-ping:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Warn("发送 ping 失败", logger.ErrorField(err))
				conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}

// handleSessionMessage 处理一条消息并返回要推送的事件
func (h *APIHandler) handleSessionMessage(ctx context.Context, sess *timeline.Session, msg SessionMessage) []SessionEvent {
	switch msg.Type {
	case MsgPointerDown:
		ev, err := h.pointerDown(ctx, sess, msg)
		if err != nil {
			return []SessionEvent{errorEvent(err)}
		}
		return []SessionEvent{ev}

	case MsgPointerMove:
		drag, resize := sess.Gesture()
		switch {
		case drag != nil:
			offset, ts := drag.Move(msg.X)
			return []SessionEvent{{Type: EventDrag, KeyframeID: drag.KeyframeID, OffsetPx: &offset, Timestamp: &ts}}
		case resize != nil:
			width, d := resize.Move(msg.X)
			return []SessionEvent{{Type: EventResize, KeyframeID: resize.KeyframeID, WidthPx: &width, Duration: &d}}
		}
		return []SessionEvent{errorEvent(errNoGesture)}

	case MsgPointerUp:
		kf, err := h.pointerUp(ctx, sess)
		if err != nil {
			return []SessionEvent{errorEvent(err)}
		}
		return []SessionEvent{{Type: EventCommitted, KeyframeID: kf.ID, Keyframe: kf}}

	case MsgSeek:
		sess.SetPlayerCurrentTimestamp(msg.Seconds)
	case MsgPlay:
		_ = sess.SetPlayerState(timeline.PlayerPlaying)
	case MsgPause:
		_ = sess.SetPlayerState(timeline.PlayerPaused)
	case MsgSelect:
		if msg.KeyframeID == "" {
			return []SessionEvent{{Type: EventError, Error: "keyframeId is required"}}
		}
		sess.SelectKeyframe(msg.KeyframeID)
	case MsgClearSelection:
		sess.ClearSelection()
	case MsgSelectMedia:
		sess.SetSelectedMediaID(msg.MediaID)
	case MsgState:
	default:
		return []SessionEvent{{Type: EventError, Error: "Unknown message type"}}
	}
	return []SessionEvent{stateEvent(sess)}
}

func (h *APIHandler) pointerDown(ctx context.Context, sess *timeline.Session, msg SessionMessage) (SessionEvent, error) {
	if msg.KeyframeID == "" || msg.WidthPx <= 0 {
		return SessionEvent{}, errors.New("keyframeId and widthPx are required")
	}
	if drag, resize := sess.Gesture(); drag != nil || resize != nil {
		return SessionEvent{}, timeline.ErrGestureInProgress
	}
	g := timeline.Geometry{WidthPx: msg.WidthPx, SpanMs: h.engine.Span()}

	if msg.Mode == GestureResize {
		rs, err := h.engine.BeginResize(ctx, msg.KeyframeID, g, msg.X)
		if err != nil {
			return SessionEvent{}, err
		}
		if err := h.gestureInProject(ctx, rs.TrackID, sess.ProjectID); err != nil {
			return SessionEvent{}, err
		}
		if err := sess.StartResize(rs); err != nil {
			return SessionEvent{}, err
		}
		return SessionEvent{Type: EventResizeStart, KeyframeID: rs.KeyframeID}, nil
	}

	ds, err := h.engine.BeginDrag(ctx, msg.KeyframeID, g, msg.X)
	if err != nil {
		return SessionEvent{}, err
	}
	if err := h.gestureInProject(ctx, ds.TrackID, sess.ProjectID); err != nil {
		return SessionEvent{}, err
	}
	if err := sess.StartDrag(ds); err != nil {
		return SessionEvent{}, err
	}
	b := ds.Bounds()
	return SessionEvent{Type: EventDragStart, KeyframeID: ds.KeyframeID, Bounds: &b}, nil
}

// gestureInProject 手势只能作用于会话所属项目的片段
func (h *APIHandler) gestureInProject(ctx context.Context, trackID, projectID string) error {
	track, err := h.tracks.Find(ctx, trackID)
	if err != nil {
		return err
	}
	if track == nil || track.ProjectID != projectID {
		return timeline.ErrKeyframeNotFound
	}
	return nil
}

// pointerUp 松开时持久化，之后清除预览缓存
func (h *APIHandler) pointerUp(ctx context.Context, sess *timeline.Session) (*model.Keyframe, error) {
	drag, resize := sess.EndGesture()
	switch {
	case drag != nil:
		return h.engine.MoveKeyframe(ctx, sess.ProjectID, drag.KeyframeID, drag.Release())
	case resize != nil:
		return h.engine.ResizeKeyframe(ctx, sess.ProjectID, resize.KeyframeID, resize.Release())
	}
	return nil, errNoGesture
}
