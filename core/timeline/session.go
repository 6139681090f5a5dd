package timeline

import (
	"fmt"
	"math"
	"sync"
)

// PlayerState 播放状态
type PlayerState string

const (
	PlayerPlaying PlayerState = "playing"
	PlayerPaused  PlayerState = "paused"
)

// SessionState 会话状态快照
type SessionState struct {
	SessionID              string      `json:"sessionId"`
	ProjectID              string      `json:"projectId"`
	PlayerCurrentTimestamp float64     `json:"playerCurrentTimestamp"`
	Formatted              string      `json:"formatted"`
	PlayerState            PlayerState `json:"playerState"`
	SelectedKeyframes      []string    `json:"selectedKeyframes"`
	SelectedMediaID        string      `json:"selectedMediaId,omitempty"`
}

// Session 一个打开的项目编辑会话：播放光标、选中状态与当前手势。不持久化。
type Session struct {
	ID        string
	ProjectID string

	mu              sync.Mutex
	spanSec         float64
	currentSec      float64
	state           PlayerState
	selected        []string
	selectedMediaID string
	drag            *DragSession
	resize          *ResizeSession
}

// NewSession 创建会话，spanMs<=0 时使用默认跨度
func NewSession(id, projectID string, spanMs int64) *Session {
	if spanMs <= 0 {
		spanMs = DefaultSpanMs
	}
	return &Session{
		ID:        id,
		ProjectID: projectID,
		spanSec:   float64(spanMs) / 1000,
		state:     PlayerPaused,
	}
}

// SetPlayerCurrentTimestamp 光标限制在 [0, span] 秒
func (s *Session) SetPlayerCurrentTimestamp(sec float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sec < 0 || math.IsNaN(sec) {
		sec = 0
	}
	if sec > s.spanSec {
		sec = s.spanSec
	}
	s.currentSec = sec
	return sec
}

// PlayerCurrentTimestamp 当前光标（秒）
func (s *Session) PlayerCurrentTimestamp() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentSec
}

// SetPlayerState 设置播放状态
func (s *Session) SetPlayerState(state PlayerState) error {
	if state != PlayerPlaying && state != PlayerPaused {
		return fmt.Errorf("unknown player state %q", state)
	}
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	return nil
}

// SelectKeyframe 切换选中，返回切换后是否选中
func (s *Session) SelectKeyframe(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sel := range s.selected {
		if sel == id {
			s.selected = append(s.selected[:i], s.selected[i+1:]...)
			return false
		}
	}
	s.selected = append(s.selected, id)
	return true
}

// ClearSelection 清空选中的片段
func (s *Session) ClearSelection() {
	s.mu.Lock()
	s.selected = nil
	s.mu.Unlock()
}

// SetSelectedMediaID 设置素材面板中选中的素材
func (s *Session) SetSelectedMediaID(id string) {
	s.mu.Lock()
	s.selectedMediaID = id
	s.mu.Unlock()
}

// FormattedTimestamp 格式为 00:SS.ss
func (s *Session) FormattedTimestamp() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return formatTimestamp(s.currentSec)
}

func formatTimestamp(sec float64) string {
	return fmt.Sprintf("00:%05.2f", sec)
}

// State 返回状态副本
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	selected := make([]string, len(s.selected))
	copy(selected, s.selected)
	return SessionState{
		SessionID:              s.ID,
		ProjectID:              s.ProjectID,
		PlayerCurrentTimestamp: s.currentSec,
		Formatted:              formatTimestamp(s.currentSec),
		PlayerState:            s.state,
		SelectedKeyframes:      selected,
		SelectedMediaID:        s.selectedMediaID,
	}
}

// StartDrag 同一时刻只允许一个手势
func (s *Session) StartDrag(d *DragSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drag != nil || s.resize != nil {
		return ErrGestureInProgress
	}
	s.drag = d
	return nil
}

// StartResize 同一时刻只允许一个手势
func (s *Session) StartResize(r *ResizeSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drag != nil || s.resize != nil {
		return ErrGestureInProgress
	}
	s.resize = r
	return nil
}

// Gesture 当前手势，至多一个非 nil
func (s *Session) Gesture() (*DragSession, *ResizeSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drag, s.resize
}

// EndGesture 取出并清除当前手势
func (s *Session) EndGesture() (*DragSession, *ResizeSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, r := s.drag, s.resize
	s.drag, s.resize = nil, nil
	return d, r
}

// SessionRegistry 管理打开的会话
type SessionRegistry struct {
	mu       sync.RWMutex
	spanMs   int64
	sessions map[string]*Session
}

// NewSessionRegistry 创建会话注册表
func NewSessionRegistry(spanMs int64) *SessionRegistry {
	return &SessionRegistry{
		spanMs:   spanMs,
		sessions: make(map[string]*Session),
	}
}

// Open 打开会话，ID 已存在时返回原会话
func (r *SessionRegistry) Open(id, projectID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s
	}
	s := NewSession(id, projectID, r.spanMs)
	r.sessions[id] = s
	return s
}

// Get 获取会话
func (r *SessionRegistry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Close 关闭会话
func (r *SessionRegistry) Close(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// ByProject 项目下所有打开的会话
func (r *SessionRegistry) ByProject(projectID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Session
	for _, s := range r.sessions {
		if s.ProjectID == projectID {
			out = append(out, s)
		}
	}
	return out
}

// Count 打开的会话数
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
