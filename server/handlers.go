package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"Anicut/config"
	"Anicut/core/export"
	"Anicut/core/fal"
	"Anicut/core/timeline"
	"Anicut/logger"
	"Anicut/model"
	"Anicut/repository"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// ObjectStore 上传与删除对象
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	KeyFromURL(url string) (string, bool)
}

// Exporter 导出渲染任务
type Exporter interface {
	Export(ctx context.Context, project *model.Project) (*export.Receipt, error)
}

// Deps APIHandler 的依赖
type Deps struct {
	Projects   repository.ProjectRepository
	Tracks     repository.TrackRepository
	Keyframes  repository.KeyframeRepository
	Media      repository.MediaRepository
	Characters repository.CharacterRepository
	Users      repository.UserRepository
	Episodes   repository.EpisodeRepository
	Scenes     repository.SceneRepository
	Shots      repository.ShotRepository

	Engine   *timeline.Engine
	Sessions *timeline.SessionRegistry
	Objects  ObjectStore

	Submitter fal.Submitter
	Trainer   *fal.Trainer
	Webhooks  *fal.WebhookProcessor
	Exporter  Exporter

	Config *config.Config
}

// APIHandler 处理所有API请求
type APIHandler struct {
	projects   repository.ProjectRepository
	tracks     repository.TrackRepository
	keyframes  repository.KeyframeRepository
	media      repository.MediaRepository
	characters repository.CharacterRepository
	users      repository.UserRepository
	episodes   repository.EpisodeRepository
	scenes     repository.SceneRepository
	shots      repository.ShotRepository

	engine   *timeline.Engine
	sessions *timeline.SessionRegistry
	objects  ObjectStore

	submitter fal.Submitter
	trainer   *fal.Trainer
	webhooks  *fal.WebhookProcessor
	exporter  Exporter

	cfg      *config.Config
	upgrader websocket.Upgrader
}

// NewAPIHandler 创建新的API处理器
func NewAPIHandler(d Deps) *APIHandler {
	cfg := d.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	sessions := d.Sessions
	if sessions == nil {
		sessions = timeline.NewSessionRegistry(int64(cfg.TimelineSpanMs))
	}
	return &APIHandler{
		projects:   d.Projects,
		tracks:     d.Tracks,
		keyframes:  d.Keyframes,
		media:      d.Media,
		characters: d.Characters,
		users:      d.Users,
		episodes:   d.Episodes,
		scenes:     d.Scenes,
		shots:      d.Shots,
		engine:     d.Engine,
		sessions:   sessions,
		objects:    d.Objects,
		submitter:  d.Submitter,
		trainer:    d.Trainer,
		webhooks:   d.Webhooks,
		exporter:   d.Exporter,
		cfg:        cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("写入响应失败", logger.ErrorField(err))
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	return dec.Decode(v)
}

// projectScope 读取路径中的 projectId 并校验归属，失败时已写出响应
func (h *APIHandler) projectScope(w http.ResponseWriter, r *http.Request) (*model.Project, bool) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	projectID := mux.Vars(r)["projectId"]
	project, err := h.projects.Find(r.Context(), userID, projectID)
	if err != nil {
		logger.Error("查询项目失败", logger.String("projectId", projectID), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, false
	}
	if project == nil {
		http.Error(w, "Project not found", http.StatusNotFound)
		return nil, false
	}
	return project, true
}

// ownsProject 校验项目归属
func (h *APIHandler) ownsProject(ctx context.Context, userID, projectID string) (bool, error) {
	project, err := h.projects.Find(ctx, userID, projectID)
	if err != nil {
		return false, err
	}
	return project != nil, nil
}

// statusFor 将领域错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, timeline.ErrKeyframeNotFound),
		errors.Is(err, timeline.ErrTrackNotFound),
		errors.Is(err, fal.ErrCharacterNotFound),
		errors.Is(err, fal.ErrMediaNotFound):
		return http.StatusNotFound
	case errors.Is(err, timeline.ErrNotDroppable),
		errors.Is(err, timeline.ErrUnknownMediaType),
		errors.Is(err, timeline.ErrGestureInProgress),
		errors.Is(err, fal.ErrNoTrainingImages),
		errors.Is(err, fal.ErrTrainingStarted),
		errors.Is(err, fal.ErrMissingRequestID),
		errors.Is(err, export.ErrEmptyTimeline):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeError 4xx 返回错误原文，5xx 只返回 fallback
func writeError(w http.ResponseWriter, err error, fallback string) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = fallback
	}
	http.Error(w, msg, status)
}

// HealthHandler 存活检查
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": h.sessions.Count(),
	})
}
