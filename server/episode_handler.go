package server

import (
	"context"
	"net/http"
	"strings"

	"Anicut/logger"
	"Anicut/model"
	"Anicut/repository"

	"github.com/gorilla/mux"
)

// CreateEpisodeRequest 创建剧集请求，episodeNumber 缺省时排在最后
type CreateEpisodeRequest struct {
	EpisodeNumber int                 `json:"episodeNumber"`
	Title         string              `json:"title"`
	Synopsis      string              `json:"synopsis"`
	Duration      *float64            `json:"duration"`
	Status        model.EpisodeStatus `json:"status"`
}

// CreateSceneRequest 创建场景请求
type CreateSceneRequest struct {
	SceneNumber int              `json:"sceneNumber"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Duration    *float64         `json:"duration"`
	SceneType   model.SceneType  `json:"sceneType"`
	Mood        string           `json:"mood"`
	Setting     string           `json:"setting"`
	Status      model.ShotStatus `json:"status"`
}

// CreateShotRequest 创建镜头请求
type CreateShotRequest struct {
	ShotNumber     int              `json:"shotNumber"`
	Duration       float64          `json:"duration"`
	CameraType     model.CameraType `json:"cameraType"`
	CameraMovement string           `json:"cameraMovement"`
	Description    string           `json:"description"`
	MediaID        *string          `json:"mediaId"`
	DialogueText   string           `json:"dialogueText"`
	CharacterIDs   []string         `json:"characterIds"`
	Status         model.ShotStatus `json:"status"`
}

// ProjectCharactersHandler 项目内的角色
func (h *APIHandler) ProjectCharactersHandler(w http.ResponseWriter, r *http.Request) {
	project, ok := h.projectScope(w, r)
	if !ok {
		return
	}
	characters, err := h.characters.ListByProject(r.Context(), project.ID)
	if err != nil {
		logger.Error("获取项目角色失败", logger.String("projectId", project.ID), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if characters == nil {
		characters = []model.Character{}
	}
	writeJSON(w, http.StatusOK, characters)
}

// ListEpisodesHandler 项目剧集，按集号升序
func (h *APIHandler) ListEpisodesHandler(w http.ResponseWriter, r *http.Request) {
	project, ok := h.projectScope(w, r)
	if !ok {
		return
	}
	episodes, err := h.episodes.ListByProject(r.Context(), project.ID)
	if err != nil {
		logger.Error("获取剧集失败", logger.String("projectId", project.ID), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if episodes == nil {
		episodes = []model.Episode{}
	}
	writeJSON(w, http.StatusOK, episodes)
}

// CreateEpisodeHandler 创建剧集
func (h *APIHandler) CreateEpisodeHandler(w http.ResponseWriter, r *http.Request) {
	project, ok := h.projectScope(w, r)
	if !ok {
		return
	}
	var req CreateEpisodeRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		http.Error(w, "Title is required", http.StatusBadRequest)
		return
	}
	if req.Status != "" && !req.Status.Valid() {
		http.Error(w, "Invalid status", http.StatusBadRequest)
		return
	}

	e := &model.Episode{
		ProjectID:     project.ID,
		EpisodeNumber: req.EpisodeNumber,
		Title:         req.Title,
		Synopsis:      req.Synopsis,
		Duration:      req.Duration,
		Status:        req.Status,
	}
	if _, err := h.episodes.Create(r.Context(), e); err != nil {
		logger.Error("创建剧集失败", logger.String("projectId", project.ID), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// episodeScope 剧集存在且所属项目归当前用户
func (h *APIHandler) episodeScope(w http.ResponseWriter, r *http.Request, id string) (*model.Episode, bool) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	e, err := h.episodes.Find(r.Context(), id)
	if err != nil {
		logger.Error("查询剧集失败", logger.String("episodeId", id), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, false
	}
	if e == nil {
		http.Error(w, "Episode not found", http.StatusNotFound)
		return nil, false
	}
	owns, err := h.ownsProject(r.Context(), userID, e.ProjectID)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, false
	}
	if !owns {
		http.Error(w, "Episode not found", http.StatusNotFound)
		return nil, false
	}
	return e, true
}

func (h *APIHandler) sceneScope(w http.ResponseWriter, r *http.Request, id string) (*model.Scene, *model.Episode, bool) {
	s, err := h.scenes.Find(r.Context(), id)
	if err != nil {
		logger.Error("查询场景失败", logger.String("sceneId", id), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, nil, false
	}
	if s == nil {
		http.Error(w, "Scene not found", http.StatusNotFound)
		return nil, nil, false
	}
	e, ok := h.episodeScope(w, r, s.EpisodeID)
	if !ok {
		return nil, nil, false
	}
	return s, e, true
}

func (h *APIHandler) shotScope(w http.ResponseWriter, r *http.Request) (*model.Shot, *model.Episode, bool) {
	id := mux.Vars(r)["shotId"]
	s, err := h.shots.Find(r.Context(), id)
	if err != nil {
		logger.Error("查询镜头失败", logger.String("shotId", id), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, nil, false
	}
	if s == nil {
		http.Error(w, "Shot not found", http.StatusNotFound)
		return nil, nil, false
	}
	_, e, ok := h.sceneScope(w, r, s.SceneID)
	if !ok {
		return nil, nil, false
	}
	return s, e, true
}

// GetEpisodeHandler 单个剧集
func (h *APIHandler) GetEpisodeHandler(w http.ResponseWriter, r *http.Request) {
	e, ok := h.episodeScope(w, r, mux.Vars(r)["episodeId"])
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// UpdateEpisodeHandler 局部更新剧集
func (h *APIHandler) UpdateEpisodeHandler(w http.ResponseWriter, r *http.Request) {
	e, ok := h.episodeScope(w, r, mux.Vars(r)["episodeId"])
	if !ok {
		return
	}
	var upd repository.EpisodeUpdate
	if err := decodeJSON(r, &upd); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if upd.Title != nil && strings.TrimSpace(*upd.Title) == "" {
		http.Error(w, "Title cannot be empty", http.StatusBadRequest)
		return
	}
	if upd.Status != nil && !upd.Status.Valid() {
		http.Error(w, "Invalid status", http.StatusBadRequest)
		return
	}
	if _, err := h.episodes.Update(r.Context(), e.ID, upd); err != nil {
		logger.Error("更新剧集失败", logger.String("episodeId", e.ID), logger.ErrorField(err))
		http.Error(w, "Failed to update episode", statusFor(err))
		return
	}
	updated, err := h.episodes.Find(r.Context(), e.ID)
	if err != nil || updated == nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteEpisodeHandler 删除剧集及其场景、镜头
func (h *APIHandler) DeleteEpisodeHandler(w http.ResponseWriter, r *http.Request) {
	e, ok := h.episodeScope(w, r, mux.Vars(r)["episodeId"])
	if !ok {
		return
	}
	if _, err := h.episodes.Delete(r.Context(), e.ID); err != nil {
		logger.Error("删除剧集失败", logger.String("episodeId", e.ID), logger.ErrorField(err))
		http.Error(w, "Failed to delete episode", statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": e.ID})
}

// ListScenesHandler 剧集场景
func (h *APIHandler) ListScenesHandler(w http.ResponseWriter, r *http.Request) {
	e, ok := h.episodeScope(w, r, mux.Vars(r)["episodeId"])
	if !ok {
		return
	}
	scenes, err := h.scenes.ListByEpisode(r.Context(), e.ID)
	if err != nil {
		logger.Error("获取场景失败", logger.String("episodeId", e.ID), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if scenes == nil {
		scenes = []model.Scene{}
	}
	writeJSON(w, http.StatusOK, scenes)
}

// CreateSceneHandler 创建场景
func (h *APIHandler) CreateSceneHandler(w http.ResponseWriter, r *http.Request) {
	e, ok := h.episodeScope(w, r, mux.Vars(r)["episodeId"])
	if !ok {
		return
	}
	var req CreateSceneRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		http.Error(w, "Title is required", http.StatusBadRequest)
		return
	}
	if (req.SceneType != "" && !req.SceneType.Valid()) || (req.Status != "" && !req.Status.Valid()) {
		http.Error(w, "Invalid sceneType or status", http.StatusBadRequest)
		return
	}

	s := &model.Scene{
		EpisodeID:   e.ID,
		SceneNumber: req.SceneNumber,
		Title:       req.Title,
		Description: req.Description,
		Duration:    req.Duration,
		SceneType:   req.SceneType,
		Mood:        req.Mood,
		Setting:     req.Setting,
		Status:      req.Status,
	}
	if _, err := h.scenes.Create(r.Context(), s); err != nil {
		logger.Error("创建场景失败", logger.String("episodeId", e.ID), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

// GetSceneHandler 单个场景
func (h *APIHandler) GetSceneHandler(w http.ResponseWriter, r *http.Request) {
	s, _, ok := h.sceneScope(w, r, mux.Vars(r)["sceneId"])
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// UpdateSceneHandler 局部更新场景
func (h *APIHandler) UpdateSceneHandler(w http.ResponseWriter, r *http.Request) {
	s, _, ok := h.sceneScope(w, r, mux.Vars(r)["sceneId"])
	if !ok {
		return
	}
	var upd repository.SceneUpdate
	if err := decodeJSON(r, &upd); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if upd.Title != nil && strings.TrimSpace(*upd.Title) == "" {
		http.Error(w, "Title cannot be empty", http.StatusBadRequest)
		return
	}
	if (upd.SceneType != nil && !upd.SceneType.Valid()) || (upd.Status != nil && !upd.Status.Valid()) {
		http.Error(w, "Invalid sceneType or status", http.StatusBadRequest)
		return
	}
	if _, err := h.scenes.Update(r.Context(), s.ID, upd); err != nil {
		logger.Error("更新场景失败", logger.String("sceneId", s.ID), logger.ErrorField(err))
		http.Error(w, "Failed to update scene", statusFor(err))
		return
	}
	updated, err := h.scenes.Find(r.Context(), s.ID)
	if err != nil || updated == nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteSceneHandler 删除场景及其镜头
func (h *APIHandler) DeleteSceneHandler(w http.ResponseWriter, r *http.Request) {
	s, _, ok := h.sceneScope(w, r, mux.Vars(r)["sceneId"])
	if !ok {
		return
	}
	if _, err := h.scenes.Delete(r.Context(), s.ID); err != nil {
		logger.Error("删除场景失败", logger.String("sceneId", s.ID), logger.ErrorField(err))
		http.Error(w, "Failed to delete scene", statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": s.ID})
}

// ListShotsHandler 场景镜头
func (h *APIHandler) ListShotsHandler(w http.ResponseWriter, r *http.Request) {
	s, _, ok := h.sceneScope(w, r, mux.Vars(r)["sceneId"])
	if !ok {
		return
	}
	shots, err := h.shots.ListByScene(r.Context(), s.ID)
	if err != nil {
		logger.Error("获取镜头失败", logger.String("sceneId", s.ID), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if shots == nil {
		shots = []model.Shot{}
	}
	writeJSON(w, http.StatusOK, shots)
}

// shotRefsValid 素材必须属于同一项目，角色必须属于当前用户
func (h *APIHandler) shotRefsValid(ctx context.Context, projectID string, mediaID *string, characterIDs []string) (string, error) {
	if mediaID != nil && *mediaID != "" {
		item, err := h.media.Find(ctx, *mediaID)
		if err != nil {
			return "", err
		}
		if item == nil || item.ProjectID != projectID {
			return "mediaId must reference media in this project", nil
		}
	}
	if len(characterIDs) == 0 {
		return "", nil
	}
	userID, err := GetUserIDFromContext(ctx)
	if err != nil {
		return "", err
	}
	for _, id := range characterIDs {
		c, err := h.characters.Find(ctx, id)
		if err != nil {
			return "", err
		}
		if c == nil || c.UserID != userID {
			return "Unknown character " + id, nil
		}
	}
	return "", nil
}

// CreateShotHandler 创建镜头
func (h *APIHandler) CreateShotHandler(w http.ResponseWriter, r *http.Request) {
	scene, e, ok := h.sceneScope(w, r, mux.Vars(r)["sceneId"])
	if !ok {
		return
	}
	var req CreateShotRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Duration < 0 {
		http.Error(w, "Duration cannot be negative", http.StatusBadRequest)
		return
	}
	if (req.CameraType != "" && !req.CameraType.Valid()) || (req.Status != "" && !req.Status.Valid()) {
		http.Error(w, "Invalid cameraType or status", http.StatusBadRequest)
		return
	}
	msg, err := h.shotRefsValid(r.Context(), e.ProjectID, req.MediaID, req.CharacterIDs)
	if err != nil {
		logger.Error("校验镜头引用失败", logger.String("sceneId", scene.ID), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}
	if req.MediaID != nil && *req.MediaID == "" {
		req.MediaID = nil
	}

	s := &model.Shot{
		SceneID:        scene.ID,
		ShotNumber:     req.ShotNumber,
		Duration:       req.Duration,
		CameraType:     req.CameraType,
		CameraMovement: req.CameraMovement,
		Description:    req.Description,
		MediaID:        req.MediaID,
		DialogueText:   req.DialogueText,
		CharacterIDs:   model.StringList(req.CharacterIDs),
		Status:         req.Status,
	}
	if _, err := h.shots.Create(r.Context(), s); err != nil {
		logger.Error("创建镜头失败", logger.String("sceneId", scene.ID), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

// GetShotHandler 单个镜头
func (h *APIHandler) GetShotHandler(w http.ResponseWriter, r *http.Request) {
	s, _, ok := h.shotScope(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// UpdateShotHandler 局部更新镜头，mediaId 传空串表示解除关联
func (h *APIHandler) UpdateShotHandler(w http.ResponseWriter, r *http.Request) {
	s, e, ok := h.shotScope(w, r)
	if !ok {
		return
	}
	var upd repository.ShotUpdate
	if err := decodeJSON(r, &upd); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if upd.Duration != nil && *upd.Duration < 0 {
		http.Error(w, "Duration cannot be negative", http.StatusBadRequest)
		return
	}
	if (upd.CameraType != nil && !upd.CameraType.Valid()) || (upd.Status != nil && !upd.Status.Valid()) {
		http.Error(w, "Invalid cameraType or status", http.StatusBadRequest)
		return
	}
	msg, err := h.shotRefsValid(r.Context(), e.ProjectID, upd.MediaID, upd.CharacterIDs)
	if err != nil {
		logger.Error("校验镜头引用失败", logger.String("shotId", s.ID), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	if _, err := h.shots.Update(r.Context(), s.ID, upd); err != nil {
		logger.Error("更新镜头失败", logger.String("shotId", s.ID), logger.ErrorField(err))
		http.Error(w, "Failed to update shot", statusFor(err))
		return
	}
	updated, err := h.shots.Find(r.Context(), s.ID)
	if err != nil || updated == nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteShotHandler 删除镜头，关联素材保留
func (h *APIHandler) DeleteShotHandler(w http.ResponseWriter, r *http.Request) {
	s, _, ok := h.shotScope(w, r)
	if !ok {
		return
	}
	if _, err := h.shots.Delete(r.Context(), s.ID); err != nil {
		logger.Error("删除镜头失败", logger.String("shotId", s.ID), logger.ErrorField(err))
		http.Error(w, "Failed to delete shot", statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": s.ID})
}
