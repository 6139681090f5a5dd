package server

import (
	"net/http"

	"Anicut/core/timeline"
	"Anicut/logger"
	"Anicut/model"

	"github.com/gorilla/mux"
)

// GetTracksHandler 项目的轨道，按 video、music、voiceover 排序
func (h *APIHandler) GetTracksHandler(w http.ResponseWriter, r *http.Request) {
	project, ok := h.projectScope(w, r)
	if !ok {
		return
	}
	tracks, err := h.engine.Tracks(r.Context(), project.ID)
	if err != nil {
		logger.Error("获取轨道失败", logger.String("projectId", project.ID), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if tracks == nil {
		tracks = []model.Track{}
	}
	writeJSON(w, http.StatusOK, tracks)
}

// trackScope 轨道存在且属于当前用户的项目
func (h *APIHandler) trackScope(w http.ResponseWriter, r *http.Request, trackID string) (*model.Track, bool) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	track, err := h.tracks.Find(r.Context(), trackID)
	if err != nil {
		logger.Error("查询轨道失败", logger.String("trackId", trackID), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, false
	}
	if track == nil {
		http.Error(w, "Track not found", http.StatusNotFound)
		return nil, false
	}
	owns, err := h.ownsProject(r.Context(), userID, track.ProjectID)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, false
	}
	if !owns {
		http.Error(w, "Track not found", http.StatusNotFound)
		return nil, false
	}
	return track, true
}

// keyframeScope 关键帧及其所在轨道
func (h *APIHandler) keyframeScope(w http.ResponseWriter, r *http.Request) (*model.Keyframe, *model.Track, bool) {
	id := mux.Vars(r)["keyframeId"]
	kf, err := h.keyframes.Find(r.Context(), id)
	if err != nil {
		logger.Error("查询关键帧失败", logger.String("keyframeId", id), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, nil, false
	}
	if kf == nil {
		http.Error(w, "Keyframe not found", http.StatusNotFound)
		return nil, nil, false
	}
	track, ok := h.trackScope(w, r, kf.TrackID)
	if !ok {
		return nil, nil, false
	}
	return kf, track, true
}

// GetKeyframesHandler 轨道上的关键帧
func (h *APIHandler) GetKeyframesHandler(w http.ResponseWriter, r *http.Request) {
	track, ok := h.trackScope(w, r, mux.Vars(r)["trackId"])
	if !ok {
		return
	}
	frames, err := h.engine.Keyframes(r.Context(), track.ID)
	if err != nil {
		logger.Error("获取关键帧失败", logger.String("trackId", track.ID), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if frames == nil {
		frames = []model.Keyframe{}
	}
	writeJSON(w, http.StatusOK, frames)
}

// GetKeyframeHandler 单个关键帧
func (h *APIHandler) GetKeyframeHandler(w http.ResponseWriter, r *http.Request) {
	kf, _, ok := h.keyframeScope(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, kf)
}

// UpdateKeyframeHandler 修改时间、时长或内容
func (h *APIHandler) UpdateKeyframeHandler(w http.ResponseWriter, r *http.Request) {
	kf, track, ok := h.keyframeScope(w, r)
	if !ok {
		return
	}
	var upd model.KeyframeUpdate
	if err := decodeJSON(r, &upd); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	updated, err := h.engine.UpdateKeyframe(r.Context(), track.ProjectID, kf.ID, upd)
	if err != nil {
		logger.Error("更新关键帧失败", logger.String("keyframeId", kf.ID), logger.ErrorField(err))
		http.Error(w, "Failed to update keyframe", statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteKeyframeHandler 删除关键帧，之后的片段不前移
func (h *APIHandler) DeleteKeyframeHandler(w http.ResponseWriter, r *http.Request) {
	kf, track, ok := h.keyframeScope(w, r)
	if !ok {
		return
	}
	if err := h.engine.DeleteKeyframe(r.Context(), track.ProjectID, kf.ID); err != nil {
		writeError(w, err, timeline.ErrDeleteFailed.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": kf.ID})
}
