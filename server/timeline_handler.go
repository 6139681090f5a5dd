package server

import (
	"net/http"

	"Anicut/core/timeline"
	"Anicut/logger"
)

// AddMediaRequest 把素材放到时间轴
type AddMediaRequest struct {
	MediaID string `json:"mediaId"`
}

// AddMediaToTimelineHandler 追加到对应轨道末尾
func (h *APIHandler) AddMediaToTimelineHandler(w http.ResponseWriter, r *http.Request) {
	project, ok := h.projectScope(w, r)
	if !ok {
		return
	}
	var req AddMediaRequest
	if err := decodeJSON(r, &req); err != nil || req.MediaID == "" {
		http.Error(w, "mediaId is required", http.StatusBadRequest)
		return
	}

	item, err := h.media.Find(r.Context(), req.MediaID)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if item == nil || item.ProjectID != project.ID {
		http.Error(w, "Media not found", http.StatusNotFound)
		return
	}

	kf, err := h.engine.AddMediaToTrack(r.Context(), project.ID, *item)
	if err != nil {
		writeError(w, err, timeline.ErrAddMediaFailed.Error())
		return
	}
	writeJSON(w, http.StatusCreated, kf)
}

// ClampDurationsHandler 修正超过 30 秒的片段
func (h *APIHandler) ClampDurationsHandler(w http.ResponseWriter, r *http.Request) {
	project, ok := h.projectScope(w, r)
	if !ok {
		return
	}
	updated, err := h.engine.EnforceDurationCeiling(r.Context(), project.ID)
	if err != nil {
		logger.Error("修正片段时长失败", logger.String("projectId", project.ID), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

// PreviewHandler 返回预览所需的完整时间轴
func (h *APIHandler) PreviewHandler(w http.ResponseWriter, r *http.Request) {
	project, ok := h.projectScope(w, r)
	if !ok {
		return
	}
	comp, err := h.engine.Composition(r.Context(), project.ID)
	if err != nil {
		logger.Error("构建预览失败", logger.String("projectId", project.ID), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, comp)
}

// ExportHandler 投递渲染任务
func (h *APIHandler) ExportHandler(w http.ResponseWriter, r *http.Request) {
	project, ok := h.projectScope(w, r)
	if !ok {
		return
	}
	if h.exporter == nil {
		http.Error(w, "Export not available", http.StatusServiceUnavailable)
		return
	}
	receipt, err := h.exporter.Export(r.Context(), project)
	if err != nil {
		writeError(w, err, "Failed to export timeline")
		return
	}
	writeJSON(w, http.StatusAccepted, receipt)
}
