package server

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"Anicut/core/fal"
	"Anicut/core/importer"
	"Anicut/logger"
	"Anicut/model"
	"Anicut/storage"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"gorm.io/datatypes"
)

const maxUploadSize = 200 << 20

// GenerateRequest 提交 fal 生成任务
type GenerateRequest struct {
	EndpointID string          `json:"endpointId"`
	MediaType  model.MediaType `json:"mediaType"`
	Input      json.RawMessage `json:"input"`
}

// ListMediaHandler 项目素材，新的在前
func (h *APIHandler) ListMediaHandler(w http.ResponseWriter, r *http.Request) {
	project, ok := h.projectScope(w, r)
	if !ok {
		return
	}
	items, err := h.media.ListByProject(r.Context(), project.ID)
	if err != nil {
		logger.Error("获取素材失败", logger.String("projectId", project.ID), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []model.MediaItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *APIHandler) mediaScope(w http.ResponseWriter, r *http.Request) (*model.MediaItem, bool) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	id := mux.Vars(r)["mediaId"]
	item, err := h.media.Find(r.Context(), id)
	if err != nil {
		logger.Error("查询素材失败", logger.String("mediaId", id), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, false
	}
	if item == nil {
		http.Error(w, "Media not found", http.StatusNotFound)
		return nil, false
	}
	owns, err := h.ownsProject(r.Context(), userID, item.ProjectID)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, false
	}
	if !owns {
		http.Error(w, "Media not found", http.StatusNotFound)
		return nil, false
	}
	return item, true
}

// GetMediaHandler 单个素材
func (h *APIHandler) GetMediaHandler(w http.ResponseWriter, r *http.Request) {
	item, ok := h.mediaScope(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// DeleteMediaHandler 删除素材，引用它的关键帧保留
func (h *APIHandler) DeleteMediaHandler(w http.ResponseWriter, r *http.Request) {
	item, ok := h.mediaScope(w, r)
	if !ok {
		return
	}
	if _, err := h.media.Delete(r.Context(), item.ID); err != nil {
		logger.Error("删除素材失败", logger.String("mediaId", item.ID), logger.ErrorField(err))
		http.Error(w, "Failed to delete media", statusFor(err))
		return
	}

	if item.Kind == model.MediaKindUploaded && h.objects != nil {
		if key, ok := h.objects.KeyFromURL(item.URL); ok {
			if err := h.objects.Delete(r.Context(), key); err != nil {
				logger.Warn("删除素材对象失败", logger.String("key", key), logger.ErrorField(err))
			}
		}
	}
	h.engine.InvalidatePreview(r.Context(), item.ProjectID)
	writeJSON(w, http.StatusOK, map[string]string{"id": item.ID})
}

// UploadMediaHandler 上传素材到 MinIO。表单字段 file，可选 mediaType 与 duration（秒）。
func (h *APIHandler) UploadMediaHandler(w http.ResponseWriter, r *http.Request) {
	project, ok := h.projectScope(w, r)
	if !ok {
		return
	}
	if h.objects == nil {
		http.Error(w, "Object storage not available", http.StatusServiceUnavailable)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, fmt.Sprintf("Failed to parse multipart form: %v", err), http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Missing 'file' in form", http.StatusBadRequest)
		return
	}
	defer file.Close()

	mediaType := model.MediaType(r.FormValue("mediaType"))
	if mediaType == "" {
		inferred, ok := importer.MediaTypeFor(header.Filename)
		if !ok {
			http.Error(w, "Unsupported file type", http.StatusBadRequest)
			return
		}
		mediaType = inferred
	}
	if !mediaType.Valid() {
		http.Error(w, "Invalid media type", http.StatusBadRequest)
		return
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(ext)
	}

	id := uuid.NewString()
	url, err := h.objects.Put(r.Context(), storage.MediaKey(project.ID, id, ext), file, header.Size, contentType)
	if err != nil {
		logger.Error("上传素材失败", logger.String("projectId", project.ID), logger.ErrorField(err))
		http.Error(w, "Failed to upload file", http.StatusInternalServerError)
		return
	}

	meta := map[string]interface{}{
		"originalName": header.Filename,
		"size":         header.Size,
		"contentType":  contentType,
	}
	if d, err := strconv.ParseFloat(r.FormValue("duration"), 64); err == nil && d > 0 {
		meta["duration"] = d
	}
	metaJSON, _ := json.Marshal(meta)

	item := &model.MediaItem{
		ID:        id,
		ProjectID: project.ID,
		Kind:      model.MediaKindUploaded,
		MediaType: mediaType,
		Status:    model.MediaStatusCompleted,
		URL:       url,
		Metadata:  datatypes.JSON(metaJSON),
	}
	if _, err := h.media.Create(r.Context(), item); err != nil {
		logger.Error("保存素材失败", logger.String("projectId", project.ID), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	logger.Info("素材已上传",
		logger.String("mediaId", item.ID),
		logger.String("mediaType", string(mediaType)),
		logger.Int64("size", header.Size))
	writeJSON(w, http.StatusCreated, item)
}

// GenerateMediaHandler 提交到 fal 队列，结果由 webhook 回写
func (h *APIHandler) GenerateMediaHandler(w http.ResponseWriter, r *http.Request) {
	project, ok := h.projectScope(w, r)
	if !ok {
		return
	}
	if h.submitter == nil {
		http.Error(w, "Generation not available", http.StatusServiceUnavailable)
		return
	}

	var req GenerateRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.EndpointID == "" || !req.MediaType.Valid() {
		http.Error(w, "endpointId and a valid mediaType are required", http.StatusBadRequest)
		return
	}
	if len(req.Input) == 0 {
		req.Input = json.RawMessage(`{}`)
	}

	res, err := h.submitter.Submit(r.Context(), req.EndpointID, req.Input, fal.WebhookURL(h.cfg.PublicURL))
	if err != nil {
		logger.Error("提交生成任务失败", logger.String("endpointId", req.EndpointID), logger.ErrorField(err))
		http.Error(w, "Failed to submit generation", http.StatusBadGateway)
		return
	}

	item := &model.MediaItem{
		ProjectID:  project.ID,
		Kind:       model.MediaKindGenerated,
		MediaType:  req.MediaType,
		Status:     model.MediaStatusPending,
		EndpointID: req.EndpointID,
		RequestID:  res.RequestID,
		Input:      datatypes.JSON(req.Input),
	}
	if _, err := h.media.Create(r.Context(), item); err != nil {
		logger.Error("保存生成任务失败", logger.String("requestId", res.RequestID), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	logger.Info("生成任务已提交",
		logger.String("mediaId", item.ID),
		logger.String("endpointId", req.EndpointID),
		logger.String("requestId", res.RequestID))
	writeJSON(w, http.StatusAccepted, item)
}
