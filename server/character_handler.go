package server

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"Anicut/core/fal"
	"Anicut/logger"
	"Anicut/model"
	"Anicut/repository"
	"Anicut/storage"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// CreateCharacterRequest 创建角色请求
type CreateCharacterRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	ProjectID   *string `json:"projectId"`
}

// TrainRequest 训练参数
type TrainRequest struct {
	Steps int `json:"steps"`
}

// ListCharactersHandler 当前用户的角色，可按 projectId 过滤
func (h *APIHandler) ListCharactersHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var characters []model.Character
	if projectID := r.URL.Query().Get("projectId"); projectID != "" {
		owns, err := h.ownsProject(r.Context(), userID, projectID)
		if err != nil {
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if !owns {
			http.Error(w, "Project not found", http.StatusNotFound)
			return
		}
		characters, err = h.characters.ListByProject(r.Context(), projectID)
	} else {
		characters, err = h.characters.List(r.Context(), userID)
	}
	if err != nil {
		logger.Error("获取角色失败", logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if characters == nil {
		characters = []model.Character{}
	}
	writeJSON(w, http.StatusOK, characters)
}

// CreateCharacterHandler 创建角色
func (h *APIHandler) CreateCharacterHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req CreateCharacterRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		http.Error(w, "Name is required", http.StatusBadRequest)
		return
	}
	if req.ProjectID != nil && *req.ProjectID != "" {
		owns, err := h.ownsProject(r.Context(), userID, *req.ProjectID)
		if err != nil {
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if !owns {
			http.Error(w, "Project not found", http.StatusNotFound)
			return
		}
	} else {
		req.ProjectID = nil
	}

	c := &model.Character{
		UserID:      userID,
		ProjectID:   req.ProjectID,
		Name:        req.Name,
		Description: req.Description,
	}
	if _, err := h.characters.Create(r.Context(), c); err != nil {
		logger.Error("创建角色失败", logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *APIHandler) characterScope(w http.ResponseWriter, r *http.Request) (*model.Character, bool) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	id := mux.Vars(r)["characterId"]
	c, err := h.characters.Find(r.Context(), id)
	if err != nil {
		logger.Error("查询角色失败", logger.String("characterId", id), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, false
	}
	if c == nil || c.UserID != userID {
		http.Error(w, "Character not found", http.StatusNotFound)
		return nil, false
	}
	return c, true
}

// GetCharacterHandler 单个角色
func (h *APIHandler) GetCharacterHandler(w http.ResponseWriter, r *http.Request) {
	c, ok := h.characterScope(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// UpdateCharacterHandler 只允许修改名称、描述与所属项目，训练字段由训练流程维护
func (h *APIHandler) UpdateCharacterHandler(w http.ResponseWriter, r *http.Request) {
	c, ok := h.characterScope(w, r)
	if !ok {
		return
	}
	var req repository.CharacterUpdate
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	upd := repository.CharacterUpdate{
		Name:        req.Name,
		Description: req.Description,
		ProjectID:   req.ProjectID,
	}
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		http.Error(w, "Name cannot be empty", http.StatusBadRequest)
		return
	}
	if upd.ProjectID != nil && *upd.ProjectID != "" {
		owns, err := h.ownsProject(r.Context(), c.UserID, *upd.ProjectID)
		if err != nil || !owns {
			http.Error(w, "Project not found", http.StatusNotFound)
			return
		}
	}

	if _, err := h.characters.Update(r.Context(), c.ID, upd); err != nil {
		logger.Error("更新角色失败", logger.String("characterId", c.ID), logger.ErrorField(err))
		http.Error(w, "Failed to update character", statusFor(err))
		return
	}
	updated, err := h.characters.Find(r.Context(), c.ID)
	if err != nil || updated == nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteCharacterHandler 删除角色及其训练图片
func (h *APIHandler) DeleteCharacterHandler(w http.ResponseWriter, r *http.Request) {
	c, ok := h.characterScope(w, r)
	if !ok {
		return
	}
	if _, err := h.characters.Delete(r.Context(), c.ID); err != nil {
		logger.Error("删除角色失败", logger.String("characterId", c.ID), logger.ErrorField(err))
		http.Error(w, "Failed to delete character", statusFor(err))
		return
	}
	if h.objects != nil {
		for _, u := range c.TrainingImages {
			key, ok := h.objects.KeyFromURL(u)
			if !ok {
				continue
			}
			if err := h.objects.Delete(r.Context(), key); err != nil {
				logger.Warn("删除训练图片失败", logger.String("key", key), logger.ErrorField(err))
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": c.ID})
}

// UploadTrainingImagesHandler 上传训练图片（表单字段 images，可多个）
func (h *APIHandler) UploadTrainingImagesHandler(w http.ResponseWriter, r *http.Request) {
	c, ok := h.characterScope(w, r)
	if !ok {
		return
	}
	if h.objects == nil {
		http.Error(w, "Object storage not available", http.StatusServiceUnavailable)
		return
	}
	if c.TrainingStatus == model.TrainingRunning {
		http.Error(w, "Training in progress", http.StatusConflict)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, fmt.Sprintf("Failed to parse multipart form: %v", err), http.StatusBadRequest)
		return
	}
	files := r.MultipartForm.File["images"]
	if len(files) == 0 {
		http.Error(w, "Missing 'images' in form", http.StatusBadRequest)
		return
	}

	images := append(model.StringList{}, c.TrainingImages...)
	for _, fh := range files {
		ext := strings.ToLower(filepath.Ext(fh.Filename))
		if storage.InferKind(fh.Filename) != "image" {
			http.Error(w, fmt.Sprintf("Unsupported image %q", fh.Filename), http.StatusBadRequest)
			return
		}
		f, err := fh.Open()
		if err != nil {
			http.Error(w, "Failed to read upload", http.StatusBadRequest)
			return
		}
		url, err := h.objects.Put(r.Context(), storage.CharacterImageKey(c.ID, uuid.NewString(), ext), f, fh.Size, fh.Header.Get("Content-Type"))
		f.Close()
		if err != nil {
			logger.Error("上传训练图片失败", logger.String("characterId", c.ID), logger.ErrorField(err))
			http.Error(w, "Failed to upload image", http.StatusInternalServerError)
			return
		}
		images = append(images, url)
	}

	if _, err := h.characters.Update(r.Context(), c.ID, repository.CharacterUpdate{TrainingImages: images}); err != nil {
		logger.Error("保存训练图片失败", logger.String("characterId", c.ID), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	c.TrainingImages = images
	writeJSON(w, http.StatusOK, c)
}

// TrainCharacterHandler 启动 LoRA 训练
func (h *APIHandler) TrainCharacterHandler(w http.ResponseWriter, r *http.Request) {
	c, ok := h.characterScope(w, r)
	if !ok {
		return
	}
	if h.trainer == nil {
		http.Error(w, "Training not available", http.StatusServiceUnavailable)
		return
	}

	var req TrainRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	jobID, err := h.trainer.Start(r.Context(), c.ID, req.Steps)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			logger.Error("启动训练失败", logger.String("characterId", c.ID), logger.ErrorField(err))
		}
		writeError(w, err, "Failed to start training")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"characterId": c.ID,
		"jobId":       jobID,
		"steps":       fal.ClampSteps(req.Steps),
		"status":      model.TrainingRunning,
	})
}
