package server

import (
	"net/http"
	"strings"

	"Anicut/logger"
	"Anicut/model"
	"Anicut/repository"
)

// CreateProjectRequest 创建项目请求
type CreateProjectRequest struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	AspectRatio model.AspectRatio `json:"aspectRatio"`
	VisualStyle string            `json:"visualStyle"`
	Synopsis    string            `json:"synopsis"`
}

// ListProjectsHandler 当前用户的项目
func (h *APIHandler) ListProjectsHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	projects, err := h.projects.List(r.Context(), userID)
	if err != nil {
		logger.Error("获取项目列表失败", logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if projects == nil {
		projects = []model.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

// CreateProjectHandler 创建项目
func (h *APIHandler) CreateProjectHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req CreateProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		http.Error(w, "Title is required", http.StatusBadRequest)
		return
	}
	if req.AspectRatio != "" && !req.AspectRatio.Valid() {
		http.Error(w, "Invalid aspect ratio", http.StatusBadRequest)
		return
	}

	project := &model.Project{
		UserID:      userID,
		Title:       req.Title,
		Description: req.Description,
		AspectRatio: req.AspectRatio,
		VisualStyle: req.VisualStyle,
		Synopsis:    req.Synopsis,
	}
	if _, err := h.projects.Create(r.Context(), project); err != nil {
		logger.Error("创建项目失败", logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	logger.Info("项目已创建", logger.String("projectId", project.ID), logger.String("userId", userID))
	writeJSON(w, http.StatusCreated, project)
}

// GetProjectHandler 获取单个项目
func (h *APIHandler) GetProjectHandler(w http.ResponseWriter, r *http.Request) {
	project, ok := h.projectScope(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// UpdateProjectHandler 局部更新项目
func (h *APIHandler) UpdateProjectHandler(w http.ResponseWriter, r *http.Request) {
	project, ok := h.projectScope(w, r)
	if !ok {
		return
	}

	var upd repository.ProjectUpdate
	if err := decodeJSON(r, &upd); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if upd.Title != nil && strings.TrimSpace(*upd.Title) == "" {
		http.Error(w, "Title cannot be empty", http.StatusBadRequest)
		return
	}
	if upd.AspectRatio != nil && !upd.AspectRatio.Valid() {
		http.Error(w, "Invalid aspect ratio", http.StatusBadRequest)
		return
	}

	if _, err := h.projects.Update(r.Context(), project.UserID, project.ID, upd); err != nil {
		logger.Error("更新项目失败", logger.String("projectId", project.ID), logger.ErrorField(err))
		http.Error(w, "Failed to update project", statusFor(err))
		return
	}
	updated, err := h.projects.Find(r.Context(), project.UserID, project.ID)
	if err != nil || updated == nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
