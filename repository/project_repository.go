package repository

import (
	"context"
	"errors"
	"fmt"

	"Anicut/model"

	"gorm.io/gorm"
)

// ProjectUpdate 项目局部更新
type ProjectUpdate struct {
	Title       *string            `json:"title,omitempty"`
	Description *string            `json:"description,omitempty"`
	AspectRatio *model.AspectRatio `json:"aspectRatio,omitempty"`
	VisualStyle *string            `json:"visualStyle,omitempty"`
	Synopsis    *string            `json:"synopsis,omitempty"`
}

// ProjectRepository 项目数据访问接口，所有查询限定在用户范围内
type ProjectRepository interface {
	Find(ctx context.Context, userID, id string) (*model.Project, error)
	List(ctx context.Context, userID string) ([]model.Project, error)
	Create(ctx context.Context, project *model.Project) (string, error)
	Update(ctx context.Context, userID, id string, upd ProjectUpdate) (string, error)
}

type gormProjectRepository struct {
	db *gorm.DB
}

// NewGormProjectRepository 创建 GORM 项目仓库
func NewGormProjectRepository(db *gorm.DB) ProjectRepository {
	return &gormProjectRepository{db: db}
}

func (r *gormProjectRepository) Find(ctx context.Context, userID, id string) (*model.Project, error) {
	var p model.Project
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *gormProjectRepository) List(ctx context.Context, userID string) ([]model.Project, error) {
	var projects []model.Project
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&projects).Error
	return projects, err
}

func (r *gormProjectRepository) Create(ctx context.Context, project *model.Project) (string, error) {
	if project.ID == "" {
		project.ID = newID()
	}
	if project.AspectRatio == "" {
		project.AspectRatio = model.AspectRatioLandscape
	}
	if err := r.db.WithContext(ctx).Create(project).Error; err != nil {
		return "", fmt.Errorf("create project: %w", err)
	}
	return project.ID, nil
}

func (r *gormProjectRepository) Update(ctx context.Context, userID, id string, upd ProjectUpdate) (string, error) {
	fields := map[string]interface{}{}
	if upd.Title != nil {
		fields["title"] = *upd.Title
	}
	if upd.Description != nil {
		fields["description"] = *upd.Description
	}
	if upd.AspectRatio != nil {
		fields["aspect_ratio"] = *upd.AspectRatio
	}
	if upd.VisualStyle != nil {
		fields["visual_style"] = *upd.VisualStyle
	}
	if upd.Synopsis != nil {
		fields["synopsis"] = *upd.Synopsis
	}
	if len(fields) == 0 {
		return id, nil
	}
	tx := r.db.WithContext(ctx).Model(&model.Project{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(fields)
	if err := rowsOrNotFound(tx); err != nil {
		return "", fmt.Errorf("update project %s: %w", id, err)
	}
	return id, nil
}
