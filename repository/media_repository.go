package repository

import (
	"context"
	"errors"
	"fmt"

	"Anicut/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MediaUpdate 素材局部更新
type MediaUpdate struct {
	Status   *model.MediaStatus `json:"status,omitempty"`
	URL      *string            `json:"url,omitempty"`
	Input    datatypes.JSON     `json:"input,omitempty"`
	Output   datatypes.JSON     `json:"output,omitempty"`
	Metadata datatypes.JSON     `json:"metadata,omitempty"`
}

// MediaRepository 素材数据访问接口
type MediaRepository interface {
	Find(ctx context.Context, id string) (*model.MediaItem, error)
	FindByRequestID(ctx context.Context, requestID string) (*model.MediaItem, error)
	ListByProject(ctx context.Context, projectID string) ([]model.MediaItem, error)
	Create(ctx context.Context, item *model.MediaItem) (string, error)
	Update(ctx context.Context, id string, upd MediaUpdate) (string, error)
	Delete(ctx context.Context, id string) (string, error)
}

type gormMediaRepository struct {
	db *gorm.DB
}

// NewGormMediaRepository 创建 GORM 素材仓库
func NewGormMediaRepository(db *gorm.DB) MediaRepository {
	return &gormMediaRepository{db: db}
}

func (r *gormMediaRepository) first(ctx context.Context, query string, arg interface{}) (*model.MediaItem, error) {
	var item model.MediaItem
	err := r.db.WithContext(ctx).Where(query, arg).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *gormMediaRepository) Find(ctx context.Context, id string) (*model.MediaItem, error) {
	return r.first(ctx, "id = ?", id)
}

// FindByRequestID 根据 fal.ai 请求ID查找素材
func (r *gormMediaRepository) FindByRequestID(ctx context.Context, requestID string) (*model.MediaItem, error) {
	return r.first(ctx, "request_id = ?", requestID)
}

// ListByProject 按创建时间倒序获取项目素材
func (r *gormMediaRepository) ListByProject(ctx context.Context, projectID string) ([]model.MediaItem, error) {
	var items []model.MediaItem
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC").
		Find(&items).Error
	return items, err
}

func (r *gormMediaRepository) Create(ctx context.Context, item *model.MediaItem) (string, error) {
	if item.ID == "" {
		item.ID = newID()
	}
	if err := r.db.WithContext(ctx).Create(item).Error; err != nil {
		return "", fmt.Errorf("create media: %w", err)
	}
	return item.ID, nil
}

func (r *gormMediaRepository) Update(ctx context.Context, id string, upd MediaUpdate) (string, error) {
	fields := map[string]interface{}{}
	if upd.Status != nil {
		fields["status"] = *upd.Status
	}
	if upd.URL != nil {
		fields["url"] = *upd.URL
	}
	if upd.Input != nil {
		fields["input"] = upd.Input
	}
	if upd.Output != nil {
		fields["output"] = upd.Output
	}
	if upd.Metadata != nil {
		fields["metadata"] = upd.Metadata
	}
	if len(fields) == 0 {
		return id, nil
	}
	tx := r.db.WithContext(ctx).Model(&model.MediaItem{}).Where("id = ?", id).Updates(fields)
	if err := rowsOrNotFound(tx); err != nil {
		return "", fmt.Errorf("update media %s: %w", id, err)
	}
	return id, nil
}

// Delete 删除素材。引用它的关键帧保留，渲染时按缺失数据跳过。
func (r *gormMediaRepository) Delete(ctx context.Context, id string) (string, error) {
	tx := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.MediaItem{})
	if err := rowsOrNotFound(tx); err != nil {
		return "", fmt.Errorf("delete media %s: %w", id, err)
	}
	return id, nil
}
