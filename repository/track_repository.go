package repository

import (
	"context"
	"errors"
	"fmt"

	"Anicut/model"

	"gorm.io/gorm"
)

// TrackUpdate 轨道局部更新
type TrackUpdate struct {
	Label  *string `json:"label,omitempty"`
	Locked *bool   `json:"locked,omitempty"`
}

// TrackRepository 轨道数据访问接口
type TrackRepository interface {
	Find(ctx context.Context, id string) (*model.Track, error)
	ListByProject(ctx context.Context, projectID string) ([]model.Track, error)
	Create(ctx context.Context, track *model.Track) (string, error)
	Update(ctx context.Context, id string, upd TrackUpdate) (string, error)
	Delete(ctx context.Context, id string) (string, error)
}

type gormTrackRepository struct {
	db *gorm.DB
}

// NewGormTrackRepository 创建 GORM 轨道仓库
func NewGormTrackRepository(db *gorm.DB) TrackRepository {
	return &gormTrackRepository{db: db}
}

// Find 根据ID获取轨道，不存在时返回 nil
func (r *gormTrackRepository) Find(ctx context.Context, id string) (*model.Track, error) {
	var track model.Track
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&track).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &track, nil
}

// ListByProject 获取项目下全部轨道
func (r *gormTrackRepository) ListByProject(ctx context.Context, projectID string) ([]model.Track, error) {
	var tracks []model.Track
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at ASC").
		Find(&tracks).Error
	return tracks, err
}

// Create 创建轨道
func (r *gormTrackRepository) Create(ctx context.Context, track *model.Track) (string, error) {
	if track.ID == "" {
		track.ID = newID()
	}
	if err := r.db.WithContext(ctx).Create(track).Error; err != nil {
		return "", fmt.Errorf("create track: %w", err)
	}
	return track.ID, nil
}

// Update 更新轨道
func (r *gormTrackRepository) Update(ctx context.Context, id string, upd TrackUpdate) (string, error) {
	fields := map[string]interface{}{}
	if upd.Label != nil {
		fields["label"] = *upd.Label
	}
	if upd.Locked != nil {
		fields["locked"] = *upd.Locked
	}
	if len(fields) == 0 {
		return id, nil
	}
	tx := r.db.WithContext(ctx).Model(&model.Track{}).Where("id = ?", id).Updates(fields)
	if err := rowsOrNotFound(tx); err != nil {
		return "", fmt.Errorf("update track %s: %w", id, err)
	}
	return id, nil
}

// Delete 删除轨道及其关键帧
func (r *gormTrackRepository) Delete(ctx context.Context, id string) (string, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("track_id = ?", id).Delete(&model.Keyframe{}).Error; err != nil {
			return err
		}
		return rowsOrNotFound(tx.Where("id = ?", id).Delete(&model.Track{}))
	})
	if err != nil {
		return "", fmt.Errorf("delete track %s: %w", id, err)
	}
	return id, nil
}
