package repository

import (
	"context"
	"errors"
	"fmt"

	"Anicut/model"

	"gorm.io/gorm"
)

// KeyframeRepository 关键帧数据访问接口
type KeyframeRepository interface {
	Find(ctx context.Context, id string) (*model.Keyframe, error)
	ListByTrack(ctx context.Context, trackID string) ([]model.Keyframe, error)
	Create(ctx context.Context, kf *model.Keyframe) (string, error)
	Update(ctx context.Context, id string, upd model.KeyframeUpdate) (string, error)
	Delete(ctx context.Context, id string) (string, error)
}

type gormKeyframeRepository struct {
	db *gorm.DB
}

// NewGormKeyframeRepository 创建 GORM 关键帧仓库
func NewGormKeyframeRepository(db *gorm.DB) KeyframeRepository {
	return &gormKeyframeRepository{db: db}
}

func (r *gormKeyframeRepository) Find(ctx context.Context, id string) (*model.Keyframe, error) {
	var kf model.Keyframe
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&kf).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &kf, nil
}

// ListByTrack 按时间顺序获取轨道上的关键帧
func (r *gormKeyframeRepository) ListByTrack(ctx context.Context, trackID string) ([]model.Keyframe, error) {
	var frames []model.Keyframe
	err := r.db.WithContext(ctx).
		Where("track_id = ?", trackID).
		Order("timestamp ASC").
		Find(&frames).Error
	return frames, err
}

func (r *gormKeyframeRepository) Create(ctx context.Context, kf *model.Keyframe) (string, error) {
	if kf.ID == "" {
		kf.ID = newID()
	}
	if err := r.db.WithContext(ctx).Create(kf).Error; err != nil {
		return "", fmt.Errorf("create keyframe: %w", err)
	}
	return kf.ID, nil
}

func (r *gormKeyframeRepository) Update(ctx context.Context, id string, upd model.KeyframeUpdate) (string, error) {
	fields := map[string]interface{}{}
	if upd.Timestamp != nil {
		fields["timestamp"] = *upd.Timestamp
	}
	if upd.Duration != nil {
		fields["duration"] = *upd.Duration
	}
	if upd.Data != nil {
		fields["data"] = *upd.Data
	}
	if len(fields) == 0 {
		return id, nil
	}
	tx := r.db.WithContext(ctx).Model(&model.Keyframe{}).Where("id = ?", id).Updates(fields)
	if err := rowsOrNotFound(tx); err != nil {
		return "", fmt.Errorf("update keyframe %s: %w", id, err)
	}
	return id, nil
}

func (r *gormKeyframeRepository) Delete(ctx context.Context, id string) (string, error) {
	tx := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Keyframe{})
	if err := rowsOrNotFound(tx); err != nil {
		return "", fmt.Errorf("delete keyframe %s: %w", id, err)
	}
	return id, nil
}
