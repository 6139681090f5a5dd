package repository

import (
	"context"
	"errors"
	"fmt"

	"Anicut/model"

	"gorm.io/gorm"
)

// CharacterUpdate 角色局部更新
type CharacterUpdate struct {
	Name           *string               `json:"name,omitempty"`
	Description    *string               `json:"description,omitempty"`
	ProjectID      *string               `json:"projectId,omitempty"`
	LoraURL        *string               `json:"loraUrl,omitempty"`
	ThumbnailURL   *string               `json:"thumbnailUrl,omitempty"`
	TrainingStatus *model.TrainingStatus `json:"trainingStatus,omitempty"`
	TrainingJobID  *string               `json:"trainingJobId,omitempty"`
	TrainingImages model.StringList      `json:"trainingImages,omitempty"`
	TrainingError  *string               `json:"trainingError,omitempty"`
}

// CharacterRepository 角色数据访问接口
type CharacterRepository interface {
	Find(ctx context.Context, id string) (*model.Character, error)
	FindByTrainingJobID(ctx context.Context, jobID string) (*model.Character, error)
	List(ctx context.Context, userID string) ([]model.Character, error)
	ListByProject(ctx context.Context, projectID string) ([]model.Character, error)
	Create(ctx context.Context, c *model.Character) (string, error)
	Update(ctx context.Context, id string, upd CharacterUpdate) (string, error)
	Delete(ctx context.Context, id string) (string, error)
}

type gormCharacterRepository struct {
	db *gorm.DB
}

// NewGormCharacterRepository 创建 GORM 角色仓库
func NewGormCharacterRepository(db *gorm.DB) CharacterRepository {
	return &gormCharacterRepository{db: db}
}

func (r *gormCharacterRepository) first(ctx context.Context, query string, arg interface{}) (*model.Character, error) {
	var c model.Character
	err := r.db.WithContext(ctx).Where(query, arg).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *gormCharacterRepository) Find(ctx context.Context, id string) (*model.Character, error) {
	return r.first(ctx, "id = ?", id)
}

// FindByTrainingJobID 根据训练任务ID查找角色（webhook 回调使用）
func (r *gormCharacterRepository) FindByTrainingJobID(ctx context.Context, jobID string) (*model.Character, error) {
	return r.first(ctx, "training_job_id = ?", jobID)
}

func (r *gormCharacterRepository) List(ctx context.Context, userID string) ([]model.Character, error) {
	var cs []model.Character
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&cs).Error
	return cs, err
}

func (r *gormCharacterRepository) ListByProject(ctx context.Context, projectID string) ([]model.Character, error) {
	var cs []model.Character
	err := r.db.WithContext(ctx).Where("project_id = ?", projectID).Order("created_at DESC").Find(&cs).Error
	return cs, err
}

func (r *gormCharacterRepository) Create(ctx context.Context, c *model.Character) (string, error) {
	if c.ID == "" {
		c.ID = newID()
	}
	if c.TrainingStatus == "" {
		c.TrainingStatus = model.TrainingPending
	}
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return "", fmt.Errorf("create character: %w", err)
	}
	return c.ID, nil
}

func (r *gormCharacterRepository) Update(ctx context.Context, id string, upd CharacterUpdate) (string, error) {
	fields := map[string]interface{}{}
	set := func(col string, v *string) {
		if v != nil {
			fields[col] = *v
		}
	}
	set("name", upd.Name)
	set("description", upd.Description)
	set("project_id", upd.ProjectID)
	set("lora_url", upd.LoraURL)
	set("thumbnail_url", upd.ThumbnailURL)
	set("training_job_id", upd.TrainingJobID)
	set("training_error", upd.TrainingError)
	if upd.TrainingStatus != nil {
		fields["training_status"] = *upd.TrainingStatus
	}
	if upd.TrainingImages != nil {
		fields["training_images"] = upd.TrainingImages
	}
	if len(fields) == 0 {
		return id, nil
	}
	tx := r.db.WithContext(ctx).Model(&model.Character{}).Where("id = ?", id).Updates(fields)
	if err := rowsOrNotFound(tx); err != nil {
		return "", fmt.Errorf("update character %s: %w", id, err)
	}
	return id, nil
}

func (r *gormCharacterRepository) Delete(ctx context.Context, id string) (string, error) {
	tx := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Character{})
	if err := rowsOrNotFound(tx); err != nil {
		return "", fmt.Errorf("delete character %s: %w", id, err)
	}
	return id, nil
}
