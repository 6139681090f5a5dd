package repository

import (
	"context"
	"errors"
	"fmt"

	"Anicut/model"

	"gorm.io/gorm"
)

// EpisodeUpdate 剧集局部更新
type EpisodeUpdate struct {
	EpisodeNumber *int                 `json:"episodeNumber,omitempty"`
	Title         *string              `json:"title,omitempty"`
	Synopsis      *string              `json:"synopsis,omitempty"`
	Duration      *float64             `json:"duration,omitempty"`
	Status        *model.EpisodeStatus `json:"status,omitempty"`
}

// SceneUpdate 场景局部更新
type SceneUpdate struct {
	SceneNumber *int              `json:"sceneNumber,omitempty"`
	Title       *string           `json:"title,omitempty"`
	Description *string           `json:"description,omitempty"`
	Duration    *float64          `json:"duration,omitempty"`
	SceneType   *model.SceneType  `json:"sceneType,omitempty"`
	Mood        *string           `json:"mood,omitempty"`
	Setting     *string           `json:"setting,omitempty"`
	Status      *model.ShotStatus `json:"status,omitempty"`
}

// ShotUpdate 镜头局部更新
type ShotUpdate struct {
	ShotNumber     *int              `json:"shotNumber,omitempty"`
	Duration       *float64          `json:"duration,omitempty"`
	CameraType     *model.CameraType `json:"cameraType,omitempty"`
	CameraMovement *string           `json:"cameraMovement,omitempty"`
	Description    *string           `json:"description,omitempty"`
	MediaID        *string           `json:"mediaId,omitempty"`
	DialogueText   *string           `json:"dialogueText,omitempty"`
	CharacterIDs   model.StringList  `json:"characterIds,omitempty"`
	Status         *model.ShotStatus `json:"status,omitempty"`
}

// EpisodeRepository 剧集数据访问，按集号升序
type EpisodeRepository interface {
	Find(ctx context.Context, id string) (*model.Episode, error)
	ListByProject(ctx context.Context, projectID string) ([]model.Episode, error)
	Create(ctx context.Context, e *model.Episode) (string, error)
	Update(ctx context.Context, id string, upd EpisodeUpdate) (string, error)
	Delete(ctx context.Context, id string) (string, error)
}

// SceneRepository 场景数据访问
type SceneRepository interface {
	Find(ctx context.Context, id string) (*model.Scene, error)
	ListByEpisode(ctx context.Context, episodeID string) ([]model.Scene, error)
	Create(ctx context.Context, s *model.Scene) (string, error)
	Update(ctx context.Context, id string, upd SceneUpdate) (string, error)
	Delete(ctx context.Context, id string) (string, error)
}

// ShotRepository 镜头数据访问
type ShotRepository interface {
	Find(ctx context.Context, id string) (*model.Shot, error)
	ListByScene(ctx context.Context, sceneID string) ([]model.Shot, error)
	Create(ctx context.Context, s *model.Shot) (string, error)
	Update(ctx context.Context, id string, upd ShotUpdate) (string, error)
	Delete(ctx context.Context, id string) (string, error)
}

type gormEpisodeRepository struct{ db *gorm.DB }
type gormSceneRepository struct{ db *gorm.DB }
type gormShotRepository struct{ db *gorm.DB }

// NewGormEpisodeRepository 创建 GORM 剧集仓库
func NewGormEpisodeRepository(db *gorm.DB) EpisodeRepository {
	return &gormEpisodeRepository{db: db}
}

// NewGormSceneRepository 创建 GORM 场景仓库
func NewGormSceneRepository(db *gorm.DB) SceneRepository {
	return &gormSceneRepository{db: db}
}

// NewGormShotRepository 创建 GORM 镜头仓库
func NewGormShotRepository(db *gorm.DB) ShotRepository {
	return &gormShotRepository{db: db}
}

// findByID 未找到时返回 nil, nil
func findByID[T any](ctx context.Context, db *gorm.DB, id string) (*T, error) {
	var v T
	if err := db.WithContext(ctx).Where("id = ?", id).First(&v).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

// nextNumber 父级下当前最大序号加一
func nextNumber(tx *gorm.DB, table, column, parentColumn, parentID string) (int, error) {
	var top *int
	err := tx.Table(table).Where(parentColumn+" = ?", parentID).Select("MAX(" + column + ")").Scan(&top).Error
	if err != nil {
		return 0, err
	}
	if top == nil {
		return 1, nil
	}
	return *top + 1, nil
}

func (r *gormEpisodeRepository) Find(ctx context.Context, id string) (*model.Episode, error) {
	return findByID[model.Episode](ctx, r.db, id)
}

func (r *gormEpisodeRepository) ListByProject(ctx context.Context, projectID string) ([]model.Episode, error) {
	var eps []model.Episode
	err := r.db.WithContext(ctx).Where("project_id = ?", projectID).Order("episode_number ASC").Find(&eps).Error
	return eps, err
}

func (r *gormEpisodeRepository) Create(ctx context.Context, e *model.Episode) (string, error) {
	if e.ID == "" {
		e.ID = newID()
	}
	if e.Status == "" {
		e.Status = model.EpisodePlanning
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if e.EpisodeNumber <= 0 {
			n, err := nextNumber(tx, "episodes", "episode_number", "project_id", e.ProjectID)
			if err != nil {
				return err
			}
			e.EpisodeNumber = n
		}
		return tx.Create(e).Error
	})
	if err != nil {
		return "", fmt.Errorf("create episode: %w", err)
	}
	return e.ID, nil
}

func (r *gormEpisodeRepository) Update(ctx context.Context, id string, upd EpisodeUpdate) (string, error) {
	fields := map[string]interface{}{}
	if upd.EpisodeNumber != nil {
		fields["episode_number"] = *upd.EpisodeNumber
	}
	if upd.Title != nil {
		fields["title"] = *upd.Title
	}
	if upd.Synopsis != nil {
		fields["synopsis"] = *upd.Synopsis
	}
	if upd.Duration != nil {
		fields["duration"] = *upd.Duration
	}
	if upd.Status != nil {
		fields["status"] = *upd.Status
	}
	if len(fields) == 0 {
		return id, nil
	}
	tx := r.db.WithContext(ctx).Model(&model.Episode{}).Where("id = ?", id).Updates(fields)
	if err := rowsOrNotFound(tx); err != nil {
		return "", fmt.Errorf("update episode %s: %w", id, err)
	}
	return id, nil
}

// Delete 连同场景与镜头一起删除
func (r *gormEpisodeRepository) Delete(ctx context.Context, id string) (string, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scenes := tx.Model(&model.Scene{}).Select("id").Where("episode_id = ?", id)
		if err := tx.Where("scene_id IN (?)", scenes).Delete(&model.Shot{}).Error; err != nil {
			return err
		}
		if err := tx.Where("episode_id = ?", id).Delete(&model.Scene{}).Error; err != nil {
			return err
		}
		return rowsOrNotFound(tx.Where("id = ?", id).Delete(&model.Episode{}))
	})
	if err != nil {
		return "", fmt.Errorf("delete episode %s: %w", id, err)
	}
	return id, nil
}

func (r *gormSceneRepository) Find(ctx context.Context, id string) (*model.Scene, error) {
	return findByID[model.Scene](ctx, r.db, id)
}

func (r *gormSceneRepository) ListByEpisode(ctx context.Context, episodeID string) ([]model.Scene, error) {
	var scenes []model.Scene
	err := r.db.WithContext(ctx).Where("episode_id = ?", episodeID).Order("scene_number ASC").Find(&scenes).Error
	return scenes, err
}

func (r *gormSceneRepository) Create(ctx context.Context, s *model.Scene) (string, error) {
	if s.ID == "" {
		s.ID = newID()
	}
	if s.Status == "" {
		s.Status = model.ShotPlanned
	}
	if s.SceneType == "" {
		s.SceneType = model.SceneDialogue
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.SceneNumber <= 0 {
			n, err := nextNumber(tx, "scenes", "scene_number", "episode_id", s.EpisodeID)
			if err != nil {
				return err
			}
			s.SceneNumber = n
		}
		return tx.Create(s).Error
	})
	if err != nil {
		return "", fmt.Errorf("create scene: %w", err)
	}
	return s.ID, nil
}

func (r *gormSceneRepository) Update(ctx context.Context, id string, upd SceneUpdate) (string, error) {
	fields := map[string]interface{}{}
	set := func(col string, v *string) {
		if v != nil {
			fields[col] = *v
		}
	}
	set("title", upd.Title)
	set("description", upd.Description)
	set("mood", upd.Mood)
	set("setting", upd.Setting)
	if upd.SceneNumber != nil {
		fields["scene_number"] = *upd.SceneNumber
	}
	if upd.Duration != nil {
		fields["duration"] = *upd.Duration
	}
	if upd.SceneType != nil {
		fields["scene_type"] = *upd.SceneType
	}
	if upd.Status != nil {
		fields["status"] = *upd.Status
	}
	if len(fields) == 0 {
		return id, nil
	}
	tx := r.db.WithContext(ctx).Model(&model.Scene{}).Where("id = ?", id).Updates(fields)
	if err := rowsOrNotFound(tx); err != nil {
		return "", fmt.Errorf("update scene %s: %w", id, err)
	}
	return id, nil
}

func (r *gormSceneRepository) Delete(ctx context.Context, id string) (string, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("scene_id = ?", id).Delete(&model.Shot{}).Error; err != nil {
			return err
		}
		return rowsOrNotFound(tx.Where("id = ?", id).Delete(&model.Scene{}))
	})
	if err != nil {
		return "", fmt.Errorf("delete scene %s: %w", id, err)
	}
	return id, nil
}

func (r *gormShotRepository) Find(ctx context.Context, id string) (*model.Shot, error) {
	return findByID[model.Shot](ctx, r.db, id)
}

func (r *gormShotRepository) ListByScene(ctx context.Context, sceneID string) ([]model.Shot, error) {
	var shots []model.Shot
	err := r.db.WithContext(ctx).Where("scene_id = ?", sceneID).Order("shot_number ASC").Find(&shots).Error
	return shots, err
}

func (r *gormShotRepository) Create(ctx context.Context, s *model.Shot) (string, error) {
	if s.ID == "" {
		s.ID = newID()
	}
	if s.Status == "" {
		s.Status = model.ShotPlanned
	}
	if s.CameraType == "" {
		s.CameraType = model.CameraMedium
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.ShotNumber <= 0 {
			n, err := nextNumber(tx, "shots", "shot_number", "scene_id", s.SceneID)
			if err != nil {
				return err
			}
			s.ShotNumber = n
		}
		return tx.Create(s).Error
	})
	if err != nil {
		return "", fmt.Errorf("create shot: %w", err)
	}
	return s.ID, nil
}

func (r *gormShotRepository) Update(ctx context.Context, id string, upd ShotUpdate) (string, error) {
	fields := map[string]interface{}{}
	set := func(col string, v *string) {
		if v != nil {
			fields[col] = *v
		}
	}
	set("camera_movement", upd.CameraMovement)
	set("description", upd.Description)
	set("dialogue_text", upd.DialogueText)
	if upd.MediaID != nil {
		if *upd.MediaID == "" {
			fields["media_id"] = nil
		} else {
			fields["media_id"] = *upd.MediaID
		}
	}
	if upd.ShotNumber != nil {
		fields["shot_number"] = *upd.ShotNumber
	}
	if upd.Duration != nil {
		fields["duration"] = *upd.Duration
	}
	if upd.CameraType != nil {
		fields["camera_type"] = *upd.CameraType
	}
	if upd.CharacterIDs != nil {
		fields["character_ids"] = upd.CharacterIDs
	}
	if upd.Status != nil {
		fields["status"] = *upd.Status
	}
	if len(fields) == 0 {
		return id, nil
	}
	tx := r.db.WithContext(ctx).Model(&model.Shot{}).Where("id = ?", id).Updates(fields)
	if err := rowsOrNotFound(tx); err != nil {
		return "", fmt.Errorf("update shot %s: %w", id, err)
	}
	return id, nil
}

func (r *gormShotRepository) Delete(ctx context.Context, id string) (string, error) {
	tx := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Shot{})
	if err := rowsOrNotFound(tx); err != nil {
		return "", fmt.Errorf("delete shot %s: %w", id, err)
	}
	return id, nil
}
