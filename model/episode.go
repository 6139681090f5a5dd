package model

import "time"

// EpisodeStatus 剧集制作阶段
type EpisodeStatus string

const (
	EpisodePlanning       EpisodeStatus = "planning"
	EpisodeStoryboard     EpisodeStatus = "storyboard"
	EpisodeProduction     EpisodeStatus = "production"
	EpisodePostProduction EpisodeStatus = "post_production"
	EpisodeCompleted      EpisodeStatus = "completed"
)

func (s EpisodeStatus) Valid() bool {
	switch s {
	case EpisodePlanning, EpisodeStoryboard, EpisodeProduction, EpisodePostProduction, EpisodeCompleted:
		return true
	}
	return false
}

// ShotStatus 场景与镜头共用的生成状态
type ShotStatus string

const (
	ShotPlanned    ShotStatus = "planned"
	ShotGenerating ShotStatus = "generating"
	ShotGenerated  ShotStatus = "generated"
	ShotApproved   ShotStatus = "approved"
)

func (s ShotStatus) Valid() bool {
	switch s {
	case ShotPlanned, ShotGenerating, ShotGenerated, ShotApproved:
		return true
	}
	return false
}

// SceneType 场景类型
type SceneType string

const (
	SceneAction       SceneType = "action"
	SceneDialogue     SceneType = "dialogue"
	SceneEstablishing SceneType = "establishing"
	SceneTransition   SceneType = "transition"
	SceneMontage      SceneType = "montage"
)

func (t SceneType) Valid() bool {
	switch t {
	case SceneAction, SceneDialogue, SceneEstablishing, SceneTransition, SceneMontage:
		return true
	}
	return false
}

// CameraType 镜头景别
type CameraType string

const (
	CameraWide           CameraType = "wide"
	CameraMedium         CameraType = "medium"
	CameraCloseUp        CameraType = "close_up"
	CameraExtremeCloseUp CameraType = "extreme_close_up"
	CameraEstablishing   CameraType = "establishing"
	CameraPOV            CameraType = "pov"
	CameraOverShoulder   CameraType = "over_shoulder"
)

func (c CameraType) Valid() bool {
	switch c {
	case CameraWide, CameraMedium, CameraCloseUp, CameraExtremeCloseUp, CameraEstablishing, CameraPOV, CameraOverShoulder:
		return true
	}
	return false
}

// Episode 项目下的一集
type Episode struct {
	ID            string        `json:"id" gorm:"primaryKey;size:36"`
	ProjectID     string        `json:"projectId" gorm:"size:36;index;not null"`
	EpisodeNumber int           `json:"episodeNumber"`
	Title         string        `json:"title" gorm:"size:200;not null"`
	Synopsis      string        `json:"synopsis,omitempty" gorm:"type:text"`
	Duration      *float64      `json:"duration,omitempty"` // 秒
	Status        EpisodeStatus `json:"status" gorm:"size:24;default:'planning'"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

func (Episode) TableName() string {
	return "episodes"
}

// Scene 剧集中的场景
type Scene struct {
	ID          string     `json:"id" gorm:"primaryKey;size:36"`
	EpisodeID   string     `json:"episodeId" gorm:"size:36;index;not null"`
	SceneNumber int        `json:"sceneNumber"`
	Title       string     `json:"title" gorm:"size:200;not null"`
	Description string     `json:"description,omitempty" gorm:"type:text"`
	Duration    *float64   `json:"duration,omitempty"`
	SceneType   SceneType  `json:"sceneType" gorm:"size:16;default:'dialogue'"`
	Mood        string     `json:"mood,omitempty" gorm:"size:16"` // tense, happy, sad, exciting, calm, mysterious
	Setting     string     `json:"setting,omitempty" gorm:"size:200"`
	Status      ShotStatus `json:"status" gorm:"size:16;default:'planned'"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (Scene) TableName() string {
	return "scenes"
}

// Shot 场景中的镜头，MediaID 指向生成的素材
type Shot struct {
	ID             string     `json:"id" gorm:"primaryKey;size:36"`
	SceneID        string     `json:"sceneId" gorm:"size:36;index;not null"`
	ShotNumber     int        `json:"shotNumber"`
	Duration       float64    `json:"duration"`
	CameraType     CameraType `json:"cameraType" gorm:"size:24;default:'medium'"`
	CameraMovement string     `json:"cameraMovement,omitempty" gorm:"size:16"` // static, pan, tilt, zoom_in, zoom_out, tracking, dolly
	Description    string     `json:"description,omitempty" gorm:"type:text"`
	MediaID        *string    `json:"mediaId,omitempty" gorm:"size:36;index"`
	DialogueText   string     `json:"dialogueText,omitempty" gorm:"type:text"`
	CharacterIDs   StringList `json:"characterIds,omitempty" gorm:"type:json"`
	Status         ShotStatus `json:"status" gorm:"size:16;default:'planned'"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func (Shot) TableName() string {
	return "shots"
}
