package model

import (
	"time"

	"gorm.io/datatypes"
)

// MediaType 媒体类型
type MediaType string

const (
	MediaTypeImage     MediaType = "image"
	MediaTypeVideo     MediaType = "video"
	MediaTypeMusic     MediaType = "music"
	MediaTypeVoiceover MediaType = "voiceover"
)

// Valid reports whether t is a known media type.
func (t MediaType) Valid() bool {
	switch t {
	case MediaTypeImage, MediaTypeVideo, MediaTypeMusic, MediaTypeVoiceover:
		return true
	}
	return false
}

// MediaKind 媒体来源
type MediaKind string

const (
	MediaKindGenerated MediaKind = "generated"
	MediaKindUploaded  MediaKind = "uploaded"
)

// MediaStatus 生成状态
type MediaStatus string

const (
	MediaStatusPending   MediaStatus = "pending"
	MediaStatusRunning   MediaStatus = "running"
	MediaStatusCompleted MediaStatus = "completed"
	MediaStatusFailed    MediaStatus = "failed"
)

// MediaItem 生成或上传的素材。Input/Output/Metadata 保留 fal.ai 的原始 JSON。
type MediaItem struct {
	ID         string         `json:"id" gorm:"primaryKey;size:36"`
	ProjectID  string         `json:"projectId" gorm:"size:36;index;not null"`
	Kind       MediaKind      `json:"kind" gorm:"size:16;not null"`
	MediaType  MediaType      `json:"mediaType" gorm:"size:16;not null"`
	Status     MediaStatus    `json:"status" gorm:"size:16;index;not null"`
	EndpointID string         `json:"endpointId,omitempty" gorm:"size:128"`
	RequestID  string         `json:"requestId,omitempty" gorm:"size:128;index"`
	URL        string         `json:"url,omitempty" gorm:"size:1024"`
	Input      datatypes.JSON `json:"input,omitempty"`
	Output     datatypes.JSON `json:"output,omitempty"`
	Metadata   datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// TableName 指定表名
func (MediaItem) TableName() string {
	return "media_items"
}

// Droppable 只有生成完成的素材可以拖入时间轴
func (m MediaItem) Droppable() bool {
	return m.Status == MediaStatusCompleted
}
