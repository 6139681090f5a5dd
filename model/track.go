package model

import "time"

// TrackType 轨道类型
type TrackType string

const (
	TrackTypeVideo     TrackType = "video"
	TrackTypeMusic     TrackType = "music"
	TrackTypeVoiceover TrackType = "voiceover"
)

// TrackTypeOrder 时间轴上的轨道显示顺序
var TrackTypeOrder = map[TrackType]int{
	TrackTypeVideo:     1,
	TrackTypeMusic:     2,
	TrackTypeVoiceover: 3,
}

// Track 时间轴轨道
type Track struct {
	ID        string    `json:"id" gorm:"primaryKey;size:64"`
	ProjectID string    `json:"projectId" gorm:"size:36;index;not null"`
	Type      TrackType `json:"type" gorm:"size:16;not null"`
	Label     string    `json:"label" gorm:"size:64"`
	Locked    bool      `json:"locked" gorm:"default:true"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// TableName 指定表名
func (Track) TableName() string {
	return "tracks"
}
