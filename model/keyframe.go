package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// KeyframeDataType 关键帧内容类型
type KeyframeDataType string

const (
	KeyframeDataPrompt    KeyframeDataType = "prompt"
	KeyframeDataImage     KeyframeDataType = "image"
	KeyframeDataVideo     KeyframeDataType = "video"
	KeyframeDataVoiceover KeyframeDataType = "voiceover"
	KeyframeDataMusic     KeyframeDataType = "music"
)

// KeyframeData 关键帧引用的媒体信息，以 JSON 存储
type KeyframeData struct {
	Type    KeyframeDataType `json:"type"`
	MediaID string           `json:"mediaId"`
	Prompt  string           `json:"prompt,omitempty"`
	URL     string           `json:"url,omitempty"`
}

// Scan 实现 sql.Scanner 接口
func (d *KeyframeData) Scan(value interface{}) error {
	var bytes []byte
	switch v := value.(type) {
	case nil:
		*d = KeyframeData{}
		return nil
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*d = KeyframeData{}
		return nil
	}
	if len(bytes) == 0 || string(bytes) == "null" {
		*d = KeyframeData{}
		return nil
	}
	return json.Unmarshal(bytes, d)
}

// Value 实现 driver.Valuer 接口
func (d KeyframeData) Value() (driver.Value, error) {
	return json.Marshal(d)
}

// Keyframe 轨道上的一个片段。Timestamp 与 Duration 单位均为毫秒。
type Keyframe struct {
	ID        string       `json:"id" gorm:"primaryKey;size:64"`
	TrackID   string       `json:"trackId" gorm:"size:64;index;not null"`
	Timestamp int64        `json:"timestamp" gorm:"not null;default:0"`
	Duration  int64        `json:"duration" gorm:"not null"`
	Data      KeyframeData `json:"data" gorm:"type:json"`
	CreatedAt time.Time    `json:"-"`
	UpdatedAt time.Time    `json:"-"`
}

// TableName 指定表名
func (Keyframe) TableName() string {
	return "keyframes"
}

// End 片段结束时间
func (k Keyframe) End() int64 {
	return k.Timestamp + k.Duration
}

// KeyframeUpdate 关键帧局部更新，nil 字段不修改
type KeyframeUpdate struct {
	Timestamp *int64        `json:"timestamp,omitempty"`
	Duration  *int64        `json:"duration,omitempty"`
	Data      *KeyframeData `json:"data,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u KeyframeUpdate) Empty() bool {
	return u.Timestamp == nil && u.Duration == nil && u.Data == nil
}

// Apply 将更新应用到关键帧副本
func (u KeyframeUpdate) Apply(k Keyframe) Keyframe {
	if u.Timestamp != nil {
		k.Timestamp = *u.Timestamp
	}
	if u.Duration != nil {
		k.Duration = *u.Duration
	}
	if u.Data != nil {
		k.Data = *u.Data
	}
	return k
}
