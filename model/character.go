package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// TrainingStatus LoRA 训练状态
type TrainingStatus string

const (
	TrainingPending   TrainingStatus = "pending"
	TrainingUploading TrainingStatus = "uploading"
	TrainingRunning   TrainingStatus = "training"
	TrainingCompleted TrainingStatus = "completed"
	TrainingFailed    TrainingStatus = "failed"
)

// StringList 以 JSON 数组存储的字符串列表
type StringList []string

// Scan 实现 sql.Scanner 接口
func (s *StringList) Scan(value interface{}) error {
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*s = nil
		return nil
	}
	if len(bytes) == 0 || string(bytes) == "null" {
		*s = nil
		return nil
	}
	return json.Unmarshal(bytes, s)
}

// Value 实现 driver.Valuer 接口
func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

// Character 角色，训练图片为 MinIO 对象路径
type Character struct {
	ID             string         `json:"id" gorm:"primaryKey;size:36"`
	UserID         string         `json:"userId" gorm:"size:36;index;not null"`
	ProjectID      *string        `json:"projectId,omitempty" gorm:"size:36;index"`
	Name           string         `json:"name" gorm:"size:100;not null"`
	Description    string         `json:"description,omitempty" gorm:"type:text"`
	LoraURL        string         `json:"loraUrl,omitempty" gorm:"size:1024"`
	ThumbnailURL   string         `json:"thumbnailUrl,omitempty" gorm:"size:1024"`
	TrainingStatus TrainingStatus `json:"trainingStatus" gorm:"size:16;default:'pending'"`
	TrainingJobID  string         `json:"trainingJobId,omitempty" gorm:"size:128;index"`
	TrainingImages StringList     `json:"trainingImages,omitempty" gorm:"type:json"`
	TrainingError  string         `json:"trainingError,omitempty" gorm:"type:text"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// TableName 指定表名
func (Character) TableName() string {
	return "characters"
}
