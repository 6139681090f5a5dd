package model

import "time"

// AspectRatio 画幅比例
type AspectRatio string

const (
	AspectRatioLandscape AspectRatio = "16:9"
	AspectRatioPortrait  AspectRatio = "9:16"
	AspectRatioSquare    AspectRatio = "1:1"
)

// Valid reports whether the ratio is one the renderer supports.
func (a AspectRatio) Valid() bool {
	switch a {
	case AspectRatioLandscape, AspectRatioPortrait, AspectRatioSquare:
		return true
	}
	return false
}

// Project 视频项目
type Project struct {
	ID          string      `json:"id" gorm:"primaryKey;size:36"`
	UserID      string      `json:"userId" gorm:"size:36;index;not null"`
	Title       string      `json:"title" gorm:"size:200;not null"`
	Description string      `json:"description" gorm:"type:text"`
	AspectRatio AspectRatio `json:"aspectRatio" gorm:"size:8;default:'16:9'"`
	VisualStyle string      `json:"visualStyle,omitempty" gorm:"size:32"` // shonen_tv, ghibli_soft, modern_manhwa, classic_ova
	Synopsis    string      `json:"synopsis,omitempty" gorm:"type:text"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// TableName 指定表名
func (Project) TableName() string {
	return "projects"
}
