package model

// Composition 预览所需的完整时间轴快照
type Composition struct {
	ProjectID  string                `json:"projectId"`
	Tracks     []Track               `json:"tracks"`
	Frames     map[string][]Keyframe `json:"frames"`
	MediaItems map[string]MediaItem  `json:"mediaItems"`
}
