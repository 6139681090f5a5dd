package timeline

import (
	"context"
	"errors"

	"Anicut/model"
)

// 时间轴常量（毫秒）
const (
	DefaultSpanMs   int64 = 30000
	MinDuration     int64 = 1000
	MaxDuration     int64 = 30000
	DefaultDuration int64 = 5000
	SnapStep        int64 = 100
	// PlacementGap 新片段与前一片段之间留出的间隔
	PlacementGap int64 = 1

	TempTrackPrefix    = "temp-track-"
	TempKeyframePrefix = "temp-keyframe-"
)

var (
	ErrNotDroppable      = errors.New("media is not ready to be placed")
	ErrKeyframeNotFound  = errors.New("keyframe not found")
	ErrTrackNotFound     = errors.New("track not found")
	ErrAddMediaFailed    = errors.New("failed to add media to track")
	ErrDeleteFailed      = errors.New("failed to delete keyframe")
	ErrUnknownMediaType  = errors.New("unknown media type")
	ErrGestureInProgress = errors.New("another gesture is in progress")
)

// TrackTypeFor 素材类型到轨道类型的映射，图片与视频共用视频轨
func TrackTypeFor(mediaType model.MediaType) (model.TrackType, error) {
	switch mediaType {
	case model.MediaTypeImage, model.MediaTypeVideo:
		return model.TrackTypeVideo, nil
	case model.MediaTypeMusic:
		return model.TrackTypeMusic, nil
	case model.MediaTypeVoiceover:
		return model.TrackTypeVoiceover, nil
	}
	return "", ErrUnknownMediaType
}

// TrackGateway 轨道持久化
type TrackGateway interface {
	Find(ctx context.Context, id string) (*model.Track, error)
	ListByProject(ctx context.Context, projectID string) ([]model.Track, error)
	Create(ctx context.Context, track *model.Track) (string, error)
}

// KeyframeGateway 关键帧持久化
type KeyframeGateway interface {
	Find(ctx context.Context, id string) (*model.Keyframe, error)
	ListByTrack(ctx context.Context, trackID string) ([]model.Keyframe, error)
	Create(ctx context.Context, kf *model.Keyframe) (string, error)
	Update(ctx context.Context, id string, upd model.KeyframeUpdate) (string, error)
	Delete(ctx context.Context, id string) (string, error)
}

// MediaStore 只读的素材访问
type MediaStore interface {
	Find(ctx context.Context, id string) (*model.MediaItem, error)
	ListByProject(ctx context.Context, projectID string) ([]model.MediaItem, error)
}

// PreviewStore 预览缓存，Get 未命中返回 nil, nil
type PreviewStore interface {
	Get(ctx context.Context, projectID string) (*model.Composition, error)
	Set(ctx context.Context, projectID string, comp *model.Composition) error
	Delete(ctx context.Context, projectID string) error
}
