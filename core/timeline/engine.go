package timeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"Anicut/cache"
	"Anicut/core/media"
	"Anicut/logger"
	"Anicut/model"

	"github.com/google/uuid"
)

// Engine 时间轴引擎：放置、拖动、拉伸、删除片段，并维护查询缓存
type Engine struct {
	tracks    TrackGateway
	keyframes KeyframeGateway
	media     MediaStore
	preview   PreviewStore
	cache     *cache.QueryCache
	spanMs    int64
	newID     func() string

	locks sync.Map // projectID -> *sync.Mutex

	previewMu  sync.Mutex
	previewGen map[string]uint64
}

// Option 引擎可选项
type Option func(*Engine)

// WithPreviewStore 设置预览缓存
func WithPreviewStore(p PreviewStore) Option {
	return func(e *Engine) { e.preview = p }
}

// WithSpan 设置时间轴跨度（毫秒）
func WithSpan(ms int64) Option {
	return func(e *Engine) {
		if ms > 0 {
			e.spanMs = ms
		}
	}
}

// WithQueryCache 使用外部查询缓存
func WithQueryCache(c *cache.QueryCache) Option {
	return func(e *Engine) {
		if c != nil {
			e.cache = c
		}
	}
}

// WithIDGenerator 替换临时ID生成
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// NewEngine 创建时间轴引擎
func NewEngine(tracks TrackGateway, keyframes KeyframeGateway, mediaStore MediaStore, opts ...Option) *Engine {
	e := &Engine{
		tracks:    tracks,
		keyframes: keyframes,
		media:     mediaStore,
		cache:     cache.NewQueryCache(),
		spanMs:    DefaultSpanMs,
		newID:     uuid.NewString,
	}
	e.previewGen = make(map[string]uint64)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Cache 引擎使用的查询缓存
func (e *Engine) Cache() *cache.QueryCache {
	return e.cache
}

// Span 时间轴跨度（毫秒）
func (e *Engine) Span() int64 {
	return e.spanMs
}

func (e *Engine) lock(projectID string) func() {
	v, _ := e.locks.LoadOrStore(projectID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func sortTracks(tracks []model.Track) {
	sort.SliceStable(tracks, func(i, j int) bool {
		return model.TrackTypeOrder[tracks[i].Type] < model.TrackTypeOrder[tracks[j].Type]
	})
}

// Tracks 项目轨道（读穿缓存），按视频、音乐、旁白排序。
// 只返回已提交的轨道，进行中的添加所放入的临时轨道不可见。
func (e *Engine) Tracks(ctx context.Context, projectID string) ([]model.Track, error) {
	tracks, err := e.cachedTracks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Track, 0, len(tracks))
	for _, t := range tracks {
		if !strings.HasPrefix(t.ID, TempTrackPrefix) {
			out = append(out, t)
		}
	}
	return out, nil
}

// Keyframes 轨道关键帧（读穿缓存），不含临时片段
func (e *Engine) Keyframes(ctx context.Context, trackID string) ([]model.Keyframe, error) {
	if strings.HasPrefix(trackID, TempTrackPrefix) {
		return nil, nil
	}
	frames, err := e.cachedKeyframes(ctx, trackID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Keyframe, 0, len(frames))
	for _, f := range frames {
		if !strings.HasPrefix(f.ID, TempKeyframePrefix) {
			out = append(out, f)
		}
	}
	return out, nil
}

// cachedTracks 缓存原样内容，包括临时条目，只在项目锁内使用
func (e *Engine) cachedTracks(ctx context.Context, projectID string) ([]model.Track, error) {
	if projectID == "" {
		return nil, nil
	}
	tracks, err := cache.LoadList(ctx, e.cache, cache.TracksKey(projectID), func(ctx context.Context) ([]model.Track, error) {
		return e.tracks.ListByProject(ctx, projectID)
	})
	if err != nil {
		return nil, fmt.Errorf("获取轨道失败: %w", err)
	}
	sortTracks(tracks)
	return tracks, nil
}

func (e *Engine) cachedKeyframes(ctx context.Context, trackID string) ([]model.Keyframe, error) {
	frames, err := cache.LoadList(ctx, e.cache, cache.FramesKey(trackID), func(ctx context.Context) ([]model.Keyframe, error) {
		return e.keyframes.ListByTrack(ctx, trackID)
	})
	if err != nil {
		return nil, fmt.Errorf("获取关键帧失败: %w", err)
	}
	return frames, nil
}

// ResolveTrack 返回项目中对应类型的轨道，不存在时创建（label 为素材类型，默认锁定）。
// 没有项目时返回 nil, nil。
func (e *Engine) ResolveTrack(ctx context.Context, projectID string, mediaType model.MediaType) (*model.Track, error) {
	if projectID == "" {
		return nil, nil
	}
	trackType, err := TrackTypeFor(mediaType)
	if err != nil {
		return nil, err
	}

	tracks, err := e.tracks.ListByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list tracks: %w", err)
	}
	for i := range tracks {
		if tracks[i].Type == trackType {
			return &tracks[i], nil
		}
	}

	id, err := e.tracks.Create(ctx, &model.Track{
		ProjectID: projectID,
		Type:      trackType,
		Label:     string(mediaType),
		Locked:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("create track: %w", err)
	}
	track, err := e.tracks.Find(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find track: %w", err)
	}
	if track == nil {
		return nil, ErrTrackNotFound
	}
	return track, nil
}

// refresh 变更成功后刷新轨道、关键帧与预览
func (e *Engine) refresh(ctx context.Context, projectID string) {
	e.cache.Invalidate(cache.TracksKey(projectID))
	e.cache.Invalidate(cache.FramesPrefix())
	e.invalidatePreview(ctx, projectID)
}

// settle 无论成败都执行
func (e *Engine) settle(projectID string) {
	e.cache.Invalidate(cache.FramesPrefix())
	e.cache.Invalidate(cache.TracksKey(projectID))
}

// InvalidatePreview 素材变化后清除项目预览
func (e *Engine) InvalidatePreview(ctx context.Context, projectID string) {
	e.invalidatePreview(ctx, projectID)
}

// invalidatePreview 先推进预览代数再删除，构建于旧代数的快照不会再写入
func (e *Engine) invalidatePreview(ctx context.Context, projectID string) {
	e.previewMu.Lock()
	e.previewGen[projectID]++
	e.previewMu.Unlock()

	e.cache.Invalidate(cache.PreviewKey(projectID))
	if e.preview == nil {
		return
	}
	if err := e.preview.Delete(ctx, projectID); err != nil {
		logger.Warn("清除预览缓存失败", logger.String("projectId", projectID), logger.ErrorField(err))
	}
}

// AddMediaToTrack 将已完成的素材追加到对应轨道。
// 先在缓存中放入临时轨道/片段，持久化成功后换成服务端ID；失败时缓存恢复原状。
func (e *Engine) AddMediaToTrack(ctx context.Context, projectID string, item model.MediaItem) (*model.Keyframe, error) {
	if projectID == "" {
		return nil, nil
	}
	if !item.Droppable() {
		return nil, ErrNotDroppable
	}
	trackType, err := TrackTypeFor(item.MediaType)
	if err != nil {
		return nil, err
	}

	unlock := e.lock(projectID)
	defer unlock()
	defer e.settle(projectID)

	tracksKey := cache.TracksKey(projectID)
	e.cache.Cancel(cache.FramesPrefix())
	e.cache.Cancel(tracksKey)
	tracksSnap := e.cache.Take(tracksKey)

	fail := func(restore []cache.Snapshot, cause error) (*model.Keyframe, error) {
		for _, s := range restore {
			e.cache.Restore(s)
		}
		logger.Error("添加素材到轨道失败",
			logger.String("projectId", projectID),
			logger.String("mediaId", item.ID),
			logger.ErrorField(cause))
		return nil, fmt.Errorf("%w: %w", ErrAddMediaFailed, cause)
	}

	tracks, err := e.cachedTracks(ctx, projectID)
	if err != nil {
		return fail([]cache.Snapshot{tracksSnap}, err)
	}

	var track *model.Track
	for i := range tracks {
		if tracks[i].Type == trackType {
			track = &tracks[i]
			break
		}
	}
	tempTrack := track == nil
	if tempTrack {
		track = &model.Track{
			ID:        TempTrackPrefix + e.newID(),
			ProjectID: projectID,
			Type:      trackType,
			Label:     string(item.MediaType),
			Locked:    true,
		}
		cache.SetList(e.cache, tracksKey, append(tracks, *track))
	}

	framesKey := cache.FramesKey(track.ID)
	framesSnap := e.cache.Take(framesKey)
	restore := []cache.Snapshot{framesSnap, tracksSnap}

	var frames []model.Keyframe
	if !tempTrack {
		if frames, err = e.cachedKeyframes(ctx, track.ID); err != nil {
			return fail(restore, err)
		}
	}

	dur, known := media.ResolveDuration(item)
	p := NextPlacement(frames, dur, known)
	tempID := TempKeyframePrefix + e.newID()
	cache.SetList(e.cache, framesKey, append(frames, model.Keyframe{
		ID:        tempID,
		TrackID:   track.ID,
		Timestamp: p.Timestamp,
		Duration:  p.Duration,
		Data:      media.KeyframeDataFor(item),
	}))

	placed, err := e.commitAdd(ctx, projectID, item)
	if err != nil {
		return fail(restore, err)
	}

	e.swapTemp(ctx, projectID, track.ID, tempID, placed)
	e.refresh(ctx, projectID)

	logger.Info("素材已添加到轨道",
		logger.String("projectId", projectID),
		logger.String("trackId", placed.TrackID),
		logger.String("keyframeId", placed.ID),
		logger.Int64("timestamp", placed.Timestamp),
		logger.Int64("duration", placed.Duration))
	return placed, nil
}

// commitAdd 持久化部分：解析轨道、计算位置、创建关键帧
func (e *Engine) commitAdd(ctx context.Context, projectID string, item model.MediaItem) (*model.Keyframe, error) {
	track, err := e.ResolveTrack(ctx, projectID, item.MediaType)
	if err != nil {
		return nil, err
	}
	if track == nil {
		return nil, ErrTrackNotFound
	}

	frames, err := e.keyframes.ListByTrack(ctx, track.ID)
	if err != nil {
		return nil, fmt.Errorf("list keyframes: %w", err)
	}

	dur, known := media.ResolveDuration(item)
	p := NextPlacement(frames, dur, known)
	kf := &model.Keyframe{
		TrackID:   track.ID,
		Timestamp: p.Timestamp,
		Duration:  p.Duration,
		Data:      media.KeyframeDataFor(item),
	}
	id, err := e.keyframes.Create(ctx, kf)
	if err != nil {
		return nil, fmt.Errorf("create keyframe: %w", err)
	}
	kf.ID = id
	return kf, nil
}

// swapTemp 用服务端记录原位替换临时片段；轨道是临时的则一并换成真实轨道
func (e *Engine) swapTemp(ctx context.Context, projectID, optimisticTrackID, tempID string, placed *model.Keyframe) {
	if optimisticTrackID == placed.TrackID {
		cache.UpdateList(e.cache, cache.FramesKey(placed.TrackID), func(frames []model.Keyframe) []model.Keyframe {
			for i := range frames {
				if frames[i].ID == tempID {
					frames[i] = *placed
				}
			}
			return frames
		})
		return
	}

	tempKey := cache.FramesKey(optimisticTrackID)
	moved, _ := cache.GetList[model.Keyframe](e.cache, tempKey)
	e.cache.Remove(tempKey)
	for i := range moved {
		if moved[i].ID == tempID {
			moved[i] = *placed
		}
	}

	realKey := cache.FramesKey(placed.TrackID)
	appended := cache.UpdateList(e.cache, realKey, func(frames []model.Keyframe) []model.Keyframe {
		return append(frames, *placed)
	})
	if !appended {
		cache.SetList(e.cache, realKey, moved)
	}

	if track, err := e.tracks.Find(ctx, placed.TrackID); err == nil && track != nil {
		cache.UpdateList(e.cache, cache.TracksKey(projectID), func(tracks []model.Track) []model.Track {
			out := tracks[:0]
			seen := false
			for _, t := range tracks {
				if t.ID == optimisticTrackID || t.ID == track.ID {
					if !seen {
						out = append(out, *track)
						seen = true
					}
					continue
				}
				out = append(out, t)
			}
			return out
		})
	}
}

// DeleteKeyframe 乐观删除，失败时恢复缓存
func (e *Engine) DeleteKeyframe(ctx context.Context, projectID, keyframeID string) error {
	if projectID == "" {
		return nil
	}

	unlock := e.lock(projectID)
	defer unlock()

	kf, err := e.keyframes.Find(ctx, keyframeID)
	if err != nil {
		return fmt.Errorf("find keyframe: %w", err)
	}
	if kf == nil {
		return ErrKeyframeNotFound
	}
	defer e.settle(projectID)

	key := cache.FramesKey(kf.TrackID)
	e.cache.Cancel(key)
	snap := e.cache.Take(key)
	cache.UpdateList(e.cache, key, func(frames []model.Keyframe) []model.Keyframe {
		out := frames[:0]
		for _, f := range frames {
			if f.ID != keyframeID {
				out = append(out, f)
			}
		}
		return out
	})

	if _, err := e.keyframes.Delete(ctx, keyframeID); err != nil {
		e.cache.Restore(snap)
		logger.Error("删除关键帧失败",
			logger.String("projectId", projectID),
			logger.String("keyframeId", keyframeID),
			logger.ErrorField(err))
		return fmt.Errorf("%w: %w", ErrDeleteFailed, err)
	}

	e.refresh(ctx, projectID)
	return nil
}

// UpdateKeyframe 直接修改关键帧字段。时间不小于0，时长限制在 [1000, 30000]，
// 素材时长已知时不超过素材时长。
func (e *Engine) UpdateKeyframe(ctx context.Context, projectID, keyframeID string, upd model.KeyframeUpdate) (*model.Keyframe, error) {
	if upd.Timestamp != nil && *upd.Timestamp < 0 {
		zero := int64(0)
		upd.Timestamp = &zero
	}

	unlock := e.lock(projectID)
	defer unlock()

	if upd.Duration != nil {
		kf, err := e.keyframes.Find(ctx, keyframeID)
		if err != nil {
			return nil, fmt.Errorf("find keyframe: %w", err)
		}
		if kf == nil {
			return nil, ErrKeyframeNotFound
		}
		ceiling := MaxDuration
		dur, known, err := e.naturalDuration(ctx, *kf)
		if err != nil {
			return nil, err
		}
		if known {
			_, ceiling = ResizeBounds(dur, known)
		}
		d := ClampResize(*upd.Duration, MinDuration, ceiling)
		upd.Duration = &d
	}
	return e.persistUpdate(ctx, projectID, keyframeID, upd)
}

// naturalDuration 片段引用素材的自然时长
func (e *Engine) naturalDuration(ctx context.Context, kf model.Keyframe) (int64, bool, error) {
	if kf.Data.MediaID == "" || e.media == nil {
		return 0, false, nil
	}
	item, err := e.media.Find(ctx, kf.Data.MediaID)
	if err != nil {
		return 0, false, fmt.Errorf("find media: %w", err)
	}
	if item == nil {
		return 0, false, nil
	}
	dur, known := media.ResolveDuration(*item)
	return dur, known, nil
}

func (e *Engine) persistUpdate(ctx context.Context, projectID, keyframeID string, upd model.KeyframeUpdate) (*model.Keyframe, error) {
	kf, err := e.keyframes.Find(ctx, keyframeID)
	if err != nil {
		return nil, fmt.Errorf("find keyframe: %w", err)
	}
	if kf == nil {
		return nil, ErrKeyframeNotFound
	}
	if upd.Empty() {
		return kf, nil
	}

	if _, err := e.keyframes.Update(ctx, keyframeID, upd); err != nil {
		return nil, fmt.Errorf("update keyframe: %w", err)
	}

	updated := upd.Apply(*kf)
	cache.UpdateList(e.cache, cache.FramesKey(kf.TrackID), func(frames []model.Keyframe) []model.Keyframe {
		for i := range frames {
			if frames[i].ID == keyframeID {
				frames[i] = upd.Apply(frames[i])
			}
		}
		return frames
	})
	e.invalidatePreview(ctx, projectID)
	return &updated, nil
}

// MoveKeyframe 持久化拖动结果
func (e *Engine) MoveKeyframe(ctx context.Context, projectID, keyframeID string, timestamp int64) (*model.Keyframe, error) {
	if timestamp < 0 {
		timestamp = 0
	}
	unlock := e.lock(projectID)
	defer unlock()
	return e.persistUpdate(ctx, projectID, keyframeID, model.KeyframeUpdate{Timestamp: &timestamp})
}

// ResizeKeyframe 持久化拉伸结果
func (e *Engine) ResizeKeyframe(ctx context.Context, projectID, keyframeID string, duration int64) (*model.Keyframe, error) {
	unlock := e.lock(projectID)
	defer unlock()
	return e.persistUpdate(ctx, projectID, keyframeID, model.KeyframeUpdate{Duration: &duration})
}

// BeginDrag 按当前轨道内容计算拖动边界
func (e *Engine) BeginDrag(ctx context.Context, keyframeID string, g Geometry, pointerX float64) (*DragSession, error) {
	kf, err := e.keyframes.Find(ctx, keyframeID)
	if err != nil {
		return nil, fmt.Errorf("find keyframe: %w", err)
	}
	if kf == nil {
		return nil, ErrKeyframeNotFound
	}
	frames, err := e.Keyframes(ctx, kf.TrackID)
	if err != nil {
		return nil, err
	}
	if g.SpanMs <= 0 {
		g.SpanMs = e.spanMs
	}
	return NewDragSession(frames, keyframeID, g, pointerX)
}

// BeginResize 上限取素材自然时长与 30 秒中较小者
func (e *Engine) BeginResize(ctx context.Context, keyframeID string, g Geometry, pointerX float64) (*ResizeSession, error) {
	kf, err := e.keyframes.Find(ctx, keyframeID)
	if err != nil {
		return nil, fmt.Errorf("find keyframe: %w", err)
	}
	if kf == nil {
		return nil, ErrKeyframeNotFound
	}

	dur, known, err := e.naturalDuration(ctx, *kf)
	if err != nil {
		return nil, err
	}
	if g.SpanMs <= 0 {
		g.SpanMs = e.spanMs
	}
	return NewResizeSession(*kf, dur, known, g, pointerX), nil
}

// EnforceDurationCeiling 将超过 30 秒的片段逐个改为 30 秒，单个失败记录日志后跳过，返回成功数
func (e *Engine) EnforceDurationCeiling(ctx context.Context, projectID string) (int, error) {
	if projectID == "" {
		return 0, nil
	}

	unlock := e.lock(projectID)
	defer unlock()

	tracks, err := e.tracks.ListByProject(ctx, projectID)
	if err != nil {
		return 0, fmt.Errorf("list tracks: %w", err)
	}

	updated := 0
	for _, track := range tracks {
		frames, err := e.keyframes.ListByTrack(ctx, track.ID)
		if err != nil {
			logger.Warn("获取轨道关键帧失败", logger.String("trackId", track.ID), logger.ErrorField(err))
			continue
		}
		for _, f := range NeedsCeiling(frames) {
			d := MaxDuration
			if _, err := e.keyframes.Update(ctx, f.ID, model.KeyframeUpdate{Duration: &d}); err != nil {
				logger.Warn("修正关键帧时长失败",
					logger.String("keyframeId", f.ID),
					logger.Int64("duration", f.Duration),
					logger.ErrorField(err))
				continue
			}
			updated++
		}
	}

	if updated > 0 {
		logger.Info("已修正超长关键帧", logger.String("projectId", projectID), logger.Int("count", updated))
		e.refresh(ctx, projectID)
	}
	return updated, nil
}
