package timeline

import (
	"context"
	"fmt"

	"Anicut/logger"
	"Anicut/model"

	"golang.org/x/sync/errgroup"
)

// Composition 返回项目的预览快照，优先读取预览缓存
func (e *Engine) Composition(ctx context.Context, projectID string) (*model.Composition, error) {
	if projectID == "" {
		return nil, nil
	}

	if e.preview != nil {
		comp, err := e.preview.Get(ctx, projectID)
		if err != nil {
			logger.Warn("读取预览缓存失败", logger.String("projectId", projectID), logger.ErrorField(err))
		} else if comp != nil {
			return comp, nil
		}
	}

	gen := e.previewGeneration(projectID)
	comp, err := e.buildComposition(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if e.preview != nil {
		e.storePreview(ctx, projectID, gen, comp)
	}
	return comp, nil
}

func (e *Engine) previewGeneration(projectID string) uint64 {
	e.previewMu.Lock()
	defer e.previewMu.Unlock()
	return e.previewGen[projectID]
}

// storePreview 构建期间发生过变更则丢弃快照
func (e *Engine) storePreview(ctx context.Context, projectID string, gen uint64, comp *model.Composition) {
	e.previewMu.Lock()
	defer e.previewMu.Unlock()
	if e.previewGen[projectID] != gen {
		logger.Debug("预览已过期，跳过缓存", logger.String("projectId", projectID))
		return
	}
	if err := e.preview.Set(ctx, projectID, comp); err != nil {
		logger.Warn("写入预览缓存失败", logger.String("projectId", projectID), logger.ErrorField(err))
	}
}

// buildComposition 先取轨道，再并发获取各轨道关键帧，最后按ID索引素材。
// 引用的素材不存在时跳过该片段。
func (e *Engine) buildComposition(ctx context.Context, projectID string) (*model.Composition, error) {
	tracks, err := e.Tracks(ctx, projectID)
	if err != nil {
		return nil, err
	}

	results := make([][]model.Keyframe, len(tracks))
	g, gctx := errgroup.WithContext(ctx)
	for i, track := range tracks {
		g.Go(func() error {
			frames, err := e.Keyframes(gctx, track.ID)
			if err != nil {
				return err
			}
			results[i] = frames
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("compose preview: %w", err)
	}

	items, err := e.media.ListByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list media: %w", err)
	}
	mediaByID := make(map[string]model.MediaItem, len(items))
	for _, item := range items {
		mediaByID[item.ID] = item
	}

	comp := &model.Composition{
		ProjectID:  projectID,
		Tracks:     tracks,
		Frames:     make(map[string][]model.Keyframe, len(tracks)),
		MediaItems: make(map[string]model.MediaItem),
	}
	for i, track := range tracks {
		kept := make([]model.Keyframe, 0, len(results[i]))
		for _, f := range results[i] {
			item, ok := mediaByID[f.Data.MediaID]
			if !ok {
				continue
			}
			kept = append(kept, f)
			comp.MediaItems[item.ID] = item
		}
		comp.Frames[track.ID] = kept
	}
	return comp, nil
}
