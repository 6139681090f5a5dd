package timeline

import (
	"Anicut/model"
)

// Placement 新片段的位置
type Placement struct {
	Timestamp int64
	Duration  int64
}

// ClampDuration 未知或非正的时长按默认值处理，并限制在上限以内
func ClampDuration(resolved int64, known bool) int64 {
	if !known || resolved <= 0 {
		resolved = DefaultDuration
	}
	if resolved > MaxDuration {
		return MaxDuration
	}
	return resolved
}

// lastExtending 返回结束时间最晚的片段，空轨道返回 {0,0}
func lastExtending(frames []model.Keyframe) model.Keyframe {
	last := model.Keyframe{}
	for _, f := range frames {
		if f.End() > last.End() {
			last = f
		}
	}
	return last
}

// NextPlacement 新片段追加在最晚结束的片段之后，不回填删除留下的空隙
func NextPlacement(frames []model.Keyframe, resolved int64, known bool) Placement {
	p := Placement{Duration: ClampDuration(resolved, known)}
	if len(frames) == 0 {
		return p
	}
	last := lastExtending(frames)
	p.Timestamp = last.Timestamp + last.Duration + PlacementGap
	return p
}

// NeedsCeiling 时长超过上限的片段
func NeedsCeiling(frames []model.Keyframe) []model.Keyframe {
	var out []model.Keyframe
	for _, f := range frames {
		if f.Duration > MaxDuration {
			out = append(out, f)
		}
	}
	return out
}
