package timeline

import (
	"math"
	"sort"

	"Anicut/model"
)

// Geometry 时间轴在客户端的像素宽度与对应的毫秒跨度
type Geometry struct {
	WidthPx float64 `json:"widthPx"`
	SpanMs  int64   `json:"spanMs"`
}

func (g Geometry) span() int64 {
	if g.SpanMs <= 0 {
		return DefaultSpanMs
	}
	return g.SpanMs
}

// MsToPx 毫秒转像素
func (g Geometry) MsToPx(ms int64) float64 {
	if g.WidthPx <= 0 {
		return 0
	}
	return float64(ms) * g.WidthPx / float64(g.span())
}

// pxToMs 像素转毫秒（未取整）
func (g Geometry) pxToMs(px float64) float64 {
	if g.WidthPx <= 0 {
		return 0
	}
	return px * float64(g.span()) / g.WidthPx
}

// Bounds 拖动时片段左边缘允许的像素区间
type Bounds struct {
	Left  float64 `json:"left"`
	Right float64 `json:"right"`
}

// msRange 与 Bounds 对应的毫秒区间
type msRange struct {
	min, max int64
}

func sortedByTimestamp(frames []model.Keyframe) []model.Keyframe {
	sorted := make([]model.Keyframe, len(frames))
	copy(sorted, frames)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})
	return sorted
}

// neighbors 返回按时间排序后片段的前后邻居
func neighbors(frames []model.Keyframe, id string) (self model.Keyframe, prev, next *model.Keyframe, err error) {
	sorted := sortedByTimestamp(frames)
	for i := range sorted {
		if sorted[i].ID != id {
			continue
		}
		if i > 0 {
			p := sorted[i-1]
			prev = &p
		}
		if i+1 < len(sorted) {
			n := sorted[i+1]
			next = &n
		}
		return sorted[i], prev, next, nil
	}
	return model.Keyframe{}, nil, nil, ErrKeyframeNotFound
}

// DragBounds 左界为前一片段的右边缘（或0），右界为后一片段的左边缘减去自身宽度（或时间轴宽度减去自身宽度）
func DragBounds(frames []model.Keyframe, id string, g Geometry) (Bounds, error) {
	b, _, err := dragBounds(frames, id, g)
	return b, err
}

func dragBounds(frames []model.Keyframe, id string, g Geometry) (Bounds, msRange, error) {
	self, prev, next, err := neighbors(frames, id)
	if err != nil {
		return Bounds{}, msRange{}, err
	}

	ownWidth := g.MsToPx(self.Duration)
	b := Bounds{Left: 0, Right: g.WidthPx - ownWidth}
	r := msRange{min: 0, max: g.span() - self.Duration}
	if prev != nil {
		b.Left = g.MsToPx(prev.End())
		r.min = prev.End()
	}
	if next != nil {
		b.Right = g.MsToPx(next.Timestamp) - ownWidth
		r.max = next.Timestamp - self.Duration
	}
	// 已经重叠的片段只能停在左界
	if b.Right < b.Left {
		b.Right = b.Left
	}
	if r.max < r.min {
		r.max = r.min
	}
	return b, r, nil
}

// DragSession 一次拖动手势：按下记录起点，移动时夹在邻居之间，松开得到最终时间
type DragSession struct {
	KeyframeID string
	TrackID    string

	geo       Geometry
	bounds    Bounds
	limits    msRange
	startX    float64
	startLeft float64
	offset    float64
	timestamp int64
}

// NewDragSession 在 pointerX 处按下
func NewDragSession(frames []model.Keyframe, id string, g Geometry, pointerX float64) (*DragSession, error) {
	b, r, err := dragBounds(frames, id, g)
	if err != nil {
		return nil, err
	}
	self, _, _, _ := neighbors(frames, id)
	left := g.MsToPx(self.Timestamp)
	return &DragSession{
		KeyframeID: id,
		TrackID:    self.TrackID,
		geo:        g,
		bounds:     b,
		limits:     r,
		startX:     pointerX,
		startLeft:  left,
		offset:     left,
		timestamp:  self.Timestamp,
	}, nil
}

// Bounds 本次拖动的像素边界
func (s *DragSession) Bounds() Bounds {
	return s.bounds
}

// Move 返回夹取后的左偏移与对应时间
func (s *DragSession) Move(pointerX float64) (float64, int64) {
	offset := s.startLeft + (pointerX - s.startX)
	offset = math.Max(s.bounds.Left, math.Min(offset, s.bounds.Right))

	ts := int64(math.Round(math.Max(0, s.geo.pxToMs(offset))))
	// 像素换算有舍入误差，毫秒上再夹一次保证不越过邻居
	if ts < s.limits.min {
		ts = s.limits.min
	}
	if ts > s.limits.max {
		ts = s.limits.max
	}
	if ts < 0 {
		ts = 0
	}

	s.offset = offset
	s.timestamp = ts
	return offset, ts
}

// Release 松开时的时间
func (s *DragSession) Release() int64 {
	return s.timestamp
}

// ResizeBounds 片段时长的允许区间
func ResizeBounds(mediaDuration int64, known bool) (int64, int64) {
	return MinDuration, ClampDuration(mediaDuration, known)
}

// ClampResize 先判下限再判上限；素材本身短于下限时取下限
func ClampResize(d, min, max int64) int64 {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

// SnapDuration 松开时按 100ms 取整
func SnapDuration(d int64) int64 {
	return int64(math.Round(float64(d)/float64(SnapStep))) * SnapStep
}

// ResizeSession 右边缘拉伸手势
type ResizeSession struct {
	KeyframeID string
	TrackID    string

	geo        Geometry
	startX     float64
	startWidth float64
	min, max   int64
	duration   int64
}

// NewResizeSession 在 pointerX 处按下右边缘
func NewResizeSession(frame model.Keyframe, mediaDuration int64, known bool, g Geometry, pointerX float64) *ResizeSession {
	min, max := ResizeBounds(mediaDuration, known)
	return &ResizeSession{
		KeyframeID: frame.ID,
		TrackID:    frame.TrackID,
		geo:        g,
		startX:     pointerX,
		startWidth: g.MsToPx(frame.Duration),
		min:        min,
		max:        max,
		duration:   frame.Duration,
	}
}

// Move 返回新的像素宽度与夹取后的时长
func (s *ResizeSession) Move(pointerX float64) (float64, int64) {
	width := s.startWidth + (pointerX - s.startX)
	d := int64(math.Round(s.geo.pxToMs(width)))
	s.duration = ClampResize(d, s.min, s.max)
	return s.geo.MsToPx(s.duration), s.duration
}

// Release 松开时取整后的时长
func (s *ResizeSession) Release() int64 {
	return SnapDuration(s.duration)
}
