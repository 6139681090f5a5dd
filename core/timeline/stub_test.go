package timeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"Anicut/model"
)

var errStub = errors.New("stub failure")

// memStore 内存版持久化，支持注入错误
type memStore struct {
	mu     sync.Mutex
	seq    int
	tracks []model.Track
	frames []model.Keyframe
	media  []model.MediaItem

	failListTracks     error
	failCreateKeyframe error
	failDelete         error
	failUpdate         map[string]error

	// createGate 非空时 Create 先通知 createEntered 再等待放行
	createGate    chan struct{}
	createEntered chan struct{}
	// listMediaGate 同上，作用于素材列表
	listMediaGate    chan struct{}
	listMediaEntered chan struct{}
}

func newMemStore() *memStore {
	return &memStore{failUpdate: make(map[string]error)}
}

func (s *memStore) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func (s *memStore) gateways() (*trackStub, *keyframeStub, *mediaStub) {
	return &trackStub{s}, &keyframeStub{s}, &mediaStub{s}
}

func (s *memStore) addTrack(t model.Track) model.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = s.nextID("track")
	}
	s.tracks = append(s.tracks, t)
	return t
}

func (s *memStore) addFrame(k model.Keyframe) model.Keyframe {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k.ID == "" {
		k.ID = s.nextID("kf")
	}
	s.frames = append(s.frames, k)
	return k
}

func (s *memStore) addMedia(m model.MediaItem) model.MediaItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = s.nextID("media")
	}
	s.media = append(s.media, m)
	return m
}

func (s *memStore) framesOf(trackID string) []model.Keyframe {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Keyframe
	for _, f := range s.frames {
		if f.TrackID == trackID {
			out = append(out, f)
		}
	}
	return out
}

type trackStub struct{ s *memStore }

func (t *trackStub) Find(_ context.Context, id string) (*model.Track, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, tr := range t.s.tracks {
		if tr.ID == id {
			tr := tr
			return &tr, nil
		}
	}
	return nil, nil
}

func (t *trackStub) ListByProject(_ context.Context, projectID string) ([]model.Track, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.failListTracks != nil {
		return nil, t.s.failListTracks
	}
	var out []model.Track
	for _, tr := range t.s.tracks {
		if tr.ProjectID == projectID {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (t *trackStub) Create(_ context.Context, track *model.Track) (string, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	track.ID = t.s.nextID("track")
	t.s.tracks = append(t.s.tracks, *track)
	return track.ID, nil
}

type keyframeStub struct{ s *memStore }

func (k *keyframeStub) Find(_ context.Context, id string) (*model.Keyframe, error) {
	k.s.mu.Lock()
	defer k.s.mu.Unlock()
	for _, f := range k.s.frames {
		if f.ID == id {
			f := f
			return &f, nil
		}
	}
	return nil, nil
}

func (k *keyframeStub) ListByTrack(_ context.Context, trackID string) ([]model.Keyframe, error) {
	return k.s.framesOf(trackID), nil
}

func (k *keyframeStub) Create(_ context.Context, kf *model.Keyframe) (string, error) {
	if k.s.createGate != nil {
		k.s.createEntered <- struct{}{}
		<-k.s.createGate
	}
	k.s.mu.Lock()
	defer k.s.mu.Unlock()
	if k.s.failCreateKeyframe != nil {
		return "", k.s.failCreateKeyframe
	}
	kf.ID = k.s.nextID("kf")
	k.s.frames = append(k.s.frames, *kf)
	return kf.ID, nil
}

func (k *keyframeStub) Update(_ context.Context, id string, upd model.KeyframeUpdate) (string, error) {
	k.s.mu.Lock()
	defer k.s.mu.Unlock()
	if err := k.s.failUpdate[id]; err != nil {
		return "", err
	}
	for i := range k.s.frames {
		if k.s.frames[i].ID == id {
			k.s.frames[i] = upd.Apply(k.s.frames[i])
			return id, nil
		}
	}
	return "", errors.New("not found")
}

func (k *keyframeStub) Delete(_ context.Context, id string) (string, error) {
	k.s.mu.Lock()
	defer k.s.mu.Unlock()
	if k.s.failDelete != nil {
		return "", k.s.failDelete
	}
	for i := range k.s.frames {
		if k.s.frames[i].ID == id {
			k.s.frames = append(k.s.frames[:i], k.s.frames[i+1:]...)
			return id, nil
		}
	}
	return "", errors.New("not found")
}

type mediaStub struct{ s *memStore }

func (m *mediaStub) Find(_ context.Context, id string) (*model.MediaItem, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, item := range m.s.media {
		if item.ID == id {
			item := item
			return &item, nil
		}
	}
	return nil, nil
}

func (m *mediaStub) ListByProject(_ context.Context, projectID string) ([]model.MediaItem, error) {
	if m.s.listMediaGate != nil {
		m.s.listMediaEntered <- struct{}{}
		<-m.s.listMediaGate
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []model.MediaItem
	for _, item := range m.s.media {
		if item.ProjectID == projectID {
			out = append(out, item)
		}
	}
	return out, nil
}

// previewStub 记录预览缓存调用
type previewStub struct {
	mu      sync.Mutex
	data    map[string]*model.Composition
	deletes int
	sets    int
}

func newPreviewStub() *previewStub {
	return &previewStub{data: make(map[string]*model.Composition)}
}

func (p *previewStub) Get(_ context.Context, projectID string) (*model.Composition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data[projectID], nil
}

func (p *previewStub) Set(_ context.Context, projectID string, comp *model.Composition) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sets++
	p.data[projectID] = comp
	return nil
}

func (p *previewStub) Delete(_ context.Context, projectID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deletes++
	delete(p.data, projectID)
	return nil
}

func newTestEngine(s *memStore, opts ...Option) *Engine {
	tracks, frames, media := s.gateways()
	return NewEngine(tracks, frames, media, opts...)
}
