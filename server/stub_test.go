package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"Anicut/core/fal"
	"Anicut/model"
	"Anicut/repository"
)

// memDB 内存版仓库，供处理器测试使用
type memDB struct {
	mu       sync.Mutex
	seq      int
	users    []model.User
	projects []model.Project
	tracks   []model.Track
	frames   []model.Keyframe
	media    []model.MediaItem
	chars    []model.Character
	episodes []model.Episode
	scenes   []model.Scene
	shots    []model.Shot
}

func (d *memDB) nextID(prefix string) string {
	d.seq++
	return fmt.Sprintf("%s-%d", prefix, d.seq)
}

type projectRepo struct{ d *memDB }

func (r projectRepo) Find(_ context.Context, userID, id string) (*model.Project, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for _, p := range r.d.projects {
		if p.ID == id && p.UserID == userID {
			p := p
			return &p, nil
		}
	}
	return nil, nil
}

func (r projectRepo) List(_ context.Context, userID string) ([]model.Project, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	var out []model.Project
	for _, p := range r.d.projects {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r projectRepo) Create(_ context.Context, p *model.Project) (string, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if p.ID == "" {
		p.ID = r.d.nextID("project")
	}
	r.d.projects = append(r.d.projects, *p)
	return p.ID, nil
}

func (r projectRepo) Update(_ context.Context, userID, id string, upd repository.ProjectUpdate) (string, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for i := range r.d.projects {
		p := &r.d.projects[i]
		if p.ID != id || p.UserID != userID {
			continue
		}
		if upd.Title != nil {
			p.Title = *upd.Title
		}
		if upd.Description != nil {
			p.Description = *upd.Description
		}
		if upd.AspectRatio != nil {
			p.AspectRatio = *upd.AspectRatio
		}
		return id, nil
	}
	return "", repository.ErrNotFound
}

type trackRepo struct{ d *memDB }

func (r trackRepo) Find(_ context.Context, id string) (*model.Track, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for _, t := range r.d.tracks {
		if t.ID == id {
			t := t
			return &t, nil
		}
	}
	return nil, nil
}

func (r trackRepo) ListByProject(_ context.Context, projectID string) ([]model.Track, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	var out []model.Track
	for _, t := range r.d.tracks {
		if t.ProjectID == projectID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r trackRepo) Create(_ context.Context, t *model.Track) (string, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if t.ID == "" {
		t.ID = r.d.nextID("track")
	}
	r.d.tracks = append(r.d.tracks, *t)
	return t.ID, nil
}

func (r trackRepo) Update(_ context.Context, id string, upd repository.TrackUpdate) (string, error) {
	return id, nil
}

func (r trackRepo) Delete(_ context.Context, id string) (string, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for i := range r.d.tracks {
		if r.d.tracks[i].ID == id {
			r.d.tracks = append(r.d.tracks[:i], r.d.tracks[i+1:]...)
			return id, nil
		}
	}
	return "", repository.ErrNotFound
}

type keyframeRepo struct{ d *memDB }

func (r keyframeRepo) Find(_ context.Context, id string) (*model.Keyframe, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for _, f := range r.d.frames {
		if f.ID == id {
			f := f
			return &f, nil
		}
	}
	return nil, nil
}

func (r keyframeRepo) ListByTrack(_ context.Context, trackID string) ([]model.Keyframe, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	var out []model.Keyframe
	for _, f := range r.d.frames {
		if f.TrackID == trackID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r keyframeRepo) Create(_ context.Context, kf *model.Keyframe) (string, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if kf.ID == "" {
		kf.ID = r.d.nextID("kf")
	}
	r.d.frames = append(r.d.frames, *kf)
	return kf.ID, nil
}

func (r keyframeRepo) Update(_ context.Context, id string, upd model.KeyframeUpdate) (string, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for i := range r.d.frames {
		if r.d.frames[i].ID == id {
			r.d.frames[i] = upd.Apply(r.d.frames[i])
			return id, nil
		}
	}
	return "", repository.ErrNotFound
}

func (r keyframeRepo) Delete(_ context.Context, id string) (string, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for i := range r.d.frames {
		if r.d.frames[i].ID == id {
			r.d.frames = append(r.d.frames[:i], r.d.frames[i+1:]...)
			return id, nil
		}
	}
	return "", repository.ErrNotFound
}

type mediaRepo struct{ d *memDB }

func (r mediaRepo) find(match func(model.MediaItem) bool) *model.MediaItem {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for _, m := range r.d.media {
		if match(m) {
			m := m
			return &m
		}
	}
	return nil
}

func (r mediaRepo) Find(_ context.Context, id string) (*model.MediaItem, error) {
	return r.find(func(m model.MediaItem) bool { return m.ID == id }), nil
}

func (r mediaRepo) FindByRequestID(_ context.Context, requestID string) (*model.MediaItem, error) {
	return r.find(func(m model.MediaItem) bool { return m.RequestID == requestID }), nil
}

func (r mediaRepo) ListByProject(_ context.Context, projectID string) ([]model.MediaItem, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	var out []model.MediaItem
	for _, m := range r.d.media {
		if m.ProjectID == projectID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r mediaRepo) Create(_ context.Context, item *model.MediaItem) (string, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if item.ID == "" {
		item.ID = r.d.nextID("media")
	}
	r.d.media = append(r.d.media, *item)
	return item.ID, nil
}

func (r mediaRepo) Update(_ context.Context, id string, upd repository.MediaUpdate) (string, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for i := range r.d.media {
		m := &r.d.media[i]
		if m.ID != id {
			continue
		}
		if upd.Status != nil {
			m.Status = *upd.Status
		}
		if upd.URL != nil {
			m.URL = *upd.URL
		}
		if upd.Output != nil {
			m.Output = upd.Output
		}
		if upd.Metadata != nil {
			m.Metadata = upd.Metadata
		}
		return id, nil
	}
	return "", repository.ErrNotFound
}

func (r mediaRepo) Delete(_ context.Context, id string) (string, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for i := range r.d.media {
		if r.d.media[i].ID == id {
			r.d.media = append(r.d.media[:i], r.d.media[i+1:]...)
			return id, nil
		}
	}
	return "", repository.ErrNotFound
}

type userRepo struct{ d *memDB }

func (r userRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for _, u := range r.d.users {
		if u.Email == email {
			u := u
			return &u, nil
		}
	}
	return nil, nil
}

func (r userRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for _, u := range r.d.users {
		if u.ID == id {
			u := u
			return &u, nil
		}
	}
	return nil, nil
}

func (r userRepo) Create(_ context.Context, u *model.User) (string, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if u.ID == "" {
		u.ID = r.d.nextID("user")
	}
	r.d.users = append(r.d.users, *u)
	return u.ID, nil
}

type characterRepo struct{ d *memDB }

func (r characterRepo) find(match func(model.Character) bool) *model.Character {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for _, c := range r.d.chars {
		if match(c) {
			c := c
			return &c
		}
	}
	return nil
}

func (r characterRepo) Find(_ context.Context, id string) (*model.Character, error) {
	return r.find(func(c model.Character) bool { return c.ID == id }), nil
}

func (r characterRepo) FindByTrainingJobID(_ context.Context, jobID string) (*model.Character, error) {
	return r.find(func(c model.Character) bool { return c.TrainingJobID == jobID }), nil
}

func (r characterRepo) filter(match func(model.Character) bool) []model.Character {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	var out []model.Character
	for _, c := range r.d.chars {
		if match(c) {
			out = append(out, c)
		}
	}
	return out
}

func (r characterRepo) List(_ context.Context, userID string) ([]model.Character, error) {
	return r.filter(func(c model.Character) bool { return c.UserID == userID }), nil
}

func (r characterRepo) ListByProject(_ context.Context, projectID string) ([]model.Character, error) {
	return r.filter(func(c model.Character) bool { return c.ProjectID != nil && *c.ProjectID == projectID }), nil
}

func (r characterRepo) Create(_ context.Context, c *model.Character) (string, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if c.ID == "" {
		c.ID = r.d.nextID("char")
	}
	if c.TrainingStatus == "" {
		c.TrainingStatus = model.TrainingPending
	}
	r.d.chars = append(r.d.chars, *c)
	return c.ID, nil
}

func (r characterRepo) Update(_ context.Context, id string, upd repository.CharacterUpdate) (string, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for i := range r.d.chars {
		c := &r.d.chars[i]
		if c.ID != id {
			continue
		}
		if upd.Name != nil {
			c.Name = *upd.Name
		}
		if upd.Description != nil {
			c.Description = *upd.Description
		}
		if upd.ProjectID != nil {
			p := *upd.ProjectID
			c.ProjectID = &p
		}
		if upd.TrainingStatus != nil {
			c.TrainingStatus = *upd.TrainingStatus
		}
		if upd.TrainingJobID != nil {
			c.TrainingJobID = *upd.TrainingJobID
		}
		if upd.TrainingError != nil {
			c.TrainingError = *upd.TrainingError
		}
		if upd.TrainingImages != nil {
			c.TrainingImages = upd.TrainingImages
		}
		return id, nil
	}
	return "", repository.ErrNotFound
}

func (r characterRepo) Delete(_ context.Context, id string) (string, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for i := range r.d.chars {
		if r.d.chars[i].ID == id {
			r.d.chars = append(r.d.chars[:i], r.d.chars[i+1:]...)
			return id, nil
		}
	}
	return "", repository.ErrNotFound
}

type episodeRepo struct{ d *memDB }

func (r episodeRepo) Find(_ context.Context, id string) (*model.Episode, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for _, e := range r.d.episodes {
		if e.ID == id {
			e := e
			return &e, nil
		}
	}
	return nil, nil
}

func (r episodeRepo) ListByProject(_ context.Context, projectID string) ([]model.Episode, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	var out []model.Episode
	for _, e := range r.d.episodes {
		if e.ProjectID == projectID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r episodeRepo) Create(_ context.Context, e *model.Episode) (string, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	e.ID = r.d.nextID("episode")
	if e.EpisodeNumber <= 0 {
		n := 0
		for _, other := range r.d.episodes {
			if other.ProjectID == e.ProjectID && other.EpisodeNumber > n {
				n = other.EpisodeNumber
			}
		}
		e.EpisodeNumber = n + 1
	}
	if e.Status == "" {
		e.Status = model.EpisodePlanning
	}
	r.d.episodes = append(r.d.episodes, *e)
	return e.ID, nil
}

func (r episodeRepo) Update(_ context.Context, id string, upd repository.EpisodeUpdate) (string, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for i := range r.d.episodes {
		e := &r.d.episodes[i]
		if e.ID != id {
			continue
		}
		if upd.Title != nil {
			e.Title = *upd.Title
		}
		if upd.Status != nil {
			e.Status = *upd.Status
		}
		if upd.EpisodeNumber != nil {
			e.EpisodeNumber = *upd.EpisodeNumber
		}
		return id, nil
	}
	return "", repository.ErrNotFound
}

func (r episodeRepo) Delete(_ context.Context, id string) (string, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for i := range r.d.episodes {
		if r.d.episodes[i].ID != id {
			continue
		}
		r.d.episodes = append(r.d.episodes[:i], r.d.episodes[i+1:]...)
		var keep []model.Scene
		for _, s := range r.d.scenes {
			if s.EpisodeID == id {
				r.d.dropShots(s.ID)
				continue
			}
			keep = append(keep, s)
		}
		r.d.scenes = keep
		return id, nil
	}
	return "", repository.ErrNotFound
}

func (d *memDB) dropShots(sceneID string) {
	var keep []model.Shot
	for _, s := range d.shots {
		if s.SceneID != sceneID {
			keep = append(keep, s)
		}
	}
	d.shots = keep
}

type sceneRepo struct{ d *memDB }

func (r sceneRepo) Find(_ context.Context, id string) (*model.Scene, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for _, s := range r.d.scenes {
		if s.ID == id {
			s := s
			return &s, nil
		}
	}
	return nil, nil
}

func (r sceneRepo) ListByEpisode(_ context.Context, episodeID string) ([]model.Scene, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	var out []model.Scene
	for _, s := range r.d.scenes {
		if s.EpisodeID == episodeID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r sceneRepo) Create(_ context.Context, s *model.Scene) (string, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	s.ID = r.d.nextID("scene")
	if s.SceneNumber <= 0 {
		s.SceneNumber = len(r.d.scenes) + 1
	}
	if s.Status == "" {
		s.Status = model.ShotPlanned
	}
	if s.SceneType == "" {
		s.SceneType = model.SceneDialogue
	}
	r.d.scenes = append(r.d.scenes, *s)
	return s.ID, nil
}

func (r sceneRepo) Update(_ context.Context, id string, upd repository.SceneUpdate) (string, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for i := range r.d.scenes {
		s := &r.d.scenes[i]
		if s.ID != id {
			continue
		}
		if upd.Title != nil {
			s.Title = *upd.Title
		}
		if upd.Mood != nil {
			s.Mood = *upd.Mood
		}
		if upd.Status != nil {
			s.Status = *upd.Status
		}
		return id, nil
	}
	return "", repository.ErrNotFound
}

func (r sceneRepo) Delete(_ context.Context, id string) (string, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for i := range r.d.scenes {
		if r.d.scenes[i].ID == id {
			r.d.scenes = append(r.d.scenes[:i], r.d.scenes[i+1:]...)
			r.d.dropShots(id)
			return id, nil
		}
	}
	return "", repository.ErrNotFound
}

type shotRepo struct{ d *memDB }

func (r shotRepo) Find(_ context.Context, id string) (*model.Shot, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for _, s := range r.d.shots {
		if s.ID == id {
			s := s
			return &s, nil
		}
	}
	return nil, nil
}

func (r shotRepo) ListByScene(_ context.Context, sceneID string) ([]model.Shot, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	var out []model.Shot
	for _, s := range r.d.shots {
		if s.SceneID == sceneID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r shotRepo) Create(_ context.Context, s *model.Shot) (string, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	s.ID = r.d.nextID("shot")
	if s.ShotNumber <= 0 {
		s.ShotNumber = len(r.d.shots) + 1
	}
	if s.Status == "" {
		s.Status = model.ShotPlanned
	}
	if s.CameraType == "" {
		s.CameraType = model.CameraMedium
	}
	r.d.shots = append(r.d.shots, *s)
	return s.ID, nil
}

func (r shotRepo) Update(_ context.Context, id string, upd repository.ShotUpdate) (string, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for i := range r.d.shots {
		s := &r.d.shots[i]
		if s.ID != id {
			continue
		}
		if upd.MediaID != nil {
			if *upd.MediaID == "" {
				s.MediaID = nil
			} else {
				m := *upd.MediaID
				s.MediaID = &m
			}
		}
		if upd.CameraType != nil {
			s.CameraType = *upd.CameraType
		}
		if upd.CharacterIDs != nil {
			s.CharacterIDs = upd.CharacterIDs
		}
		if upd.Status != nil {
			s.Status = *upd.Status
		}
		return id, nil
	}
	return "", repository.ErrNotFound
}

func (r shotRepo) Delete(_ context.Context, id string) (string, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for i := range r.d.shots {
		if r.d.shots[i].ID == id {
			r.d.shots = append(r.d.shots[:i], r.d.shots[i+1:]...)
			return id, nil
		}
	}
	return "", repository.ErrNotFound
}

// memObjects 内存对象存储，地址形如 mem://key
type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	deleted []string
}

func newMemObjects() *memObjects {
	return &memObjects{objects: map[string][]byte{}, types: map[string]string{}}
}

func (o *memObjects) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[key] = data
	o.types[key] = contentType
	return "mem://" + key, nil
}

func (o *memObjects) Get(_ context.Context, key string) (io.ReadCloser, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	data, ok := o.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (o *memObjects) Delete(_ context.Context, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.objects, key)
	o.deleted = append(o.deleted, key)
	return nil
}

func (o *memObjects) KeyFromURL(url string) (string, bool) {
	if strings.HasPrefix(url, "mem://") {
		return strings.TrimPrefix(url, "mem://"), true
	}
	return "", false
}

func (o *memObjects) keys() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for k := range o.objects {
		out = append(out, k)
	}
	return out
}

// submitRecorder 记录提交到 fal 的任务
type submitRecorder struct {
	mu        sync.Mutex
	endpoints []string
	webhooks  []string
	err       error
}

func (s *submitRecorder) Submit(_ context.Context, endpointID string, _ interface{}, webhookURL string) (*fal.SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.endpoints = append(s.endpoints, endpointID)
	s.webhooks = append(s.webhooks, webhookURL)
	return &fal.SubmitResult{RequestID: fmt.Sprintf("req-%d", len(s.endpoints))}, nil
}
