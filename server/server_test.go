package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"Anicut/config"
	"Anicut/core/auth"
	"Anicut/core/export"
	"Anicut/core/fal"
	"Anicut/core/timeline"
	"Anicut/model"
	"Anicut/repository"

	"github.com/gorilla/websocket"
)

const (
	testUser    = "user-1"
	testProject = "project-1"
)

type testEnv struct {
	db      *memDB
	handler *APIHandler
	router  http.Handler
	token   string
}

func newTestEnv(t *testing.T, opts ...func(d *memDB, deps *Deps)) *testEnv {
	t.Helper()
	auth.Configure("server-test-secret", time.Hour)

	hash, err := auth.HashPassword("dev")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	d := &memDB{
		users: []model.User{{ID: testUser, Email: "dev@anicut.local", PasswordHash: hash}},
		projects: []model.Project{
			{ID: testProject, UserID: testUser, Title: "Pilot", AspectRatio: model.AspectRatioLandscape},
			{ID: "project-other", UserID: "user-2", Title: "Not yours"},
		},
	}

	media := mediaRepo{d}
	engine := timeline.NewEngine(trackRepo{d}, keyframeRepo{d}, media)
	deps := Deps{
		Projects:   projectRepo{d},
		Tracks:     trackRepo{d},
		Keyframes:  keyframeRepo{d},
		Media:      media,
		Characters: characterRepo{d},
		Users:      userRepo{d},
		Episodes:   episodeRepo{d},
		Scenes:     sceneRepo{d},
		Shots:      shotRepo{d},
		Engine:     engine,
		Webhooks:   fal.NewWebhookProcessor(nil, media, nil),
		Config:     &config.Config{TimelineSpanMs: 30000, PublicURL: "https://anicut.test"},
	}
	for _, opt := range opts {
		opt(d, &deps)
	}
	h := NewAPIHandler(deps)

	token, err := auth.GenerateToken(testUser, "dev@anicut.local")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return &testEnv{db: d, handler: h, router: NewRouter(h), token: token}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) addMedia(item model.MediaItem) model.MediaItem {
	id, _ := mediaRepo{e.db}.Create(context.Background(), &item)
	item.ID = id
	return item
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Token " + env.token, http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + env.token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			env.router.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	env.token = ""

	rec := env.do(t, http.MethodPost, "/api/auth/login", `{"email":"dev@anicut.local","password":"dev"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token string     `json:"token"`
		User  model.User `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	claims, err := auth.ParseToken(resp.Token)
	if err != nil || claims.UserID != testUser {
		t.Fatalf("token does not identify the user: %v %+v", err, claims)
	}

	rec = env.do(t, http.MethodPost, "/api/auth/login", `{"email":"dev@anicut.local","password":"wrong"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password status = %d", rec.Code)
	}
}

func TestProjects(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.do(t, http.MethodGet, "/api/projects/project-other", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("foreign project status = %d, want 404", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/projects", `{"title":"  "}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("blank title status = %d, want 400", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/projects", `{"title":"x","aspectRatio":"4:3"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad ratio status = %d, want 400", rec.Code)
	}

	rec := env.do(t, http.MethodPost, "/api/projects", `{"title":"Episode 2","aspectRatio":"9:16"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var created model.Project
	_ = json.Unmarshal(rec.Body.Bytes(), &created)
	if created.UserID != testUser || created.AspectRatio != model.AspectRatioPortrait {
		t.Fatalf("unexpected project %+v", created)
	}

	rec = env.do(t, http.MethodPut, "/api/projects/"+created.ID, `{"title":"Renamed"}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Renamed") {
		t.Fatalf("update status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/projects", "")
	var list []model.Project
	_ = json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list) != 2 {
		t.Fatalf("listed %d projects, want 2", len(list))
	}
}

func TestAddMediaToTimeline(t *testing.T) {
	env := newTestEnv(t)
	img := env.addMedia(model.MediaItem{
		ProjectID: testProject, Kind: model.MediaKindGenerated, MediaType: model.MediaTypeImage,
		Status: model.MediaStatusCompleted, Output: []byte(`{"images":[{"url":"https://cdn/a.png"}]}`),
	})
	pending := env.addMedia(model.MediaItem{
		ProjectID: testProject, Kind: model.MediaKindGenerated, MediaType: model.MediaTypeVideo,
		Status: model.MediaStatusPending,
	})
	foreign := env.addMedia(model.MediaItem{
		ProjectID: "project-other", Kind: model.MediaKindUploaded, MediaType: model.MediaTypeImage,
		Status: model.MediaStatusCompleted,
	})

	path := "/api/projects/" + testProject + "/timeline/media"
	rec := env.do(t, http.MethodPost, path, `{"mediaId":"`+img.ID+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add status = %d: %s", rec.Code, rec.Body.String())
	}
	var kf model.Keyframe
	_ = json.Unmarshal(rec.Body.Bytes(), &kf)
	if kf.Timestamp != 0 || kf.Duration != timeline.DefaultDuration {
		t.Fatalf("first clip placed at %d/%d, want 0/%d", kf.Timestamp, kf.Duration, timeline.DefaultDuration)
	}
	if strings.HasPrefix(kf.ID, timeline.TempKeyframePrefix) {
		t.Fatalf("response carries temporary id %s", kf.ID)
	}

	rec = env.do(t, http.MethodPost, path, `{"mediaId":"`+img.ID+`"}`)
	_ = json.Unmarshal(rec.Body.Bytes(), &kf)
	if want := timeline.DefaultDuration + timeline.PlacementGap; kf.Timestamp != want {
		t.Fatalf("second clip at %d, want %d", kf.Timestamp, want)
	}

	if rec := env.do(t, http.MethodPost, path, `{"mediaId":"`+pending.ID+`"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("pending media status = %d, want 400", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, path, `{"mediaId":"`+foreign.ID+`"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("foreign media status = %d, want 404", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/projects/"+testProject+"/tracks", "")
	var tracks []model.Track
	_ = json.Unmarshal(rec.Body.Bytes(), &tracks)
	if len(tracks) != 1 || tracks[0].Type != model.TrackTypeVideo || !tracks[0].Locked {
		t.Fatalf("unexpected tracks %+v", tracks)
	}

	rec = env.do(t, http.MethodGet, "/api/projects/"+testProject+"/preview", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("preview status = %d", rec.Code)
	}
	var comp model.Composition
	_ = json.Unmarshal(rec.Body.Bytes(), &comp)
	if len(comp.Frames[tracks[0].ID]) != 2 {
		t.Fatalf("preview frames = %+v", comp.Frames)
	}
	if _, ok := comp.MediaItems[img.ID]; !ok {
		t.Fatalf("preview is missing media %s", img.ID)
	}
}

func TestKeyframeEndpoints(t *testing.T) {
	env := newTestEnv(t)
	track := model.Track{ID: "track-v", ProjectID: testProject, Type: model.TrackTypeVideo, Locked: true}
	env.db.tracks = append(env.db.tracks,
		track,
		model.Track{ID: "track-x", ProjectID: "project-other", Type: model.TrackTypeVideo},
	)
	env.db.frames = append(env.db.frames,
		model.Keyframe{ID: "kf-a", TrackID: "track-v", Timestamp: 0, Duration: 45000},
		model.Keyframe{ID: "kf-b", TrackID: "track-v", Timestamp: 45001, Duration: 4000},
		model.Keyframe{ID: "kf-x", TrackID: "track-x", Duration: 2000},
	)

	if rec := env.do(t, http.MethodGet, "/api/keyframes/kf-x", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("foreign keyframe status = %d, want 404", rec.Code)
	}

	rec := env.do(t, http.MethodPost, "/api/projects/"+testProject+"/timeline/clamp", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"updated":1}` {
		t.Fatalf("clamp = %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPut, "/api/keyframes/kf-b", `{"timestamp":-5,"duration":200}`)
	var kf model.Keyframe
	_ = json.Unmarshal(rec.Body.Bytes(), &kf)
	if rec.Code != http.StatusOK || kf.Timestamp != 0 || kf.Duration != timeline.MinDuration {
		t.Fatalf("update = %d %+v", rec.Code, kf)
	}

	if rec := env.do(t, http.MethodDelete, "/api/keyframes/kf-a", ""); rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/tracks/track-v/keyframes", "")
	var frames []model.Keyframe
	_ = json.Unmarshal(rec.Body.Bytes(), &frames)
	if len(frames) != 1 || frames[0].ID != "kf-b" {
		t.Fatalf("frames after delete = %+v", frames)
	}
}

func TestFalWebhook(t *testing.T) {
	env := newTestEnv(t)
	env.token = ""
	item := env.addMedia(model.MediaItem{
		ProjectID: testProject, Kind: model.MediaKindGenerated, MediaType: model.MediaTypeImage,
		Status: model.MediaStatusPending, RequestID: "req-1",
	})

	body := `{"request_id":"req-1","status":"OK","model":"fal-ai/flux/dev","payload":{"images":[{"url":"https://cdn/out.png"}]}}`
	rec := env.do(t, http.MethodPost, "/api/webhooks/fal", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook status = %d: %s", rec.Code, rec.Body.String())
	}
	var res fal.WebhookResult
	_ = json.Unmarshal(rec.Body.Bytes(), &res)
	if res.MediaID != item.ID || res.Type != fal.KindImage {
		t.Fatalf("unexpected result %+v", res)
	}

	got, _ := mediaRepo{env.db}.Find(context.Background(), item.ID)
	if got.Status != model.MediaStatusCompleted || got.URL != "https://cdn/out.png" {
		t.Fatalf("media not completed: %+v", got)
	}

	if rec := env.do(t, http.MethodPost, "/api/webhooks/fal", `{`); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed webhook status = %d, want 400", rec.Code)
	}
}

func TestExportWithoutKafka(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(t, http.MethodPost, "/api/projects/"+testProject+"/export", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("export status = %d, want 503", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{repository.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("wrap: %w", timeline.ErrKeyframeNotFound), http.StatusNotFound},
		{fal.ErrCharacterNotFound, http.StatusNotFound},
		{fal.ErrMediaNotFound, http.StatusNotFound},
		{timeline.ErrNotDroppable, http.StatusBadRequest},
		{fmt.Errorf("%w: %w", timeline.ErrAddMediaFailed, timeline.ErrUnknownMediaType), http.StatusBadRequest},
		{fal.ErrTrainingStarted, http.StatusBadRequest},
		{export.ErrEmptyTimeline, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestSessionDragFlow(t *testing.T) {
	env := newTestEnv(t)
	env.db.tracks = append(env.db.tracks, model.Track{ID: "track-v", ProjectID: testProject, Type: model.TrackTypeVideo})
	env.db.frames = append(env.db.frames,
		model.Keyframe{ID: "kf-a", TrackID: "track-v", Timestamp: 0, Duration: 5000},
		model.Keyframe{ID: "kf-b", TrackID: "track-v", Timestamp: 10000, Duration: 5000},
	)
	h := env.handler
	ctx := context.Background()
	sess := h.sessions.Open("s1", testProject)

	// 1000px 对应 30000ms，1px = 30ms
	evs := h.handleSessionMessage(ctx, sess, SessionMessage{Type: MsgPointerDown, KeyframeID: "kf-a", WidthPx: 1000, X: 0})
	if len(evs) != 1 || evs[0].Type != EventDragStart {
		t.Fatalf("pointer down events = %+v", evs)
	}
	if b := evs[0].Bounds; b == nil || b.Left != 0 || b.Right < 166 || b.Right > 167 {
		t.Fatalf("drag bounds = %+v", evs[0].Bounds)
	}

	evs = h.handleSessionMessage(ctx, sess, SessionMessage{Type: MsgPointerDown, KeyframeID: "kf-b", WidthPx: 1000})
	if evs[0].Type != EventError {
		t.Fatalf("second gesture should fail, got %+v", evs)
	}

	evs = h.handleSessionMessage(ctx, sess, SessionMessage{Type: MsgPointerMove, X: 100})
	if evs[0].Type != EventDrag || *evs[0].OffsetPx != 100 || *evs[0].Timestamp != 3000 {
		t.Fatalf("drag event = %+v", evs[0])
	}
	evs = h.handleSessionMessage(ctx, sess, SessionMessage{Type: MsgPointerMove, X: 900})
	if *evs[0].Timestamp != 5000 {
		t.Fatalf("drag past neighbour stopped at %d, want 5000", *evs[0].Timestamp)
	}
	h.handleSessionMessage(ctx, sess, SessionMessage{Type: MsgPointerMove, X: 100})

	evs = h.handleSessionMessage(ctx, sess, SessionMessage{Type: MsgPointerUp})
	if evs[0].Type != EventCommitted || evs[0].Keyframe.Timestamp != 3000 {
		t.Fatalf("commit event = %+v", evs[0])
	}
	stored, _ := keyframeRepo{env.db}.Find(ctx, "kf-a")
	if stored.Timestamp != 3000 {
		t.Fatalf("stored timestamp = %d, want 3000", stored.Timestamp)
	}

	evs = h.handleSessionMessage(ctx, sess, SessionMessage{Type: MsgPointerUp})
	if evs[0].Type != EventError {
		t.Fatalf("release without gesture should fail, got %+v", evs)
	}
}

func TestSessionResizeFlow(t *testing.T) {
	env := newTestEnv(t)
	env.db.tracks = append(env.db.tracks, model.Track{ID: "track-m", ProjectID: testProject, Type: model.TrackTypeMusic})
	env.db.media = append(env.db.media, model.MediaItem{
		ID: "song", ProjectID: testProject, Kind: model.MediaKindUploaded, MediaType: model.MediaTypeMusic,
		Status: model.MediaStatusCompleted, Metadata: []byte(`{"duration":8}`),
	})
	env.db.frames = append(env.db.frames, model.Keyframe{
		ID: "kf-m", TrackID: "track-m", Duration: 5000,
		Data: model.KeyframeData{Type: model.KeyframeDataMusic, MediaID: "song"},
	})
	h := env.handler
	ctx := context.Background()
	sess := h.sessions.Open("s2", testProject)

	evs := h.handleSessionMessage(ctx, sess, SessionMessage{Type: MsgPointerDown, Mode: GestureResize, KeyframeID: "kf-m", WidthPx: 1000, X: 500})
	if evs[0].Type != EventResizeStart {
		t.Fatalf("resize start = %+v", evs)
	}
	// 300px = 9000ms，素材只有 8 秒
	evs = h.handleSessionMessage(ctx, sess, SessionMessage{Type: MsgPointerMove, X: 800})
	if *evs[0].Duration != 8000 {
		t.Fatalf("resize duration = %d, want 8000", *evs[0].Duration)
	}
	evs = h.handleSessionMessage(ctx, sess, SessionMessage{Type: MsgPointerMove, X: 401})
	if *evs[0].Duration != 2030 {
		t.Fatalf("resize duration = %d, want 2030", *evs[0].Duration)
	}
	evs = h.handleSessionMessage(ctx, sess, SessionMessage{Type: MsgPointerUp})
	if evs[0].Type != EventCommitted || evs[0].Keyframe.Duration != 2000 {
		t.Fatalf("commit = %+v", evs[0])
	}
}

func TestSessionGestureOutsideProject(t *testing.T) {
	env := newTestEnv(t)
	env.db.tracks = append(env.db.tracks, model.Track{ID: "track-x", ProjectID: "project-other", Type: model.TrackTypeVideo})
	env.db.frames = append(env.db.frames, model.Keyframe{ID: "kf-x", TrackID: "track-x", Duration: 5000})
	sess := env.handler.sessions.Open("s3", testProject)

	evs := env.handler.handleSessionMessage(context.Background(), sess, SessionMessage{Type: MsgPointerDown, KeyframeID: "kf-x", WidthPx: 1000})
	if evs[0].Type != EventError {
		t.Fatalf("foreign keyframe gesture = %+v", evs)
	}
	if drag, resize := sess.Gesture(); drag != nil || resize != nil {
		t.Fatal("gesture must not start")
	}
}

func TestSessionPlayerMessages(t *testing.T) {
	env := newTestEnv(t)
	h := env.handler
	ctx := context.Background()
	sess := h.sessions.Open("s4", testProject)

	h.handleSessionMessage(ctx, sess, SessionMessage{Type: MsgSeek, Seconds: 45})
	h.handleSessionMessage(ctx, sess, SessionMessage{Type: MsgPlay})
	h.handleSessionMessage(ctx, sess, SessionMessage{Type: MsgSelect, KeyframeID: "kf-1"})
	evs := h.handleSessionMessage(ctx, sess, SessionMessage{Type: MsgSelectMedia, MediaID: "m-1"})

	st := evs[0].State
	if evs[0].Type != EventState || st == nil {
		t.Fatalf("expected state event, got %+v", evs)
	}
	if st.PlayerCurrentTimestamp != 30 || st.Formatted != "00:30.00" || st.PlayerState != timeline.PlayerPlaying {
		t.Fatalf("player state = %+v", st)
	}
	if len(st.SelectedKeyframes) != 1 || st.SelectedMediaID != "m-1" {
		t.Fatalf("selection = %+v", st)
	}

	evs = h.handleSessionMessage(ctx, sess, SessionMessage{Type: "bogus"})
	if evs[0].Type != EventError {
		t.Fatalf("unknown type should error, got %+v", evs)
	}
}

func TestSessionWebSocket(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/projects/"
	if _, resp, err := websocket.DefaultDialer.Dial(base+testProject+"/session", nil); err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("dial without token should be rejected, got %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(base+testProject+"/session?token="+env.token, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ev SessionEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read initial state: %v", err)
	}
	if ev.Type != EventState || ev.State == nil || ev.State.ProjectID != testProject {
		t.Fatalf("initial event = %+v", ev)
	}

	if err := conn.WriteJSON(SessionMessage{Type: MsgSeek, Seconds: 2.5}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.State == nil || ev.State.Formatted != "00:02.50" {
		t.Fatalf("seek event = %+v", ev)
	}
}
