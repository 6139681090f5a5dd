package server

import (
	"encoding/json"
	"net/http"
	"testing"

	"Anicut/model"
)

func decodeInto(t *testing.T, body []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(body, v); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
}

func TestEpisodeLifecycle(t *testing.T) {
	env := newTestEnv(t)
	base := "/api/projects/" + testProject + "/episodes"

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantNum  int
	}{
		{"blank title", `{"title":" "}`, http.StatusBadRequest, 0},
		{"invalid status", `{"title":"Pilot","status":"shipped"}`, http.StatusBadRequest, 0},
		{"first is numbered one", `{"title":"Pilot"}`, http.StatusCreated, 1},
		{"explicit number kept", `{"title":"Flashback","episodeNumber":5}`, http.StatusCreated, 5},
		{"next follows highest", `{"title":"Finale"}`, http.StatusCreated, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, base, tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCode != http.StatusCreated {
				return
			}
			var e model.Episode
			decodeInto(t, rec.Body.Bytes(), &e)
			if e.EpisodeNumber != tt.wantNum || e.Status != model.EpisodePlanning || e.ProjectID != testProject {
				t.Fatalf("unexpected episode %+v", e)
			}
		})
	}

	var episodes []model.Episode
	decodeInto(t, env.do(t, http.MethodGet, base, "").Body.Bytes(), &episodes)
	if len(episodes) != 3 {
		t.Fatalf("expected 3 episodes, got %d", len(episodes))
	}
	pilot := episodes[0]

	if rec := env.do(t, http.MethodPut, "/api/episodes/"+pilot.ID, `{"title":""}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty title status = %d, want 400", rec.Code)
	}
	if rec := env.do(t, http.MethodPut, "/api/episodes/"+pilot.ID, `{"status":"released"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad status update = %d, want 400", rec.Code)
	}
	rec := env.do(t, http.MethodPut, "/api/episodes/"+pilot.ID, `{"status":"storyboard"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", rec.Code, rec.Body.String())
	}
	var updated model.Episode
	decodeInto(t, rec.Body.Bytes(), &updated)
	if updated.Status != model.EpisodeStoryboard || updated.Title != "Pilot" {
		t.Fatalf("unexpected update %+v", updated)
	}

	rec = env.do(t, http.MethodPost, "/api/episodes/"+pilot.ID+"/scenes", `{"title":"Rooftop","mood":"tense"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("scene status = %d: %s", rec.Code, rec.Body.String())
	}
	var scene model.Scene
	decodeInto(t, rec.Body.Bytes(), &scene)
	if scene.SceneType != model.SceneDialogue || scene.Status != model.ShotPlanned || scene.SceneNumber != 1 {
		t.Fatalf("unexpected scene defaults %+v", scene)
	}
	rec = env.do(t, http.MethodPost, "/api/scenes/"+scene.ID+"/shots", `{"duration":3.5,"description":"wide of the city"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("shot status = %d: %s", rec.Code, rec.Body.String())
	}
	var shot model.Shot
	decodeInto(t, rec.Body.Bytes(), &shot)

	rec = env.do(t, http.MethodDelete, "/api/episodes/"+pilot.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	for _, p := range []string{"/api/episodes/" + pilot.ID, "/api/scenes/" + scene.ID, "/api/shots/" + shot.ID} {
		if rec := env.do(t, http.MethodGet, p, ""); rec.Code != http.StatusNotFound {
			t.Fatalf("%s after cascade status = %d, want 404", p, rec.Code)
		}
	}
}

func TestScenesAndShots(t *testing.T) {
	env := newTestEnv(t)
	env.db.episodes = []model.Episode{{ID: "ep-1", ProjectID: testProject, EpisodeNumber: 1, Title: "Pilot"}}
	env.db.media = []model.MediaItem{
		{ID: "m-own", ProjectID: testProject, Status: model.MediaStatusCompleted},
		{ID: "m-other", ProjectID: "project-other", Status: model.MediaStatusCompleted},
	}
	env.db.chars = []model.Character{
		{ID: "c-own", UserID: testUser, Name: "Rin"},
		{ID: "c-other", UserID: "user-2", Name: "Other"},
	}

	if rec := env.do(t, http.MethodPost, "/api/episodes/ep-1/scenes", `{"title":"Chase","sceneType":"car"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid scene type status = %d, want 400", rec.Code)
	}
	rec := env.do(t, http.MethodPost, "/api/episodes/ep-1/scenes", `{"title":"Chase","sceneType":"action"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("scene status = %d: %s", rec.Code, rec.Body.String())
	}
	var scene model.Scene
	decodeInto(t, rec.Body.Bytes(), &scene)

	rec = env.do(t, http.MethodPut, "/api/scenes/"+scene.ID, `{"mood":"exciting","status":"generating"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("scene update status = %d: %s", rec.Code, rec.Body.String())
	}
	decodeInto(t, rec.Body.Bytes(), &scene)
	if scene.Mood != "exciting" || scene.Status != model.ShotGenerating {
		t.Fatalf("unexpected scene %+v", scene)
	}

	shotsPath := "/api/scenes/" + scene.ID + "/shots"
	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"negative duration", `{"duration":-1}`, http.StatusBadRequest},
		{"invalid camera", `{"cameraType":"fisheye"}`, http.StatusBadRequest},
		{"media from another project", `{"mediaId":"m-other"}`, http.StatusBadRequest},
		{"unknown media", `{"mediaId":"m-missing"}`, http.StatusBadRequest},
		{"foreign character", `{"characterIds":["c-other"]}`, http.StatusBadRequest},
		{"valid references", `{"mediaId":"m-own","characterIds":["c-own"],"cameraType":"close_up","duration":2}`, http.StatusCreated},
		{"empty media id stored as none", `{"mediaId":""}`, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, shotsPath, tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
		})
	}

	var shots []model.Shot
	decodeInto(t, env.do(t, http.MethodGet, shotsPath, "").Body.Bytes(), &shots)
	if len(shots) != 2 {
		t.Fatalf("expected 2 shots, got %d", len(shots))
	}
	linked, bare := shots[0], shots[1]
	if linked.MediaID == nil || *linked.MediaID != "m-own" || linked.CameraType != model.CameraCloseUp || len(linked.CharacterIDs) != 1 {
		t.Fatalf("unexpected linked shot %+v", linked)
	}
	if bare.MediaID != nil || bare.CameraType != model.CameraMedium {
		t.Fatalf("unexpected bare shot %+v", bare)
	}

	if rec := env.do(t, http.MethodPut, "/api/shots/"+bare.ID, `{"mediaId":"m-other"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("cross project media update = %d, want 400", rec.Code)
	}
	rec = env.do(t, http.MethodPut, "/api/shots/"+linked.ID, `{"mediaId":"","status":"approved"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("shot update status = %d: %s", rec.Code, rec.Body.String())
	}
	var cleared model.Shot
	decodeInto(t, rec.Body.Bytes(), &cleared)
	if cleared.MediaID != nil || cleared.Status != model.ShotApproved {
		t.Fatalf("media link not cleared %+v", cleared)
	}

	if rec := env.do(t, http.MethodDelete, "/api/shots/"+bare.ID, ""); rec.Code != http.StatusOK {
		t.Fatalf("shot delete status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/api/scenes/"+scene.ID, ""); rec.Code != http.StatusOK {
		t.Fatalf("scene delete status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/shots/"+linked.ID, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("shot outlived its scene, status = %d", rec.Code)
	}
	if len(env.db.media) != 2 {
		t.Fatalf("deleting shots must keep media")
	}
}

func TestEpisodeOwnership(t *testing.T) {
	env := newTestEnv(t)
	env.db.episodes = []model.Episode{{ID: "ep-x", ProjectID: "project-other", EpisodeNumber: 1, Title: "Theirs"}}
	env.db.scenes = []model.Scene{{ID: "sc-x", EpisodeID: "ep-x", SceneNumber: 1, Title: "Theirs"}}
	env.db.shots = []model.Shot{{ID: "sh-x", SceneID: "sc-x", ShotNumber: 1}}

	tests := []struct {
		method, path, body string
	}{
		{http.MethodGet, "/api/projects/project-other/episodes", ""},
		{http.MethodPost, "/api/projects/project-other/episodes", `{"title":"Mine now"}`},
		{http.MethodGet, "/api/episodes/ep-x", ""},
		{http.MethodPut, "/api/episodes/ep-x", `{"title":"Renamed"}`},
		{http.MethodDelete, "/api/episodes/ep-x", ""},
		{http.MethodGet, "/api/episodes/ep-x/scenes", ""},
		{http.MethodPost, "/api/episodes/ep-x/scenes", `{"title":"x"}`},
		{http.MethodGet, "/api/scenes/sc-x", ""},
		{http.MethodDelete, "/api/scenes/sc-x", ""},
		{http.MethodPost, "/api/scenes/sc-x/shots", `{}`},
		{http.MethodGet, "/api/shots/sh-x", ""},
		{http.MethodPut, "/api/shots/sh-x", `{"status":"approved"}`},
		{http.MethodDelete, "/api/shots/sh-x", ""},
		{http.MethodGet, "/api/projects/project-other/characters", ""},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			if rec := env.do(t, tt.method, tt.path, tt.body); rec.Code != http.StatusNotFound {
				t.Fatalf("status = %d, want 404", rec.Code)
			}
		})
	}
	if len(env.db.episodes) != 1 || len(env.db.scenes) != 1 || len(env.db.shots) != 1 {
		t.Fatalf("foreign records were modified")
	}
}

func TestProjectCharacters(t *testing.T) {
	env := newTestEnv(t)
	project := testProject
	other := "project-2"
	env.db.chars = []model.Character{
		{ID: "c1", UserID: testUser, Name: "Rin", ProjectID: &project},
		{ID: "c2", UserID: testUser, Name: "Kai", ProjectID: &other},
		{ID: "c3", UserID: testUser, Name: "Loose"},
	}

	var got []model.Character
	rec := env.do(t, http.MethodGet, "/api/projects/"+testProject+"/characters", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	decodeInto(t, rec.Body.Bytes(), &got)
	if len(got) != 1 || got[0].ID != "c1" {
		t.Fatalf("unexpected characters %+v", got)
	}

	env.db.chars = nil
	rec = env.do(t, http.MethodGet, "/api/projects/"+testProject+"/characters", "")
	if rec.Body.String() != "[]\n" {
		t.Fatalf("empty list should encode as [], got %q", rec.Body.String())
	}
}
