package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Anicut/config"
	"Anicut/logger"

	"github.com/gorilla/mux"
)

// corsMiddleware 允许前端跨域访问
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewRouter 注册全部路由
func NewRouter(h *APIHandler) *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware)

	router.HandleFunc("/api/health", h.HealthHandler).Methods(http.MethodGet)

	// 认证
	router.HandleFunc("/api/auth/login", h.LoginHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/me", h.AuthMiddleware(h.MeHandler)).Methods(http.MethodGet)

	// 项目
	router.HandleFunc("/api/projects", h.AuthMiddleware(h.ListProjectsHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/projects", h.AuthMiddleware(h.CreateProjectHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/projects/{projectId}", h.AuthMiddleware(h.GetProjectHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/projects/{projectId}", h.AuthMiddleware(h.UpdateProjectHandler)).Methods(http.MethodPut)
	router.HandleFunc("/api/projects/{projectId}/characters", h.AuthMiddleware(h.ProjectCharactersHandler)).Methods(http.MethodGet)

	// 剧集、场景与镜头
	router.HandleFunc("/api/projects/{projectId}/episodes", h.AuthMiddleware(h.ListEpisodesHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/projects/{projectId}/episodes", h.AuthMiddleware(h.CreateEpisodeHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/episodes/{episodeId}", h.AuthMiddleware(h.GetEpisodeHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/episodes/{episodeId}", h.AuthMiddleware(h.UpdateEpisodeHandler)).Methods(http.MethodPut)
	router.HandleFunc("/api/episodes/{episodeId}", h.AuthMiddleware(h.DeleteEpisodeHandler)).Methods(http.MethodDelete)
	router.HandleFunc("/api/episodes/{episodeId}/scenes", h.AuthMiddleware(h.ListScenesHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/episodes/{episodeId}/scenes", h.AuthMiddleware(h.CreateSceneHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/scenes/{sceneId}", h.AuthMiddleware(h.GetSceneHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/scenes/{sceneId}", h.AuthMiddleware(h.UpdateSceneHandler)).Methods(http.MethodPut)
	router.HandleFunc("/api/scenes/{sceneId}", h.AuthMiddleware(h.DeleteSceneHandler)).Methods(http.MethodDelete)
	router.HandleFunc("/api/scenes/{sceneId}/shots", h.AuthMiddleware(h.ListShotsHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/scenes/{sceneId}/shots", h.AuthMiddleware(h.CreateShotHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/shots/{shotId}", h.AuthMiddleware(h.GetShotHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/shots/{shotId}", h.AuthMiddleware(h.UpdateShotHandler)).Methods(http.MethodPut)
	router.HandleFunc("/api/shots/{shotId}", h.AuthMiddleware(h.DeleteShotHandler)).Methods(http.MethodDelete)

	// 轨道与关键帧
	router.HandleFunc("/api/projects/{projectId}/tracks", h.AuthMiddleware(h.GetTracksHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks/{trackId}/keyframes", h.AuthMiddleware(h.GetKeyframesHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/keyframes/{keyframeId}", h.AuthMiddleware(h.GetKeyframeHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/keyframes/{keyframeId}", h.AuthMiddleware(h.UpdateKeyframeHandler)).Methods(http.MethodPut)
	router.HandleFunc("/api/keyframes/{keyframeId}", h.AuthMiddleware(h.DeleteKeyframeHandler)).Methods(http.MethodDelete)

	// 时间轴
	router.HandleFunc("/api/projects/{projectId}/timeline/media", h.AuthMiddleware(h.AddMediaToTimelineHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/projects/{projectId}/timeline/clamp", h.AuthMiddleware(h.ClampDurationsHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/projects/{projectId}/preview", h.AuthMiddleware(h.PreviewHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/projects/{projectId}/export", h.AuthMiddleware(h.ExportHandler)).Methods(http.MethodPost)
	router.HandleFunc("/ws/projects/{projectId}/session", h.SessionWebSocketHandler)

	// 素材
	router.HandleFunc("/api/projects/{projectId}/media", h.AuthMiddleware(h.ListMediaHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/projects/{projectId}/media", h.AuthMiddleware(h.UploadMediaHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/projects/{projectId}/generate", h.AuthMiddleware(h.GenerateMediaHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/media/{mediaId}", h.AuthMiddleware(h.GetMediaHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/media/{mediaId}", h.AuthMiddleware(h.DeleteMediaHandler)).Methods(http.MethodDelete)

	// 角色
	router.HandleFunc("/api/characters", h.AuthMiddleware(h.ListCharactersHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/characters", h.AuthMiddleware(h.CreateCharacterHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/characters/{characterId}", h.AuthMiddleware(h.GetCharacterHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/characters/{characterId}", h.AuthMiddleware(h.UpdateCharacterHandler)).Methods(http.MethodPut)
	router.HandleFunc("/api/characters/{characterId}", h.AuthMiddleware(h.DeleteCharacterHandler)).Methods(http.MethodDelete)
	router.HandleFunc("/api/characters/{characterId}/images", h.AuthMiddleware(h.UploadTrainingImagesHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/characters/{characterId}/train", h.AuthMiddleware(h.TrainCharacterHandler)).Methods(http.MethodPost)

	// fal 回调
	router.HandleFunc("/api/webhooks/fal", h.FalWebhookHandler).Methods(http.MethodPost)

	return router
}

// Start initializes and starts the HTTP server.
func Start(cfg *config.Config) {
	app, err := NewApp(cfg)
	if err != nil {
		logger.Fatal("初始化失败", logger.ErrorField(err))
	}
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := app.EnsureDevUser(ctx); err != nil {
		cancel()
		logger.Fatal("创建开发用户失败", logger.ErrorField(err))
	}
	cancel()
	app.ConnectExport()

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      NewRouter(app.Handler()),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Server starting", logger.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", logger.ErrorField(err))
		}
	}()

	<-stop
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", logger.ErrorField(err))
	}
	logger.Info("Server stopped")
}
