package server

import (
	"context"
	"time"

	"Anicut/cache"
	"Anicut/config"
	"Anicut/core/auth"
	"Anicut/core/export"
	"Anicut/core/fal"
	"Anicut/core/timeline"
	"Anicut/db"
	"Anicut/logger"
	"Anicut/repository"
	"Anicut/storage"
)

// App 已连接的基础设施与领域服务，server 与命令行共用
type App struct {
	Config *config.Config

	Projects   repository.ProjectRepository
	Tracks     repository.TrackRepository
	Keyframes  repository.KeyframeRepository
	Media      repository.MediaRepository
	Characters repository.CharacterRepository
	Users      repository.UserRepository
	Episodes   repository.EpisodeRepository
	Scenes     repository.SceneRepository
	Shots      repository.ShotRepository

	Engine    *timeline.Engine
	Objects   *storage.ObjectStore
	Fal       *fal.Client
	Trainer   *fal.Trainer
	Webhooks  *fal.WebhookProcessor
	Publisher *export.Publisher

	closers []func() error
}

// NewApp 连接数据库并初始化各组件。数据库不可用时返回错误，其余依赖缺失时降级运行。
func NewApp(cfg *config.Config) (*App, error) {
	app := &App{Config: cfg}

	if err := db.ConnectGormDB(cfg); err != nil {
		return nil, err
	}
	app.closers = append(app.closers, db.CloseGormDB)
	if err := db.AutoMigrate(); err != nil {
		app.Close()
		return nil, err
	}

	gdb := db.GormDB
	app.Projects = repository.NewGormProjectRepository(gdb)
	app.Tracks = repository.NewGormTrackRepository(gdb)
	app.Keyframes = repository.NewGormKeyframeRepository(gdb)
	app.Media = repository.NewGormMediaRepository(gdb)
	app.Characters = repository.NewGormCharacterRepository(gdb)
	app.Users = repository.NewGormUserRepository(gdb)
	app.Episodes = repository.NewGormEpisodeRepository(gdb)
	app.Scenes = repository.NewGormSceneRepository(gdb)
	app.Shots = repository.NewGormShotRepository(gdb)

	opts := []timeline.Option{timeline.WithSpan(int64(cfg.TimelineSpanMs))}
	if err := db.ConnectRedis(cfg); err != nil {
		logger.Warn("Redis 不可用，预览不做缓存", logger.ErrorField(err))
	} else {
		app.closers = append(app.closers, db.CloseRedis)
		ttl := time.Duration(cfg.PreviewTTLSec) * time.Second
		opts = append(opts, timeline.WithPreviewStore(cache.NewPreviewCache(db.RedisClient, ttl)))
	}
	app.Engine = timeline.NewEngine(app.Tracks, app.Keyframes, app.Media, opts...)

	var dedupe fal.Deduper
	if d, err := cache.DialWebhookDedupe(context.Background(), cfg); err != nil {
		logger.Warn("Redis 不可用，webhook 不做去重", logger.ErrorField(err))
	} else {
		app.closers = append(app.closers, d.Close)
		dedupe = d
	}

	if err := storage.InitMinio(cfg); err != nil {
		logger.Warn("MinIO 不可用，上传与训练已停用", logger.ErrorField(err))
	} else {
		app.Objects = storage.NewObjectStore(storage.GetMinioClient(), cfg)
	}

	app.Fal = fal.NewClient(cfg.FalBaseURL, cfg.FalKey, nil)
	if app.Objects != nil {
		app.Trainer = fal.NewTrainer(app.Characters, app.Objects, app.Fal, fal.WebhookURL(cfg.PublicURL))
	}
	app.Webhooks = fal.NewWebhookProcessor(app.Characters, app.Media, dedupe)

	return app, nil
}

// ConnectExport 连接 Kafka，失败时导出不可用
func (a *App) ConnectExport() {
	producer, err := export.NewSyncProducer(a.Config.KafkaBrokers)
	if err != nil {
		logger.Warn("Kafka 不可用，导出已停用", logger.ErrorField(err))
		return
	}
	a.Publisher = export.NewPublisher(producer, a.Config.KafkaExportTopic, a.Engine, int64(a.Config.TimelineSpanMs))
	a.closers = append(a.closers, a.Publisher.Close)
}

// EnsureDevUser 配置 JWT 并创建开发用户
func (a *App) EnsureDevUser(ctx context.Context) error {
	auth.Configure(a.Config.JWTSecret, time.Duration(a.Config.JWTExpireHours)*time.Hour)
	user, err := auth.EnsureDevUser(ctx, a.Users, a.Config.DevUserEmail, a.Config.DevUserPassword)
	if err != nil {
		return err
	}
	logger.Info("开发用户就绪", logger.String("email", user.Email), logger.String("userId", user.ID))
	return nil
}

// Handler 构造 API 处理器
func (a *App) Handler() *APIHandler {
	d := Deps{
		Projects:   a.Projects,
		Tracks:     a.Tracks,
		Keyframes:  a.Keyframes,
		Media:      a.Media,
		Characters: a.Characters,
		Users:      a.Users,
		Episodes:   a.Episodes,
		Scenes:     a.Scenes,
		Shots:      a.Shots,
		Engine:     a.Engine,
		Submitter:  a.Fal,
		Trainer:    a.Trainer,
		Webhooks:   a.Webhooks,
		Config:     a.Config,
	}
	if a.Objects != nil {
		d.Objects = a.Objects
	}
	if a.Publisher != nil {
		d.Exporter = a.Publisher
	}
	return NewAPIHandler(d)
}

// Close 按初始化的逆序释放资源
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("释放资源失败", logger.ErrorField(err))
		}
	}
	a.closers = nil
}
