// Package main runs the live-show HTTP server with WebSocket fan-out and graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/moedor-live/backend/config"
	"github.com/moedor-live/backend/internal/analyzer"
	"github.com/moedor-live/backend/internal/auth"
	"github.com/moedor-live/backend/internal/cameras"
	"github.com/moedor-live/backend/internal/engine"
	"github.com/moedor-live/backend/internal/messages"
	"github.com/moedor-live/backend/internal/metrics"
	"github.com/moedor-live/backend/internal/middleware"
	"github.com/moedor-live/backend/internal/polls"
	"github.com/moedor-live/backend/internal/ratelimit"
	"github.com/moedor-live/backend/internal/realtime"
	"github.com/moedor-live/backend/internal/session"
	"github.com/moedor-live/backend/internal/stunts"
	"github.com/moedor-live/backend/internal/tts"
	"github.com/moedor-live/backend/pkg/database"
	"github.com/moedor-live/backend/pkg/queue"
	"github.com/moedor-live/backend/pkg/redis"
	"github.com/moedor-live/backend/pkg/response"
	"github.com/moedor-live/backend/pkg/storage"
)

// jobQueue is both ends of the speech job queue.
type jobQueue interface {
	stunts.JobSink
	stunts.JobSource
}

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}
	metrics.RegisterPool(pool)

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	audio, err := newAudioStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("audio storage", zap.Error(err))
	}

	var jobs jobQueue
	if cfg.Worker.QueueMode == "memory" {
		if !cfg.Worker.InProcess {
			logger.Fatal("QUEUE_MODE=memory requires WORKER_IN_PROCESS=true")
		}
		jobs = queue.NewMemory(64)
	} else {
		jobs = queue.NewQueue(rdb.Client, queue.QueueSpeech, logger)
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	bridge := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, bridge)

	var limiter ratelimit.Limiter
	var memLimiter *ratelimit.Memory
	if cfg.Show.RateLimitBackend == "redis" {
		limiter = ratelimit.NewRedis(rdb.Client)
	} else {
		memLimiter = ratelimit.NewMemory(logger)
		limiter = memLimiter
	}

	// Session
	sessions := session.NewManager(session.NewRepository(pool), cfg.Show.StuntLimit, logger)
	sessions.CountViewersWith(func() int { return hub.Count(realtime.RoomLive) })
	if err := sessions.Restore(ctx); err != nil {
		logger.Fatal("restore session", zap.Error(err))
	}
	sessionHandler := session.NewHandler(sessions)

	// Messages
	msgService := messages.NewService(messages.NewRepository(pool), hub, sessions, logger)
	if err := msgService.Warm(ctx); err != nil {
		logger.Warn("warm message ranking", zap.Error(err))
	}
	limits := engine.Limits{MessagesPerMinute: cfg.Show.MessagesPerMinute, LikesPerMinute: cfg.Show.LikesPerMinute}
	msgHandler := messages.NewHandler(msgService, limiter, messages.Limits(limits))

	// Polls
	pollEngine := polls.NewEngine(polls.NewRepository(pool), hub, sessions, logger)
	if err := pollEngine.Restore(ctx); err != nil {
		logger.Warn("restore polls", zap.Error(err))
	}
	pollHandler := polls.NewHandler(pollEngine)

	// Automatic polls from transcription
	pollAnalyzer := analyzer.New(analyzer.KeywordClassifier{}, pollEngine, analyzer.NewRepository(pool), hub, sessions, analyzer.Options{
		MinScore:     cfg.Show.AnalyzerMinScore,
		PollDuration: cfg.Show.AutoPollDuration,
		Cooldown:     cfg.Show.AnalyzerCooldown,
	}, logger)
	analyzerHandler := analyzer.NewHandler(pollAnalyzer)

	// Stunts
	stuntRepo := stunts.NewRepository(pool)
	stuntService := stunts.NewService(stuntRepo, sessions, jobs, hub, logger)
	stuntHandler := stunts.NewHandler(stuntService)
	synth := tts.NewElevenLabs(cfg.TTS.APIKey, cfg.TTS.VoiceID, cfg.TTS.Timeout,
		tts.WithBaseURL(cfg.TTS.BaseURL), tts.WithModel(cfg.TTS.ModelID))
	speechWorker := stunts.NewWorker(jobs, synth, audio, stuntRepo, hub, logger)

	// Cameras
	camManager := cameras.NewManager(cameras.NewRepository(pool),
		cameras.FFmpegOpener{Path: cfg.Camera.FFmpegPath, FPS: cfg.Camera.CaptureFPS},
		cameras.Config{
			CaptureFPS:      cfg.Camera.CaptureFPS,
			StreamFPS:       cfg.Camera.StreamFPS,
			Width:           cfg.Camera.FrameWidth,
			Height:          cfg.Camera.FrameHeight,
			SnapshotQuality: cfg.Camera.SnapshotQuality,
			StreamQuality:   cfg.Camera.StreamQuality,
			RetryBackoff:    cfg.Camera.RetryBackoff,
		}, logger)
	if cfg.Camera.Autostart {
		if _, err := camManager.StartAll(ctx); err != nil {
			logger.Warn("camera autostart", zap.Error(err))
		}
	}
	cameraHandler := cameras.NewHandler(camManager)

	// Inbound events and live stats
	stats := engine.NewStatsPublisher(hub, sessions, hub)
	hub.SetAudienceChangeHandler(stats.AudienceChanged)
	inbound := engine.NewRouter(stuntService, sessions, engine.NewPaymentRepository(pool), pollAnalyzer, hub, stats, logger)
	commands := engine.NewCommands(limiter, limits, msgService, pollEngine)
	webhooks := engine.NewWebhookHandler(inbound, logger)

	jwtValidate := func(token string) (realtime.Identity, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return realtime.Identity{}, err
		}
		return realtime.Identity{UserID: claims.UserID, Name: claims.Name, Role: claims.Role}, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))
	router.Use(metrics.Middleware())

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", metrics.Handler())
	if local, ok := audio.(*storage.Local); ok {
		router.Static(cfg.Storage.PublicURL, local.BasePath())
	}

	// Webhooks from the payment and transcription relays
	hooks := router.Group("/webhooks")
	hooks.Use(middleware.WebhookToken(cfg.Server.WebhookSecret))
	{
		hooks.POST("/purchase", webhooks.Purchase)
		hooks.POST("/transcription", webhooks.Transcription)
	}

	operator := middleware.RequireRole(auth.RoleOperator)
	screen := middleware.RequireRole(auth.RoleOperator, auth.RoleOverlay)

	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Session
		api.GET("/sessions/current", sessionHandler.Current)
		api.POST("/sessions", operator, sessionHandler.Start)
		api.POST("/sessions/end", operator, sessionHandler.End)

		// Messages
		api.POST("/messages", msgHandler.Submit)
		api.POST("/messages/:id/like", msgHandler.Like)
		api.GET("/messages/top", screen, msgHandler.Top)
		api.GET("/messages/queue", screen, msgHandler.Queue)
		api.POST("/messages/:id/displayed", screen, msgHandler.MarkDisplayed)
		api.GET("/messages/stats", operator, msgHandler.Stats)

		// Polls
		api.GET("/polls/active", pollHandler.Active)
		api.GET("/polls/history", pollHandler.History)
		api.GET("/polls/:id/results", pollHandler.Results)
		api.POST("/polls/:id/vote", pollHandler.Vote)
		api.POST("/polls", operator, pollHandler.Create)
		api.POST("/polls/:id/close", operator, pollHandler.Close)

		// Analyzer
		api.POST("/analyzer/preview", operator, analyzerHandler.Preview)
		api.GET("/transcripts", operator, analyzerHandler.Recent)

		// Stunts
		api.POST("/stunts", operator, stuntHandler.Trigger)
		api.GET("/stunts/stats", stuntHandler.Stats)
		api.GET("/stunts/recent", screen, stuntHandler.Recent)
		api.GET("/truths", operator, stuntHandler.Truths)
		api.POST("/truths", operator, stuntHandler.AddTruth)

		// Cameras
		api.GET("/cameras", screen, cameraHandler.List)
		api.GET("/cameras/status", screen, cameraHandler.Status)
		api.POST("/cameras", operator, cameraHandler.Create)
		api.PUT("/cameras/:id", operator, cameraHandler.Update)
		api.DELETE("/cameras/:id", operator, cameraHandler.Delete)
		api.POST("/cameras/start-all", operator, cameraHandler.StartAll)
		api.POST("/cameras/stop-all", operator, cameraHandler.StopAll)
		api.POST("/cameras/:id/start", operator, cameraHandler.Start)
		api.POST("/cameras/:id/stop", operator, cameraHandler.Stop)
		api.GET("/cameras/:id/snapshot", screen, cameraHandler.Snapshot)
		api.GET("/cameras/:id/stream", screen, cameraHandler.Stream)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, jwtValidate, commands))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bridge.Run(gctx, hub.Deliver)
	})
	g.Go(func() error {
		inbound.Run(gctx)
		return nil
	})
	g.Go(func() error {
		msgService.RunCleanup(gctx, cfg.Show.CleanupInterval, cfg.Show.MessageRetention)
		return nil
	})
	if memLimiter != nil {
		g.Go(func() error {
			memLimiter.Run(gctx, time.Minute)
			return nil
		})
	}
	if cfg.Worker.InProcess {
		g.Go(func() error {
			speechWorker.Run(gctx)
			return nil
		})
		g.Go(func() error {
			speechWorker.RunAudioCleanup(gctx, cfg.Show.CleanupInterval, cfg.Storage.MaxAge)
			return nil
		})
		logger.Info("speech worker running in process")
	}
	g.Go(func() error {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", zap.Error(err))
		}
		camManager.Close()
		pollEngine.Shutdown()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited", zap.Error(err))
	}
	logger.Info("server stopped")
}

// newAudioStore picks S3 when configured and a local directory otherwise.
func newAudioStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	if cfg.Storage.Driver == "s3" {
		return storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			Bucket:               cfg.AWS.AudioBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
	}
	return storage.NewLocal(cfg.Storage.LocalDir, cfg.Storage.PublicURL)
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
