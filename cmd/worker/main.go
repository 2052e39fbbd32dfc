// Package main runs the speech worker: it turns queued stunts into audio and
// announces them to the overlay through the event bridge.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/moedor-live/backend/config"
	"github.com/moedor-live/backend/internal/realtime"
	"github.com/moedor-live/backend/internal/stunts"
	"github.com/moedor-live/backend/internal/tts"
	"github.com/moedor-live/backend/pkg/database"
	"github.com/moedor-live/backend/pkg/queue"
	"github.com/moedor-live/backend/pkg/redis"
	"github.com/moedor-live/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if cfg.Worker.QueueMode == "memory" {
		logger.Fatal("standalone worker needs QUEUE_MODE=redis")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var audio storage.Store
	if cfg.Storage.Driver == "s3" {
		audio, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			Bucket:               cfg.AWS.AudioBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
	} else {
		// shares STORAGE_LOCAL_DIR with the server, which serves the files
		audio, err = storage.NewLocal(cfg.Storage.LocalDir, cfg.Storage.PublicURL)
	}
	if err != nil {
		logger.Fatal("audio storage", zap.Error(err))
	}

	jobs := queue.NewQueue(rdb.Client, queue.QueueSpeech, logger)
	bus := realtime.NewRemotePublisher(realtime.NewRedisPubSub(rdb.Client, logger), logger)
	synth := tts.NewElevenLabs(cfg.TTS.APIKey, cfg.TTS.VoiceID, cfg.TTS.Timeout,
		tts.WithBaseURL(cfg.TTS.BaseURL), tts.WithModel(cfg.TTS.ModelID))
	worker := stunts.NewWorker(jobs, synth, audio, stunts.NewRepository(pool), bus, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		worker.RunAudioCleanup(gctx, cfg.Show.CleanupInterval, cfg.Storage.MaxAge)
		return nil
	})
	logger.Info("worker started")

	if err := g.Wait(); err != nil {
		logger.Error("worker exited", zap.Error(err))
	}
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
