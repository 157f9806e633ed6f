// Package app wires the pipeline engine's collaborators together: load
// configuration, connect the database, build the lock manager, tracker,
// error logger, policy store and retry orchestrator, register stage
// processors, and hand back a ready Scheduler.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/docpipeline/internal/config"
	"github.com/vitaliisemenov/docpipeline/internal/core"
	"github.com/vitaliisemenov/docpipeline/internal/database/postgres"
	"github.com/vitaliisemenov/docpipeline/internal/errorlog"
	"github.com/vitaliisemenov/docpipeline/internal/infrastructure/cache"
	"github.com/vitaliisemenov/docpipeline/internal/lock"
	"github.com/vitaliisemenov/docpipeline/internal/policy"
	"github.com/vitaliisemenov/docpipeline/internal/processor"
	"github.com/vitaliisemenov/docpipeline/internal/retryorch"
	"github.com/vitaliisemenov/docpipeline/internal/scheduler"
	"github.com/vitaliisemenov/docpipeline/internal/tracker"
	"github.com/vitaliisemenov/docpipeline/pkg/logger"
)

// App holds every long-lived collaborator a CLI command needs.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	DB        *postgres.PostgresPool
	Scheduler *scheduler.Scheduler

	l1Cache cache.Cache
}

// New loads configuration, connects to Postgres, and wires the full
// collaborator graph. configPath may be empty to rely on defaults and
// environment variables alone.
func New(ctx context.Context, configPath string) (*App, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("app: load config: %w", err)
	}

	log := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.FilePath,
		MaxSize:    int(cfg.Log.MaxBytes / (1024 * 1024)),
		MaxBackups: cfg.Log.BackupCount,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})

	dbCfg := &postgres.PostgresConfig{
		Host:              cfg.Database.Host,
		Port:              cfg.Database.Port,
		Database:          cfg.Database.Database,
		User:              cfg.Database.Username,
		Password:          cfg.Database.Password,
		SSLMode:           cfg.Database.SSLMode,
		MaxConns:          int32(cfg.Database.MaxConnections),
		MinConns:          int32(cfg.Database.MinConnections),
		MaxConnLifetime:   cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:   cfg.Database.MaxConnIdleTime,
		HealthCheckPeriod: 30 * time.Second,
		ConnectTimeout:    cfg.Database.ConnectTimeout,
	}

	db := postgres.NewPostgresPool(dbCfg, log)
	if err := db.Connect(ctx); err != nil {
		return nil, fmt.Errorf("app: connect database: %w", err)
	}

	var l1 cache.Cache
	if cfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCache(&cache.CacheConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     10,
			MinIdleConns: 1,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			MaxRetries:   3,
		}, log)
		if err != nil {
			log.Warn("redis L1 cache unavailable, policy store will rely on postgres and the in-process cache alone", "error", err)
		} else {
			l1 = redisCache
		}
	}

	namespace := "docpipeline"
	pool := db.Pool()

	lockMgr := lock.NewManager(db, log, lock.NewMetrics(namespace))
	trk := tracker.NewTracker(pool, log, tracker.NewMetrics(namespace))
	errs := errorlog.NewLogger(pool, log)
	policies := policy.NewStore(pool, l1, cfg.Policy.CacheTTL, log)
	retry := retryorch.NewOrchestrator(log, retryorch.NewMetrics(namespace))

	registry := processor.NewRegistry()
	registry.Register(core.StageUpload, processor.NewUploadProcessor(pool))
	for _, stage := range core.CanonicalStageOrder {
		if stage == core.StageUpload {
			continue
		}
		registry.Register(stage, processor.NewPassthroughProcessor(stage))
	}

	sched := scheduler.New(pool, lockMgr, trk, errs, policies, retry, registry,
		scheduler.Config{MaxConcurrentDocuments: cfg.Scheduler.MaxConcurrentDocuments}, log)

	return &App{
		Config:    cfg,
		Logger:    log,
		DB:        db,
		Scheduler: sched,
		l1Cache:   l1,
	}, nil
}

// Close releases every long-lived resource the App holds.
func (a *App) Close() error {
	if a.l1Cache != nil {
		if closer, ok := a.l1Cache.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
	}
	return a.DB.Disconnect(context.Background())
}

// NewProcessingContext builds a fresh ProcessingContext for one document
// run, generating a request id.
func NewProcessingContext(documentID, filePath string, documentType core.DocumentType) *core.ProcessingContext {
	return &core.ProcessingContext{
		DocumentID:   documentID,
		FilePath:     filePath,
		DocumentType: documentType,
		RequestID:    uuid.NewString(),
		Metadata:     map[string]interface{}{},
	}
}
