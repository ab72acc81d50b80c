package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"leaflens/auth"
	"leaflens/config"
	"leaflens/database"
	"leaflens/locker"
	"leaflens/ml/classifier"
	"leaflens/ml/gate"
	"leaflens/ml/tflite"
	"leaflens/services"
	"leaflens/storage"
)

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}
	ctx := context.Background()

	// Setup Database
	db, err := database.Open(&cfg.Database)
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to database.", zap.String("driver", cfg.DBDriver))

	logging.Info("Running database auto-migration...")
	if err := database.Migrate(db); err != nil {
		logging.Fatal("Auto-migration failed", zap.Error(err))
	}

	catalog := services.NewCatalogService(db, logging)
	if cfg.SeedCatalog {
		n, err := catalog.Seed(ctx, cfg.ClassifierClasses)
		if err != nil {
			logging.Warn("Failed to seed disease catalog", zap.Error(err))
		} else if n > 0 {
			logging.Info("Default diseases seeded.", zap.Int("count", n))
		}
	}

	// Setup Storage
	store, err := storage.New(ctx, &cfg.Storage)
	if err != nil {
		logging.Fatal("Image storage setup failed", zap.Error(err))
	}

	// Modelle einmal laden, danach nur noch lesend nutzen
	classifierRunner, err := tflite.Load("classifier", cfg.ClassifierModelPath, cfg.ModelThreads, logging)
	if err != nil {
		logging.Fatal("Failed to load classifier model", zap.Error(err))
	}
	defer classifierRunner.Close()
	diseaseClassifier, err := classifier.New(classifierRunner, cfg.ClassifierClasses, cfg.ClassifierInputSize, logging)
	if err != nil {
		logging.Fatal("Invalid classifier configuration", zap.Error(err))
	}

	gateRunner, err := tflite.Load("gate", cfg.GateModelPath, cfg.ModelThreads, logging)
	if err != nil {
		logging.Fatal("Failed to load gate model", zap.Error(err))
	}
	defer gateRunner.Close()
	prompts, err := gate.LoadPromptTable(cfg.GatePromptsPath)
	if err != nil {
		logging.Fatal("Failed to load gate prompts", zap.Error(err))
	}
	semanticGate, err := gate.New(gateRunner, prompts, cfg.GateThreshold, cfg.GateInputSize, logging)
	if err != nil {
		logging.Fatal("Invalid gate configuration", zap.Error(err))
	}
	logging.Info("Models loaded", zap.Strings("classes", cfg.ClassifierClasses), zap.Strings("prompts", prompts.Texts()))

	// Sperren pro Krankheit: Redis bei mehreren Instanzen, sonst prozesslokal
	var diseaseLocks locker.Locker = locker.NewKeyedMutex()
	if cfg.RedisURL != "" {
		redisLocks, err := locker.NewRedisLocker(ctx, cfg.RedisURL, cfg.LockTTL, logging)
		if err != nil {
			logging.Fatal("Redis connection failed", zap.Error(err))
		}
		defer redisLocks.Close()
		diseaseLocks = redisLocks
	}

	// Setup Services
	predictions := services.NewPredictionStore(db, logging)
	inference := services.NewInferenceService(store, semanticGate, diseaseClassifier, catalog, predictions, logging)
	curation := services.NewCurationService(db, diseaseLocks, logging)

	deps := routeDeps{
		DB:             db,
		Verifier:       auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer),
		Inference:      inference,
		Predictions:    predictions,
		Catalog:        catalog,
		Curation:       curation,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		Logger:         logging,
	}
	if cfg.StorageBackend == "local" {
		deps.MediaURL = cfg.MediaURL
		deps.MediaRoot = cfg.LocalMediaRoot
	}
	router := newRouter(deps)

	// Setup Cron
	if cfg.OrphanSweepSchedule != "" {
		sweeper := services.NewOrphanSweeper(store, predictions, cfg.OrphanMinAge, logging)
		cronScheduler := cron.New()
		_, err := cronScheduler.AddFunc(cfg.OrphanSweepSchedule, func() {
			logging.Info("Running orphaned image sweep...")
			count, err := sweeper.Run(context.Background())
			if err != nil {
				logging.Error("Orphan sweep failed", zap.Error(err))
				return
			}
			logging.Info("Orphan sweep completed", zap.Int("deleted", count))
		})
		if err != nil {
			logging.Fatal("Invalid ORPHAN_SWEEP_SCHEDULE", zap.Error(err))
		}
		cronScheduler.Start()
		defer cronScheduler.Stop()
	}

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}
