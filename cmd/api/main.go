package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"

	"hostelhub/internal/attendance"
	"hostelhub/internal/clock"
	"hostelhub/internal/cloudinary"
	"hostelhub/internal/config"
	"hostelhub/internal/face"
	"hostelhub/internal/faceclient"
	"hostelhub/internal/geofence"
	"hostelhub/internal/httpapi"
	"hostelhub/internal/httpmiddleware"
	"hostelhub/internal/logging"
	"hostelhub/internal/metrics"
	"hostelhub/internal/queue"
	"hostelhub/internal/stats"
	"hostelhub/internal/store"
	"hostelhub/internal/worker"
)

func main() {
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	pflag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		slog.Error("env file", "error", err)
		os.Exit(1)
	}
	cfg := config.Load()
	log := logging.New("api", cfg.LogLevel)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.Error("http server failed", "error", err)
		os.Exit(1)
	}
}

func runHTTP(cfg config.App, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	m := metrics.New(prometheus.DefaultRegisterer)
	health := map[string]httpapi.HealthCheck{}

	var st attendance.Store
	if cfg.DBDriver == store.DriverMemory {
		log.Warn("using in-memory store, records are lost on restart")
		st = attendance.NewMemoryStore()
	} else {
		db, err := store.Open(ctx, cfg.DBDriver, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		st = attendance.NewRepository(db.Client)
		health["db"] = db.Healthy
	}

	var redisClient *store.Redis
	if cfg.QueueBackend != "memory" || cfg.RateLimitBackend == "redis" || cfg.StatsCacheTTL > 0 {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		health["redis"] = redisClient.Healthy
	}

	registry, err := loadRegistry(cfg.HostelsFile)
	if err != nil {
		return err
	}
	log.Info("hostel boundaries loaded", "count", len(registry.Names()))

	model := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)
	if cfg.FaceSkip {
		log.Warn("face service skipped, detections are mocked")
	}
	engine := face.NewEngine(model, cfg.FaceModelLoadTimeout, log, m)
	engine.Init()
	health["face_model"] = func(context.Context) bool { return engine.Ready() }

	var archive attendance.PhotoArchive
	if cfg.CloudinaryConfigured() {
		archive = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Info("cloudinary configured", "cloud", cfg.CloudinaryCloudName)
	} else {
		log.Info("cloudinary not configured, storing photo digests")
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(256)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey, log)
	}

	ledger := attendance.NewLedger(attendance.Options{
		Store:       st,
		Boundaries:  registry,
		Extractor:   face.NewExtractor(engine, cfg.FaceExtractTimeout, m),
		Verifier:    face.Verifier{Threshold: cfg.FaceMatchThreshold},
		Archive:     archive,
		Publisher:   q,
		Clock:       clock.Real{},
		Location:    loc,
		AllowBypass: cfg.GeofenceAllowWebBypass,
		Logger:      log,
		Metrics:     m,
	})

	var cache stats.Cache
	if redisClient != nil && cfg.StatsCacheTTL > 0 {
		cache = stats.NewRedisCache(redisClient.Client)
	}
	statsSvc := stats.NewService(st, cache, cfg.StatsCacheTTL, clock.Real{}, loc, log, m)

	// memory events never leave this process, so the worker runs here
	if cfg.QueueBackend == "memory" {
		w := worker.New(q, statsSvc, false, log, m)
		c := cron.New(cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
		if err := w.Schedule(c); err != nil {
			return err
		}
		c.Start()
		defer c.Stop()
		go func() { _ = w.Run(ctx) }()
	}

	var limiter httpmiddleware.Limiter
	switch {
	case cfg.RateLimitPerMin <= 0:
	case cfg.RateLimitBackend == "redis":
		limiter = httpmiddleware.NewRedisWindow(redisClient.Client, cfg.RateLimitPerMin)
	default:
		limiter = httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	}

	r := httpapi.NewRouter(httpapi.Deps{
		Ledger:     ledger,
		Stats:      statsSvc,
		Clock:      clock.Real{},
		Location:   loc,
		Logger:     log,
		SigningKey: cfg.JWTSigningKey,
		Issuer:     cfg.JWTIssuer,
		Limiter:    limiter,
		Health:     health,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", "port", cfg.HTTPPort, "db", cfg.DBDriver, "queue", cfg.QueueBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", "error", err)
	}
	log.Info("server exited")
	return nil
}

func loadRegistry(path string) (*geofence.Registry, error) {
	if path == "" {
		return geofence.Default()
	}
	return geofence.LoadFile(path)
}
