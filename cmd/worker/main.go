package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"

	"hostelhub/internal/attendance"
	"hostelhub/internal/clock"
	"hostelhub/internal/config"
	"hostelhub/internal/logging"
	"hostelhub/internal/metrics"
	"hostelhub/internal/queue"
	"hostelhub/internal/stats"
	"hostelhub/internal/store"
	"hostelhub/internal/worker"
)

// Worker consumes ledger events, refreshes cached statistics and flushes
// the cache at every session cutoff.
func main() {
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	warm := pflag.Bool("warm", true, "recompute a month's statistics after invalidating it")
	pflag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		slog.Error("env file", "error", err)
		os.Exit(1)
	}
	cfg := config.Load()
	log := logging.New("worker", cfg.LogLevel)

	if err := run(cfg, *warm, log); err != nil {
		log.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.App, warm bool, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend == "memory" {
		log.Warn("QUEUE_BACKEND=memory: events stay inside the api process, nothing to consume here")
		<-ctx.Done()
		return nil
	}

	if cfg.DBDriver == store.DriverMemory {
		return errors.New("worker needs a shared database, set DB_DRIVER to postgres or sqlite")
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	m := metrics.New(prometheus.DefaultRegisterer)

	db, err := store.Open(ctx, cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Warn("redis not reachable yet, consumer will keep retrying", "addr", cfg.RedisAddr)
	}

	statsSvc := stats.NewService(
		attendance.NewRepository(db.Client),
		stats.NewRedisCache(redisClient.Client),
		cfg.StatsCacheTTL,
		clock.Real{},
		loc,
		log,
		m,
	)
	w := worker.New(queue.NewRedisQueue(redisClient.Client, cfg.QueueKey, log), statsSvc, warm, log, m)

	c := cron.New(cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if err := w.Schedule(c); err != nil {
		return err
	}
	c.Start()
	defer c.Stop()
	log.Info("cutoff flush scheduled", "specs", worker.CutoffSpecs(), "timezone", loc.String())

	return w.Run(ctx)
}
