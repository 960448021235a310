package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/app"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/notify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.Init("waitlist-worker", cfg.Env, cfg.LogLevel)
	logger.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Dur("grace", cfg.WaitlistGrace).
		Msg("waitlist worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Close()

	// Queued notifications are delivered here when the api enqueues them.
	if cfg.Notifier == config.NotifierQueue {
		srv := startDelivery(cfg, logger)
		defer srv.Shutdown()
	}

	// Run once at startup
	runOnce(rootCtx, a.Service, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping waitlist worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, a.Service, logger)
		}
	}
}

func startDelivery(cfg config.Config, logger zerolog.Logger) *asynq.Server {
	queue := cfg.NotifyChannel
	if queue == "" {
		queue = "notifications"
	}
	srv := asynq.NewServer(app.RedisClientOpt(cfg), asynq.Config{
		Concurrency: 5,
		Queues:      map[string]int{queue: 1},
	})

	mux := asynq.NewServeMux()
	mux.Handle(notify.TaskDeliver, notify.NewTaskHandler(notify.NewLogNotifier(logger), logger))

	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("notification delivery server failed to start")
	}
	logger.Info().Str("queue", queue).Msg("delivering queued notifications")
	return srv
}

func runOnce(ctx context.Context, svc *appointment.Service, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	res, err := svc.SweepWaitlist(runCtx)
	if err != nil {
		logger.Error().Err(err).
			Int("expired", res.Expired).
			Int("reoffered", res.Reoffered).
			Msg("waitlist sweep error")
		return
	}
	logger.Info().
		Int("expired", res.Expired).
		Int("reoffered", res.Reoffered).
		Dur("took", time.Since(start)).
		Msg("waitlist sweep complete")
}
