// Package app wires the scheduling service to Postgres, Redis and the
// configured notifier. The api-server and the worker share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/notify"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
	"github.com/hackgods/clinic-scheduling/internal/waitlist"
)

type App struct {
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Queue   *asynq.Client
	Service *appointment.Service

	log zerolog.Logger
}

// New connects to every backing store and builds the service. Callers must
// Close the returned App.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	a := &App{log: log}
	ctx = log.WithContext(ctx)

	if cfg.AutoMigrate {
		if err := db.Migrate(cfg.PostgresDSN); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info().Msg("database migrations applied")
	}

	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: int32(cfg.PgMaxConns)})
	cancel()
	if err != nil {
		return nil, err
	}
	a.Pool = pool
	log.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: cfg.RedisPoolSize,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Redis = rdb
	log.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")

	notifier, err := a.newNotifier(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	repo := appointment.NewPgRepository(pool)
	wl := waitlist.NewManager(
		waitlist.NewPgRepository(pool),
		cfg.WaitlistGrace,
		waitlist.WithLocation(cfg.Location()),
	)
	a.Service = appointment.NewService(
		repo,
		repo,
		redisclient.NewRedisCalendarLocker(rdb, cfg.LockTTL, cfg.LockWait),
		wl,
		notifier,
		log,
		appointment.Options{
			SlotStepMinutes:        cfg.SlotStepMinutes,
			DefaultDurationMinutes: cfg.DefaultDurationMinutes,
		},
	)

	if err := a.ensureGlobalConfig(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) newNotifier(cfg config.Config) (notify.Notifier, error) {
	switch cfg.Notifier {
	case config.NotifierLog:
		return notify.NewLogNotifier(a.log), nil
	case config.NotifierRedis:
		channel := cfg.NotifyChannel
		if channel == "" {
			channel = redisclient.DefaultNotifyChannel
		}
		return redisclient.NewPubSubNotifier(a.Redis, channel, a.log), nil
	case config.NotifierQueue:
		a.Queue = asynq.NewClient(RedisClientOpt(cfg))
		return notify.NewQueueNotifier(a.Queue, cfg.NotifyChannel), nil
	}
	return nil, fmt.Errorf("%w: %q", notify.ErrUnknownNotifier, cfg.Notifier)
}

// ensureGlobalConfig stores the default working hours in the configured
// timezone the first time the service starts against an empty database.
func (a *App) ensureGlobalConfig(ctx context.Context, cfg config.Config) error {
	repo := appointment.NewPgRepository(a.Pool)
	_, err := repo.GetConfig(ctx, nil)
	if err == nil {
		return nil
	}
	if !errors.Is(err, appointment.ErrConfigNotFound) {
		return fmt.Errorf("load global config: %w", err)
	}

	def := schedule.DefaultConfig()
	def.Location = cfg.Location()
	if err := a.Service.SaveConfig(ctx, def); err != nil {
		return fmt.Errorf("save default config: %w", err)
	}
	a.log.Info().Str("timezone", cfg.Timezone).Msg("stored default schedule config")
	return nil
}

// RedisClientOpt is the asynq connection for the configured Redis.
func RedisClientOpt(cfg config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

func (a *App) Close() {
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			a.log.Error().Err(err).Msg("error closing task queue client")
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.log.Error().Err(err).Msg("error closing redis")
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
