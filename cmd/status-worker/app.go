package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/oblivorne/boxberry.ru-parcel-bot/config"
	"github.com/oblivorne/boxberry.ru-parcel-bot/internal/cache/rediscache"
	"github.com/oblivorne/boxberry.ru-parcel-bot/internal/integrations/boxberry"
	"github.com/oblivorne/boxberry.ru-parcel-bot/internal/integrations/boxberry/boxberryhttp"
	"github.com/oblivorne/boxberry.ru-parcel-bot/internal/integrations/boxberry/fake"
	"github.com/oblivorne/boxberry.ru-parcel-bot/internal/notify"
	"github.com/oblivorne/boxberry.ru-parcel-bot/internal/services/tracker"
	"github.com/oblivorne/boxberry.ru-parcel-bot/internal/storage/pgstore"
)

type workerFactories struct {
	newStorage     func(cfg *config.Config) (repo tracker.Repository, closeFn func(), err error)
	newRateLimiter func(cfg *config.Config) tracker.RateLimiter
	newClient      func(cfg *config.Config) boxberry.Client
	newSink        func(cfg *config.Config) notify.Sink
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (tracker.Repository, func(), error) {
			st, err := pgstore.New(pgConnString(cfg))
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newRateLimiter: func(cfg *config.Config) tracker.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newClient: func(cfg *config.Config) boxberry.Client {
			// Без токена работаем на локальной заглушке.
			if cfg.Boxberry.Token != "" {
				return boxberryhttp.New(cfg.Boxberry.BaseURL, cfg.Boxberry.Token)
			}
			return fake.New()
		},
		newSink: func(cfg *config.Config) notify.Sink {
			if cfg.Telegram.Token == "" {
				return notify.LogSink{}
			}
			api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
			if err != nil {
				slog.Error("telegram init failed, falling back to log sink", "error", err.Error())
				return notify.LogSink{}
			}
			return notify.NewTelegramSink(api)
		},
	}
}

func pgConnString(cfg *config.Config) string {
	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
}

func trackerSettings(cfg *config.Config) (syncInterval time.Duration, concurrency int, fetchTimeout time.Duration, rlPerMin int64) {
	syncInterval = time.Duration(cfg.Tracker.SyncIntervalSeconds) * time.Second
	if syncInterval <= 0 {
		syncInterval = 5 * time.Minute
	}
	concurrency = cfg.Tracker.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	fetchTimeout = time.Duration(cfg.Tracker.FetchTimeoutSeconds) * time.Second
	if fetchTimeout <= 0 {
		fetchTimeout = 10 * time.Second
	}
	rlPerMin = int64(cfg.Tracker.RateLimitPerMinute)
	if rlPerMin <= 0 {
		rlPerMin = 120
	}
	return
}

func RunStatusWorker(ctx context.Context, cfg *config.Config, f workerFactories) error {
	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	rl := f.newRateLimiter(cfg)
	client := f.newClient(cfg)
	sink := f.newSink(cfg)

	syncInterval, concurrency, fetchTimeout, rlPerMin := trackerSettings(cfg)

	tr := tracker.New(repo, client, sink, rl).
		WithSettings(syncInterval, concurrency, fetchTimeout, rlPerMin)

	if cfg.Tracker.HTTPAddr != "" {
		go func() {
			if err := runWorkerHTTPServer(ctx, workerHTTPOpts{
				httpAddr: cfg.Tracker.HTTPAddr,
				tracker:  tr,
				cfg:      cfg,
			}); err != nil && err != context.Canceled && err != http.ErrServerClosed {
				slog.Error("worker http server", "error", err.Error())
			}
		}()
	}

	return tr.Run(ctx)
}
