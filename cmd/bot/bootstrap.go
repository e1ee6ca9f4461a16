package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/oblivorne/boxberry.ru-parcel-bot/config"
	"github.com/oblivorne/boxberry.ru-parcel-bot/internal/bot"
	"github.com/oblivorne/boxberry.ru-parcel-bot/internal/cache/rediscache"
	"github.com/oblivorne/boxberry.ru-parcel-bot/internal/integrations/boxberry"
	"github.com/oblivorne/boxberry.ru-parcel-bot/internal/integrations/boxberry/boxberryhttp"
	"github.com/oblivorne/boxberry.ru-parcel-bot/internal/lookup"
	"github.com/oblivorne/boxberry.ru-parcel-bot/internal/services/parcels"
	"github.com/oblivorne/boxberry.ru-parcel-bot/internal/storage/pgstore"
)

type botApp struct {
	ctx     context.Context
	cancel  context.CancelFunc
	bot     *bot.Bot
	closeDB func()
}

func mustBootstrapBot() *botApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	if cfg.Telegram.Token == "" {
		panic("telegram token is required")
	}

	st := mustOpenPostgresWithRetry(pgConnString(cfg), 60*time.Second)

	svc := parcels.New(st)

	tables, err := lookup.Load(cfg.Data.KeywordsPath, cfg.Data.PricesPath, cfg.Data.RestrictionsPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка загрузки справочников, %v", err))
	}

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		panic(fmt.Sprintf("ошибка подключения к telegram, %v", err))
	}

	updateWorkers := cfg.Telegram.UpdateWorkers
	if updateWorkers <= 0 {
		updateWorkers = 4
	}

	b := bot.New(api, svc, newEstimator(cfg), tables, updateWorkers)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &botApp{
		ctx:     ctx,
		cancel:  cancel,
		bot:     b,
		closeDB: st.Close,
	}
}

// newEstimator собирает клиента расчёта доставки. Без токена Boxberry
// команды /cost работать не будут, это допустимый режим.
func newEstimator(cfg *config.Config) boxberry.CostEstimator {
	if cfg.Boxberry.Token == "" {
		return nil
	}
	c := boxberryhttp.New(cfg.Boxberry.BaseURL, cfg.Boxberry.Token)
	if cfg.Redis.Host != "" {
		cacheTTL := time.Duration(cfg.Boxberry.CacheTTLSeconds) * time.Second
		if cacheTTL <= 0 {
			cacheTTL = 10 * time.Minute
		}
		redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
		c = c.WithCache(rediscache.New(redisAddr), cacheTTL)
	}
	return c
}

func pgConnString(cfg *config.Config) string {
	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgstore.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgstore.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *botApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *botApp) Run() error {
	return a.bot.Run(a.ctx)
}
