package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oblivorne/boxberry.ru-parcel-bot/internal/integrations/boxberry"
	"github.com/oblivorne/boxberry.ru-parcel-bot/internal/models"
	"github.com/oblivorne/boxberry.ru-parcel-bot/internal/notify"
	"github.com/oblivorne/boxberry.ru-parcel-bot/internal/storage/pgstore"
	"github.com/pkg/errors"
)

type Repository interface {
	ListActiveParcels(ctx context.Context) ([]*models.Parcel, error)
	ApplyStatusUpdate(ctx context.Context, upd pgstore.StatusUpdate) (bool, error)
	MarkChecked(ctx context.Context, parcelID uint64, at time.Time) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Tracker держит сохранённый статус каждой активной посылки в синхроне
// с живым статусом Boxberry и решает, когда уведомлять владельца.
type Tracker struct {
	repo   Repository
	client boxberry.Client
	sink   notify.Sink
	rl     RateLimiter

	locks *lockTable

	syncInterval       time.Duration
	concurrency        int
	fetchTimeout       time.Duration
	rateLimitPerMinute int64

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalSynced         atomic.Int64
	totalChanged        atomic.Int64
	totalErrors         atomic.Int64
	totalNotifyFailed   atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, client boxberry.Client, sink notify.Sink, rl RateLimiter) *Tracker {
	return &Tracker{
		repo:   repo,
		client: client,
		sink:   sink,
		rl:     rl,

		locks: newLockTable(),

		syncInterval:       5 * time.Minute,
		concurrency:        10,
		fetchTimeout:       10 * time.Second,
		rateLimitPerMinute: 120,

		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (t *Tracker) WithSettings(syncInterval time.Duration, concurrency int, fetchTimeout time.Duration, rlPerMin int64) *Tracker {
	if syncInterval > 0 {
		t.syncInterval = syncInterval
	}
	if concurrency > 0 {
		t.concurrency = concurrency
	}
	if fetchTimeout > 0 {
		t.fetchTimeout = fetchTimeout
	}
	if rlPerMin > 0 {
		t.rateLimitPerMinute = rlPerMin
	}
	return t
}

// Trigger forces an immediate sync cycle (best-effort, non-blocking).
func (t *Tracker) Trigger() {
	t.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case t.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt         time.Time  `json:"startedAt"`
	LastCycleAt       *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt     *time.Time `json:"lastTriggerAt,omitempty"`
	TotalSynced       int64      `json:"totalSynced"`
	TotalChanged      int64      `json:"totalChanged"`
	TotalErrors       int64      `json:"totalErrors"`
	TotalNotifyFailed int64      `json:"totalNotifyFailed"`
	InFlight          int64      `json:"inFlight"`
	LastError         string     `json:"lastError,omitempty"`
}

func (t *Tracker) Stats() Stats {
	st := Stats{
		StartedAt:         time.Unix(0, t.startedAtUnixNano).UTC(),
		TotalSynced:       t.totalSynced.Load(),
		TotalChanged:      t.totalChanged.Load(),
		TotalErrors:       t.totalErrors.Load(),
		TotalNotifyFailed: t.totalNotifyFailed.Load(),
		InFlight:          t.inFlight.Load(),
	}
	if n := t.lastCycleUnixNano.Load(); n > 0 {
		ts := time.Unix(0, n).UTC()
		st.LastCycleAt = &ts
	}
	if n := t.lastTriggerUnixNano.Load(); n > 0 {
		ts := time.Unix(0, n).UTC()
		st.LastTriggerAt = &ts
	}
	t.lastErrorMu.Lock()
	st.LastError = t.lastError
	t.lastErrorMu.Unlock()
	return st
}

// Run запускает планировщик: один цикл SyncAll за раз, по таймеру
// или по ручному Trigger. Ошибки цикла не останавливают следующий.
func (t *Tracker) Run(ctx context.Context) error {
	tk := time.NewTicker(t.syncInterval)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tk.C:
			t.SyncAll(ctx)
		case <-t.triggerCh:
			t.SyncAll(ctx)
		}
	}
}

// SyncAll синхронизирует все активные посылки. Посылки независимы:
// ошибка на одной не прерывает остальные.
func (t *Tracker) SyncAll(ctx context.Context) {
	now := time.Now().UTC()
	t.lastCycleUnixNano.Store(now.UnixNano())

	parcels, err := t.repo.ListActiveParcels(ctx)
	if err != nil {
		slog.Error("list active parcels", "error", err.Error())
		t.setLastError(err)
		return
	}

	sem := make(chan struct{}, t.concurrency)
	var wg sync.WaitGroup
	for _, p := range parcels {
		sem <- struct{}{}
		wg.Add(1)
		pCopy := p
		t.inFlight.Add(1)
		go func() {
			defer func() {
				t.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			if err := t.syncParcel(ctx, pCopy); err != nil {
				t.totalErrors.Add(1)
				t.setLastError(err)
				slog.Error("sync parcel", "parcel_id", pCopy.ID, "tracking_number", pCopy.TrackingNumber, "error", err.Error())
			}
			t.totalSynced.Add(1)
		}()
	}
	wg.Wait()
}

// syncParcel опрашивает вендора для одной посылки и применяет результат.
// Side effects строго ограничены этой посылкой.
func (t *Tracker) syncParcel(ctx context.Context, p *models.Parcel) error {
	if p.TrackingNumber == "" {
		return errors.New("parcel has empty tracking number")
	}

	unlock := t.locks.Lock(p.ID)
	defer unlock()

	now := time.Now().UTC()

	if t.rl != nil && t.rateLimitPerMinute > 0 {
		minuteKey := fmt.Sprintf("rl:boxberry:%s", now.Format("200601021504"))
		allowed, n, err := t.rl.Allow(ctx, minuteKey, t.rateLimitPerMinute, 70*time.Second)
		if err != nil {
			return err
		}
		if !allowed {
			// Слишком много запросов в минуту: подождём немного, чтобы разгрузить вендора.
			slog.Warn("rate limit exceeded", "count", n)
			time.Sleep(500 * time.Millisecond)
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, t.fetchTimeout)
	defer cancel()

	snap, err := t.client.FetchStatus(fetchCtx, p.TrackingNumber)
	if err != nil {
		// Неудачный опрос: статус не трогаем, фиксируем только факт ошибки.
		// Повторная попытка — в следующем цикле.
		e := err.Error()
		if _, uerr := t.repo.ApplyStatusUpdate(ctx, pgstore.StatusUpdate{
			ParcelID:  p.ID,
			CheckedAt: now,
			Error:     &e,
		}); uerr != nil {
			return errors.Wrap(uerr, "record fetch failure")
		}
		return errors.Wrap(err, "fetch status")
	}

	// Пустой статус — "нет данных": не затираем последний известный, не уведомляем.
	if snap.Status == "" {
		return errors.Wrap(t.repo.MarkChecked(ctx, p.ID, now), "mark checked")
	}

	// Сравнение — точное посимвольное. Семантику статусов вендора не
	// интерпретируем: "откат" статуса тоже изменение, и его тоже показываем.
	if snap.Status == p.LastStatus {
		return errors.Wrap(t.repo.MarkChecked(ctx, p.ID, now), "mark checked")
	}

	old := p.LastStatus
	changed, err := t.repo.ApplyStatusUpdate(ctx, pgstore.StatusUpdate{
		ParcelID:  p.ID,
		CheckedAt: now,
		Status:    snap.Status,
		Raw:       snap.Raw,
	})
	if err != nil {
		// Уведомление не отправляем, пока изменение не сохранено.
		return errors.Wrap(err, "persist status")
	}
	if !changed {
		// Параллельный опрос уже записал этот статус: наш снимок устарел,
		// второе уведомление не нужно.
		return errors.Wrap(t.repo.MarkChecked(ctx, p.ID, now), "mark checked")
	}
	t.totalChanged.Add(1)

	if t.sink != nil {
		ev := notify.Event{
			UserID:    p.UserID,
			Parcel:    p,
			OldStatus: old,
			NewStatus: snap.Status,
			At:        now,
		}
		if err := t.sink.Notify(ctx, ev); err != nil {
			// Статус уже сохранён; потеря уведомления не откатывает его.
			t.totalNotifyFailed.Add(1)
			slog.Error("notify", "parcel_id", p.ID, "error", err.Error())
		}
	}
	return nil
}

func (t *Tracker) setLastError(err error) {
	t.lastErrorMu.Lock()
	t.lastError = err.Error()
	t.lastErrorMu.Unlock()
}
