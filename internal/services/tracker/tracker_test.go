package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/oblivorne/boxberry.ru-parcel-bot/internal/integrations/boxberry"
	"github.com/oblivorne/boxberry.ru-parcel-bot/internal/models"
	"github.com/oblivorne/boxberry.ru-parcel-bot/internal/notify"
	"github.com/oblivorne/boxberry.ru-parcel-bot/internal/storage/pgstore"
	"github.com/stretchr/testify/require"
)

// fakeRepo повторяет контракт pgstore: путь с ошибкой не трогает статусные поля.
type fakeRepo struct {
	mu      sync.Mutex
	parcels map[uint64]*models.Parcel

	applyErr error
	marked   int
}

func newFakeRepo(ps ...*models.Parcel) *fakeRepo {
	r := &fakeRepo{parcels: map[uint64]*models.Parcel{}}
	for _, p := range ps {
		r.parcels[p.ID] = p
	}
	return r
}

func (r *fakeRepo) ListActiveParcels(ctx context.Context) ([]*models.Parcel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Parcel, 0, len(r.parcels))
	for _, p := range r.parcels {
		if !p.Archived {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) ApplyStatusUpdate(ctx context.Context, upd pgstore.StatusUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applyErr != nil {
		return false, r.applyErr
	}
	p, ok := r.parcels[upd.ParcelID]
	if !ok {
		return false, errors.New("no such parcel")
	}
	at := upd.CheckedAt
	if upd.Error != nil && *upd.Error != "" {
		p.LastCheckedAt = &at
		p.CheckFailCount++
		p.LastError = upd.Error
		return false, nil
	}
	if p.LastStatus == upd.Status {
		return false, nil
	}
	p.LastStatus = upd.Status
	p.LastUpdate = &at
	p.LastCheckedAt = &at
	p.RawResponse = upd.Raw
	p.CheckFailCount = 0
	p.LastError = nil
	return true, nil
}

func (r *fakeRepo) MarkChecked(ctx context.Context, parcelID uint64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.parcels[parcelID]
	if !ok {
		return errors.New("no such parcel")
	}
	p.LastCheckedAt = &at
	r.marked++
	return nil
}

func (r *fakeRepo) get(id uint64) models.Parcel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.parcels[id]
}

// scriptClient отдаёт статусы по очереди для каждого трек-номера.
type scriptClient struct {
	mu     sync.Mutex
	script map[string][]fetchStep
}

type fetchStep struct {
	status string
	err    error
}

func (c *scriptClient) FetchStatus(ctx context.Context, trackingNumber string) (boxberry.StatusSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	steps := c.script[trackingNumber]
	if len(steps) == 0 {
		return boxberry.StatusSnapshot{}, errors.New("script exhausted")
	}
	step := steps[0]
	c.script[trackingNumber] = steps[1:]
	if step.err != nil {
		return boxberry.StatusSnapshot{}, step.err
	}
	return boxberry.StatusSnapshot{
		Status:    step.status,
		Raw:       []byte(`[{"Name":"` + step.status + `"}]`),
		FetchedAt: time.Now().UTC(),
	}, nil
}

type recordSink struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (s *recordSink) Notify(ctx context.Context, ev notify.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordSink) all() []notify.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Event(nil), s.events...)
}

func parcel(id uint64, track, status string) *models.Parcel {
	return &models.Parcel{ID: id, UserID: int64(id) * 10, TrackingNumber: track, LastStatus: status}
}

func TestTracker_EndToEndScenario(t *testing.T) {
	// Сценарий: UNSET -> "Принята" (уведомление), "Принята" (тишина),
	// -> "Доставлена" (уведомление), таймаут (ошибка, статус не тронут).
	repo := newFakeRepo(parcel(1, "BB1", models.StatusUnset))
	client := &scriptClient{script: map[string][]fetchStep{
		"BB1": {
			{status: "Принята к доставке"},
			{status: "Принята к доставке"},
			{status: "Доставлена"},
			{err: context.DeadlineExceeded},
		},
	}}
	sink := &recordSink{}
	tr := New(repo, client, sink, nil)
	ctx := context.Background()

	// 1: первый успешный опрос — это переход из UNSET.
	tr.SyncAll(ctx)
	got := repo.get(1)
	require.Equal(t, "Принята к доставке", got.LastStatus)
	require.NotNil(t, got.LastUpdate)
	firstUpdate := *got.LastUpdate
	evs := sink.all()
	require.Len(t, evs, 1)
	require.Equal(t, "", evs[0].OldStatus)
	require.Equal(t, "Принята к доставке", evs[0].NewStatus)
	require.Equal(t, int64(10), evs[0].UserID)

	// 2: без изменений — ни уведомления, ни last_update.
	tr.SyncAll(ctx)
	got = repo.get(1)
	require.Equal(t, firstUpdate, *got.LastUpdate)
	require.Len(t, sink.all(), 1)
	require.Equal(t, 1, repo.marked)

	// 3: смена статуса — ровно одно уведомление со старым и новым значением.
	tr.SyncAll(ctx)
	got = repo.get(1)
	require.Equal(t, "Доставлена", got.LastStatus)
	require.True(t, got.LastUpdate.After(firstUpdate) || got.LastUpdate.Equal(firstUpdate))
	evs = sink.all()
	require.Len(t, evs, 2)
	require.Equal(t, "Принята к доставке", evs[1].OldStatus)
	require.Equal(t, "Доставлена", evs[1].NewStatus)

	// 4: неудачный опрос — статус и last_update не тронуты, уведомления нет.
	beforeFail := repo.get(1)
	tr.SyncAll(ctx)
	got = repo.get(1)
	require.Equal(t, "Доставлена", got.LastStatus)
	require.Equal(t, *beforeFail.LastUpdate, *got.LastUpdate)
	require.Equal(t, int32(1), got.CheckFailCount)
	require.NotNil(t, got.LastError)
	require.Len(t, sink.all(), 2)
	require.Equal(t, int64(1), tr.Stats().TotalErrors)
}

func TestTracker_EmptyStatusNeverOverwrites(t *testing.T) {
	repo := newFakeRepo(parcel(1, "BB1", "В пути"))
	client := &scriptClient{script: map[string][]fetchStep{
		"BB1": {{status: ""}},
	}}
	sink := &recordSink{}
	tr := New(repo, client, sink, nil)

	tr.SyncAll(context.Background())
	got := repo.get(1)
	require.Equal(t, "В пути", got.LastStatus)
	require.NotNil(t, got.LastCheckedAt)
	require.Empty(t, sink.all())
}

func TestTracker_RegressionIsNotified(t *testing.T) {
	repo := newFakeRepo(parcel(1, "BB1", "Доставлена"))
	client := &scriptClient{script: map[string][]fetchStep{
		"BB1": {{status: "В пути"}},
	}}
	sink := &recordSink{}
	tr := New(repo, client, sink, nil)

	tr.SyncAll(context.Background())
	got := repo.get(1)
	require.Equal(t, "В пути", got.LastStatus)
	evs := sink.all()
	require.Len(t, evs, 1)
	require.Equal(t, "Доставлена", evs[0].OldStatus)
	require.Equal(t, "В пути", evs[0].NewStatus)
}

func TestTracker_UnknownSentinelIsNotifiableChange(t *testing.T) {
	repo := newFakeRepo(parcel(1, "BB1", "В пути"))
	client := &scriptClient{script: map[string][]fetchStep{
		"BB1": {{status: models.StatusUnknown}},
	}}
	sink := &recordSink{}
	tr := New(repo, client, sink, nil)

	tr.SyncAll(context.Background())
	require.Equal(t, models.StatusUnknown, repo.get(1).LastStatus)
	require.Len(t, sink.all(), 1)
}

func TestTracker_OneFailureDoesNotAbortBatch(t *testing.T) {
	repo := newFakeRepo(
		parcel(1, "BB1", ""),
		parcel(2, "BB2", ""),
	)
	client := &scriptClient{script: map[string][]fetchStep{
		"BB1": {{err: errors.New("boxberry http 502")}},
		"BB2": {{status: "В пути"}},
	}}
	sink := &recordSink{}
	tr := New(repo, client, sink, nil)

	tr.SyncAll(context.Background())
	require.Equal(t, "В пути", repo.get(2).LastStatus)
	require.Equal(t, "", repo.get(1).LastStatus)
	require.Len(t, sink.all(), 1)
	st := tr.Stats()
	require.Equal(t, int64(2), st.TotalSynced)
	require.Equal(t, int64(1), st.TotalErrors)
}

func TestTracker_NoNotificationWhenPersistFails(t *testing.T) {
	repo := newFakeRepo(parcel(1, "BB1", ""))
	repo.applyErr = errors.New("pg down")
	client := &scriptClient{script: map[string][]fetchStep{
		"BB1": {{status: "В пути"}},
	}}
	sink := &recordSink{}
	tr := New(repo, client, sink, nil)

	tr.SyncAll(context.Background())
	require.Empty(t, sink.all())
	require.Equal(t, int64(1), tr.Stats().TotalErrors)
}

func TestTracker_SinkFailureDoesNotUndoPersistedStatus(t *testing.T) {
	repo := newFakeRepo(parcel(1, "BB1", ""))
	client := &scriptClient{script: map[string][]fetchStep{
		"BB1": {{status: "В пути"}},
	}}
	sink := &recordSink{err: errors.New("chat not found")}
	tr := New(repo, client, sink, nil)

	tr.SyncAll(context.Background())
	require.Equal(t, "В пути", repo.get(1).LastStatus)
	st := tr.Stats()
	require.Equal(t, int64(0), st.TotalErrors)
	require.Equal(t, int64(1), st.TotalNotifyFailed)
}

func TestTracker_ConcurrentSyncAllSingleNotification(t *testing.T) {
	// Два перекрывающихся цикла над одной посылкой: оба видят старый
	// статус, но запись и уведомление случаются ровно один раз.
	repo := newFakeRepo(parcel(1, "BB1", models.StatusUnset))
	client := &scriptClient{script: map[string][]fetchStep{
		"BB1": {
			{status: "В пути"},
			{status: "В пути"},
		},
	}}
	sink := &recordSink{}
	tr := New(repo, client, sink, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.SyncAll(ctx)
		}()
	}
	wg.Wait()

	got := repo.get(1)
	require.Equal(t, "В пути", got.LastStatus)
	evs := sink.all()
	require.Len(t, evs, 1)
	require.Equal(t, "", evs[0].OldStatus)
	require.Equal(t, "В пути", evs[0].NewStatus)

	st := tr.Stats()
	require.Equal(t, int64(1), st.TotalChanged)
	require.Equal(t, int64(0), st.TotalErrors)
}

func TestTracker_EmptyTrackingNumberIsRejected(t *testing.T) {
	repo := newFakeRepo(parcel(1, "", ""))
	tr := New(repo, &scriptClient{script: map[string][]fetchStep{}}, &recordSink{}, nil)

	tr.SyncAll(context.Background())
	require.Equal(t, int64(1), tr.Stats().TotalErrors)
}

type fakeRL struct {
	allowed bool
	err     error
	calls   int
}

func (r *fakeRL) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	r.calls++
	return r.allowed, int64(r.calls), r.err
}

func TestTracker_RateLimiterIsConsulted(t *testing.T) {
	repo := newFakeRepo(parcel(1, "BB1", ""))
	client := &scriptClient{script: map[string][]fetchStep{
		"BB1": {{status: "В пути"}},
	}}
	rl := &fakeRL{allowed: true}
	tr := New(repo, client, &recordSink{}, rl)

	tr.SyncAll(context.Background())
	require.Equal(t, 1, rl.calls)
	require.Equal(t, "В пути", repo.get(1).LastStatus)
}

func TestTracker_WithSettings(t *testing.T) {
	tr := New(nil, nil, nil, nil).WithSettings(3*time.Minute, 7, 9*time.Second, 13)
	require.Equal(t, 3*time.Minute, tr.syncInterval)
	require.Equal(t, 7, tr.concurrency)
	require.Equal(t, 9*time.Second, tr.fetchTimeout)
	require.Equal(t, int64(13), tr.rateLimitPerMinute)
}
