package fake

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/oblivorne/boxberry.ru-parcel-bot/internal/integrations/boxberry"
	"github.com/oblivorne/boxberry.ru-parcel-bot/internal/models"
)

// ladder — типичная последовательность статусов Boxberry.
var ladder = []string{
	"Принята к доставке",
	"Передана на сортировку",
	"В пути",
	"Поступила в пункт выдачи",
	"Доставлена",
}

// FakeClient — локальная заглушка Boxberry API для разработки и тестов.
// Статус детерминирован по трек-номеру и продвигается по лестнице
// с каждым опросом; часть номеров сразу отдаётся как неизвестные.
type FakeClient struct {
	mu    sync.Mutex
	calls map[string]int
}

func New() *FakeClient {
	return &FakeClient{calls: map[string]int{}}
}

func (f *FakeClient) FetchStatus(ctx context.Context, trackingNumber string) (boxberry.StatusSnapshot, error) {
	now := time.Now().UTC()

	h := fnv.New32a()
	_, _ = h.Write([]byte(trackingNumber))
	v := h.Sum32()

	// ~10% номеров считаем неизвестными вендору.
	if v%10 == 0 {
		return boxberry.StatusSnapshot{
			Status:    models.StatusUnknown,
			Raw:       []byte(`[]`),
			FetchedAt: now,
		}, nil
	}

	f.mu.Lock()
	n := f.calls[trackingNumber]
	f.calls[trackingNumber]++
	f.mu.Unlock()

	idx := int(v)%len(ladder) + n
	if idx >= len(ladder) {
		idx = len(ladder) - 1
	}
	status := ladder[idx]

	raw := fmt.Sprintf(`[{"Name":%q}]`, status)
	return boxberry.StatusSnapshot{
		Status:    status,
		Raw:       []byte(raw),
		FetchedAt: now,
	}, nil
}
