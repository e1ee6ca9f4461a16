package boxberry

import (
	"context"
	"time"
)

// StatusSnapshot — нормализованный результат одного опроса трек-номера.
// Status — свободный текст вендора как есть; пустая строка означает "нет данных".
// Raw сохраняется в БД для диагностики.
type StatusSnapshot struct {
	Status    string
	Raw       []byte
	FetchedAt time.Time
}

type City struct {
	Code string
	Name string
}

type DeliveryCostRequest struct {
	TargetCityCode string
	WeightGrams    int
	OrderSum       float64
}

type DeliveryCost struct {
	Price        float64
	DeliveryDays int
}

type Client interface {
	FetchStatus(ctx context.Context, trackingNumber string) (StatusSnapshot, error)
}

// CostEstimator реализуется http-клиентом и используется калькулятором доставки в боте.
type CostEstimator interface {
	ListCities(ctx context.Context, query string) ([]City, error)
	DeliveryCosts(ctx context.Context, req DeliveryCostRequest) (DeliveryCost, error)
}
