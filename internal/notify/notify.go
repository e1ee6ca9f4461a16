package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/oblivorne/boxberry.ru-parcel-bot/internal/models"
)

// Event — обнаруженный переход статуса одной посылки.
type Event struct {
	UserID    int64
	Parcel    *models.Parcel
	OldStatus string
	NewStatus string
	At        time.Time
}

// Sink доставляет событие владельцу посылки. Доставка best-effort:
// статус к этому моменту уже сохранён, и откатывать его ошибка доставки не должна.
type Sink interface {
	Notify(ctx context.Context, ev Event) error
}

// LogSink — запасной вариант, когда telegram-токен не настроен.
type LogSink struct{}

func (LogSink) Notify(ctx context.Context, ev Event) error {
	slog.Info("status change",
		"user_id", ev.UserID,
		"tracking_number", ev.Parcel.TrackingNumber,
		"old_status", ev.OldStatus,
		"new_status", ev.NewStatus,
	)
	return nil
}
