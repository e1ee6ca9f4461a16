package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
)

type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSink шлёт уведомление в чат владельца (chat id == telegram id пользователя).
type TelegramSink struct {
	api messageSender
}

func NewTelegramSink(api *tgbotapi.BotAPI) *TelegramSink {
	return &TelegramSink{api: api}
}

func newTelegramSinkWithSender(api messageSender) *TelegramSink {
	return &TelegramSink{api: api}
}

func (s *TelegramSink) Notify(ctx context.Context, ev Event) error {
	msg := tgbotapi.NewMessage(ev.UserID, FormatEvent(ev))
	if _, err := s.api.Send(msg); err != nil {
		return errors.Wrap(err, "telegram send")
	}
	return nil
}

// FormatEvent — текст уведомления. Первый успешный опрос показывается
// без "старого" статуса.
func FormatEvent(ev Event) string {
	if ev.OldStatus == "" {
		return fmt.Sprintf("📦 %s\nСтатус: %s", ev.Parcel.TrackingNumber, ev.NewStatus)
	}
	return fmt.Sprintf("📦 %s\nСтатус: %s → %s", ev.Parcel.TrackingNumber, ev.OldStatus, ev.NewStatus)
}
