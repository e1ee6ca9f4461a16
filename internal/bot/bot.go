package bot

import (
	"context"
	"log/slog"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/oblivorne/boxberry.ru-parcel-bot/internal/integrations/boxberry"
	"github.com/oblivorne/boxberry.ru-parcel-bot/internal/lookup"
	"github.com/oblivorne/boxberry.ru-parcel-bot/internal/models"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type ParcelService interface {
	RegisterUser(ctx context.Context, telegramID int64, telegramUsername, firstName, lastName *string) (*models.User, error)
	UpdateProfile(ctx context.Context, telegramID int64, firstName, lastName *string) error
	SetCredentials(ctx context.Context, telegramID int64, username, password string) error
	CheckCredentials(ctx context.Context, telegramID int64, password string) (bool, error)
	AddParcel(ctx context.Context, userID int64, trackingNumber, recipientName, recipientSurname string) (*models.Parcel, error)
	ListParcels(ctx context.Context, userID int64) ([]*models.Parcel, error)
	RemoveParcel(ctx context.Context, userID int64, trackingNumber string) error
	CreateTicket(ctx context.Context, userID int64, subject, body string) (*models.Ticket, error)
}

// Bot — телеграм-фасад: разбирает команды и делегирует сервисам.
// estimator и tables опциональны: без них соответствующие команды
// отвечают, что функция не настроена.
type Bot struct {
	api       telegramAPI
	svc       ParcelService
	estimator boxberry.CostEstimator
	tables    *lookup.Tables

	updateWorkers int
}

func New(api *tgbotapi.BotAPI, svc ParcelService, estimator boxberry.CostEstimator, tables *lookup.Tables, updateWorkers int) *Bot {
	return newWithAPI(api, svc, estimator, tables, updateWorkers)
}

func newWithAPI(api telegramAPI, svc ParcelService, estimator boxberry.CostEstimator, tables *lookup.Tables, updateWorkers int) *Bot {
	if updateWorkers <= 0 {
		updateWorkers = 4
	}
	return &Bot{
		api:           api,
		svc:           svc,
		estimator:     estimator,
		tables:        tables,
		updateWorkers: updateWorkers,
	}
}

// Run запускает long-polling и обрабатывает апдейты пулом воркеров,
// пока контекст не отменён.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	var wg sync.WaitGroup
	for i := 0; i < b.updateWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case upd, ok := <-updates:
					if !ok {
						return
					}
					b.handleUpdate(ctx, upd)
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	<-ctx.Done()
	b.api.StopReceivingUpdates()
	wg.Wait()
	return ctx.Err()
}

func (b *Bot) handleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message == nil || upd.Message.From == nil {
		return
	}

	reply := b.handleMessage(ctx, upd.Message)
	if reply == "" {
		return
	}

	msg := tgbotapi.NewMessage(upd.Message.Chat.ID, reply)
	if _, err := b.api.Send(msg); err != nil {
		slog.Error("send reply", "chat_id", upd.Message.Chat.ID, "error", err.Error())
	}
}
