package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/oblivorne/boxberry.ru-parcel-bot/internal/integrations/boxberry"
)

const helpText = `Команды:
/track <номер> [имя фамилия] — следить за посылкой
/parcels — мои посылки
/delete <номер> — перестать следить
/cost <город> <вес_в_граммах> — стоимость доставки
/price <категория> — тариф на пересылку
/restrictions [страна] — ограничения по странам
/register <логин> <пароль> — привязать кабинет Boxberry
/login <пароль> — проверить вход в кабинет
/profile <имя> [фамилия] — изменить имя в профиле
/ticket <текст> — обращение в поддержку`

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) string {
	userID := msg.From.ID

	// Пользователь создаётся при первом обращении.
	var tgName *string
	if msg.From.UserName != "" {
		tgName = &msg.From.UserName
	}
	var firstName, lastName *string
	if msg.From.FirstName != "" {
		firstName = &msg.From.FirstName
	}
	if msg.From.LastName != "" {
		lastName = &msg.From.LastName
	}
	if _, err := b.svc.RegisterUser(ctx, userID, tgName, firstName, lastName); err != nil {
		slog.Error("register user", "user_id", userID, "error", err.Error())
		return "Что-то пошло не так, попробуйте позже."
	}

	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start":
		return "Привет! Я слежу за посылками Boxberry и сообщаю о смене статуса.\n\n" + helpText
	case "help":
		return helpText
	case "track":
		return b.cmdTrack(ctx, userID, args)
	case "parcels":
		return b.cmdParcels(ctx, userID)
	case "delete":
		return b.cmdDelete(ctx, userID, args)
	case "cost":
		return b.cmdCost(ctx, args)
	case "price":
		return b.cmdPrice(args)
	case "restrictions":
		return b.cmdRestrictions(args)
	case "register":
		return b.cmdRegister(ctx, userID, args)
	case "login":
		return b.cmdLogin(ctx, userID, args)
	case "profile":
		return b.cmdProfile(ctx, userID, args)
	case "ticket":
		return b.cmdTicket(ctx, userID, args)
	case "":
		return b.keywordReply(msg.Text)
	default:
		return "Не знаю такой команды. /help"
	}
}

func (b *Bot) cmdTrack(ctx context.Context, userID int64, args string) string {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "Укажите трек-номер: /track BB12345678"
	}
	var name, surname string
	if len(fields) > 1 {
		name = fields[1]
	}
	if len(fields) > 2 {
		surname = fields[2]
	}

	p, err := b.svc.AddParcel(ctx, userID, fields[0], name, surname)
	if err != nil {
		return "Не получилось добавить посылку: " + err.Error()
	}
	return fmt.Sprintf("Слежу за %s. Сообщу, когда статус изменится.", p.TrackingNumber)
}

func (b *Bot) cmdParcels(ctx context.Context, userID int64) string {
	parcels, err := b.svc.ListParcels(ctx, userID)
	if err != nil {
		slog.Error("list parcels", "user_id", userID, "error", err.Error())
		return "Что-то пошло не так, попробуйте позже."
	}
	if len(parcels) == 0 {
		return "Вы пока не следите ни за одной посылкой. /track <номер>"
	}

	var sb strings.Builder
	sb.WriteString("Ваши посылки:\n")
	for _, p := range parcels {
		status := p.LastStatus
		if status == "" {
			status = "ещё не проверялась"
		}
		fmt.Fprintf(&sb, "📦 %s — %s\n", p.TrackingNumber, status)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Bot) cmdDelete(ctx context.Context, userID int64, args string) string {
	if args == "" {
		return "Укажите трек-номер: /delete BB12345678"
	}
	if err := b.svc.RemoveParcel(ctx, userID, args); err != nil {
		return "Не получилось удалить: " + err.Error()
	}
	return "Больше не слежу за этой посылкой."
}

func (b *Bot) cmdCost(ctx context.Context, args string) string {
	if b.estimator == nil {
		return "Калькулятор доставки не настроен."
	}
	fields := strings.Fields(args)
	if len(fields) < 2 {
		return "Формат: /cost <город> <вес_в_граммах>"
	}

	weight, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil || weight <= 0 {
		return "Вес должен быть числом в граммах: /cost Москва 1500"
	}
	city := strings.Join(fields[:len(fields)-1], " ")

	cities, err := b.estimator.ListCities(ctx, city)
	if err != nil {
		slog.Error("list cities", "error", err.Error())
		return "Не получилось найти город, попробуйте позже."
	}
	if len(cities) == 0 {
		return fmt.Sprintf("Город %q не найден.", city)
	}

	cost, err := b.estimator.DeliveryCosts(ctx, boxberry.DeliveryCostRequest{
		TargetCityCode: cities[0].Code,
		WeightGrams:    weight,
	})
	if err != nil {
		slog.Error("delivery costs", "error", err.Error())
		return "Не получилось посчитать стоимость, попробуйте позже."
	}

	out := fmt.Sprintf("Доставка в %s (%d г): %.2f ₽", cities[0].Name, weight, cost.Price)
	if cost.DeliveryDays > 0 {
		out += fmt.Sprintf(", примерно %d дн.", cost.DeliveryDays)
	}
	return out
}

func (b *Bot) cmdPrice(args string) string {
	if b.tables == nil {
		return "Справочник тарифов не настроен."
	}
	if args == "" {
		keys := b.tables.PriceKeys()
		if len(keys) == 0 {
			return "Справочник тарифов пуст."
		}
		return "Укажите категорию: /price <категория>\nДоступны: " + strings.Join(keys, ", ")
	}

	price, ok := b.tables.Price(args)
	if !ok {
		return fmt.Sprintf("По категории %q тарифа нет.", args)
	}
	return fmt.Sprintf("Тариф (%s): %s", strings.ToLower(strings.TrimSpace(args)), price)
}

func (b *Bot) cmdRegister(ctx context.Context, userID int64, args string) string {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		return "Формат: /register <логин> <пароль>"
	}
	if err := b.svc.SetCredentials(ctx, userID, fields[0], fields[1]); err != nil {
		return "Не получилось привязать кабинет: " + err.Error()
	}
	return fmt.Sprintf("Кабинет %s привязан. Проверить вход: /login <пароль>", fields[0])
}

func (b *Bot) cmdLogin(ctx context.Context, userID int64, args string) string {
	if args == "" {
		return "Формат: /login <пароль>"
	}
	ok, err := b.svc.CheckCredentials(ctx, userID, args)
	if err != nil {
		return "Кабинет не привязан. /register <логин> <пароль>"
	}
	if !ok {
		return "Неверный пароль."
	}
	return "Пароль верный, вход в кабинет подтверждён."
}

func (b *Bot) cmdProfile(ctx context.Context, userID int64, args string) string {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "Формат: /profile <имя> [фамилия]"
	}
	firstName := &fields[0]
	var lastName *string
	if len(fields) > 1 {
		lastName = &fields[1]
	}
	if err := b.svc.UpdateProfile(ctx, userID, firstName, lastName); err != nil {
		slog.Error("update profile", "user_id", userID, "error", err.Error())
		return "Что-то пошло не так, попробуйте позже."
	}
	return "Профиль обновлён."
}

func (b *Bot) cmdRestrictions(args string) string {
	if b.tables == nil {
		return "Справочник ограничений не настроен."
	}
	if args == "" {
		countries := b.tables.Countries()
		if len(countries) == 0 {
			return "Справочник ограничений пуст."
		}
		return "Укажите страну: /restrictions <страна>\nДоступны: " + strings.Join(countries, ", ")
	}

	items, ok := b.tables.Restrictions(args)
	if !ok {
		return fmt.Sprintf("По стране %q данных нет.", args)
	}
	return fmt.Sprintf("Запрещено к пересылке (%s): %s", strings.ToLower(args), strings.Join(items, ", "))
}

func (b *Bot) cmdTicket(ctx context.Context, userID int64, args string) string {
	if args == "" {
		return "Опишите проблему: /ticket <текст>"
	}
	tk, err := b.svc.CreateTicket(ctx, userID, "", args)
	if err != nil {
		return "Не получилось создать обращение: " + err.Error()
	}
	return fmt.Sprintf("Обращение #%d создано. Поддержка ответит в этом чате.", tk.ID)
}

func (b *Bot) keywordReply(text string) string {
	if b.tables == nil || strings.TrimSpace(text) == "" {
		return ""
	}
	if reply, ok := b.tables.KeywordReply(text); ok {
		return reply
	}
	return "Я вас не понял. /help"
}
