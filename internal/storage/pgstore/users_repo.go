package pgstore

import (
	"context"
	"time"

	"github.com/oblivorne/boxberry.ru-parcel-bot/internal/models"
	"github.com/pkg/errors"
)

// GetOrCreateUser создаёт пользователя при первом обращении.
// Пользователи никогда не удаляются.
func (s *Storage) GetOrCreateUser(ctx context.Context, telegramID int64, telegramUsername, firstName, lastName *string) (*models.User, error) {
	now := time.Now().UTC()

	row := s.db.QueryRow(ctx, `
INSERT INTO users (telegram_id, telegram_username, first_name, last_name, created_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (telegram_id)
DO UPDATE SET telegram_username = COALESCE(EXCLUDED.telegram_username, users.telegram_username)
RETURNING telegram_id, telegram_username, username, password_hash, first_name, last_name, created_at
`, telegramID, telegramUsername, firstName, lastName, now)

	var u models.User
	if err := row.Scan(
		&u.TelegramID, &u.TelegramUsername, &u.Username, &u.PasswordHash,
		&u.FirstName, &u.LastName, &u.CreatedAt,
	); err != nil {
		return nil, errors.Wrap(err, "upsert user")
	}
	return &u, nil
}

func (s *Storage) GetUser(ctx context.Context, telegramID int64) (*models.User, error) {
	row := s.db.QueryRow(ctx, `
SELECT telegram_id, telegram_username, username, password_hash, first_name, last_name, created_at
FROM users
WHERE telegram_id = $1
`, telegramID)

	var u models.User
	if err := row.Scan(
		&u.TelegramID, &u.TelegramUsername, &u.Username, &u.PasswordHash,
		&u.FirstName, &u.LastName, &u.CreatedAt,
	); err != nil {
		return nil, errors.Wrap(err, "select user")
	}
	return &u, nil
}

func (s *Storage) UpdateUserProfile(ctx context.Context, telegramID int64, firstName, lastName *string) error {
	_, err := s.db.Exec(ctx, `
UPDATE users
SET first_name = COALESCE($2, first_name),
    last_name  = COALESCE($3, last_name)
WHERE telegram_id = $1
`, telegramID, firstName, lastName)
	return errors.Wrap(err, "update user profile")
}

// SetUserCredentials сохраняет логин личного кабинета Boxberry и хэш пароля.
func (s *Storage) SetUserCredentials(ctx context.Context, telegramID int64, username, passwordHash string) error {
	_, err := s.db.Exec(ctx, `
UPDATE users
SET username = $2, password_hash = $3
WHERE telegram_id = $1
`, telegramID, username, passwordHash)
	return errors.Wrap(err, "set user credentials")
}

func (s *Storage) CreateTicket(ctx context.Context, userID int64, subject, body string) (*models.Ticket, error) {
	now := time.Now().UTC()

	row := s.db.QueryRow(ctx, `
INSERT INTO tickets (user_id, subject, body, created_at)
VALUES ($1,$2,$3,$4)
RETURNING id
`, userID, subject, body, now)

	t := models.Ticket{UserID: userID, Subject: subject, Body: body, CreatedAt: now}
	if err := row.Scan(&t.ID); err != nil {
		return nil, errors.Wrap(err, "insert ticket")
	}
	return &t, nil
}
