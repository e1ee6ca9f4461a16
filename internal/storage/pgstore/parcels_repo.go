package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oblivorne/boxberry.ru-parcel-bot/internal/models"
	"github.com/pkg/errors"
)

const parcelColumns = `
  id, user_id, tracking_number,
  recipient_name, recipient_surname,
  last_status, last_update, last_checked_at,
  check_fail_count, last_error, raw_response,
  archived, created_at, updated_at`

func scanParcel(row pgx.Row) (*models.Parcel, error) {
	var p models.Parcel
	if err := row.Scan(
		&p.ID, &p.UserID, &p.TrackingNumber,
		&p.RecipientName, &p.RecipientSurname,
		&p.LastStatus, &p.LastUpdate, &p.LastCheckedAt,
		&p.CheckFailCount, &p.LastError, &p.RawResponse,
		&p.Archived, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

// AddParcel регистрирует трек-номер за пользователем. Повторная регистрация
// того же номера тем же пользователем возвращает существующую запись
// (и снимает архивный флаг, если посылка была удалена ранее).
func (s *Storage) AddParcel(ctx context.Context, in models.ParcelCreateInput) (*models.Parcel, error) {
	now := time.Now().UTC()

	row := s.db.QueryRow(ctx, `
INSERT INTO parcels (
  user_id, tracking_number, recipient_name, recipient_surname, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$5)
ON CONFLICT (user_id, tracking_number)
DO UPDATE SET archived = FALSE, updated_at = now()
RETURNING `+parcelColumns, in.UserID, in.TrackingNumber, in.RecipientName, in.RecipientSurname, now)

	p, err := scanParcel(row)
	if err != nil {
		return nil, errors.Wrap(err, "insert parcel")
	}
	return p, nil
}

// ListActiveParcels возвращает все неархивированные посылки — вход одного цикла синхронизации.
func (s *Storage) ListActiveParcels(ctx context.Context) ([]*models.Parcel, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+parcelColumns+`
FROM parcels
WHERE NOT archived
ORDER BY id
`)
	if err != nil {
		return nil, errors.Wrap(err, "select active parcels")
	}
	defer rows.Close()

	var out []*models.Parcel
	for rows.Next() {
		p, err := scanParcel(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan parcel")
		}
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) ListUserParcels(ctx context.Context, userID int64) ([]*models.Parcel, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+parcelColumns+`
FROM parcels
WHERE user_id = $1 AND NOT archived
ORDER BY created_at
`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "select user parcels")
	}
	defer rows.Close()

	var out []*models.Parcel
	for rows.Next() {
		p, err := scanParcel(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan parcel")
		}
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) GetParcelByTrackingAndUser(ctx context.Context, trackingNumber string, userID int64) (*models.Parcel, error) {
	row := s.db.QueryRow(ctx, `
SELECT `+parcelColumns+`
FROM parcels
WHERE user_id = $1 AND tracking_number = $2
`, userID, trackingNumber)

	p, err := scanParcel(row)
	if err != nil {
		return nil, errors.Wrap(err, "select parcel")
	}
	return p, nil
}

// ArchiveParcel — мягкое удаление: посылка выпадает из синхронизации,
// но история сохраняется.
func (s *Storage) ArchiveParcel(ctx context.Context, userID int64, trackingNumber string) error {
	tag, err := s.db.Exec(ctx, `
UPDATE parcels
SET archived = TRUE, updated_at = now()
WHERE user_id = $1 AND tracking_number = $2
`, userID, trackingNumber)
	if err != nil {
		return errors.Wrap(err, "archive parcel")
	}
	if tag.RowsAffected() == 0 {
		return errors.New("parcel not found")
	}
	return nil
}

// StatusUpdate — результат одного опроса вендора для одной посылки.
// Error != nil означает неудачный опрос: статусные колонки не трогаются.
type StatusUpdate struct {
	ParcelID  uint64
	CheckedAt time.Time

	Status string
	Raw    []byte

	Error *string
}

// ApplyStatusUpdate атомарно применяет результат опроса к одной записи.
// Успех: статус, last_update, сырой ответ, сброс счётчика ошибок; запись
// меняется только если статус в БД действительно другой, и возвращается
// признак этого — гонка двух опросов одной посылки даёт ровно одну запись.
// Ошибка: только last_checked_at, счётчик ошибок и текст ошибки.
func (s *Storage) ApplyStatusUpdate(ctx context.Context, upd StatusUpdate) (bool, error) {
	if upd.Error != nil && *upd.Error != "" {
		_, err := s.db.Exec(ctx, `
UPDATE parcels
SET
  last_checked_at = $2,
  check_fail_count = check_fail_count + 1,
  last_error = $3,
  updated_at = now()
WHERE id = $1
`, upd.ParcelID, upd.CheckedAt.UTC(), *upd.Error)
		return false, errors.Wrap(err, "update parcel (error)")
	}

	tag, err := s.db.Exec(ctx, `
UPDATE parcels
SET
  last_status = $3,
  last_update = $2,
  last_checked_at = $2,
  raw_response = $4,
  check_fail_count = 0,
  last_error = NULL,
  updated_at = now()
WHERE id = $1 AND last_status IS DISTINCT FROM $3
`, upd.ParcelID, upd.CheckedAt.UTC(), upd.Status, upd.Raw)
	if err != nil {
		return false, errors.Wrap(err, "update parcel (ok)")
	}
	return tag.RowsAffected() > 0, nil
}

// MarkChecked фиксирует "проверено, без изменений": last_update не трогается.
func (s *Storage) MarkChecked(ctx context.Context, parcelID uint64, at time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE parcels
SET last_checked_at = $2, check_fail_count = 0, last_error = NULL, updated_at = now()
WHERE id = $1
`, parcelID, at.UTC())
	return errors.Wrap(err, "mark checked")
}
