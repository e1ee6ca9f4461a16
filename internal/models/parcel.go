package models

import "time"

// Статусы Boxberry — свободный текст, как его отдаёт API.
// Два выделенных значения:
const (
	// StatusUnset — посылка ещё ни разу не опрашивалась успешно.
	StatusUnset = ""
	// StatusUnknown — API ответило успешно, но трек-номер ему не известен.
	StatusUnknown = "unknown"
)

type User struct {
	TelegramID       int64
	TelegramUsername *string
	Username         *string
	PasswordHash     *string
	FirstName        *string
	LastName         *string
	CreatedAt        time.Time
}

type Parcel struct {
	ID               uint64
	UserID           int64
	TrackingNumber   string
	RecipientName    string
	RecipientSurname string

	// LastStatus отражает последний УСПЕШНЫЙ опрос; неудачный опрос его не трогает.
	LastStatus string
	// LastUpdate меняется только при смене статуса, LastCheckedAt — при каждой проверке.
	LastUpdate    *time.Time
	LastCheckedAt *time.Time

	CheckFailCount int32
	LastError      *string
	RawResponse    []byte

	Archived  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ParcelCreateInput struct {
	UserID           int64
	TrackingNumber   string
	RecipientName    string
	RecipientSurname string
}

type Ticket struct {
	ID        uint64
	UserID    int64
	Subject   string
	Body      string
	CreatedAt time.Time
}
