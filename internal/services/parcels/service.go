package parcels

import (
	"context"
	"regexp"
	"strings"

	"github.com/oblivorne/boxberry.ru-parcel-bot/internal/models"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

// Формат трек-номера Boxberry.
var trackingPattern = regexp.MustCompile(`^[A-Z0-9\-]{8,}$`)

type Repository interface {
	GetOrCreateUser(ctx context.Context, telegramID int64, telegramUsername, firstName, lastName *string) (*models.User, error)
	GetUser(ctx context.Context, telegramID int64) (*models.User, error)
	UpdateUserProfile(ctx context.Context, telegramID int64, firstName, lastName *string) error
	SetUserCredentials(ctx context.Context, telegramID int64, username, passwordHash string) error

	AddParcel(ctx context.Context, in models.ParcelCreateInput) (*models.Parcel, error)
	ListUserParcels(ctx context.Context, userID int64) ([]*models.Parcel, error)
	GetParcelByTrackingAndUser(ctx context.Context, trackingNumber string, userID int64) (*models.Parcel, error)
	ArchiveParcel(ctx context.Context, userID int64, trackingNumber string) error

	CreateTicket(ctx context.Context, userID int64, subject, body string) (*models.Ticket, error)
}

type Service struct {
	repo Repository
}

func New(repo Repository) *Service {
	return &Service{repo: repo}
}

// NormalizeTrackingNumber приводит ввод пользователя к канонической форме.
func NormalizeTrackingNumber(raw string) (string, error) {
	tn := strings.ToUpper(strings.TrimSpace(raw))
	if !trackingPattern.MatchString(tn) {
		return "", errors.New("invalid tracking number format")
	}
	return tn, nil
}

func (s *Service) RegisterUser(ctx context.Context, telegramID int64, telegramUsername, firstName, lastName *string) (*models.User, error) {
	if telegramID == 0 {
		return nil, errors.New("telegram id is required")
	}
	return s.repo.GetOrCreateUser(ctx, telegramID, telegramUsername, firstName, lastName)
}

func (s *Service) UpdateProfile(ctx context.Context, telegramID int64, firstName, lastName *string) error {
	return s.repo.UpdateUserProfile(ctx, telegramID, firstName, lastName)
}

// SetCredentials сохраняет логин и хэш пароля личного кабинета Boxberry.
func (s *Service) SetCredentials(ctx context.Context, telegramID int64, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return errors.New("username is required")
	}
	if len(password) < 6 {
		return errors.New("password is too short (min 6)")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "hash password")
	}
	return s.repo.SetUserCredentials(ctx, telegramID, username, string(hash))
}

// CheckCredentials сравнивает пароль с сохранённым хэшем.
func (s *Service) CheckCredentials(ctx context.Context, telegramID int64, password string) (bool, error) {
	u, err := s.repo.GetUser(ctx, telegramID)
	if err != nil {
		return false, err
	}
	if u.PasswordHash == nil {
		return false, errors.New("no credentials stored")
	}
	err = bcrypt.CompareHashAndPassword([]byte(*u.PasswordHash), []byte(password))
	return err == nil, nil
}

func (s *Service) AddParcel(ctx context.Context, userID int64, trackingNumber, recipientName, recipientSurname string) (*models.Parcel, error) {
	tn, err := NormalizeTrackingNumber(trackingNumber)
	if err != nil {
		return nil, err
	}
	return s.repo.AddParcel(ctx, models.ParcelCreateInput{
		UserID:           userID,
		TrackingNumber:   tn,
		RecipientName:    strings.TrimSpace(recipientName),
		RecipientSurname: strings.TrimSpace(recipientSurname),
	})
}

func (s *Service) ListParcels(ctx context.Context, userID int64) ([]*models.Parcel, error) {
	return s.repo.ListUserParcels(ctx, userID)
}

func (s *Service) GetParcel(ctx context.Context, userID int64, trackingNumber string) (*models.Parcel, error) {
	tn, err := NormalizeTrackingNumber(trackingNumber)
	if err != nil {
		return nil, err
	}
	return s.repo.GetParcelByTrackingAndUser(ctx, tn, userID)
}

// RemoveParcel архивирует посылку: из синхронизации она выпадает,
// история остаётся.
func (s *Service) RemoveParcel(ctx context.Context, userID int64, trackingNumber string) error {
	tn, err := NormalizeTrackingNumber(trackingNumber)
	if err != nil {
		return err
	}
	return s.repo.ArchiveParcel(ctx, userID, tn)
}

func (s *Service) CreateTicket(ctx context.Context, userID int64, subject, body string) (*models.Ticket, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, errors.New("ticket body is empty")
	}
	return s.repo.CreateTicket(ctx, userID, strings.TrimSpace(subject), body)
}
