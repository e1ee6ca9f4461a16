package parcels

import (
	"context"
	"fmt"
	"testing"

	"github.com/oblivorne/boxberry.ru-parcel-bot/internal/models"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	users   map[int64]*models.User
	parcels map[string]*models.Parcel
	tickets []*models.Ticket
	nextID  uint64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:   map[int64]*models.User{},
		parcels: map[string]*models.Parcel{},
	}
}

func key(userID int64, tn string) string {
	return fmt.Sprintf("%d|%s", userID, tn)
}

func (r *fakeRepo) GetOrCreateUser(ctx context.Context, telegramID int64, telegramUsername, firstName, lastName *string) (*models.User, error) {
	if u, ok := r.users[telegramID]; ok {
		return u, nil
	}
	u := &models.User{TelegramID: telegramID, TelegramUsername: telegramUsername, FirstName: firstName, LastName: lastName}
	r.users[telegramID] = u
	return u, nil
}

func (r *fakeRepo) GetUser(ctx context.Context, telegramID int64) (*models.User, error) {
	u, ok := r.users[telegramID]
	if !ok {
		return nil, errNotFound
	}
	return u, nil
}

func (r *fakeRepo) UpdateUserProfile(ctx context.Context, telegramID int64, firstName, lastName *string) error {
	u, ok := r.users[telegramID]
	if !ok {
		return errNotFound
	}
	if firstName != nil {
		u.FirstName = firstName
	}
	if lastName != nil {
		u.LastName = lastName
	}
	return nil
}

func (r *fakeRepo) SetUserCredentials(ctx context.Context, telegramID int64, username, passwordHash string) error {
	u, ok := r.users[telegramID]
	if !ok {
		return errNotFound
	}
	u.Username = &username
	u.PasswordHash = &passwordHash
	return nil
}

func (r *fakeRepo) AddParcel(ctx context.Context, in models.ParcelCreateInput) (*models.Parcel, error) {
	k := key(in.UserID, in.TrackingNumber)
	if p, ok := r.parcels[k]; ok {
		p.Archived = false
		return p, nil
	}
	r.nextID++
	p := &models.Parcel{ID: r.nextID, UserID: in.UserID, TrackingNumber: in.TrackingNumber,
		RecipientName: in.RecipientName, RecipientSurname: in.RecipientSurname}
	r.parcels[k] = p
	return p, nil
}

func (r *fakeRepo) ListUserParcels(ctx context.Context, userID int64) ([]*models.Parcel, error) {
	var out []*models.Parcel
	for _, p := range r.parcels {
		if p.UserID == userID && !p.Archived {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *fakeRepo) GetParcelByTrackingAndUser(ctx context.Context, trackingNumber string, userID int64) (*models.Parcel, error) {
	p, ok := r.parcels[key(userID, trackingNumber)]
	if !ok {
		return nil, errNotFound
	}
	return p, nil
}

func (r *fakeRepo) ArchiveParcel(ctx context.Context, userID int64, trackingNumber string) error {
	p, ok := r.parcels[key(userID, trackingNumber)]
	if !ok {
		return errNotFound
	}
	p.Archived = true
	return nil
}

func (r *fakeRepo) CreateTicket(ctx context.Context, userID int64, subject, body string) (*models.Ticket, error) {
	r.nextID++
	t := &models.Ticket{ID: r.nextID, UserID: userID, Subject: subject, Body: body}
	r.tickets = append(r.tickets, t)
	return t, nil
}

var errNotFound = errNF{}

type errNF struct{}

func (errNF) Error() string { return "not found" }

func TestNormalizeTrackingNumber(t *testing.T) {
	tn, err := NormalizeTrackingNumber("  bb1234-5678 ")
	require.NoError(t, err)
	require.Equal(t, "BB1234-5678", tn)

	_, err = NormalizeTrackingNumber("short")
	require.Error(t, err)

	_, err = NormalizeTrackingNumber("номер посылки")
	require.Error(t, err)

	_, err = NormalizeTrackingNumber("")
	require.Error(t, err)
}

func TestService_AddListRemove(t *testing.T) {
	s := New(newFakeRepo())
	ctx := context.Background()

	p, err := s.AddParcel(ctx, 1, "bb12345678", "Иван", "Иванов")
	require.NoError(t, err)
	require.Equal(t, "BB12345678", p.TrackingNumber)
	require.Equal(t, "Иван", p.RecipientName)

	_, err = s.AddParcel(ctx, 1, "bad", "", "")
	require.Error(t, err)

	list, err := s.ListParcels(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.RemoveParcel(ctx, 1, "BB12345678"))
	list, err = s.ListParcels(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestService_RegisterUser(t *testing.T) {
	s := New(newFakeRepo())
	ctx := context.Background()

	_, err := s.RegisterUser(ctx, 0, nil, nil, nil)
	require.Error(t, err)

	name := "ivan"
	u, err := s.RegisterUser(ctx, 7, &name, nil, nil)
	require.NoError(t, err)
	require.Equal(t, int64(7), u.TelegramID)
}

func TestService_Credentials(t *testing.T) {
	s := New(newFakeRepo())
	ctx := context.Background()

	_, err := s.RegisterUser(ctx, 7, nil, nil, nil)
	require.NoError(t, err)

	require.Error(t, s.SetCredentials(ctx, 7, "", "secret1"))
	require.Error(t, s.SetCredentials(ctx, 7, "login", "123"))
	require.NoError(t, s.SetCredentials(ctx, 7, "login", "secret1"))

	ok, err := s.CheckCredentials(ctx, 7, "secret1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.CheckCredentials(ctx, 7, "wrong")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestService_CreateTicket(t *testing.T) {
	r := newFakeRepo()
	s := New(r)
	ctx := context.Background()

	_, err := s.CreateTicket(ctx, 7, "", "   ")
	require.Error(t, err)

	tk, err := s.CreateTicket(ctx, 7, "доставка", "посылка не движется")
	require.NoError(t, err)
	require.NotZero(t, tk.ID)
	require.Len(t, r.tickets, 1)
}
