package handlers

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/petermazzocco/excel-analytics/internal/store"
	"github.com/petermazzocco/excel-analytics/models"
)

// memStore is an in-memory stand-in for *store.Store.
type memStore struct {
	mu       sync.Mutex
	nextUser uint
	nextUp   uint
	users    map[uint]*models.User
	uploads  map[uint]*models.Upload
}

func newMemStore() *memStore {
	return &memStore{
		users:   make(map[uint]*models.User),
		uploads: make(map[uint]*models.Upload),
	}
}

func (m *memStore) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return store.ErrEmailTaken
		}
	}
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	m.nextUser++
	u.ID = m.nextUser
	u.CreatedAt = time.Now()
	m.users[u.ID] = u
	return nil
}

func (m *memStore) FindUserByID(_ context.Context, id uint) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func (m *memStore) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) FindUserByGoogleID(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.GoogleID != nil && *u.GoogleID == id {
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) LinkGoogle(_ context.Context, u *models.User, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.GoogleID = &id
	return nil
}

func (m *memStore) UpdateUserName(_ context.Context, id uint, name string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	u.Name = name
	return u, nil
}

func (m *memStore) SetUserRole(_ context.Context, id uint, role models.Role) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	u.Role = role
	return u, nil
}

func (m *memStore) DeleteUser(_ context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.users, id)
	for _, up := range m.uploads {
		if up.UserID != nil && *up.UserID == id {
			up.UserID = nil
			up.User = nil
		}
	}
	return nil
}

func (m *memStore) ListUsers(context.Context) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memStore) CountUsers(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.users)), nil
}

func (m *memStore) CountUploads(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.uploads)), nil
}

func (m *memStore) CreateUpload(_ context.Context, up *models.Upload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if up.UserID != nil {
		owner, ok := m.users[*up.UserID]
		if !ok {
			return store.ErrOwnerNotFound
		}
		up.User = owner
	}
	m.nextUp++
	up.ID = m.nextUp
	up.CreatedAt = time.Now()
	m.uploads[up.ID] = up
	return nil
}

func (m *memStore) ListUploadsByOwner(_ context.Context, ownerID uint) ([]models.Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Upload
	for _, up := range m.uploads {
		if up.UserID != nil && *up.UserID == ownerID {
			out = append(out, *up)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memStore) FindUpload(_ context.Context, id, ownerID uint) (*models.Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.uploads[id]
	if !ok || up.UserID == nil || *up.UserID != ownerID {
		return nil, store.ErrNotFound
	}
	return up, nil
}

func (m *memStore) DeleteUpload(ctx context.Context, id, ownerID uint) (*models.Upload, error) {
	up, err := m.FindUpload(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.uploads, id)
	return up, nil
}

func (m *memStore) DeleteUploadsByOwner(_ context.Context, ownerID uint) ([]models.Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []models.Upload
	for id, up := range m.uploads {
		if up.UserID != nil && *up.UserID == ownerID {
			removed = append(removed, *up)
			delete(m.uploads, id)
		}
	}
	return removed, nil
}

func (m *memStore) UploadsPerMonth(_ context.Context, months int, now time.Time) ([]store.MonthCount, error) {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(months - 1), 0)
	out := make([]store.MonthCount, months)
	for i := range out {
		out[i].Month = start.AddDate(0, i, 0)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, up := range m.uploads {
		idx := (up.CreatedAt.Year()-start.Year())*12 + int(up.CreatedAt.Month()) - int(start.Month())
		if idx >= 0 && idx < months {
			out[idx].Count++
		}
	}
	return out, nil
}

type fakeGenerator struct {
	reply string
	err   error
}

func (f *fakeGenerator) Generate(context.Context, string) (string, error) {
	return f.reply, f.err
}
