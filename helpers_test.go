package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

type memoryDatabase struct {
	mu     sync.Mutex
	users  []User
	images []Image

	failCreateImage error
	pingErr         error
}

func newMemoryDatabase() *memoryDatabase {
	return &memoryDatabase{}
}

func (m *memoryDatabase) CreateUser(_ context.Context, email, passwordHash string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Email == email {
			return User{}, ErrDuplicateEmail
		}
	}

	u := User{ID: int64(len(m.users) + 1), Email: email, PasswordHash: passwordHash}
	m.users = append(m.users, u)

	return u, nil
}

func (m *memoryDatabase) GetUserByEmail(_ context.Context, email string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}

	return User{}, ErrNotFound
}

func (m *memoryDatabase) CreateImage(_ context.Context, img Image) (Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failCreateImage != nil {
		return Image{}, fmt.Errorf("%w: %w", ErrRepository, m.failCreateImage)
	}

	img.ID = int64(len(m.images) + 1)
	m.images = append(m.images, img)

	return img, nil
}

func (m *memoryDatabase) ListImagesByOwner(_ context.Context, ownerID int64) ([]Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := []Image{}
	for _, img := range m.images {
		if img.OwnerID == ownerID {
			items = append(items, img)
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].UploadDate.Equal(items[j].UploadDate) {
			return items[i].ID > items[j].ID
		}
		return items[i].UploadDate.After(items[j].UploadDate)
	})

	return items, nil
}

func (m *memoryDatabase) GetImageByID(_ context.Context, id int64) (Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, img := range m.images {
		if img.ID == id {
			return img, nil
		}
	}

	return Image{}, ErrNotFound
}

func (m *memoryDatabase) FindImageOwner(ctx context.Context, imageID int64) (User, error) {
	img, err := m.GetImageByID(ctx, imageID)
	if err != nil {
		return User{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.ID == img.OwnerID {
			return u, nil
		}
	}

	return User{}, ErrNotFound
}

func (m *memoryDatabase) Ping(context.Context) error {
	return m.pingErr
}

func (m *memoryDatabase) imageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.images)
}

const fakeStorageDomain = "https://bucket.s3.test"

type fakeObjectStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	deleted  []string
	signed   int
	storeErr error
	signErr  error
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: map[string][]byte{}}
}

func (f *fakeObjectStore) Store(_ context.Context, body io.Reader, ext, _ string) (string, error) {
	if f.storeErr != nil {
		return "", fmt.Errorf("%w: %w", ErrStorageUnavailable, f.storeErr)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}

	key := NewObjectKey(ext)

	f.mu.Lock()
	f.objects[key] = data
	f.mu.Unlock()

	return key, nil
}

func (f *fakeObjectStore) PresignURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	if f.signErr != nil {
		return "", fmt.Errorf("%w: %w", ErrStorageUnavailable, f.signErr)
	}

	f.mu.Lock()
	f.signed++
	n := f.signed
	f.mu.Unlock()

	return fmt.Sprintf("%s/%s?X-Amz-Expires=%d&sig=%d", fakeStorageDomain, key, int(ttl.Seconds()), n), nil
}

func (f *fakeObjectStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.objects, key)
	f.deleted = append(f.deleted, key)

	return nil
}

func (f *fakeObjectStore) objectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.objects)
}

type fakeDescriber struct {
	text string
	urls []string
	mu   sync.Mutex
}

func (f *fakeDescriber) Describe(_ context.Context, imageURL string) string {
	f.mu.Lock()
	f.urls = append(f.urls, imageURL)
	f.mu.Unlock()

	if f.text == "" {
		return FallbackDescription
	}

	return f.text
}

var errBoom = errors.New("boom")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}
