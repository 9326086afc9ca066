package usecase

import (
	"context"
	"sync"
	"time"

	"image-edit-service/internal/domain"
	"image-edit-service/internal/domain/model"
	"image-edit-service/internal/domain/ports/adapter"
)

// memJobRepo is a small in-memory implementation used by unit tests.
type memJobRepo struct {
	mu        sync.RWMutex
	store     map[string]*model.GenerationJob
	createErr error // used by tests to simulate persistence failures
	updateErr error
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{store: make(map[string]*model.GenerationJob)}
}

func (m *memJobRepo) Create(ctx context.Context, job *model.GenerationJob) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.store[job.ID] = &cp
	return nil
}

func (m *memJobRepo) FindByID(ctx context.Context, id string) (*model.GenerationJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memJobRepo) Update(ctx context.Context, id string, upd model.JobUpdate) (*model.GenerationJob, error) {
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	upd.Apply(j)
	cp := *j
	return &cp, nil
}

func (m *memJobRepo) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[id]; !ok {
		return false, nil
	}
	delete(m.store, id)
	return true, nil
}

// memBlobStore keeps uploads in a map and issues fake signed URLs.
type memBlobStore struct {
	mu           sync.Mutex
	objects      map[string][]byte
	contentTypes map[string]string
	uploadErr    error
	signErr      error
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{
		objects:      make(map[string][]byte),
		contentTypes: make(map[string]string),
	}
}

func (m *memBlobStore) EnsureBucket(ctx context.Context) error { return nil }

func (m *memBlobStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if m.uploadErr != nil {
		return "", m.uploadErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	m.contentTypes[key] = contentType
	return key, nil
}

func (m *memBlobStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if m.signErr != nil {
		return "", m.signErr
	}
	return "https://blobs.local/" + key, nil
}

// fakeImageGen records requests and delegates to fn.
type fakeImageGen struct {
	mu       sync.Mutex
	requests []adapter.GenerationRequest
	fn       func(ctx context.Context, req adapter.GenerationRequest) ([]byte, error)
}

func (f *fakeImageGen) GenerateImage(ctx context.Context, req adapter.GenerationRequest) ([]byte, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.fn(ctx, req)
}
