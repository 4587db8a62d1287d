package store

import (
	"context"
	"sync"

	"github.com/fpang/photo-pipeline/internal/photo"
)

// MemoryStore implements Gateway in process. A single mutex serialises every
// conditional write, which gives the same outcome as DynamoDB's per-item
// condition checks.
type MemoryStore struct {
	mu     sync.Mutex
	photos map[string]*photo.Photo
}

// Compile-time interface check.
var _ Gateway = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{photos: make(map[string]*photo.Photo)}
}

// Put stores p unconditionally. Used to seed PENDING records.
func (m *MemoryStore) Put(p *photo.Photo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.photos[p.ID] = p.Clone()
}

func (m *MemoryStore) Create(ctx context.Context, p *photo.Photo) (*photo.Photo, error) {
	if err := checkCreate(p); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.photos[p.ID]
	if ok && existing.ProcessingStatus != photo.StatusPending {
		return nil, &photo.ConflictError{ID: p.ID, Expect: photo.StatusPending, Actual: existing.ProcessingStatus}
	}

	rec := p.Clone()
	if ok {
		// A pre-created PENDING record keeps the identity it was created with.
		rec = existing.Clone()
		if rec.AlbumID == "" {
			rec.AlbumID = p.AlbumID
		}
		if rec.Owner == "" {
			rec.Owner = p.Owner
		}
		if rec.Bucket == "" {
			rec.Bucket = p.Bucket
		}
		if rec.SourceKey == "" {
			rec.SourceKey = p.SourceKey
		}
		if rec.UploadTime.IsZero() {
			rec.UploadTime = p.UploadTime
		}
		rec.OrchestrationRef = p.OrchestrationRef
		rec.ProcessingStatus = photo.StatusRunning
	}
	rec.UpdatedAt = now()
	m.photos[p.ID] = rec
	return rec.Clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, id string, patch photo.Patch, expect photo.Status) (*photo.Photo, error) {
	if err := checkUpdate(id, patch, expect); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.photos[id]
	if !ok {
		return nil, &photo.ConflictError{ID: id, Expect: expect}
	}
	if rec.ProcessingStatus != expect {
		return nil, &photo.ConflictError{ID: id, Expect: expect, Actual: rec.ProcessingStatus}
	}
	rec.Apply(patch, now())
	return rec.Clone(), nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*photo.Photo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.photos[id]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}
