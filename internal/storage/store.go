package storage

import (
	"context"
	"sync"
)

// CacheControlImmutable is attached to every variant; keys are content
// addressed so the bytes behind a key never change.
const CacheControlImmutable = "public, max-age=31536000, immutable"

type PutOptions struct {
	ContentType  string
	CacheControl string
	Metadata     map[string]string
}

// ObjectStore is the backing blob store. Errors should be *types.UploadError
// so the retry policy can classify them.
type ObjectStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, body []byte, opts PutOptions) error
}

type MemoryObject struct {
	Body []byte
	PutOptions
}

// MemoryStore is an ObjectStore kept in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]MemoryObject
	puts    int
	exists  int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]MemoryObject)}
}

func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exists++
	_, ok := m.objects[key]
	return ok, nil
}

func (m *MemoryStore) Put(ctx context.Context, key string, body []byte, opts PutOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	m.objects[key] = MemoryObject{Body: append([]byte(nil), body...), PutOptions: opts}
	return nil
}

func (m *MemoryStore) Get(key string) (MemoryObject, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj, ok
}

// Len is the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// Puts counts write calls, including overwrites.
func (m *MemoryStore) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

func (m *MemoryStore) ExistsCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exists
}
