package objectstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store backed by a map, for tests and
// single-process demos. The zero value is not usable; use NewMemoryStore.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]Object
	now     func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]Object),
		now:     time.Now,
	}
}

func (s *MemoryStore) PutObject(_ context.Context, key string, body []byte, contentType string) error {
	if key == "" {
		return fmt.Errorf("objectstore: put: %w", errEmptyKey)
	}

	cp := make([]byte, len(body))
	copy(cp, body)

	s.mu.Lock()
	s.objects[key] = Object{
		Key:         key,
		Body:        cp,
		ContentType: contentType,
		Size:        int64(len(cp)),
		ModifiedAt:  s.now().UTC(),
	}
	s.mu.Unlock()

	return nil
}

func (s *MemoryStore) GetObject(_ context.Context, key string) (Object, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()

	if !ok {
		return Object{}, fmt.Errorf("objectstore: get %q: %w", key, ErrNotFound)
	}

	cp := make([]byte, len(obj.Body))
	copy(cp, obj.Body)
	obj.Body = cp

	return obj, nil
}

func (s *MemoryStore) HeadObject(_ context.Context, key string) (ObjectMeta, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()

	if !ok {
		return ObjectMeta{}, fmt.Errorf("objectstore: head %q: %w", key, ErrNotFound)
	}

	return objectMeta(obj), nil
}

func (s *MemoryStore) ListObjects(_ context.Context, prefix string) ([]ObjectMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ObjectMeta, 0, len(s.objects))

	for k, obj := range s.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, objectMeta(obj))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })

	return out, nil
}

func (s *MemoryStore) DeleteObject(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()

	return nil
}

func (s *MemoryStore) DeleteObjects(_ context.Context, keys []string) error {
	s.mu.Lock()
	for _, k := range keys {
		delete(s.objects, k)
	}
	s.mu.Unlock()

	return nil
}

func objectMeta(obj Object) ObjectMeta {
	return ObjectMeta{
		Key:         obj.Key,
		ContentType: obj.ContentType,
		Size:        obj.Size,
		ModifiedAt:  obj.ModifiedAt,
	}
}
