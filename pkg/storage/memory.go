package storage

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-process BlobStore. It backs dry runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	puts    int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func memKey(bucket, key string) string { return bucket + "/" + key }

// Put copies the local file into memory.
func (m *MemoryStore) Put(_ context.Context, bucket, key, localPath string) error {
	data, err := os.ReadFile(localPath) //nolint:gosec // G304: caller-supplied upload source
	if err != nil {
		return err
	}
	m.PutBytes(bucket, key, data)
	return nil
}

// PutBytes stores data directly.
func (m *MemoryStore) PutBytes(bucket, key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[memKey(bucket, key)] = append([]byte(nil), data...)
	m.puts++
}

// List returns the keys below prefix in lexical order.
func (m *MemoryStore) List(_ context.Context, bucket, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	full := memKey(bucket, prefix)
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, full) {
			keys = append(keys, strings.TrimPrefix(k, bucket+"/"))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Get returns a copy of an object.
func (m *MemoryStore) Get(_ context.Context, bucket, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[memKey(bucket, key)]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return append([]byte(nil), data...), nil
}

// Delete removes an object if present.
func (m *MemoryStore) Delete(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, memKey(bucket, key))
	return nil
}

// Puts returns the number of uploads so far.
func (m *MemoryStore) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}
