package mirror

import (
	"context"
	"sort"
	"sync"
)

type memoryBackend struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

var _ Backend = (*memoryBackend)(nil)

func NewMemoryBackend() Backend {
	return &memoryBackend{entries: make(map[string][]byte)}
}

func (b *memoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	v, ok := b.entries[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte{}, v...), true, nil
}

func (b *memoryBackend) Put(_ context.Context, entries map[string][]byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for k, v := range entries {
		b.entries[k] = append([]byte{}, v...)
	}
	return nil
}

func (b *memoryBackend) Delete(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, k := range keys {
		delete(b.entries, k)
	}
	return nil
}

func (b *memoryBackend) Keys(context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0, len(b.entries))
	for k := range b.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
