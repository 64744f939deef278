package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// memoryTier is an LRU front tier keyed by hashed key. Evicting from it
// never affects the persistent store.
type memoryTier struct {
	lru *lru.Cache[string, []float32]
}

// newMemoryTier returns nil when size is not positive.
func newMemoryTier(size int) *memoryTier {
	if size <= 0 {
		return nil
	}
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil
	}
	return &memoryTier{lru: c}
}

func (m *memoryTier) get(key string) ([]float32, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.lru.Get(key)
	if !ok {
		return nil, false
	}
	return copyVector(v), true
}

func (m *memoryTier) add(key string, v []float32) {
	if m == nil || len(v) == 0 {
		return
	}
	m.lru.Add(key, copyVector(v))
}

func (m *memoryTier) purge() {
	if m == nil {
		return
	}
	m.lru.Purge()
}

func (m *memoryTier) len() int {
	if m == nil {
		return 0
	}
	return m.lru.Len()
}

func copyVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
