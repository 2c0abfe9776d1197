package store

import (
	"context"
	"sync"
	"time"
)

// Memory is the in-process fallback backend. Expiry is lazy: expired
// entries are dropped when read or touched, never swept in background.
type Memory struct {
	mu   sync.Mutex
	sets map[string]*memorySet
	kv   map[string]memoryValue

	now func() time.Time // test hook
}

type memorySet struct {
	members  map[string]float64
	deadline time.Time // zero => no expiry
}

type memoryValue struct {
	value    []byte
	deadline time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sets: make(map[string]*memorySet),
		kv:   make(map[string]memoryValue),
		now:  time.Now,
	}
}

func (m *Memory) set(key string) *memorySet {
	s, ok := m.sets[key]
	if ok && !s.deadline.IsZero() && m.now().After(s.deadline) {
		delete(m.sets, key)
		ok = false
	}
	if !ok {
		s = &memorySet{members: make(map[string]float64)}
		m.sets[key] = s
	}
	return s
}

func (m *Memory) ZAdd(_ context.Context, key string, score float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(key).members[member] = score
	return nil
}

func (m *Memory) ZRemRangeByScore(_ context.Context, key string, min, max float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.set(key)
	for member, score := range s.members {
		if score >= min && score <= max {
			delete(s.members, member)
		}
	}
	return nil
}

func (m *Memory) ZCard(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.set(key).members)), nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sets[key]; ok {
		s.deadline = m.now().Add(ttl)
	}
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.kv[key]
	if !ok {
		return nil, false, nil
	}
	if !v.deadline.IsZero() && m.now().After(v.deadline) {
		delete(m.kv, key)
		return nil, false, nil
	}
	return v.value, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := memoryValue{value: value}
	if ttl > 0 {
		v.deadline = m.now().Add(ttl)
	}
	m.kv[key] = v
	return nil
}

func (m *Memory) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, key)
	delete(m.sets, key)
	return nil
}

var _ Store = (*Memory)(nil)
