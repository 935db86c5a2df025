package redis

import (
	"context"
	"sync"
	"time"

	"github.com/sharedcode/latch"
)

type mockRedis struct {
	mux    sync.Mutex
	lookup map[string][]byte
}

// NewMockClient returns a map backed latch.Cache for tests. Expirations are
// accepted and ignored.
func NewMockClient() latch.Cache {
	return &mockRedis{
		lookup: make(map[string][]byte),
	}
}

func (m *mockRedis) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.lookup[key] = []byte(value)
	return nil
}

func (m *mockRedis) Get(ctx context.Context, key string) (bool, string, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	ba, ok := m.lookup[key]
	if !ok {
		return false, "", nil
	}
	return true, string(ba), nil
}

// GetEx just calls Get, the mock does not expire entries.
func (m *mockRedis) GetEx(ctx context.Context, key string, expiration time.Duration) (bool, string, error) {
	return m.Get(ctx, key)
}

func (m *mockRedis) SetStruct(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	ba, err := latch.DefaultMarshaler.Marshal(value)
	if err != nil {
		return err
	}
	m.mux.Lock()
	defer m.mux.Unlock()
	m.lookup[key] = ba
	return nil
}

func (m *mockRedis) GetStruct(ctx context.Context, key string, target interface{}) (bool, error) {
	m.mux.Lock()
	ba, ok := m.lookup[key]
	m.mux.Unlock()
	if !ok {
		return false, nil
	}
	return true, latch.DefaultMarshaler.Unmarshal(ba, target)
}

func (m *mockRedis) Delete(ctx context.Context, keys []string) (bool, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	found := false
	for _, k := range keys {
		if _, ok := m.lookup[k]; ok {
			found = true
			delete(m.lookup, k)
		}
	}
	return found, nil
}

func (m *mockRedis) Ping(ctx context.Context) error {
	return nil
}
