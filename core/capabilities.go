package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// SystemClock drives timers off the process wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

func (SystemClock) After(d time.Duration, fn func()) TimerHandle {
	if d < 0 {
		d = 0
	}
	return systemTimerHandle{timer: time.AfterFunc(d, fn)}
}

type systemTimerHandle struct {
	timer *time.Timer
}

func (h systemTimerHandle) Cancel() bool {
	if h.timer == nil {
		return false
	}
	return h.timer.Stop()
}

// MemoryRecordStore is an in-process RecordStore for hosts without durable
// storage and for tests.
type MemoryRecordStore struct {
	mu      sync.Mutex
	records map[string][]byte
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: map[string][]byte{}}
}

func (s *MemoryRecordStore) Get(_ context.Context, key string) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("core: record store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("core: record key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	payload, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), payload...), nil
}

func (s *MemoryRecordStore) Set(_ context.Context, key string, payload []byte) error {
	if s == nil {
		return fmt.Errorf("core: record store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("core: record key is required")
	}

	s.mu.Lock()
	s.records[key] = append([]byte(nil), payload...)
	s.mu.Unlock()
	return nil
}

func (s *MemoryRecordStore) Delete(_ context.Context, key string) error {
	if s == nil {
		return fmt.Errorf("core: record store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("core: record key is required")
	}

	s.mu.Lock()
	delete(s.records, key)
	s.mu.Unlock()
	return nil
}

var (
	_ RecordStore = (*MemoryRecordStore)(nil)
	_ Clock       = SystemClock{}
)
