package throttle

import (
	"context"
	"sync"
	"time"
)

type window struct {
	failures int
	expires  time.Time
}

// Memory is a process-local Limiter.
type Memory struct {
	policy Policy
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

// NewMemory returns an in-process limiter. Counters are not shared between processes.
func NewMemory(p Policy) (*Memory, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Memory{policy: p, now: time.Now, windows: make(map[string]*window)}, nil
}

func (m *Memory) Allowed(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.current(key)
	return w == nil || w.failures < m.policy.MaxFailures, nil
}

func (m *Memory) Fail(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.current(key)
	if w == nil {
		w = &window{expires: m.now().Add(m.policy.Window)}
		m.windows[key] = w
	}
	w.failures++
	return nil
}

func (m *Memory) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.windows, key)
	return nil
}

// current returns key's live window, dropping it if expired. Caller holds mu.
func (m *Memory) current(key string) *window {
	w, ok := m.windows[key]
	if !ok {
		return nil
	}
	if !m.now().Before(w.expires) {
		delete(m.windows, key)
		return nil
	}
	return w
}
