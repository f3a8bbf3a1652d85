package memory

import (
	"context"
	"sync"
	"time"

	"stagepass/internal/ratelimit/models"
	"stagepass/pkg/requestcontext"
)

// InMemoryWindowStore keeps fixed-window counters in process memory. It is
// not shared between replicas; use the Redis store for that.
type InMemoryWindowStore struct {
	mu      sync.Mutex
	windows map[string]models.Window
}

func New() *InMemoryWindowStore {
	return &InMemoryWindowStore{windows: make(map[string]models.Window)}
}

// Increment counts one event. The window opens on the first event and
// resets once it has elapsed.
func (s *InMemoryWindowStore) Increment(ctx context.Context, key string, window time.Duration) (models.Window, error) {
	now := requestcontext.Now(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || !now.Before(w.ResetAt) {
		w = models.Window{ResetAt: now.Add(window)}
	}
	w.Count++
	s.windows[key] = w
	return w, nil
}

// Current reads a counter without changing it. Expired windows read as zero.
func (s *InMemoryWindowStore) Current(ctx context.Context, key string) (models.Window, error) {
	now := requestcontext.Now(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		return models.Window{}, nil
	}
	if !now.Before(w.ResetAt) {
		delete(s.windows, key)
		return models.Window{}, nil
	}
	return w, nil
}

func (s *InMemoryWindowStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	return nil
}
