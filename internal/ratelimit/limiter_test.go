package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagepass/internal/ratelimit/models"
	"stagepass/internal/ratelimit/store/memory"
	"stagepass/pkg/platform/audit"
	"stagepass/pkg/platform/faults"
	"stagepass/pkg/requestcontext"
	"stagepass/pkg/testutil"
)

type recordingAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAuditor) Emit(_ context.Context, e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

type brokenStore struct{}

func (brokenStore) Increment(context.Context, string, time.Duration) (models.Window, error) {
	return models.Window{}, errors.New("connection refused")
}

func (brokenStore) Current(context.Context, string) (models.Window, error) {
	return models.Window{}, errors.New("connection refused")
}

func (brokenStore) Reset(context.Context, string) error { return nil }

func TestLimiter(t *testing.T) {
	now := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	ctxAt := func(d time.Duration) context.Context {
		return requestcontext.WithTime(context.Background(), now.Add(d))
	}

	testutil.Given(t, "an IP at its failure limit", func(t *testing.T) {
		auditor := &recordingAuditor{}
		l := New(memory.New(), auditor, WithLimit(3, time.Minute))

		for range 3 {
			require.NoError(t, l.Check(ctxAt(0), "203.0.113.7"))
			l.RecordFailure(ctxAt(0), "203.0.113.7")
		}

		err := l.Check(ctxAt(20*time.Second), "203.0.113.7")
		require.Error(t, err)
		fault, ok := faults.From(err)
		require.True(t, ok)
		assert.Equal(t, faults.CategoryRateLimit, fault.Category)
		assert.Equal(t, 40*time.Second, fault.RetryAfter)
		assert.True(t, fault.Retryable())

		require.Len(t, auditor.events, 1)
		assert.Equal(t, audit.EventRateLimitExceeded, auditor.events[0].Type)
		assert.False(t, auditor.events[0].Success)
	})

	testutil.Then(t, "other addresses are unaffected", func(t *testing.T) {
		l := New(memory.New(), nil, WithLimit(1, time.Minute))
		l.RecordFailure(ctxAt(0), "203.0.113.7")

		assert.Error(t, l.Check(ctxAt(0), "203.0.113.7"))
		assert.NoError(t, l.Check(ctxAt(0), "198.51.100.1"))
	})

	testutil.When(t, "the window elapses the budget returns", func(t *testing.T) {
		l := New(memory.New(), nil, WithLimit(1, time.Minute))
		l.RecordFailure(ctxAt(0), "203.0.113.7")

		assert.NoError(t, l.Check(ctxAt(time.Minute), "203.0.113.7"))
	})

	testutil.When(t, "the store fails traffic passes", func(t *testing.T) {
		l := New(brokenStore{}, nil, WithLimit(1, time.Minute))
		l.RecordFailure(ctxAt(0), "203.0.113.7")

		assert.NoError(t, l.Check(ctxAt(0), "203.0.113.7"))
	})

	testutil.And(t, "an unknown client address is not limited", func(t *testing.T) {
		l := New(memory.New(), nil, WithLimit(1, time.Minute))
		l.RecordFailure(ctxAt(0), "")

		assert.NoError(t, l.Check(ctxAt(0), ""))
	})
}
