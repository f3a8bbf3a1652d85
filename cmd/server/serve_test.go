package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagepass/pkg/platform/audit"
	auditmemory "stagepass/pkg/platform/audit/store/memory"
)

func TestServeAndDrain_PublishesEventsEmittedDuringShutdown(t *testing.T) {
	store := auditmemory.NewInMemoryStore()
	sink := audit.NewSink(slog.New(slog.DiscardHandler),
		audit.WithPublisher("store", store),
		audit.WithFlushInterval(time.Hour),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serveAndDrain(ctx, sink, func(ctx context.Context) error {
			<-ctx.Done()
			// a request still in flight while the listener drains
			time.Sleep(20 * time.Millisecond)
			sink.Emit(context.Background(), audit.Event{Type: audit.EventTokenRevoked, Success: true})
			return nil
		})
	}()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serveAndDrain did not return")
	}

	events, err := store.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventTokenRevoked, events[0].Type)
	assert.Zero(t, sink.Pending())
}
