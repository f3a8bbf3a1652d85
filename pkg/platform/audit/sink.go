// Package audit is the single audit sink of the service.
//
// Every component receives the same *Sink at construction. Emit never blocks
// on storage: the event is masked, written to the structured log, and queued
// for the durable publishers, which a background worker drains in order while
// sealing each event into a tamper-evident hash chain.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"stagepass/pkg/platform/privacy"
	"stagepass/pkg/requestcontext"
)

// Publisher durably records sealed events. Implementations must be
// append-only.
type Publisher interface {
	Publish(ctx context.Context, events []Event) error
}

// Metrics records sink activity. Implemented by the platform metrics package.
type Metrics interface {
	IncAuditEmitted(eventType string, success bool)
	IncAuditDropped()
	IncAuditPublishFailures(publisher string)
}

type namedPublisher struct {
	name string
	pub  Publisher
}

// Sink masks, logs and fans out audit events.
type Sink struct {
	logger     *slog.Logger
	buffer     *RingBuffer
	chain      *Chain
	stream     string
	publishers []namedPublisher
	metrics    Metrics
	clock      func() time.Time

	publishTimeout time.Duration
	publishRetries int
	batchSize      int
	flushInterval  time.Duration

	wake    chan struct{}
	drainMu sync.Mutex
}

// Option configures the Sink.
type Option func(*Sink)

// WithPublisher adds a durable destination. Events are delivered to
// publishers in the order they were emitted.
func WithPublisher(name string, p Publisher) Option {
	return func(s *Sink) {
		if p != nil {
			s.publishers = append(s.publishers, namedPublisher{name: name, pub: p})
		}
	}
}

// WithChainKey sets the HMAC key for the tamper-evident chain.
func WithChainKey(key []byte) Option {
	return func(s *Sink) {
		s.chain = NewChain(key)
	}
}

// WithStream names the chain this sink seals into. Every instance writing to
// a shared store needs its own stream.
func WithStream(stream string) Option {
	return func(s *Sink) {
		s.stream = stream
	}
}

func WithBufferSize(n int) Option {
	return func(s *Sink) {
		s.buffer = NewRingBuffer(n)
	}
}

// WithPublishTimeout bounds each publisher call.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *Sink) {
		if d > 0 {
			s.publishTimeout = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(s *Sink) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithFlushInterval(d time.Duration) Option {
	return func(s *Sink) {
		if d > 0 {
			s.flushInterval = d
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(s *Sink) {
		s.metrics = m
	}
}

// WithClock overrides the timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(s *Sink) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewSink builds the sink. Without a chain key the chain is keyed with an
// empty key, which still detects reordering and gaps but not forgery.
func NewSink(logger *slog.Logger, opts ...Option) *Sink {
	s := &Sink{
		logger:         logger,
		buffer:         NewRingBuffer(0),
		chain:          NewChain(nil),
		clock:          time.Now,
		publishTimeout: 5 * time.Second,
		publishRetries: 2,
		batchSize:      100,
		flushInterval:  500 * time.Millisecond,
		wake:           make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.chain.stream = s.stream
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// Stream returns the chain stream this sink seals into.
func (s *Sink) Stream() string {
	return s.stream
}

// Resume continues a persisted chain, typically from the store's head.
func (s *Sink) Resume(seq uint64, lastHash string) {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()
	s.chain.Resume(seq, lastHash)
}

// Emit records an event. It never fails and never waits for a publisher.
// The caller's cancellation does not cut the emission short.
func (s *Sink) Emit(ctx context.Context, event Event) {
	ctx = context.WithoutCancel(ctx)
	event = s.prepare(ctx, event)

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	s.logger.LogAttrs(ctx, level, string(event.Type), logAttrs(event)...)

	if s.metrics != nil {
		s.metrics.IncAuditEmitted(string(event.Type), event.Success)
	}

	if len(s.publishers) == 0 {
		return
	}
	if !s.buffer.Enqueue(event) {
		if s.metrics != nil {
			s.metrics.IncAuditDropped()
		}
		s.logger.LogAttrs(ctx, slog.LevelError, "audit buffer full, oldest event dropped",
			slog.Int64("dropped_total", s.buffer.Dropped()),
		)
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// prepare enforces masking and scrubbing whatever the caller passed.
func (s *Sink) prepare(ctx context.Context, event Event) Event {
	if event.Timestamp.IsZero() {
		event.Timestamp = s.clock()
	}
	event.MaskedEmail = privacy.MaskEmail(event.MaskedEmail)
	event.MaskedIP = privacy.MaskIP(event.MaskedIP)
	event.Details = privacy.ScrubDetails(event.Details)
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	event.Sequence, event.PrevHash, event.Hash = 0, "", ""
	return event
}

func logAttrs(e Event) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("log_type", "audit"),
		slog.String("event_type", string(e.Type)),
		slog.String("category", string(e.Category())),
		slog.Bool("success", e.Success),
		slog.Time("timestamp", e.Timestamp),
	}
	optional := []struct{ key, value string }{
		{"principal_id", e.PrincipalID},
		{"email", e.MaskedEmail},
		{"ip", e.MaskedIP},
		{"resource", e.Resource},
		{"action", e.Action},
		{"error", e.ErrorMessage},
		{"request_id", e.RequestID},
	}
	for _, o := range optional {
		if o.value != "" {
			attrs = append(attrs, slog.String(o.key, o.value))
		}
	}
	if len(e.Details) > 0 {
		attrs = append(attrs, slog.Any("details", e.Details))
	}
	return attrs
}

// Run drains the buffer until ctx is cancelled, then flushes what is left
// with a fresh bounded context.
func (s *Sink) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout*time.Duration(s.publishRetries+1))
			defer cancel()
			if err := s.Flush(flushCtx); err != nil {
				s.logger.Error("final audit flush incomplete", "error", err)
			}
			return nil
		case <-s.wake:
		case <-ticker.C:
		}
		if err := s.Flush(ctx); err != nil {
			s.logger.Error("audit publish failed", "error", err)
		}
	}
}

// Flush seals and publishes everything currently buffered.
func (s *Sink) Flush(ctx context.Context) error {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()

	var errs []error
	for {
		batch := s.buffer.DequeueBatch(s.batchSize)
		if len(batch) == 0 {
			return errors.Join(errs...)
		}
		for i := range batch {
			s.chain.Seal(&batch[i])
		}
		for _, np := range s.publishers {
			if err := s.publish(ctx, np, batch); err != nil {
				errs = append(errs, err)
			}
		}
	}
}

func (s *Sink) publish(ctx context.Context, np namedPublisher, batch []Event) error {
	var err error
	for attempt := 0; attempt <= s.publishRetries; attempt++ {
		pubCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
		err = np.pub.Publish(pubCtx, batch)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	if s.metrics != nil {
		s.metrics.IncAuditPublishFailures(np.name)
	}
	first, last := batch[0].Sequence, batch[len(batch)-1].Sequence
	s.logger.Error("audit events not published",
		"publisher", np.name,
		"stream", s.stream,
		"first_sequence", first,
		"last_sequence", last,
		"error", err,
	)
	return fmt.Errorf("publish to %s: %w", np.name, err)
}

// Pending returns the number of events waiting for publication.
func (s *Sink) Pending() int {
	return s.buffer.Len()
}
