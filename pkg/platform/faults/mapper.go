package faults

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"stagepass/pkg/platform/sentinel"
)

// integrityViolationClass is the SQLSTATE class for constraint violations.
const integrityViolationClass = "23"

// Envelope is the only error shape a client ever receives.
type Envelope struct {
	Error      string            `json:"error"`
	Message    string            `json:"message"`
	Code       string            `json:"code,omitempty"`
	StatusCode int               `json:"statusCode"`
	Timestamp  time.Time         `json:"timestamp"`
	Fields     map[string]string `json:"fields,omitempty"`
	Details    map[string]any    `json:"details,omitempty"`
	Stack      string            `json:"stack,omitempty"`

	// RetryAfter feeds the Retry-After header; it is not part of the body.
	RetryAfter time.Duration `json:"-"`
}

// Reporter receives every classified fault, with the original error, before
// the envelope is handed back. The audit sink implements it.
type Reporter interface {
	ReportFault(ctx context.Context, fault *AppFault, original error)
}

// Metrics counts classified faults by category.
type Metrics interface {
	IncFault(category string)
}

// Mapper classifies errors at the service boundary.
type Mapper struct {
	reporter    Reporter
	logger      *slog.Logger
	metrics     Metrics
	development bool
	clock       func() time.Time
}

type MapperOption func(*Mapper)

func WithLogger(logger *slog.Logger) MapperOption {
	return func(m *Mapper) { m.logger = logger }
}

func WithMetrics(metrics Metrics) MapperOption {
	return func(m *Mapper) { m.metrics = metrics }
}

// WithDevelopment adds details and stack traces to envelopes. Never enable
// it in production.
func WithDevelopment(enabled bool) MapperOption {
	return func(m *Mapper) { m.development = enabled }
}

func WithClock(clock func() time.Time) MapperOption {
	return func(m *Mapper) {
		if clock != nil {
			m.clock = clock
		}
	}
}

func NewMapper(reporter Reporter, opts ...MapperOption) *Mapper {
	m := &Mapper{reporter: reporter, clock: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.New(slog.DiscardHandler)
	}
	return m
}

// Classify turns any error into an envelope. The full fault is reported
// before the envelope is returned.
func (m *Mapper) Classify(ctx context.Context, err error) Envelope {
	if err == nil {
		err = errors.New("classify called without an error")
	}
	fault := Normalize(err)

	if m.reporter != nil {
		m.reporter.ReportFault(ctx, fault, err)
	}
	if m.metrics != nil {
		m.metrics.IncFault(string(fault.Category))
	}
	if !fault.Operational {
		m.logger.ErrorContext(ctx, "unexpected error",
			"category", string(fault.Category),
			"error", err.Error(),
		)
	}

	env := Envelope{
		Error:      string(fault.Category),
		Message:    fault.Category.ClientMessage(),
		Code:       fault.Code,
		StatusCode: fault.Category.Status(),
		Timestamp:  m.clock().UTC(),
		RetryAfter: fault.RetryAfter,
	}
	if fault.Category == CategoryValidation && len(fault.Fields) > 0 {
		env.Fields = fault.Fields
	}
	if m.development {
		env.Details = map[string]any{"message": fault.Message, "error": err.Error()}
		for k, v := range fault.Details {
			env.Details[k] = v
		}
		env.Stack = fault.StackTrace()
	}
	return env
}

// Normalize returns err as an *AppFault, classifying infrastructure errors
// it recognizes. Anything unrecognized becomes a server error.
func Normalize(err error) *AppFault {
	if f, ok := From(err); ok {
		return f
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if string(pqErr.Code.Class()) == integrityViolationClass {
			return Wrap(err, CategoryConflict, "integrity constraint violated").
				WithDetail("constraint", pqErr.Constraint)
		}
		return Database(err, "database error")
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if len(pgErr.Code) >= 2 && pgErr.Code[:2] == integrityViolationClass {
			return Wrap(err, CategoryConflict, "integrity constraint violated").
				WithDetail("constraint", pgErr.ConstraintName)
		}
		return Database(err, "database error")
	}

	switch {
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, pgx.ErrNoRows),
		errors.Is(err, redis.Nil), errors.Is(err, sentinel.ErrNotFound):
		return Wrap(err, CategoryNotFound, "resource not found")
	case errors.Is(err, sentinel.ErrConflict), errors.Is(err, sentinel.ErrAlreadyUsed),
		errors.Is(err, sentinel.ErrInvalidState):
		return Wrap(err, CategoryConflict, "state conflict")
	case errors.Is(err, context.DeadlineExceeded):
		return Database(err, "operation timed out")
	case errors.Is(err, sentinel.ErrUnavailable):
		return ExternalService(err, "dependency unavailable")
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Database(err, "storage connection failed")
	}

	return Internal(err, "unclassified error")
}
