package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"

	"stagepass/internal/credential"
	credmemory "stagepass/internal/credential/store/memory"
	credpostgres "stagepass/internal/credential/store/postgres"
	"stagepass/internal/directory"
	dirmemory "stagepass/internal/directory/memory"
	dirpostgres "stagepass/internal/directory/postgres"
	"stagepass/internal/gate"
	"stagepass/internal/platform/config"
	platformkafka "stagepass/internal/platform/kafka"
	"stagepass/internal/platform/metrics"
	"stagepass/internal/platform/postgres"
	platformredis "stagepass/internal/platform/redis"
	"stagepass/internal/ratelimit"
	ratelimitmw "stagepass/internal/ratelimit/middleware"
	ratelimitmemory "stagepass/internal/ratelimit/store/memory"
	ratelimitredis "stagepass/internal/ratelimit/store/redis"
	"stagepass/internal/session"
	httptransport "stagepass/internal/transport/http"
	"stagepass/pkg/platform/audit"
	auditkafka "stagepass/pkg/platform/audit/publisher/kafka"
	auditmemory "stagepass/pkg/platform/audit/store/memory"
	auditpostgres "stagepass/pkg/platform/audit/store/postgres"
	"stagepass/pkg/platform/faults"
)

// app holds every wired component of one process.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	sink    *audit.Sink
	creds   *credential.Service
	router  http.Handler
	closers []func()
}

// chainHead is implemented by audit stores that can report the last sealed
// event of a stream, so a restarted process continues its own chain.
type chainHead interface {
	Head(ctx context.Context, stream string) (uint64, string, error)
}

// auditStream returns the configured chain stream, falling back to the
// hostname.
func auditStream(cfg config.Config) (string, error) {
	if cfg.Audit.StreamID != "" {
		return cfg.Audit.StreamID, nil
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "", fmt.Errorf("audit stream id not configured and hostname unavailable: %w", err)
	}
	return host, nil
}

func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewWithRegisterer(registry)

	var healthChecks []httptransport.Option

	var (
		db         *sql.DB
		credStore  credential.Store
		dir        directory.Directory
		auditStore audit.Publisher
	)
	if cfg.DatabaseURL != "" {
		db, err = postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		credStore = credpostgres.New(db)
		dir = dirpostgres.New(db)
		auditStore = auditpostgres.New(db)
		healthChecks = append(healthChecks, httptransport.WithHealthCheck("postgres", db.PingContext))
		logger.Info("using postgres stores")
	} else {
		credStore = credmemory.New()
		auditStore = auditmemory.NewInMemoryStore()
		if cfg.SeedFile != "" {
			seeded, err := dirmemory.LoadSeed(cfg.SeedFile)
			if err != nil {
				return nil, err
			}
			dir = seeded
		} else {
			dir = dirmemory.New()
		}
		logger.Warn("no database configured, using in-memory stores")
	}

	stream, err := auditStream(cfg)
	if err != nil {
		return nil, err
	}
	sinkOpts := []audit.Option{
		audit.WithStream(stream),
		audit.WithPublisher("store", auditStore),
		audit.WithMetrics(m),
		audit.WithBufferSize(cfg.Audit.BufferSize),
		audit.WithBatchSize(cfg.Audit.BatchSize),
		audit.WithFlushInterval(cfg.Audit.FlushInterval),
		audit.WithPublishTimeout(cfg.Audit.PublishTimeout),
	}
	if cfg.Audit.ChainSecret != "" {
		key, err := audit.DeriveChainKey([]byte(cfg.Audit.ChainSecret))
		if err != nil {
			return nil, err
		}
		sinkOpts = append(sinkOpts, audit.WithChainKey(key))
	} else {
		logger.Warn("audit chain secret not set, chain detects gaps but not forgery")
	}

	if len(cfg.Kafka.Brokers) > 0 {
		client, err := platformkafka.NewClient(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		if err := platformkafka.EnsureTopics(ctx, client, cfg.Kafka, auditkafka.Topics(cfg.Kafka.TopicPrefix)...); err != nil {
			return nil, err
		}
		sinkOpts = append(sinkOpts, audit.WithPublisher("kafka", auditkafka.New(client, cfg.Kafka.TopicPrefix)))
		healthChecks = append(healthChecks, httptransport.WithHealthCheck("kafka", kafkaPing(client)))
	}

	a.sink = audit.NewSink(logger, sinkOpts...)
	if head, ok := auditStore.(chainHead); ok {
		seq, last, err := head.Head(ctx, stream)
		if err != nil {
			return nil, fmt.Errorf("read audit chain head: %w", err)
		}
		a.sink.Resume(seq, last)
		if seq > 0 {
			logger.Info("audit chain resumed", "stream", stream, "sequence", seq)
		}
	}

	mapper := faults.NewMapper(a.sink,
		faults.WithLogger(logger),
		faults.WithMetrics(m),
		faults.WithDevelopment(cfg.Development()),
	)

	a.creds = credential.NewService(credStore, a.sink,
		credential.WithLogger(logger),
		credential.WithMetrics(m),
		credential.WithServiceStoreTimeout(cfg.StoreTimeout),
	)
	validator := credential.NewValidator(credStore, a.sink,
		credential.WithValidatorLogger(logger),
		credential.WithValidatorMetrics(m),
		credential.WithStoreTimeout(cfg.StoreTimeout),
	)
	sessions := session.NewVerifier([]byte(cfg.Session.SigningKey), cfg.Session.Issuer, cfg.Session.Audience)
	resolvers := gate.NewCredentialResolver(sessions, validator, dir,
		gate.WithPrincipalLookupTimeout(cfg.LookupTimeout),
	)
	accessGate := gate.New(dir, a.sink,
		gate.WithLogger(logger),
		gate.WithMetrics(m),
		gate.WithLookupTimeout(cfg.LookupTimeout),
		gate.WithFailOpenOnUpstreamError(cfg.FailOpenOnUpstreamError, cfg.Environment),
	)

	var limiterStore ratelimit.Store = ratelimitmemory.New()
	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if redisClient != nil {
		a.closers = append(a.closers, func() { _ = redisClient.Close() })
		limiterStore = ratelimitredis.New(redisClient.Client)
		healthChecks = append(healthChecks, httptransport.WithHealthCheck("redis", redisClient.Health))
	}
	limiter := ratelimit.New(limiterStore, a.sink,
		ratelimit.WithLogger(logger),
		ratelimit.WithMetrics(m),
		ratelimit.WithLimit(cfg.RateLimit.AuthFailures, cfg.RateLimit.Window),
		ratelimit.WithStoreTimeout(cfg.StoreTimeout),
	)

	handler := httptransport.NewHandler(a.creds, accessGate, resolvers, a.sink, mapper,
		append(healthChecks, httptransport.WithLogger(logger))...)
	a.router = httptransport.NewRouter(handler,
		httptransport.WithMetricsHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})),
		httptransport.WithAuthFailureLimit(ratelimitmw.LimitAuthFailures(limiter, mapper)),
	)
	return a, nil
}

func kafkaPing(client *kgo.Client) httptransport.HealthCheck {
	return func(ctx context.Context) error {
		return client.Ping(ctx)
	}
}

// flush publishes buffered audit events before a short-lived command exits.
func (a *app) flush(ctx context.Context) error {
	if a.sink == nil {
		return nil
	}
	if err := a.sink.Flush(ctx); err != nil {
		return errors.Join(errors.New("audit events not fully published"), err)
	}
	return nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
