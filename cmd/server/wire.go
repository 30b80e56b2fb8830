package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"iam/internal/bans"
	"iam/internal/credential/issuer"
	"iam/internal/credential/keys"
	"iam/internal/credential/nullifier"
	"iam/internal/credential/signer"
	issuancehandler "iam/internal/issuance/handler"
	issuancemetrics "iam/internal/issuance/metrics"
	"iam/internal/issuance/service"
	jwttoken "iam/internal/jwt_token"
	"iam/internal/platform/config"
	"iam/internal/platform/database"
	"iam/internal/platform/health"
	"iam/internal/platform/kafka/producer"
	redisclient "iam/internal/platform/redis"
	"iam/internal/platform/tracer"
	httptransport "iam/internal/transport/http"
	verificationmetrics "iam/internal/verification/metrics"
	"iam/internal/verification/orchestrator"
	"iam/internal/verification/platforms"
	"iam/internal/verification/providers"
	"iam/internal/verification/providers/adapters"
	"iam/migrations"
	"iam/pkg/platform/audit"
	outboxmetrics "iam/pkg/platform/audit/outbox/metrics"
	postgresoutbox "iam/pkg/platform/audit/outbox/store/postgres"
	"iam/pkg/platform/audit/outbox/worker"
	"iam/pkg/platform/audit/publisher"
	"iam/pkg/platform/circuit"
	request "iam/pkg/platform/middleware/request"
)

// app is the assembled service: a router, the loops that run beside it and
// the resources to release on shutdown.
type app struct {
	router     http.Handler
	background []func(ctx context.Context) error
	closers    []func() error
	log        *slog.Logger
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("failed to release resource", "error", err)
		}
	}
}

func build(ctx context.Context, cfg config.Config, log *slog.Logger) (_ *app, err error) {
	a := &app{log: log}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	tr := tracer.NewOTel()
	healthHandler := health.New(cfg.Server.Environment)
	breakerMetrics := circuit.NewMetrics(prometheus.DefaultRegisterer)

	catalog, err := platforms.Load(cfg.Verification.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load provider catalog: %w", err)
	}
	registry, err := buildRegistry(catalog, log)
	if err != nil {
		return nil, err
	}
	orch := orchestrator.New(registry,
		orchestrator.WithTracer(tr),
		orchestrator.WithMetrics(verificationmetrics.New()),
		orchestrator.WithLogger(log),
		orchestrator.WithMaxConcurrentGroups(cfg.Verification.MaxConcurrentPlatforms),
	)

	km, err := keys.NewManager(cfg.Keys)
	if err != nil {
		return nil, err
	}
	ed, err := signer.NewEd25519(cfg.Keys.Ed25519JWK)
	if err != nil {
		return nil, fmt.Errorf("IAM_JWK: %w", err)
	}
	log.Info("ed25519 issuer configured", "did", ed.IssuerDID())

	issuerOpts := []issuer.Option{
		issuer.WithCredentialTTL(cfg.Verification.CredentialTTL),
		issuer.WithTracer(tr),
	}

	var remote *signer.RemoteSigner
	if cfg.Signer.URL != "" {
		breaker := circuit.New("signer", circuit.WithMetrics(breakerMetrics))
		remote = signer.NewRemote(cfg.Signer.URL, cfg.Signer.APIKey, cfg.Signer.Timeout,
			signer.WithBreaker(breaker),
			signer.WithLogger(log),
		)
		issuerOpts = append(issuerOpts, issuer.WithEIP712Signer(remote))
		healthHandler.RegisterCheck("signer", breakerCheck(breaker))
	}

	var rdb *redisclient.Client
	if cfg.Redis.URL != "" {
		rdb, err = redisclient.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		healthHandler.RegisterDegradable("redis", rdb.Health)
		if err := rdb.RegisterPoolMetrics(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("register redis metrics: %w", err)
		}
	}

	if cfg.OPRF.Enabled() {
		gen, breaker, err := buildOPRF(cfg.OPRF, rdb, breakerMetrics, log)
		if err != nil {
			return nil, err
		}
		issuerOpts = append(issuerOpts, issuer.WithOPRF(gen))
		healthHandler.RegisterCheck("oprf_relay", breakerCheck(breaker))
	}

	iss := issuer.New(km, ed, issuerOpts...)

	banBreaker := circuit.New("ban_registry", circuit.WithMetrics(breakerMetrics))
	banClient := bans.NewClient(cfg.Scorer.Endpoint, cfg.Scorer.APIKey, cfg.Scorer.Timeout,
		bans.WithBreaker(banBreaker),
		bans.WithClientLogger(log),
	)
	filter := bans.NewFilter(banClient,
		bans.WithTracer(tr),
		bans.WithMetrics(bans.NewMetrics()),
		bans.WithLogger(log),
	)
	healthHandler.RegisterCheck("ban_registry", breakerCheck(banBreaker))

	emitter, err := a.buildAudit(ctx, cfg, healthHandler)
	if err != nil {
		return nil, err
	}

	svc := service.New(orch, iss, filter, catalog,
		service.WithAudit(emitter),
		service.WithMetrics(issuancemetrics.New()),
		service.WithLogger(log),
	)

	h := issuancehandler.New(svc, signer.NewProofVerifier(ed, remote), log)
	if cfg.Auth.JWTSecret != "" {
		h.WithTokenValidator(jwttoken.NewJWTService(cfg.Auth.JWTSecret, 0, jwttoken.WithIssuer(cfg.Auth.JWTIssuer)))
	}

	a.router = httptransport.NewRouter(httptransport.RouterConfig{
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		Metrics:        request.NewMetrics(),
		Gatherer:       prometheus.DefaultGatherer,
	}, log, healthHandler, h)

	return a, nil
}

// buildRegistry registers an upstream check for every catalog provider that
// names a URL. Types without one answer "provider not found".
func buildRegistry(catalog *platforms.Catalog, log *slog.Logger) (*providers.Registry, error) {
	registry := providers.NewRegistry()
	for _, platform := range catalog.Platforms() {
		for _, spec := range platform.Providers {
			if spec.URL == "" {
				log.Warn("provider has no upstream check configured", "platform", platform.Name, "type", spec.Type)
				continue
			}
			var apiKey string
			if spec.APIKeyEnv != "" {
				apiKey = os.Getenv(spec.APIKeyEnv)
			}
			err := registry.Register(adapters.NewHTTPCheck(adapters.HTTPCheckConfig{
				Type:    spec.Type,
				BaseURL: spec.URL,
				APIKey:  apiKey,
				Timeout: spec.Timeout,
			}))
			if err != nil {
				return nil, fmt.Errorf("register provider %s: %w", spec.Type, err)
			}
		}
	}
	log.Info("provider registry ready", "providers", len(registry.Types()))
	return registry, nil
}

func buildOPRF(cfg config.OPRF, rdb *redisclient.Client, breakerMetrics *circuit.Metrics, log *slog.Logger) (*nullifier.OPRFGenerator, *circuit.Breaker, error) {
	clientKey, err := signer.ParseEd25519JWK(cfg.ClientKey)
	if err != nil {
		return nil, nil, fmt.Errorf("OPRF_CLIENT_KEY: %w", err)
	}
	breaker := circuit.New("oprf_relay", circuit.WithMetrics(breakerMetrics))
	opts := []nullifier.OPRFOption{
		nullifier.WithBreaker(breaker),
		nullifier.WithLogger(log),
	}
	if rdb != nil {
		opts = append(opts, nullifier.WithCache(nullifier.NewRedisCache(rdb.Client)))
	} else {
		log.Warn("REDIS_URL not set; OPRF nullifiers are not cached")
	}
	gen, err := nullifier.NewOPRFGenerator(nullifier.OPRFConfig{
		RelayURL:    cfg.RelayURL,
		ClientKey:   clientKey,
		LocalSecret: cfg.LocalSecret,
		Timeout:     cfg.Timeout,
		CacheTTL:    cfg.CacheTTL,
	}, opts...)
	if err != nil {
		return nil, nil, err
	}
	return gen, breaker, nil
}

// buildAudit wires the outbox: events are appended to Postgres and a worker
// relays them to Kafka. Without a database, audit events are dropped.
func (a *app) buildAudit(ctx context.Context, cfg config.Config, healthHandler *health.Handler) (audit.Emitter, error) {
	if cfg.Database.URL == "" {
		a.log.Warn("DATABASE_URL not set; audit events are dropped")
		return audit.NopEmitter{}, nil
	}

	dbCfg := database.DefaultConfig(cfg.Database.URL)
	dbCfg.MaxOpenConns = cfg.Database.MaxOpenConns
	pool, err := database.New(ctx, dbCfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pool.Close)
	healthHandler.RegisterDegradable("database", pool.Health)

	if cfg.Database.AutoMigrate {
		applied, err := database.Migrate(ctx, pool.DB(), migrations.FS)
		if err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		if len(applied) > 0 {
			a.log.Info("applied database migrations", "files", applied)
		}
	}

	store := postgresoutbox.New(pool.DB())
	pub := publisher.New(store,
		publisher.WithAsyncBuffer(cfg.Database.AuditBuffer),
		publisher.WithLogger(a.log),
	)
	a.closers = append(a.closers, func() error {
		pub.Close()
		return nil
	})

	if cfg.Kafka.Brokers == "" {
		a.log.Warn("KAFKA_BROKERS not set; audit events stay in the outbox")
		return pub, nil
	}

	prod, err := producer.New(producer.DefaultConfig(cfg.Kafka.Brokers), a.log)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	a.closers = append(a.closers, prod.Close)
	healthHandler.RegisterDegradable("kafka", func(ctx context.Context) error {
		if !prod.Healthy(ctx) {
			return errors.New("brokers unreachable")
		}
		return nil
	})

	w := worker.New(store, prod,
		worker.WithTopic(cfg.Kafka.AuditTopic),
		worker.WithMaxAttempts(cfg.Kafka.AuditMaxAttempts),
		worker.WithMetrics(outboxmetrics.New()),
		worker.WithLogger(a.log),
	)
	a.background = append(a.background, w.Run)
	return pub, nil
}

func breakerCheck(b *circuit.Breaker) health.CheckFunc {
	return func(context.Context) error {
		if state := b.State(); state == circuit.StateOpen {
			return fmt.Errorf("circuit %s", state)
		}
		return nil
	}
}
