// Package bootstrap wires configuration into the running auth components.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/althaafka/pdfhub-api/internal/audit"
	auditrepo "github.com/althaafka/pdfhub-api/internal/audit/repository"
	"github.com/althaafka/pdfhub-api/internal/config"
	"github.com/althaafka/pdfhub-api/internal/db"
	"github.com/althaafka/pdfhub-api/internal/identity"
	authservice "github.com/althaafka/pdfhub-api/internal/identity/service"
	"github.com/althaafka/pdfhub-api/internal/policy"
	"github.com/althaafka/pdfhub-api/internal/security"
	sessionrepo "github.com/althaafka/pdfhub-api/internal/session/repository"
	sessionservice "github.com/althaafka/pdfhub-api/internal/session/service"
	"github.com/althaafka/pdfhub-api/internal/telemetry"
	telemetryotel "github.com/althaafka/pdfhub-api/internal/telemetry/otel"
	"github.com/althaafka/pdfhub-api/internal/telemetry/producer"
	"github.com/althaafka/pdfhub-api/internal/throttle"
	userrepo "github.com/althaafka/pdfhub-api/internal/user/repository"
)

// App holds every long-lived component. Build it with New and release it with Close.
type App struct {
	Config *config.Config

	// DB is nil when DATABASE_URL is empty and the in-memory stores are used.
	DB    *sql.DB
	Redis *redis.Client

	Users      userrepo.Repository
	Identities *identity.Store
	Signer     *security.Signer
	Sessions   *sessionservice.Manager
	AuditLogs  auditrepo.Repository
	Auth       *authservice.AuthService
	Admission  policy.Evaluator
	Events     telemetry.EventEmitter

	closers []func(context.Context) error
}

// New builds the App from cfg. On error every resource opened so far is released.
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.OTelServiceName,
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: telemetry: %w", err)
	}
	a.onClose(providers.Shutdown)

	var ledger sessionrepo.Ledger
	if cfg.DatabaseURL != "" {
		conn, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: database: %w", err)
		}
		a.DB = conn
		a.onClose(func(context.Context) error { return conn.Close() })
		a.Users = userrepo.NewPostgresRepository(conn)
		a.AuditLogs = auditrepo.NewPostgresRepository(conn)
		ledger = sessionrepo.NewPostgresLedger(conn)
	} else {
		log.Println("bootstrap: DATABASE_URL not set, using in-memory stores")
		a.Users = userrepo.NewMemoryRepository()
		a.AuditLogs = auditrepo.NewMemoryRepository()
		ledger = sessionrepo.NewMemoryLedger()
	}

	a.Identities = identity.NewStore(a.Users, security.NewHasher(cfg.BcryptCost))

	if a.Signer, err = newSigner(cfg); err != nil {
		return nil, fmt.Errorf("bootstrap: signer: %w", err)
	}

	a.Sessions, err = sessionservice.NewManager(ledger, a.Signer, a.Identities, cfg.SessionPolicy(),
		sessionservice.WithTracerProvider(providers.TracerProvider),
		sessionservice.WithMeterProvider(providers.MeterProvider),
	)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: session manager: %w", err)
	}

	limiter, err := a.newLimiter(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: throttle: %w", err)
	}

	if cfg.LoginPolicyFile != "" {
		a.Admission, err = policy.LoadAdmission(ctx, cfg.LoginPolicyFile)
	} else {
		a.Admission, err = policy.NewAdmission(ctx, policy.DefaultRego)
	}
	if err != nil {
		return nil, fmt.Errorf("bootstrap: admission policy: %w", err)
	}

	events := telemetry.MultiEmitter{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	kafkaProducer, err := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.SessionEventsTopic)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: kafka: %w", err)
	}
	if kafkaProducer != nil {
		events = append(events, kafkaProducer)
		a.onClose(func(context.Context) error { return kafkaProducer.Close() })
	}
	a.Events = events

	a.Auth = authservice.NewAuthService(a.Identities, a.Sessions,
		authservice.WithThrottle(limiter),
		authservice.WithAdmission(a.Admission),
		authservice.WithAudit(audit.NewLogger(a.AuditLogs)),
		authservice.WithEvents(a.Events),
	)
	return a, nil
}

func newSigner(cfg *config.Config) (*security.Signer, error) {
	if !cfg.UsesKeyPair() {
		return security.NewHMACSigner([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTAudience)
	}
	priv, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("JWT_PRIVATE_KEY: %w", err)
	}
	pub, err := security.ParsePublicKey(cfg.JWTPublicKey)
	if err != nil {
		return nil, fmt.Errorf("JWT_PUBLIC_KEY: %w", err)
	}
	return security.NewKeySigner(priv, pub, cfg.JWTIssuer, cfg.JWTAudience)
}

func (a *App) newLimiter(ctx context.Context) (throttle.Limiter, error) {
	p, ok := a.Config.ThrottlePolicy()
	if !ok {
		return throttle.Disabled{}, nil
	}
	if a.Config.RedisURL == "" {
		return throttle.NewMemory(p)
	}
	opts, err := redis.ParseURL(a.Config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	a.Redis = client
	a.onClose(func(context.Context) error { return client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		// The limiter fails open, so an unreachable Redis is logged rather than fatal.
		log.Printf("bootstrap: redis ping failed: %v", err)
	}
	return throttle.NewRedis(client, p)
}

// Ready checks the backing services: Postgres and Redis when configured, and the admission policy.
func (a *App) Ready(ctx context.Context) error {
	var errs []error
	if a.DB != nil {
		if err := a.DB.PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if hc, ok := a.Admission.(interface{ HealthCheck(context.Context) error }); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("admission policy: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close waits for pending async events, then releases resources in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	drainCtx, cancel := context.WithTimeout(ctx, telemetry.ShutdownDrainDuration)
	if err := telemetry.Drain(drainCtx); err != nil {
		errs = append(errs, fmt.Errorf("drain events: %w", err))
	}
	cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}
