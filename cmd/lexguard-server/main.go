// Command lexguard-server runs the portal's access boundary in front of the
// lawyer dashboard, client portal and admin area.
//
// Configuration comes from the environment (see internal/config). With
// -demo it needs nothing external: Redis is replaced by miniredis and three
// demo accounts are seeded in memory.
//
//	go run ./cmd/lexguard-server -demo
//	curl -i -X POST localhost:8080/api/auth/signin \
//	  -H 'Content-Type: application/json' \
//	  -d '{"email":"lawyer@example.com","password":"demo-password-1"}'
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/MrEthical07/lexguard"
	"github.com/MrEthical07/lexguard/internal/config"
	"github.com/MrEthical07/lexguard/internal/store/postgres"
	"github.com/MrEthical07/lexguard/internal/telemetry"
	lgotel "github.com/MrEthical07/lexguard/metrics/export/otel"
	"github.com/MrEthical07/lexguard/middleware"
	"github.com/MrEthical07/lexguard/permission"
	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

const (
	serviceName  = "lexguard"
	demoPassword = "demo-password-1"
)

func main() {
	demo := flag.Bool("demo", false, "run with miniredis and in-memory demo accounts")
	flag.Parse()

	if err := run(*demo); err != nil {
		slog.Error("server.exit", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(demo bool) error {
	env, err := config.Load()
	if err != nil {
		return err
	}
	logger := env.Logger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName: serviceName,
		Endpoint:    env.OTLPEndpoint,
		Insecure:    env.OTLPInsecure,
		Logger:      logger,
	})
	if err != nil {
		logger.Warn("telemetry.setup.fail", slog.String("error", err.Error()))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	engineCfg, catalog, err := env.Engine(lexguard.DefaultConfig())
	if err != nil {
		return err
	}
	if env.Ephemeral() {
		logger.Warn("server.token_key.ephemeral", slog.String("hint", "set LEXGUARD_TOKEN_KEY to keep sessions across restarts"))
	}
	for _, w := range engineCfg.Lint() {
		logger.Warn("config.lint", slog.String("code", w.Code), slog.String("message", w.Message))
	}

	rdb, closeRedis, err := openRedis(env, demo, logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	sink, closeSink, err := auditSink(env.AuditFile, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	builder := lexguard.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithLogger(logger).
		WithAuditSink(sink)
	if catalog != nil {
		builder.WithCatalog(catalog)
	}

	var seed func(*lexguard.Engine) error
	switch {
	case demo:
		users := newMemoryUsers()
		builder.WithUserProvider(users)
		seed = users.seedDemo
	case env.DatabaseURL != "":
		pool, err := pgxpool.New(ctx, env.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		store := postgres.NewStore(pool)
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		builder.WithUserProvider(store)
	default:
		logger.Warn("server.users.none", slog.String("hint", "set DB_DSN or run with -demo"))
		builder.WithUserProvider(newMemoryUsers())
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	report := engine.SecurityReport()
	logger.Info("security.report",
		slog.String("signing", report.SigningAlgorithm),
		slog.Bool("strict_sessions", report.StrictSessions),
		slog.Duration("session_ttl", report.SessionTTL),
		slog.String("rate_backend", report.RateLimitBackend),
		slog.Bool("rate_fail_open", report.RateLimitFailOpen),
		slog.Bool("audit", report.AuditActive),
		slog.Any("warnings", report.Warnings),
	)

	if seed != nil {
		if err := seed(engine); err != nil {
			return err
		}
	}

	exporter, err := lgotel.NewOTelExporter(otel.Meter(serviceName), engine)
	if err != nil {
		return err
	}
	defer exporter.Close()

	trusted, err := middleware.ParseTrustedProxies(env.TrustedProxyList()...)
	if err != nil {
		return err
	}
	srv := &server{engine: engine, logger: logger, trusted: trusted}

	httpServer := &http.Server{
		Addr:              env.Addr,
		Handler:           otelhttp.NewHandler(srv.routes(), serviceName),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server.listen", slog.String("addr", httpServer.Addr), slog.Bool("demo", demo))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("server.shutdown")
	sctx, cancel := context.WithTimeout(context.Background(), env.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(sctx)
}

func openRedis(env config.Config, demo bool, logger *slog.Logger) (redis.UniversalClient, func(), error) {
	if demo {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, err
		}
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		logger.Info("server.redis.miniredis", slog.String("addr", mr.Addr()))
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     env.RedisAddr,
		Password: env.RedisPassword,
		DB:       env.RedisDB,
	})
	pctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return client, func() { _ = client.Close() }, nil
}

// memoryUsers is the account store for -demo and for tests.
type memoryUsers struct {
	mu    sync.RWMutex
	users map[string]lexguard.UserRecord
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{users: map[string]lexguard.UserRecord{}}
}

func (m *memoryUsers) GetUserByEmail(_ context.Context, email string) (lexguard.UserRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[email]
	if !ok {
		return lexguard.UserRecord{}, lexguard.ErrUserNotFound
	}
	return u, nil
}

func (m *memoryUsers) put(engine *lexguard.Engine, id, email, password string, role permission.Role) error {
	hash, err := engine.HashPassword(password)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.users[email] = lexguard.UserRecord{ID: id, Email: email, PasswordHash: hash, Role: role}
	m.mu.Unlock()
	return nil
}

func (m *memoryUsers) seedDemo(engine *lexguard.Engine) error {
	for _, u := range []struct {
		id, email string
		role      permission.Role
	}{
		{"demo-client", "client@example.com", permission.RoleClient},
		{"demo-lawyer", "lawyer@example.com", permission.RoleLawyer},
		{"demo-admin", "admin@example.com", permission.RoleAdmin},
	} {
		if err := m.put(engine, u.id, u.email, demoPassword, u.role); err != nil {
			return err
		}
	}
	return nil
}

// auditSink logs audit events and, when path is set, also appends them to
// path as JSON lines.
func auditSink(path string, logger *slog.Logger) (lexguard.AuditSink, func(), error) {
	logSink := lexguard.NewSlogSink(logger)
	if path == "" {
		return logSink, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit file: %w", err)
	}
	return lexguard.MultiSink{logSink, lexguard.NewJSONWriterSink(f)}, func() { _ = f.Close() }, nil
}
