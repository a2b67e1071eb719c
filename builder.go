package lexguard

import (
	"context"
	"errors"
	"io"
	"log/slog"

	internalaudit "github.com/MrEthical07/lexguard/internal/audit"
	"github.com/MrEthical07/lexguard/access"
	"github.com/MrEthical07/lexguard/jwt"
	"github.com/MrEthical07/lexguard/password"
	"github.com/MrEthical07/lexguard/permission"
	"github.com/MrEthical07/lexguard/ratelimit"
	"github.com/MrEthical07/lexguard/ratelimit/memstore"
	"github.com/MrEthical07/lexguard/ratelimit/redisstore"
	"github.com/MrEthical07/lexguard/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A Builder is single-use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	catalog      *permission.Catalog
	userProvider UserProvider
	auditSink    AuditSink
	logger       *slog.Logger
	rateStore    ratelimit.Store
	provider     session.Provider
	clock        ratelimit.Clock

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client used for sessions and, with the redis backend,
// rate-limit windows.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCatalog replaces the default permission catalog. The catalog must be frozen.
func (b *Builder) WithCatalog(c *permission.Catalog) *Builder {
	b.catalog = c
	return b
}

func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithRateLimitStore overrides the store selected by RateLimit.Backend.
func (b *Builder) WithRateLimitStore(store ratelimit.Store) *Builder {
	b.rateStore = store
	return b
}

// WithSessionProvider replaces the token provider built from the config.
func (b *Builder) WithSessionProvider(p session.Provider) *Builder {
	b.provider = p
	return b
}

// WithClock sets the time source shared by sessions, tokens and the limiter.
func (b *Builder) WithClock(c ratelimit.Clock) *Builder {
	b.clock = c
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if len(cfg.Routes.Rules) == 0 && len(cfg.Routes.Public) == 0 {
		cfg.Routes.Rules = access.DefaultRules()
		cfg.Routes.Public = access.DefaultPublicPrefixes()
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	catalog := b.catalog
	if catalog == nil {
		catalog = permission.DefaultCatalog()
	}
	if !catalog.Frozen() {
		return nil, errors.New("permission catalog must be frozen")
	}

	routes, err := access.NewRoutePolicy(cfg.Routes.Rules, cfg.Routes.Public)
	if err != nil {
		return nil, err
	}

	clock := b.clock
	if clock == nil {
		clock = ratelimit.SystemClock
	}
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	engine := &Engine{
		config:       cfg,
		catalog:      catalog,
		routes:       routes,
		userProvider: b.userProvider,
		metrics:      NewMetrics(cfg.Metrics),
		logger:       logger,
		clock:        clock,
	}

	engine.sessions = session.NewStore(b.redis, cfg.Session.RedisPrefix, cfg.Session.IdleTTL).
		WithClock(clock.Now)

	tm, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.SigningMethod(cfg.Token.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Token.PrivateKey),
		PublicKey:     cloneBytes(cfg.Token.PublicKey),
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.Audience,
		Leeway:        cfg.Token.Leeway,
		RequireIAT:    true,
		Now:           clock.Now,
	})
	if err != nil {
		return nil, err
	}
	engine.tokens = tm

	if b.provider != nil {
		engine.provider = b.provider
	} else {
		var getter session.Getter
		if cfg.Session.Strict {
			getter = engine.sessions
		}
		engine.provider = session.NewTokenProvider(tm, getter, cfg.Session.CookieName).WithClock(clock.Now)
	}

	ph, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.hasher = ph

	store := b.rateStore
	if store == nil {
		switch cfg.RateLimit.Backend {
		case RateLimitRedis:
			store = redisstore.New(b.redis, cfg.RateLimit.RedisPrefix)
		default:
			mem := memstore.New(memstore.Config{
				Shards:        cfg.RateLimit.Shards,
				MaxKeys:       cfg.RateLimit.MaxKeys,
				IdleTTL:       cfg.RateLimit.IdleTTL,
				SweepInterval: cfg.RateLimit.SweepInterval,
			})
			ctx, cancel := context.WithCancel(context.Background())
			mem.Start(ctx, clock)
			engine.stopJanitor = func() {
				cancel()
				_ = mem.Close()
			}
			store = mem
		}
	}
	engine.rateStore = store
	engine.limiter = ratelimit.New(store,
		ratelimit.WithClock(clock),
		ratelimit.WithLogger(logger),
		ratelimit.WithFailOpen(cfg.RateLimit.FailOpen),
	)

	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		Logger:     logger,
	}, b.auditSink)
	engine.auditSinkSet = b.auditSink != nil

	b.built = true

	return engine, nil
}
