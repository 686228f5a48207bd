package authguard

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/storefront/authguard/grant"
	internalaudit "github.com/storefront/authguard/internal/audit"
	"github.com/storefront/authguard/internal/rate"
	"github.com/storefront/authguard/internal/stores"
)

// Builder assembles an [Engine]. A Builder can be built once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	recordStore RecordStore
	notifier    Notifier
	auditSink   AuditSink

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing the rate limit counters and, unless
// [Builder.WithRecordStore] is used, the passcode records.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithRecordStore overrides the passcode record store, e.g. with a
// store/postgres.Store.
func (b *Builder) WithRecordStore(store RecordStore) *Builder {
	b.recordStore = store
	return b
}

// WithNotifier sets the channel used to deliver codes.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// The sink only receives events when Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles latency histograms. Requires metrics.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.redis == nil {
		if cfg.RateLimit.Enabled {
			return nil, errors.New("rate limiting requires redis client")
		}
		if b.recordStore == nil {
			return nil, errors.New("redis client or record store required")
		}
	}
	if b.notifier == nil {
		return nil, errors.New("notifier required")
	}

	e := &Engine{
		config:   cfg,
		redis:    b.redis,
		records:  b.recordStore,
		notifier: b.notifier,
		metrics:  NewMetrics(cfg.Metrics),
		clock:    time.Now,
	}

	if cfg.RateLimit.Enabled {
		e.limiter = rate.New(b.redis, cfg.RateLimit.RedisPrefix)
		e.endpointByPath = make(map[string]string, len(cfg.RateLimit.Endpoints))
		for id, limit := range cfg.RateLimit.Endpoints {
			if limit.Path != "" {
				e.endpointByPath[limit.Path] = id
			}
		}
	}

	if e.records == nil {
		e.records = stores.NewOTPStore(b.redis, cfg.OTP.RedisPrefix, cfg.OTP.Retention)
	}

	if cfg.Grant.Enabled {
		manager, err := grant.NewManager(grant.Config{
			TTL:           cfg.Grant.TTL,
			SigningMethod: grant.SigningMethod(cfg.Grant.SigningMethod),
			PrivateKey:    cfg.Grant.PrivateKey,
			PublicKey:     cfg.Grant.PublicKey,
			Issuer:        cfg.Grant.Issuer,
		})
		if err != nil {
			return nil, err
		}
		e.grants = manager
	}

	e.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	b.built = true
	return e, nil
}
