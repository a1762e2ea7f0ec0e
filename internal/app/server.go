// Package app wires configuration into a runnable gateway server.
package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"

	"github.com/modelgate/modelgate/internal/apikey"
	"github.com/modelgate/modelgate/internal/cache"
	"github.com/modelgate/modelgate/internal/circuitbreaker"
	"github.com/modelgate/modelgate/internal/dispatch"
	"github.com/modelgate/modelgate/internal/events"
	"github.com/modelgate/modelgate/internal/fallback"
	"github.com/modelgate/modelgate/internal/health"
	"github.com/modelgate/modelgate/internal/httpapi"
	"github.com/modelgate/modelgate/internal/logging"
	"github.com/modelgate/modelgate/internal/metrics"
	"github.com/modelgate/modelgate/internal/providers/anthropic"
	"github.com/modelgate/modelgate/internal/providers/openai"
	"github.com/modelgate/modelgate/internal/providers/openrouter"
	"github.com/modelgate/modelgate/internal/ratelimit"
	"github.com/modelgate/modelgate/internal/registry"
	"github.com/modelgate/modelgate/internal/router"
	"github.com/modelgate/modelgate/internal/stats"
	"github.com/modelgate/modelgate/internal/store"
	"github.com/modelgate/modelgate/internal/tracing"
)

// Server owns the wired gateway and its background loops.
type Server struct {
	cfg Config

	r        *chi.Mux
	logger   *slog.Logger
	store    store.Store
	registry *registry.Registry
	bus      *events.Bus

	memLimiter *ratelimit.MemoryLimiter
	memCache   *cache.MemoryStore
	redisCli   *redis.Client

	stopRefresh chan struct{}
}

// NewServer builds the full gateway from configuration. The caller serves
// Router() and must call Close() on shutdown.
func NewServer(cfg Config) (*Server, error) {
	logger := logging.Setup(cfg.LogLevel)

	db, err := store.NewSQLite(cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("database initialized", slog.String("dsn", cfg.DBDSN))

	bus := events.NewBus()
	tracker := health.NewTracker(health.DefaultConfig(), health.WithEventBus(bus))

	reg := registry.New(registry.StaticSource{Models: defaultCatalog(cfg)})
	seedCatalog(reg, db, logger)

	dispatcher := dispatch.New(tracker, db,
		dispatch.WithTimeout(cfg.DispatchTimeout),
		dispatch.WithLogger(logger),
	)
	registerProviders(dispatcher, cfg, logger)

	rtr := router.New(reg, tracker, router.DefaultWeights())
	orch := fallback.New(rtr, dispatcher,
		fallback.WithMaxAttempts(cfg.FallbackMaxAttempts),
		fallback.WithLogger(logger),
	)

	s := &Server{
		cfg:         cfg,
		logger:      logger,
		store:       db,
		registry:    reg,
		bus:         bus,
		stopRefresh: make(chan struct{}),
	}

	if cfg.RedisAddr != "" {
		s.redisCli = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		logger.Info("redis backends enabled", slog.String("addr", cfg.RedisAddr))
	}

	limitCfg := ratelimit.Config{MaxRequests: cfg.RateLimitMax, Window: cfg.RateLimitWindow}
	var limiter ratelimit.Limiter
	if s.redisCli != nil {
		limiter = ratelimit.NewRedis(limitCfg, s.redisCli)
	} else {
		s.memLimiter = ratelimit.NewMemory(limitCfg)
		limiter = s.memLimiter
	}

	var cacheStore cache.Store
	if cfg.CacheEnabled {
		if s.redisCli != nil {
			breaker := circuitbreaker.New(circuitbreaker.WithOnStateChange(func(from, to circuitbreaker.State) {
				logger.Warn("cache breaker state change",
					slog.String("from", from.String()),
					slog.String("to", to.String()),
				)
			}))
			cacheStore = cache.NewRedis(s.redisCli, breaker)
		} else {
			s.memCache = cache.NewMemory(cfg.CacheMaxEntries)
			cacheStore = s.memCache
		}
	}

	keyMgr := apikey.NewManager(db)
	var authMgr *apikey.Manager
	if cfg.AuthEnabled {
		authMgr = keyMgr
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(tracing.Middleware())
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	httpapi.MountRoutes(r, httpapi.Dependencies{
		Registry:     reg,
		Health:       tracker,
		Router:       rtr,
		Orchestrator: orch,
		Limiter:      limiter,
		Cache:        cacheStore,
		CacheTTL:     cfg.CacheTTL,
		Store:        db,
		Metrics:      metrics.New(),
		Stats:        stats.NewCollector(),
		EventBus:     bus,
		Logger:       logger,
		APIKeyMgr:    authMgr,
		AdminToken:   cfg.AdminToken,
	})
	s.r = r

	if cfg.RegistryRefreshInterval > 0 {
		go s.refreshLoop(cfg.RegistryRefreshInterval)
	}

	return s, nil
}

// Router returns the HTTP handler to serve.
func (s *Server) Router() http.Handler { return s.r }

// Close stops background loops and releases resources.
func (s *Server) Close() error {
	close(s.stopRefresh)
	if s.memLimiter != nil {
		s.memLimiter.Stop()
	}
	if s.memCache != nil {
		s.memCache.Stop()
	}
	if s.redisCli != nil {
		_ = s.redisCli.Close()
	}
	return s.store.Close()
}

// seedCatalog installs the initial catalog: refresh from sources, and fall
// back to the last persisted snapshot when the sources fail.
func seedCatalog(reg *registry.Registry, db store.Store, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := reg.Refresh(ctx); err == nil {
		if err := db.SaveCatalog(ctx, reg.List(registry.Filter{})); err != nil {
			logger.Warn("catalog snapshot save failed", slog.String("error", err.Error()))
		}
		logger.Info("catalog loaded", slog.Int("models", reg.Len()))
		return
	}

	snapshot, err := db.LoadCatalog(ctx)
	if err != nil || len(snapshot) == 0 {
		logger.Warn("catalog unavailable, starting empty")
		return
	}
	if err := reg.Load(snapshot); err != nil {
		logger.Warn("catalog snapshot rejected", slog.String("error", err.Error()))
		return
	}
	logger.Info("catalog seeded from snapshot", slog.Int("models", reg.Len()))
}

func (s *Server) refreshLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopRefresh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := s.registry.Refresh(ctx); err != nil {
				s.logger.Warn("catalog refresh failed, keeping previous", slog.String("error", err.Error()))
			} else {
				if err := s.store.SaveCatalog(ctx, s.registry.List(registry.Filter{})); err != nil {
					s.logger.Warn("catalog snapshot save failed", slog.String("error", err.Error()))
				}
				s.bus.Publish(events.Event{
					Type:       events.EventRegistryRefresh,
					ModelCount: s.registry.Len(),
				})
			}
			cancel()
		}
	}
}

func registerProviders(d *dispatch.Dispatcher, cfg Config, logger *slog.Logger) {
	if cfg.OpenAIAPIKey != "" {
		d.Register(openai.New("openai", cfg.OpenAIAPIKey, cfg.OpenAIBaseURL))
		logger.Info("registered provider", slog.String("provider", "openai"))
	}
	if cfg.AnthropicAPIKey != "" {
		d.Register(anthropic.New("anthropic", cfg.AnthropicAPIKey, cfg.AnthropicBaseURL))
		logger.Info("registered provider", slog.String("provider", "anthropic"))
	}
	if cfg.OpenRouterAPIKey != "" {
		d.Register(openrouter.New("openrouter", cfg.OpenRouterAPIKey, cfg.OpenRouterBaseURL, cfg.OpenRouterReferer))
		logger.Info("registered provider", slog.String("provider", "openrouter"))
	}
}

// defaultCatalog lists the built-in models for the providers that have
// credentials configured.
func defaultCatalog(cfg Config) []registry.Model {
	var models []registry.Model
	if cfg.OpenAIAPIKey != "" {
		models = append(models,
			registry.Model{ID: "gpt-4o", Provider: "openai", InputPer1K: 0.0025, OutputPer1K: 0.01, Capabilities: []string{"chat", "code", "vision"}, MaxContextTokens: 128000},
			registry.Model{ID: "gpt-4o-mini", Provider: "openai", InputPer1K: 0.00015, OutputPer1K: 0.0006, Capabilities: []string{"chat", "code"}, MaxContextTokens: 128000},
		)
	}
	if cfg.AnthropicAPIKey != "" {
		models = append(models,
			registry.Model{ID: "claude-sonnet-4-20250514", Provider: "anthropic", InputPer1K: 0.003, OutputPer1K: 0.015, Capabilities: []string{"chat", "code", "vision"}, MaxContextTokens: 200000},
			registry.Model{ID: "claude-3-5-haiku-20241022", Provider: "anthropic", InputPer1K: 0.0008, OutputPer1K: 0.004, Capabilities: []string{"chat"}, MaxContextTokens: 200000},
		)
	}
	if cfg.OpenRouterAPIKey != "" {
		models = append(models,
			registry.Model{ID: "meta-llama/llama-3.1-70b-instruct", Provider: "openrouter", InputPer1K: 0.0004, OutputPer1K: 0.0004, Capabilities: []string{"chat", "code"}, MaxContextTokens: 131072},
		)
	}
	return models
}
