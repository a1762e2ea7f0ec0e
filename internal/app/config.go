package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full gateway configuration, loaded from MODELGATE_*
// environment variables.
type Config struct {
	ListenAddr string
	LogLevel   string

	DBDSN string

	// Redis is optional. When Addr is set, the response cache and rate
	// limiter use Redis; otherwise both run in-process.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Caller authentication. When disabled, /v1 accepts unauthenticated
	// requests (development mode).
	AuthEnabled bool

	// AdminToken protects /admin/v1. Required whenever auth is enabled so
	// key management is never reachable without credentials.
	AdminToken string

	// Rate limiting (sliding window per caller).
	RateLimitMax    int
	RateLimitWindow time.Duration

	// Response cache.
	CacheEnabled    bool
	CacheTTL        time.Duration
	CacheMaxEntries int

	// Dispatch and fallback.
	DispatchTimeout     time.Duration
	FallbackMaxAttempts int

	// Catalog refresh. Zero disables the background loop; the admin
	// endpoint still refreshes on demand.
	RegistryRefreshInterval time.Duration

	CORSOrigins []string

	// Provider credentials. A provider with an empty key is not registered.
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	AnthropicAPIKey   string
	AnthropicBaseURL  string
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	OpenRouterReferer string

	// OpenTelemetry tracing.
	OTelEnabled     bool
	OTelEndpoint    string
	OTelServiceName string
}

// LoadConfig reads the configuration from the environment and validates it.
func LoadConfig() (Config, error) {
	cfg := Config{
		ListenAddr: getEnv("MODELGATE_LISTEN_ADDR", ":8080"),
		LogLevel:   getEnv("MODELGATE_LOG_LEVEL", "info"),
		DBDSN:      getEnv("MODELGATE_DB_DSN", "file:modelgate.sqlite"),

		RedisAddr:     getEnv("MODELGATE_REDIS_ADDR", ""),
		RedisPassword: getEnv("MODELGATE_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("MODELGATE_REDIS_DB", 0),

		AuthEnabled: getEnvBool("MODELGATE_AUTH_ENABLED", false),
		AdminToken:  getEnv("MODELGATE_ADMIN_TOKEN", ""),

		RateLimitMax:    getEnvInt("MODELGATE_RATE_LIMIT_MAX", 100),
		RateLimitWindow: getEnvDuration("MODELGATE_RATE_LIMIT_WINDOW", 15*time.Minute),

		CacheEnabled:    getEnvBool("MODELGATE_CACHE_ENABLED", true),
		CacheTTL:        getEnvDuration("MODELGATE_CACHE_TTL", time.Hour),
		CacheMaxEntries: getEnvInt("MODELGATE_CACHE_MAX_ENTRIES", 10000),

		DispatchTimeout:     getEnvDuration("MODELGATE_DISPATCH_TIMEOUT", 120*time.Second),
		FallbackMaxAttempts: getEnvInt("MODELGATE_FALLBACK_MAX_ATTEMPTS", 3),

		RegistryRefreshInterval: getEnvDuration("MODELGATE_REGISTRY_REFRESH_INTERVAL", time.Hour),

		CORSOrigins: getEnvStringSlice("MODELGATE_CORS_ORIGINS", nil),

		OpenAIAPIKey:      getEnv("MODELGATE_OPENAI_API_KEY", ""),
		OpenAIBaseURL:     getEnv("MODELGATE_OPENAI_BASE_URL", ""),
		AnthropicAPIKey:   getEnv("MODELGATE_ANTHROPIC_API_KEY", ""),
		AnthropicBaseURL:  getEnv("MODELGATE_ANTHROPIC_BASE_URL", ""),
		OpenRouterAPIKey:  getEnv("MODELGATE_OPENROUTER_API_KEY", ""),
		OpenRouterBaseURL: getEnv("MODELGATE_OPENROUTER_BASE_URL", ""),
		OpenRouterReferer: getEnv("MODELGATE_OPENROUTER_REFERER", ""),

		OTelEnabled:     getEnvBool("MODELGATE_OTEL_ENABLED", false),
		OTelEndpoint:    getEnv("MODELGATE_OTEL_ENDPOINT", "localhost:4318"),
		OTelServiceName: getEnv("MODELGATE_OTEL_SERVICE_NAME", "modelgate"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks config values for obviously invalid settings.
func (c Config) Validate() error {
	if c.RateLimitMax <= 0 {
		return fmt.Errorf("MODELGATE_RATE_LIMIT_MAX must be > 0, got %d", c.RateLimitMax)
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("MODELGATE_RATE_LIMIT_WINDOW must be > 0, got %s", c.RateLimitWindow)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("MODELGATE_CACHE_TTL must be > 0, got %s", c.CacheTTL)
	}
	if c.DispatchTimeout <= 0 {
		return fmt.Errorf("MODELGATE_DISPATCH_TIMEOUT must be > 0, got %s", c.DispatchTimeout)
	}
	if c.FallbackMaxAttempts <= 0 {
		return fmt.Errorf("MODELGATE_FALLBACK_MAX_ATTEMPTS must be > 0, got %d", c.FallbackMaxAttempts)
	}
	if c.AuthEnabled && c.AdminToken == "" {
		return fmt.Errorf("MODELGATE_ADMIN_TOKEN must be set when MODELGATE_AUTH_ENABLED is true")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return def
}
