package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"dev.helix.ensemble/internal/cache"
	"dev.helix.ensemble/internal/llm"
	"dev.helix.ensemble/internal/middleware"
	"dev.helix.ensemble/internal/models"
)

// Config is the full process configuration: a YAML file supplies the
// structured parts (providers, tiers, weights), environment variables
// override the scalar knobs.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Redis      RedisConfig      `yaml:"redis"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Cache      CacheConfig      `yaml:"cache"`
	RateLimit  RateLimitConfig  `yaml:"rateLimit"`
	Analysis   AnalysisConfig   `yaml:"analysis"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Providers  []ProviderConfig `yaml:"providers"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // "debug" or "release"
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type ResilienceConfig struct {
	RetryCount              int `yaml:"retryCount"`
	CircuitFailureThreshold int `yaml:"circuitFailureThreshold"`
	CircuitCooldownSeconds  int `yaml:"circuitCooldownSeconds"`
}

type CacheConfig struct {
	Backend    string `yaml:"backend"` // "memory" or "redis"
	TTLSeconds int    `yaml:"cacheTtlSeconds"`
	MaxEntries int    `yaml:"cacheMaxEntries"`
	// TTLByProviderSeconds overrides the TTL for results attributed to a
	// specific provider, e.g. shorter expiry for a fast-moving local model.
	TTLByProviderSeconds map[string]int `yaml:"cacheTtlByProvider"`
}

type RateLimitConfig struct {
	PerTier     map[string]int `yaml:"rateLimitPerTier"`
	DefaultTier string         `yaml:"defaultTier"`
}

type AnalysisConfig struct {
	ModulesEnabled []string           `yaml:"analysisModulesEnabled"`
	ModuleWeights  map[string]float64 `yaml:"analysisModuleWeights"`
}

type PipelineConfig struct {
	DefaultPattern        string `yaml:"defaultPattern"`
	RequestTimeoutSeconds int    `yaml:"requestTimeoutSeconds"`
	TraceEnabled          bool   `yaml:"traceEnabled"`
	TraceDir              string `yaml:"traceDir"`
}

// ProviderConfig is the on-disk shape of one provider definition. API keys
// are never stored in the file: KeyEnv names the environment variable that
// holds the credential.
type ProviderConfig struct {
	Name     string            `yaml:"name"`
	Kind     string            `yaml:"kind"`
	Priority int               `yaml:"priority"`
	Model    string            `yaml:"model"`
	BaseURL  string            `yaml:"baseUrl"`
	KeyEnv   string            `yaml:"keyEnv"`
	Enabled  *bool             `yaml:"enabled"`
	Options  map[string]string `yaml:"options"`
}

// Default returns the configuration used when no file and no environment
// overrides are present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "7080",
			Mode: "release",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Resilience: ResilienceConfig{
			RetryCount:              3,
			CircuitFailureThreshold: 5,
			CircuitCooldownSeconds:  30,
		},
		Cache: CacheConfig{
			Backend:    "memory",
			TTLSeconds: 1800,
			MaxEntries: 1000,
		},
		RateLimit: RateLimitConfig{
			PerTier: map[string]int{
				"free":    10,
				"basic":   60,
				"premium": 300,
			},
			DefaultTier: "free",
		},
		Analysis: AnalysisConfig{
			ModulesEnabled: []string{"consensus", "coverage", "judge"},
			ModuleWeights: map[string]float64{
				"consensus": 1.0,
				"coverage":  1.0,
				"judge":     1.0,
			},
		},
		Pipeline: PipelineConfig{
			DefaultPattern:        "comparative",
			RequestTimeoutSeconds: 300,
			TraceDir:              "traces",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file (path
// argument, else ENSEMBLE_CONFIG_FILE), then environment overrides. A .env
// file in the working directory is honored when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = os.Getenv("ENSEMBLE_CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("ENSEMBLE_HOST", c.Server.Host)
	c.Server.Port = getEnv("ENSEMBLE_PORT", c.Server.Port)
	c.Server.Mode = getEnv("GIN_MODE", c.Server.Mode)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getIntEnv("REDIS_DB", c.Redis.DB)

	c.Resilience.RetryCount = getIntEnv("ENSEMBLE_RETRY_COUNT", c.Resilience.RetryCount)
	c.Resilience.CircuitFailureThreshold = getIntEnv("ENSEMBLE_CIRCUIT_FAILURE_THRESHOLD", c.Resilience.CircuitFailureThreshold)
	c.Resilience.CircuitCooldownSeconds = getIntEnv("ENSEMBLE_CIRCUIT_COOLDOWN_SECONDS", c.Resilience.CircuitCooldownSeconds)

	c.Cache.Backend = getEnv("ENSEMBLE_CACHE_BACKEND", c.Cache.Backend)
	c.Cache.TTLSeconds = getIntEnv("ENSEMBLE_CACHE_TTL_SECONDS", c.Cache.TTLSeconds)
	c.Cache.MaxEntries = getIntEnv("ENSEMBLE_CACHE_MAX_ENTRIES", c.Cache.MaxEntries)
	if raw := os.Getenv("ENSEMBLE_CACHE_TTL_BY_PROVIDER"); raw != "" {
		c.Cache.TTLByProviderSeconds = parseTierQuotas(raw)
	}

	if tiers := os.Getenv("ENSEMBLE_RATE_LIMIT_PER_TIER"); tiers != "" {
		if parsed := parseTierQuotas(tiers); len(parsed) > 0 {
			c.RateLimit.PerTier = parsed
		}
	}
	c.RateLimit.DefaultTier = getEnv("ENSEMBLE_DEFAULT_TIER", c.RateLimit.DefaultTier)

	if modules := os.Getenv("ENSEMBLE_ANALYSIS_MODULES"); modules != "" {
		c.Analysis.ModulesEnabled = splitTrim(modules)
	}
	if weights := os.Getenv("ENSEMBLE_ANALYSIS_WEIGHTS"); weights != "" {
		if parsed := parseWeights(weights); len(parsed) > 0 {
			c.Analysis.ModuleWeights = parsed
		}
	}

	c.Pipeline.DefaultPattern = getEnv("ENSEMBLE_DEFAULT_PATTERN", c.Pipeline.DefaultPattern)
	c.Pipeline.RequestTimeoutSeconds = getIntEnv("ENSEMBLE_REQUEST_TIMEOUT_SECONDS", c.Pipeline.RequestTimeoutSeconds)
	c.Pipeline.TraceEnabled = getBoolEnv("ENSEMBLE_TRACE_ENABLED", c.Pipeline.TraceEnabled)
	c.Pipeline.TraceDir = getEnv("ENSEMBLE_TRACE_DIR", c.Pipeline.TraceDir)
}

func (c *Config) validate() error {
	if c.Resilience.RetryCount < 1 {
		return fmt.Errorf("retryCount must be at least 1, got %d", c.Resilience.RetryCount)
	}
	if c.Resilience.CircuitFailureThreshold < 1 {
		return fmt.Errorf("circuitFailureThreshold must be at least 1, got %d", c.Resilience.CircuitFailureThreshold)
	}
	if c.Cache.Backend != "memory" && c.Cache.Backend != "redis" {
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	for tier, quota := range c.RateLimit.PerTier {
		if quota < 1 {
			return fmt.Errorf("rate limit for tier %q must be positive, got %d", tier, quota)
		}
	}
	return nil
}

// ProviderDefinitions resolves the configured providers into registry
// definitions, pulling credentials from the environment. Providers default
// to enabled unless the file says otherwise.
func (c *Config) ProviderDefinitions() []models.ProviderDefinition {
	defs := make([]models.ProviderDefinition, 0, len(c.Providers))
	for _, p := range c.Providers {
		enabled := true
		if p.Enabled != nil {
			enabled = *p.Enabled
		}

		keyEnv := p.KeyEnv
		if keyEnv == "" {
			keyEnv = defaultKeyEnv(p.Kind)
		}

		defs = append(defs, models.ProviderDefinition{
			Name:     p.Name,
			Kind:     p.Kind,
			Priority: p.Priority,
			Model:    p.Model,
			BaseURL:  p.BaseURL,
			APIKey:   os.Getenv(keyEnv),
			Enabled:  enabled,
			Options:  p.Options,
		})
	}
	return defs
}

func defaultKeyEnv(kind string) string {
	switch kind {
	case "claude":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "gemini":
		return "GEMINI_API_KEY"
	default:
		return ""
	}
}

// RegistryConfig converts the resilience settings to registry form.
func (c *Config) RegistryConfig() llm.RegistryConfig {
	return llm.RegistryConfig{
		Retry: llm.RetryConfig{
			MaxAttempts: c.Resilience.RetryCount,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
		},
		Circuit: llm.CircuitBreakerConfig{
			FailureThreshold: c.Resilience.CircuitFailureThreshold,
			Cooldown:         time.Duration(c.Resilience.CircuitCooldownSeconds) * time.Second,
		},
	}
}

// CacheStoreConfig converts the cache settings to store form.
func (c *Config) CacheStoreConfig() cache.Config {
	var byProvider map[string]time.Duration
	if len(c.Cache.TTLByProviderSeconds) > 0 {
		byProvider = make(map[string]time.Duration, len(c.Cache.TTLByProviderSeconds))
		for name, seconds := range c.Cache.TTLByProviderSeconds {
			byProvider[name] = time.Duration(seconds) * time.Second
		}
	}
	return cache.Config{
		TTL:           time.Duration(c.Cache.TTLSeconds) * time.Second,
		MaxEntries:    c.Cache.MaxEntries,
		TTLByProvider: byProvider,
	}
}

// AdmissionConfig converts the tier quotas to rate limiter form.
func (c *Config) AdmissionConfig() middleware.RateLimitConfig {
	return middleware.RateLimitConfig{
		PerTier:     c.RateLimit.PerTier,
		DefaultTier: c.RateLimit.DefaultTier,
		Window:      time.Minute,
	}
}

// RequestTimeout returns the per-request deadline.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Pipeline.RequestTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

// parseTierQuotas reads "free:10,basic:60,premium:300".
func parseTierQuotas(raw string) map[string]int {
	quotas := make(map[string]int)
	for _, pair := range splitTrim(raw) {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			continue
		}
		quota, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			continue
		}
		quotas[strings.TrimSpace(parts[0])] = quota
	}
	return quotas
}

// parseWeights reads "consensus:1.0,judge:0.5".
func parseWeights(raw string) map[string]float64 {
	weights := make(map[string]float64)
	for _, pair := range splitTrim(raw) {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			continue
		}
		weight, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			continue
		}
		weights[strings.TrimSpace(parts[0])] = weight
	}
	return weights
}

func splitTrim(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
