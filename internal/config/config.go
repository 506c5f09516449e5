package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"github.com/leolimacr/advisor-core/internal/advisor"
	"github.com/leolimacr/advisor-core/internal/market"
	"github.com/leolimacr/advisor-core/internal/middleware"
	"github.com/leolimacr/advisor-core/internal/routing"
	"github.com/leolimacr/advisor-core/internal/scheduler"
	"github.com/leolimacr/advisor-core/internal/search"
	"github.com/leolimacr/advisor-core/internal/security"
	"github.com/leolimacr/advisor-core/internal/server"
	"github.com/leolimacr/advisor-core/internal/userdata"
)

// Provider kinds select the adapter family
const (
	KindOpenAI    = "openai"
	KindAnthropic = "anthropic"
	KindGemini    = "gemini"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Logging   LoggingConfig    `yaml:"logging"`
	Router    RouterConfig     `yaml:"router"`
	Cache     CacheConfig      `yaml:"cache"`
	Providers []ProviderConfig `yaml:"providers"`
	Search    SearchConfig     `yaml:"search"`
	UserData  UserDataConfig   `yaml:"userdata"`
	Market    MarketConfig     `yaml:"market"`
	Advisor   AdvisorConfig    `yaml:"advisor"`
	Security  SecurityConfig   `yaml:"security"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Scheduler SchedulerConfig  `yaml:"scheduler"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
	Output string `yaml:"output"` // "stdout", "stderr", or file path
}

// RouterConfig holds failover and circuit breaker settings
type RouterConfig struct {
	CallTimeout      time.Duration `yaml:"call_timeout"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
	FingerprintTurns int           `yaml:"fingerprint_turns"`
}

// CacheConfig selects and sizes the response cache
type CacheConfig struct {
	Backend    string        `yaml:"backend"` // "memory" or "redis"
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds the shared Redis connection used by the cache and the
// search usage counter.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// ProviderConfig describes one completion provider. Priority defaults to
// the position in the list.
type ProviderConfig struct {
	Name      string        `yaml:"name"`
	Kind      string        `yaml:"kind"`
	APIKey    string        `yaml:"api_key"`
	BaseURL   string        `yaml:"base_url"`
	Models    []string      `yaml:"models"`
	Priority  int           `yaml:"priority"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
	Enabled   *bool         `yaml:"enabled,omitempty"`
}

// IsEnabled reports whether the provider should be registered
func (p *ProviderConfig) IsEnabled() bool {
	if p.Enabled != nil && !*p.Enabled {
		return false
	}
	return p.APIKey != ""
}

// SearchConfig holds web search settings
type SearchConfig struct {
	TavilyAPIKey string        `yaml:"tavily_api_key"`
	TavilyURL    string        `yaml:"tavily_url"`
	ScrapeURL    string        `yaml:"scrape_url"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxResults   int           `yaml:"max_results"`
	MaxSnippets  int           `yaml:"max_snippets"`
	MonthlyLimit int64         `yaml:"monthly_limit"`
	UsageBackend string        `yaml:"usage_backend"` // "memory" or "redis"
	Enabled      bool          `yaml:"enabled"`
}

// UserDataConfig holds the store location and fetch budgets
type UserDataConfig struct {
	SQLitePath        string        `yaml:"sqlite_path"`
	SubTimeout        time.Duration `yaml:"sub_timeout"`
	GlobalTimeout     time.Duration `yaml:"global_timeout"`
	PlanLookupTimeout time.Duration `yaml:"plan_lookup_timeout"`
}

// MarketConfig holds the quote source settings
type MarketConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BaseURL        string        `yaml:"base_url"`
	Token          string        `yaml:"token"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxConcurrency int           `yaml:"max_concurrency"`
}

// AdvisorConfig tunes the conversation pipeline
type AdvisorConfig struct {
	AssistantName string `yaml:"assistant_name"`
	HistoryTurns  int    `yaml:"history_turns"`
	Timezone      string `yaml:"timezone"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	APIKeys           map[string]string `yaml:"api_keys"`
	JWTSecret         string            `yaml:"jwt_secret"`
	JWTIssuer         string            `yaml:"jwt_issuer"`
	JWTExpiry         time.Duration     `yaml:"jwt_expiry"`
	RequireAuth       bool              `yaml:"require_auth"`
	RateLimiting      RateLimitConfig   `yaml:"rate_limiting"`
	CORS              CORSConfig        `yaml:"cors"`
	RequestValidation ValidationConfig  `yaml:"request_validation"`
}

// RateLimitConfig holds per-user rate limiting configuration
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_minute"`
	BurstSize      int  `yaml:"burst_size"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ValidationConfig holds request validation configuration
type ValidationConfig struct {
	MaxRequestSize int64 `yaml:"max_request_size"`
	OpenAPI        bool  `yaml:"openapi"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// SchedulerConfig holds maintenance job schedules
type SchedulerConfig struct {
	Enabled        bool   `yaml:"enabled"`
	CachePurgeSpec string `yaml:"cache_purge_spec"`
	UsageResetSpec string `yaml:"usage_reset_spec"`
}

// providerKeyEnv maps provider names to the environment variable holding
// their API key.
var providerKeyEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"groq":      "GROQ_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"gemini":    "GEMINI_API_KEY",
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	config.setDefaults()

	if configPath != "" {
		if err := config.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	config.loadFromEnv()
	config.normalize()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// setDefaults sets default configuration values
func (c *Config) setDefaults() {
	c.Server = ServerConfig{
		Host:            "",
		Port:            "8080",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    90 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		MaxHeaderBytes:  1 << 20,
	}

	c.Logging = LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}

	c.Router = RouterConfig{
		CallTimeout:      25 * time.Second,
		FailureThreshold: 5,
		Cooldown:         2 * time.Minute,
		FingerprintTurns: 2,
	}

	c.Cache = CacheConfig{
		Backend:    "memory",
		TTL:        10 * time.Minute,
		MaxEntries: 500,
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "advisor",
		},
	}

	// Cheapest and fastest first; a provider without a key is skipped.
	c.Providers = []ProviderConfig{
		{
			Name:      "groq",
			Kind:      KindOpenAI,
			BaseURL:   "https://api.groq.com/openai/v1",
			Models:    []string{"llama-3.3-70b-versatile", "llama-3.1-8b-instant"},
			MaxTokens: 1024,
		},
		{
			Name:      "gemini",
			Kind:      KindGemini,
			Models:    []string{"gemini-2.0-flash", "gemini-1.5-flash"},
			MaxTokens: 1024,
		},
		{
			Name:      "anthropic",
			Kind:      KindAnthropic,
			Models:    []string{"claude-3-5-haiku-latest"},
			MaxTokens: 1024,
		},
		{
			Name:      "openai",
			Kind:      KindOpenAI,
			Models:    []string{"gpt-4o-mini"},
			MaxTokens: 1024,
		},
	}

	c.Search = SearchConfig{
		Enabled:      true,
		Timeout:      8 * time.Second,
		MaxResults:   5,
		MaxSnippets:  3,
		MonthlyLimit: 1000,
		UsageBackend: "memory",
	}

	c.UserData = UserDataConfig{
		SQLitePath:        "advisor.db",
		SubTimeout:        2500 * time.Millisecond,
		GlobalTimeout:     3 * time.Second,
		PlanLookupTimeout: time.Second,
	}

	c.Market = MarketConfig{
		Enabled:        true,
		Timeout:        4 * time.Second,
		MaxConcurrency: 3,
	}

	c.Advisor = AdvisorConfig{
		AssistantName: "Conselheiro",
		HistoryTurns:  10,
		Timezone:      "America/Sao_Paulo",
	}

	c.Security = SecurityConfig{
		APIKeys:     map[string]string{},
		JWTIssuer:   "advisor-core",
		JWTExpiry:   24 * time.Hour,
		RequireAuth: true,
		RateLimiting: RateLimitConfig{
			Enabled:        true,
			RequestsPerMin: 30,
			BurstSize:      10,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{},
		},
		RequestValidation: ValidationConfig{
			MaxRequestSize: 256 << 10,
			OpenAPI:        true,
		},
	}

	c.Metrics = MetricsConfig{
		Enabled: true,
		Path:    "/metrics",
	}

	c.Scheduler = SchedulerConfig{
		Enabled:        true,
		CachePurgeSpec: "@every 5m",
		UsageResetSpec: "0 0 1 * *",
	}
}

// loadFromFile loads configuration from YAML file
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables
func (c *Config) loadFromEnv() {
	if host := os.Getenv("ADVISOR_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("ADVISOR_PORT"); port != "" {
		c.Server.Port = port
	}

	for i := range c.Providers {
		envName, ok := providerKeyEnv[strings.ToLower(c.Providers[i].Name)]
		if !ok {
			continue
		}
		if key := os.Getenv(envName); key != "" {
			c.Providers[i].APIKey = key
		}
	}

	if key := os.Getenv("TAVILY_API_KEY"); key != "" {
		c.Search.TavilyAPIKey = key
	}
	if token := os.Getenv("BRAPI_TOKEN"); token != "" {
		c.Market.Token = token
	}

	if level := os.Getenv("ADVISOR_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if format := os.Getenv("ADVISOR_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}

	if addr := os.Getenv("ADVISOR_REDIS_ADDR"); addr != "" {
		c.Cache.Redis.Addr = addr
	}
	if path := os.Getenv("ADVISOR_SQLITE_PATH"); path != "" {
		c.UserData.SQLitePath = path
	}
	if secret := os.Getenv("ADVISOR_JWT_SECRET"); secret != "" {
		c.Security.JWTSecret = secret
	}
}

// normalize fills derived values after all sources are merged
func (c *Config) normalize() {
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Priority == 0 {
			p.Priority = i + 1
		}
		if p.Kind == "" {
			p.Kind = strings.ToLower(p.Name)
		}
	}
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Logging.Format = strings.ToLower(c.Logging.Format)
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("invalid server port %q", c.Server.Port)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Router.CallTimeout <= 0 {
		return fmt.Errorf("router call_timeout must be positive")
	}
	if c.Router.FailureThreshold < 1 {
		return fmt.Errorf("router failure_threshold must be at least 1")
	}
	if c.Router.FingerprintTurns < 1 {
		return fmt.Errorf("router fingerprint_turns must be at least 1")
	}

	if err := validateBackend("cache backend", c.Cache.Backend); err != nil {
		return err
	}
	if err := validateBackend("search usage_backend", c.Search.UsageBackend); err != nil {
		return err
	}
	if (c.Cache.Backend == "redis" || c.Search.UsageBackend == "redis") && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required when a redis backend is selected")
	}
	if c.Cache.MaxEntries < 1 {
		return fmt.Errorf("cache max_entries must be at least 1")
	}

	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider name cannot be empty")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider %q", p.Name)
		}
		seen[p.Name] = true

		switch p.Kind {
		case KindOpenAI, KindAnthropic, KindGemini:
		default:
			return fmt.Errorf("provider %q has unknown kind %q", p.Name, p.Kind)
		}
		if p.IsEnabled() && len(p.Models) == 0 {
			return fmt.Errorf("provider %q must have at least one model configured", p.Name)
		}
	}

	if c.UserData.SQLitePath == "" {
		return fmt.Errorf("userdata sqlite_path cannot be empty")
	}
	if c.UserData.SubTimeout <= 0 || c.UserData.GlobalTimeout <= 0 {
		return fmt.Errorf("userdata timeouts must be positive")
	}

	if _, err := time.LoadLocation(c.Advisor.Timezone); err != nil {
		return fmt.Errorf("invalid advisor timezone %q: %w", c.Advisor.Timezone, err)
	}

	if c.Security.RequireAuth && len(c.Security.APIKeys) == 0 && c.Security.JWTSecret == "" {
		return fmt.Errorf("authentication is required but neither api_keys nor jwt_secret is set")
	}

	return nil
}

func validateBackend(field, backend string) error {
	if backend != "memory" && backend != "redis" {
		return fmt.Errorf("invalid %s: %s", field, backend)
	}
	return nil
}

// EnabledProviders returns providers that have a key, in priority order
func (c *Config) EnabledProviders() []ProviderConfig {
	var enabled []ProviderConfig
	for _, p := range c.Providers {
		if p.IsEnabled() {
			enabled = append(enabled, p)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool { return enabled[i].Priority < enabled[j].Priority })
	return enabled
}

// Location returns the advisor timezone. validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Advisor.Timezone)
	if err != nil {
		return time.FixedZone("BRT", -3*60*60)
	}
	return loc
}

// ToServerConfig converts to server.ServerConfig
func (c *Config) ToServerConfig() *server.ServerConfig {
	return &server.ServerConfig{
		Host:           c.Server.Host,
		Port:           c.Server.Port,
		ReadTimeout:    c.Server.ReadTimeout,
		WriteTimeout:   c.Server.WriteTimeout,
		IdleTimeout:    c.Server.IdleTimeout,
		MaxHeaderBytes: c.Server.MaxHeaderBytes,
		MetricsPath:    c.Metrics.Path,
		DisableMetrics: !c.Metrics.Enabled,
		Security:       c.ToSecurityMiddlewareConfig(),
		Validation:     &middleware.ValidationConfig{Enabled: c.Security.RequestValidation.OpenAPI},
	}
}

// ToSecurityMiddlewareConfig converts to middleware.SecurityMiddlewareConfig
func (c *Config) ToSecurityMiddlewareConfig() *middleware.SecurityMiddlewareConfig {
	public := []string{"/health", "/v1/openapi.yaml"}
	if c.Metrics.Enabled {
		public = append(public, c.Metrics.Path)
	}
	return &middleware.SecurityMiddlewareConfig{
		Auth: &security.Config{
			APIKeys:     c.Security.APIKeys,
			JWTSecret:   c.Security.JWTSecret,
			JWTIssuer:   c.Security.JWTIssuer,
			JWTExpiry:   c.Security.JWTExpiry,
			RequireAuth: c.Security.RequireAuth,
			PublicPaths: public,
		},
		RateLimit: &security.RateLimitConfig{
			Enabled:           c.Security.RateLimiting.Enabled,
			RequestsPerMinute: c.Security.RateLimiting.RequestsPerMin,
			BurstSize:         c.Security.RateLimiting.BurstSize,
			CleanupInterval:   5 * time.Minute,
		},
		Validation: &security.ValidationConfig{
			MaxRequestSize: c.Security.RequestValidation.MaxRequestSize,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			ContentTypes:   []string{"application/json"},
		},
		AllowedOrigins: c.Security.CORS.AllowedOrigins,
	}
}

// ToRoutingConfig converts to routing.Config
func (c *Config) ToRoutingConfig() routing.Config {
	return routing.Config{
		CallTimeout:      c.Router.CallTimeout,
		FailureThreshold: c.Router.FailureThreshold,
		Cooldown:         c.Router.Cooldown,
		FingerprintTurns: c.Router.FingerprintTurns,
	}
}

// ToSearchConfig converts to search.Config
func (c *Config) ToSearchConfig() search.Config {
	return search.Config{
		Timeout:      c.Search.Timeout,
		MonthlyLimit: c.Search.MonthlyLimit,
	}
}

// ToAggregatorConfig converts to userdata.AggregatorConfig
func (c *Config) ToAggregatorConfig() userdata.AggregatorConfig {
	return userdata.AggregatorConfig{
		SubTimeout:    c.UserData.SubTimeout,
		GlobalTimeout: c.UserData.GlobalTimeout,
		PlanTimeout:   c.UserData.PlanLookupTimeout,
	}
}

// ToMarketConfig converts to market.ServiceConfig
func (c *Config) ToMarketConfig() market.ServiceConfig {
	return market.ServiceConfig{
		Concurrency: c.Market.MaxConcurrency,
		Timeout:     c.Market.Timeout,
	}
}

// ToAdvisorConfig converts to advisor.Config
func (c *Config) ToAdvisorConfig() advisor.Config {
	return advisor.Config{
		AssistantName: c.Advisor.AssistantName,
		HistoryTurns:  c.Advisor.HistoryTurns,
		Location:      c.Location(),
	}
}

// ToSchedulerConfig converts to scheduler.Config
func (c *Config) ToSchedulerConfig() scheduler.Config {
	return scheduler.Config{
		CachePurgeSpec: c.Scheduler.CachePurgeSpec,
		UsageResetSpec: c.Scheduler.UsageResetSpec,
		Location:       c.Location(),
	}
}

// SaveToFile saves the current configuration to a YAML file. Secrets are
// written as configured, keep the file private.
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
