package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/leolimacr/advisor-core/internal/advisor"
	"github.com/leolimacr/advisor-core/internal/cache"
	"github.com/leolimacr/advisor-core/internal/config"
	"github.com/leolimacr/advisor-core/internal/market"
	"github.com/leolimacr/advisor-core/internal/providers"
	"github.com/leolimacr/advisor-core/internal/providers/anthropic"
	"github.com/leolimacr/advisor-core/internal/providers/gemini"
	"github.com/leolimacr/advisor-core/internal/providers/openai"
	"github.com/leolimacr/advisor-core/internal/routing"
	"github.com/leolimacr/advisor-core/internal/scheduler"
	"github.com/leolimacr/advisor-core/internal/search"
	"github.com/leolimacr/advisor-core/internal/security"
	"github.com/leolimacr/advisor-core/internal/server"
	"github.com/leolimacr/advisor-core/internal/userdata"
)

const version = "1.0.0"

// Application represents the main application
type Application struct {
	config    *config.Config
	router    *routing.Router
	store     *userdata.SQLiteStore
	redis     redis.UniversalClient
	scheduler *scheduler.Scheduler
	server    *server.Server
	logger    *logrus.Logger
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	logger := logrus.New()
	if err := setupLogger(logger, cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	app := &Application{config: cfg, logger: logger}

	if cfg.Cache.Backend == "redis" || cfg.Search.UsageBackend == "redis" {
		app.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
	}

	responseCache := app.newCache()
	app.router = routing.NewRouter(cfg.ToRoutingConfig(), responseCache, logger)
	if err := registerProviders(app.router, cfg, logger); err != nil {
		app.close()
		return nil, fmt.Errorf("failed to register providers: %w", err)
	}

	store, err := userdata.NewSQLiteStore(cfg.UserData.SQLitePath)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("failed to open user data store: %w", err)
	}
	app.store = store
	aggregator := userdata.NewAggregator(store, cfg.ToAggregatorConfig(), logger)

	var quotes advisor.QuoteFetcher
	if cfg.Market.Enabled {
		source := market.NewHTTPQuoteSource(cfg.Market.BaseURL, cfg.Market.Token, cfg.Market.Timeout)
		quotes = market.NewService(source, cfg.ToMarketConfig(), logger)
	}

	var searcher advisor.Searcher
	var usage search.UsageCounter
	if cfg.Search.Enabled {
		searcher, usage = app.newSearch()
	}

	orchestrator := advisor.NewOrchestrator(app.router, aggregator, quotes, searcher, cfg.ToAdvisorConfig(), logger)

	app.server, err = server.NewServer(orchestrator, app.router, store, cfg.ToServerConfig(), logger)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	if cfg.Scheduler.Enabled {
		app.scheduler = scheduler.NewScheduler(cfg.ToSchedulerConfig(), logger)
		if err := app.scheduler.AddCachePurge(responseCache); err != nil {
			app.close()
			return nil, err
		}
		// Redis counters expire on their own at month end.
		if counter, ok := usage.(*search.MemoryUsageCounter); ok {
			if err := app.scheduler.AddUsageReset(counter); err != nil {
				app.close()
				return nil, err
			}
		}
	}

	return app, nil
}

func (app *Application) newCache() cache.ResponseCache {
	c := app.config.Cache
	if c.Backend == "redis" {
		app.logger.WithField("addr", c.Redis.Addr).Info("Using Redis response cache")
		return cache.NewRedisCache(app.redis, c.Redis.KeyPrefix, c.TTL, c.MaxEntries, app.logger)
	}
	return cache.NewMemoryCache(c.TTL, c.MaxEntries, app.logger)
}

func (app *Application) newSearch() (*search.Cascade, search.UsageCounter) {
	s := app.config.Search

	var structured search.StructuredSearcher
	var usage search.UsageCounter
	if s.TavilyAPIKey != "" {
		structured = search.NewTavilyClient(s.TavilyAPIKey, s.TavilyURL, s.MaxResults)
		if s.UsageBackend == "redis" {
			usage = search.NewRedisUsageCounter(app.redis, app.config.Cache.Redis.KeyPrefix)
		} else {
			usage = search.NewMemoryUsageCounter()
		}
	} else {
		app.logger.Warn("TAVILY_API_KEY not set, web search uses the scrape fallback only")
	}

	scraper := search.NewScrapeClient(
		search.WithEndpoint(s.ScrapeURL),
		search.WithMaxSnippets(s.MaxSnippets),
	)
	return search.NewCascade(structured, scraper, usage, app.config.ToSearchConfig(), app.logger), usage
}

// Run starts the application
func (app *Application) Run() error {
	app.logger.WithField("version", version).Info("Starting advisor core")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		if err := app.server.Start(); err != nil {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	if app.scheduler != nil {
		app.scheduler.Start()
		app.logger.WithField("jobs", app.scheduler.Jobs()).Info("Scheduler started")
	}

	var runErr error
	select {
	case err := <-serverErrors:
		runErr = fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		app.logger.WithField("signal", sig.String()).Info("Shutdown signal received")
	}

	app.logger.Info("Starting graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer cancel()

	if app.scheduler != nil {
		app.scheduler.Stop(shutdownCtx)
	}
	if err := app.server.Stop(shutdownCtx); err != nil {
		app.logger.WithError(err).Error("Server shutdown error")
		if runErr == nil {
			runErr = fmt.Errorf("server shutdown failed: %w", err)
		}
	}
	app.close()

	if runErr == nil {
		app.logger.Info("Graceful shutdown completed")
	}
	return runErr
}

// close releases the router, store and redis client
func (app *Application) close() {
	if app.router != nil {
		app.router.Close()
	}
	if app.store != nil {
		if err := app.store.Close(); err != nil {
			app.logger.WithError(err).Warn("Failed to close user data store")
		}
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.WithError(err).Warn("Failed to close redis client")
		}
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(logger *logrus.Logger, config config.LoggingConfig) error {
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %s: %w", config.Level, err)
	}
	logger.SetLevel(level)

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	default:
		return fmt.Errorf("invalid log format: %s", config.Format)
	}

	switch config.Output {
	case "", "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", config.Output, err)
		}
		logger.SetOutput(file)
	}

	return nil
}

// registerProviders registers every enabled provider with the router. Zero
// providers is allowed: the advisor then answers from its local fallbacks.
func registerProviders(router *routing.Router, cfg *config.Config, logger *logrus.Logger) error {
	enabled := cfg.EnabledProviders()

	for i := range enabled {
		p := &enabled[i]
		adapter, err := newAdapter(p, logger)
		if err != nil {
			return err
		}
		if err := router.RegisterProvider(routing.ProviderEntry{
			Adapter:   adapter,
			Models:    p.Models,
			Priority:  p.Priority,
			MaxTokens: p.MaxTokens,
		}); err != nil {
			return fmt.Errorf("provider %s: %w", p.Name, err)
		}
	}

	if len(enabled) == 0 {
		logger.Warn("No providers registered - answers will come from local fallbacks only; set GROQ_API_KEY, GEMINI_API_KEY, ANTHROPIC_API_KEY or OPENAI_API_KEY")
		return nil
	}

	logger.WithField("count", len(enabled)).Info("Provider registration completed")
	return nil
}

func newAdapter(p *config.ProviderConfig, logger *logrus.Logger) (providers.LLMProvider, error) {
	switch p.Kind {
	case config.KindOpenAI:
		return openai.NewOpenAIProvider(&openai.OpenAIConfig{
			Name:    p.Name,
			APIKey:  p.APIKey,
			BaseURL: p.BaseURL,
			Timeout: p.Timeout,
		}, logger), nil
	case config.KindAnthropic:
		return anthropic.NewAnthropicProvider(&anthropic.AnthropicConfig{
			Name:    p.Name,
			APIKey:  p.APIKey,
			BaseURL: p.BaseURL,
			Timeout: p.Timeout,
		}, logger), nil
	case config.KindGemini:
		return gemini.NewGeminiProvider(&gemini.GeminiConfig{
			Name:    p.Name,
			APIKey:  p.APIKey,
			BaseURL: p.BaseURL,
			Timeout: p.Timeout,
		}, logger), nil
	default:
		return nil, fmt.Errorf("provider %s has unknown kind %q", p.Name, p.Kind)
	}
}

// issueToken prints a signed token for userID
func issueToken(cfg *config.Config, userID, name string) error {
	if cfg.Security.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is not configured")
	}
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	auth := security.NewAuthenticator(cfg.ToSecurityMiddlewareConfig().Auth, logger)
	token, err := auth.IssueToken(userID, name)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// printUsage prints application usage information
func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
	fmt.Fprintf(os.Stderr, "  GROQ_API_KEY           Groq API key\n")
	fmt.Fprintf(os.Stderr, "  GEMINI_API_KEY         Gemini API key\n")
	fmt.Fprintf(os.Stderr, "  ANTHROPIC_API_KEY      Anthropic API key\n")
	fmt.Fprintf(os.Stderr, "  OPENAI_API_KEY         OpenAI API key\n")
	fmt.Fprintf(os.Stderr, "  TAVILY_API_KEY         Tavily search API key\n")
	fmt.Fprintf(os.Stderr, "  BRAPI_TOKEN            brapi.dev quote token\n")
	fmt.Fprintf(os.Stderr, "  ADVISOR_HOST           Listen host\n")
	fmt.Fprintf(os.Stderr, "  ADVISOR_PORT           Server port (default: 8080)\n")
	fmt.Fprintf(os.Stderr, "  ADVISOR_LOG_LEVEL      Log level (debug,info,warn,error)\n")
	fmt.Fprintf(os.Stderr, "  ADVISOR_LOG_FORMAT     Log format (json,text)\n")
	fmt.Fprintf(os.Stderr, "  ADVISOR_REDIS_ADDR     Redis address for the redis backends\n")
	fmt.Fprintf(os.Stderr, "  ADVISOR_SQLITE_PATH    User data database path\n")
	fmt.Fprintf(os.Stderr, "  ADVISOR_JWT_SECRET     HMAC secret for bearer tokens\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  %s --config configs/config.yaml\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  GROQ_API_KEY=gsk-xxx ADVISOR_JWT_SECRET=change-me %s\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s --issue-token user-42 --token-name \"Maria\"\n", os.Args[0])
}

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showHelp    = flag.Bool("help", false, "Show help message")
		showVersion = flag.Bool("version", false, "Show version information")
		tokenUser   = flag.String("issue-token", "", "Print a bearer token for the given user id and exit")
		tokenName   = flag.String("token-name", "", "Display name carried by --issue-token")
	)
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	if *showVersion {
		fmt.Printf("Advisor Core v%s\n", version)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *tokenUser != "" {
		if err := issueToken(cfg, *tokenUser, *tokenName); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to issue token: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	app, err := NewApplication(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		os.Exit(1)
	}
}
