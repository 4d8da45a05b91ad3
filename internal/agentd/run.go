// Package agentd is the HTTP surface (C16): it wires one chat turn's full
// dependency graph (admission, guardrail, the research loop, persistence,
// and the resumable-stream bus) behind POST/GET/DELETE /chat, and owns the
// session-cookie gate ahead of the loop driver so a 401 or 429 never reaches
// the state machine.
package agentd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"deepresearch/internal/auth"
	"deepresearch/internal/config"
	"deepresearch/internal/llm/providers"
	"deepresearch/internal/observability"
	persist "deepresearch/internal/persistence"
	"deepresearch/internal/persistence/databases"
	"deepresearch/internal/research/answerer"
	"deepresearch/internal/research/cache"
	"deepresearch/internal/research/evaluator"
	"deepresearch/internal/research/guardrail"
	"deepresearch/internal/research/loop"
	"deepresearch/internal/research/ratelimit"
	"deepresearch/internal/research/rewriter"
	"deepresearch/internal/research/scrape"
	"deepresearch/internal/research/search"
	"deepresearch/internal/research/streambus"
	"deepresearch/internal/research/summarizer"
)

type app struct {
	cfg *config.Config

	chatStore persist.ChatStore
	authStore *auth.Store

	limiter *ratelimit.Limiter
	bus     *streambus.Bus
	driver  *loop.Driver
}

// Run initialises the deep-research server and starts the HTTP listener.
func Run() {
	if err := loadEnv(); err != nil {
		log.Debug().Err(err).Msg("no .env loaded")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		log.Fatal().Err(err).Msg("failed to load config")
	}

	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	shutdown, err := observability.InitOTel(context.Background(), cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdown = nil
	}
	if shutdown != nil {
		defer func() { _ = shutdown(context.Background()) }()
	}

	ctx := context.Background()
	a, err := newApp(ctx, &cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("initialization failed")
	}

	mux := newRouter(a)
	root := a.wrapWithMiddleware(mux)

	log.Info().Msg("researchd listening on :32180")
	if err := http.ListenAndServe(":32180", root); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func loadEnv() error {
	if err := godotenv.Load(".env"); err != nil {
		return godotenv.Load("example.env")
	}
	return nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	httpClient := observability.NewHTTPClient(nil)
	llmProvider, err := providers.Build(*cfg, httpClient)
	if err != nil {
		return nil, fmt.Errorf("build llm provider: %w", err)
	}

	var redisClient redis.UniversalClient
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if _, err := redisClient.Ping(ctx).Result(); err != nil {
			log.Warn().Err(err).Msg("redis unreachable at startup; rate limit/cache/resume fail open")
		}
	}

	mgr, err := databases.NewManager(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init chat store: %w", err)
	}
	if err := mgr.Chat.Init(ctx); err != nil {
		return nil, fmt.Errorf("chat store schema init: %w", err)
	}

	model := modelName(*cfg)
	resultCache := cache.New(cfg.Cache, redisClient)
	searchAdapter := search.New(cfg.Search, resultCache)
	scrapeAdapter := scrape.New(resultCache)
	summarizerStage := summarizer.New(llmProvider, resultCache, model)
	rewriterStage := rewriter.New(llmProvider, model)
	evaluatorStage := evaluator.New(llmProvider, model)
	guardrailStage := guardrail.New(llmProvider, model)
	answererStage := answerer.New(llmProvider, model)

	driver := loop.New(guardrailStage, rewriterStage, searchAdapter, scrapeAdapter, summarizerStage, evaluatorStage, answererStage, loop.Config{
		MaxSteps:        cfg.Loop.MaxSteps,
		ResultsPerQuery: cfg.Search.ResultCount,
		MaxParallelism:  cfg.Loop.MaxParallelism,
		RequestTimeout:  time.Duration(cfg.Loop.RequestTimeoutS) * time.Second,
	})

	a := &app{
		cfg:       cfg,
		chatStore: mgr.Chat,
		limiter:   ratelimit.New(cfg.RateLimit, redisClient),
		bus:       streambus.New(redisClient),
		driver:    driver,
	}

	if cfg.Auth.Required {
		if cfg.Database.URL == "" {
			return nil, fmt.Errorf("auth required but no DATABASE_URL configured")
		}
		pool, err := openAuthPool(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("auth db connect failed: %w", err)
		}
		a.authStore = auth.NewStore(pool, 0)
		if err := a.authStore.InitSchema(ctx); err != nil {
			return nil, fmt.Errorf("auth schema init failed: %w", err)
		}
		_ = a.authStore.EnsureDefaultRoles(ctx)
	}

	return a, nil
}

func openAuthPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	return databases.OpenPool(ctx, dsn)
}

// modelName picks the active provider's configured chat model, since the
// research stages take a bare model string rather than a provider config.
func modelName(cfg config.Config) string {
	if cfg.LLMClient.Provider == "anthropic" {
		return cfg.LLMClient.Anthropic.Model
	}
	return cfg.LLMClient.OpenAI.Model
}

func (a *app) wrapWithMiddleware(handler http.Handler) http.Handler {
	if a.cfg.Auth.Required && a.authStore != nil {
		return auth.Middleware(a.authStore, a.cfg.Auth.CookieName, false)(handler)
	}
	return handler
}
