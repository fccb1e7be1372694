package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dailyclearing/digest-back/internal/cache"
	"github.com/dailyclearing/digest-back/internal/compute"
	"github.com/dailyclearing/digest-back/internal/config"
	"github.com/dailyclearing/digest-back/internal/extract"
	httpserver "github.com/dailyclearing/digest-back/internal/http"
	"github.com/dailyclearing/digest-back/internal/http/handlers"
	"github.com/dailyclearing/digest-back/internal/jobs"
	"github.com/dailyclearing/digest-back/internal/llm"
	"github.com/dailyclearing/digest-back/internal/notify"
	"github.com/dailyclearing/digest-back/internal/pipeline"
	"github.com/dailyclearing/digest-back/internal/queue"
	"github.com/dailyclearing/digest-back/internal/repository"
	"github.com/dailyclearing/digest-back/internal/runner"
	"github.com/dailyclearing/digest-back/internal/search"
	"github.com/dailyclearing/digest-back/internal/service"
	"github.com/dailyclearing/digest-back/internal/worker"
)

func main() {
	logger := log.New(os.Stdout, "[digest-back] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	cfg := config.Load()

	defaultPreferences, err := config.LoadPreferences(cfg.PreferencesPath)
	if err != nil {
		logger.Fatalf("preferences file: %v", err)
	}
	if defaultPreferences != nil {
		logger.Printf("loaded default preferences from %s (%d topics)", cfg.PreferencesPath, len(defaultPreferences.Topics))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobsRepo, artifactsRepo, repoCloser := setupRepositories(ctx, cfg, logger)
	defer repoCloser()

	producer, consumer, queueCloser := setupQueue(ctx, cfg, logger)
	defer queueCloser()

	synthesizer, err := setupLLM(cfg)
	if err != nil {
		logger.Fatalf("llm provider: %v", err)
	}

	searchProvider := setupSearchProvider(cfg, logger)
	orchestrator := search.NewOrchestrator(searchProvider, search.OrchestratorConfig{
		Logger: logger,
	})

	articleCache := cache.NewArticleCache(cache.Config{
		TTL:        time.Duration(cfg.ArticleCacheTTLSeconds) * time.Second,
		MaxEntries: cfg.ArticleCacheMaxEntries,
	})
	extractor := extract.New(extract.Config{
		UserAgent:        cfg.ExtractUserAgent,
		Timeout:          time.Duration(cfg.ExtractTimeoutMS) * time.Millisecond,
		MaxContentLength: cfg.ExtractMaxContentLength,
		UseLLM:           cfg.ExtractUseLLM,
		LLM:              synthesizer,
		Cache:            articleCache,
		Logger:           logger,
	})

	digestPipeline, err := pipeline.New(pipeline.Config{
		Search:      orchestrator,
		Extractor:   extractor,
		Synthesizer: synthesizer,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatalf("pipeline: %v", err)
	}

	controller := jobs.NewController(jobsRepo, artifactsRepo, logger)
	notifier := notify.NewWebhookNotifier(logger)

	jobRunner, ephemeral := setupRunner(cfg, logger, runnerDependencies{
		pipeline:   digestPipeline,
		controller: controller,
		artifacts:  artifactsRepo,
		notifier:   notifier,
	})

	callbacks := runner.NewCallbackProcessor(controller, artifactsRepo, ephemeral, notifier, logger)
	var canceller service.JobCanceller
	if ephemeral != nil {
		canceller = ephemeral
	}
	digests := service.NewDigestService(controller, artifactsRepo, producer, canceller, defaultPreferences)
	api := handlers.NewAPI(digests, callbacks, cfg.CallbackToken)

	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		CORSOrigins:    cfg.CORSOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	if cfg.WorkerEnabled {
		processor := worker.NewProcessor(consumer, jobRunner, logger)
		go processor.Start(ctx)
		logger.Printf("worker enabled and started mode=%s", cfg.RunnerMode)
	} else {
		logger.Printf("worker disabled by configuration")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("api listening on :%s", cfg.Port)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func setupRepositories(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (repository.JobsRepository, repository.ArtifactsRepository, func()) {
	if cfg.DatabaseURL == "" {
		logger.Printf("DATABASE_URL not configured, using in-memory repositories")
		return repository.NewMemoryJobsRepository(), repository.NewMemoryArtifactsRepository(), func() {}
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err == nil {
		err = pool.Ping(ctx)
	}
	if err != nil {
		logger.Printf("failed to initialize postgres, fallback to memory: %v", err)
		if pool != nil {
			pool.Close()
		}
		return repository.NewMemoryJobsRepository(), repository.NewMemoryArtifactsRepository(), func() {}
	}

	logger.Printf("postgres repositories initialized")
	jobsRepo := repository.NewPostgresJobsRepositoryFromPool(pool)
	artifactsRepo := repository.NewPostgresArtifactsRepository(pool)
	return jobsRepo, artifactsRepo, pool.Close
}

func setupQueue(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (queue.Producer, queue.Consumer, func()) {
	var (
		baseProducer queue.Producer
		consumer     queue.Consumer
		baseCloser   = func() {}
	)

	if cfg.RedisAddr == "" {
		logger.Printf("REDIS_ADDR not configured, using local queue fallback")
		local := queue.NewLocalQueue(512, 3, logger)
		baseProducer = local
		consumer = local
	} else {
		streams, err := queue.NewStreamsQueue(ctx, queue.StreamsConfig{
			Addr:        cfg.RedisAddr,
			Password:    cfg.RedisPassword,
			DB:          cfg.RedisDB,
			Stream:      cfg.RedisStream,
			DLQStream:   cfg.RedisDLQ,
			Group:       cfg.RedisGroup,
			Consumer:    cfg.RedisConsumer,
			MaxAttempts: 3,
		})
		if err != nil {
			logger.Printf("failed to initialize redis streams queue, fallback to local: %v", err)
			local := queue.NewLocalQueue(512, 3, logger)
			baseProducer = local
			consumer = local
		} else {
			logger.Printf("redis streams queue initialized")
			baseProducer = streams
			consumer = streams
			baseCloser = func() {
				_ = streams.Close()
			}
		}
	}

	producer := baseProducer
	batchingCloser := func() {}
	if cfg.QueueBatchingEnabled {
		batching := queue.NewBatchingProducer(ctx, baseProducer, queue.BatchingConfig{
			MaxBatchSize:       cfg.QueueBatchSize,
			FlushInterval:      time.Duration(cfg.QueueBatchFlushMS) * time.Millisecond,
			FlushTimeout:       time.Duration(cfg.QueueBatchFlushTimeoutMS) * time.Millisecond,
			QueueCapacity:      cfg.QueueBatchQueueCapacity,
			MaxInFlightBatches: cfg.QueueBatchMaxInFlight,
		})
		producer = batching
		batchingCloser = batching.Close
		logger.Printf(
			"queue batching enabled size=%d flush_ms=%d queue_capacity=%d max_in_flight=%d",
			cfg.QueueBatchSize,
			cfg.QueueBatchFlushMS,
			cfg.QueueBatchQueueCapacity,
			cfg.QueueBatchMaxInFlight,
		)
	}

	return producer, consumer, func() {
		batchingCloser()
		baseCloser()
	}
}

func setupLLM(cfg config.Config) (llm.Provider, error) {
	timeout := time.Duration(cfg.LLMTimeoutMS) * time.Millisecond

	switch cfg.LLMProvider {
	case "openrouter":
		return llm.NewOpenRouterProvider(llm.OpenRouterConfig{
			APIKey:  cfg.OpenRouterAPIKey,
			Model:   cfg.OpenRouterModel,
			Timeout: timeout,
			SiteURL: cfg.OpenRouterSiteURL,
		})
	default:
		return llm.NewAnthropicProvider(llm.AnthropicConfig{
			APIKey:  cfg.AnthropicAPIKey,
			Model:   cfg.AnthropicModel,
			Timeout: timeout,
		})
	}
}

func setupSearchProvider(cfg config.Config, logger *log.Logger) search.Provider {
	timeout := time.Duration(cfg.SearchTimeoutMS) * time.Millisecond

	switch cfg.SearchProvider {
	case "brave":
		if cfg.BraveAPIKey != "" {
			return search.NewBraveClient(search.BraveConfig{
				APIKey:  cfg.BraveAPIKey,
				Timeout: timeout,
			})
		}
	case "mock":
		return search.MockProvider{}
	default:
		if cfg.TavilyAPIKey != "" {
			return search.NewTavilyClient(search.TavilyConfig{
				APIKey:      cfg.TavilyAPIKey,
				SearchDepth: cfg.TavilySearchDepth,
				Timeout:     timeout,
			})
		}
	}

	logger.Printf("no API key for search provider %q, using mock provider", cfg.SearchProvider)
	return search.MockProvider{}
}

type runnerDependencies struct {
	pipeline   *pipeline.Pipeline
	controller *jobs.Controller
	artifacts  repository.ArtifactsRepository
	notifier   notify.Notifier
}

func setupRunner(
	cfg config.Config,
	logger *log.Logger,
	deps runnerDependencies,
) (runner.Runner, *runner.EphemeralRunner) {
	if cfg.RunnerMode == "ephemeral" {
		provider, err := compute.NewHTTPProvider(compute.HTTPProviderConfig{
			BaseURL: cfg.ComputeAPIURL,
			APIKey:  cfg.ComputeAPIToken,
		})
		if err != nil {
			logger.Printf("compute provider unavailable, falling back to local runner: %v", err)
		} else {
			ephemeral := runner.NewEphemeralRunner(runner.EphemeralConfig{
				Compute:       provider,
				Controller:    deps.controller,
				CallbackURL:   cfg.CallbackURL,
				CallbackToken: cfg.CallbackToken,
				InstanceTTL:   time.Duration(cfg.InstanceTTLMin) * time.Minute,
				Logger:        logger,
			})
			return ephemeral, ephemeral
		}
	}

	local := runner.NewLocalRunner(deps.pipeline, deps.controller, deps.artifacts, deps.notifier, logger)
	return local, nil
}
