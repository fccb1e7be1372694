package config

import (
	"os"
	"strconv"
	"strings"
)

// Config centralizes runtime settings for the API and the digest worker.
type Config struct {
	Port string

	AuthToken string

	DatabaseURL string

	SearchProvider    string
	TavilyAPIKey      string
	TavilySearchDepth string
	BraveAPIKey       string
	SearchTimeoutMS   int

	LLMProvider       string
	AnthropicAPIKey   string
	AnthropicModel    string
	OpenRouterAPIKey  string
	OpenRouterModel   string
	OpenRouterSiteURL string
	LLMTimeoutMS      int

	ExtractUseLLM           bool
	ExtractTimeoutMS        int
	ExtractMaxContentLength int
	ExtractUserAgent        string

	ArticleCacheTTLSeconds int
	ArticleCacheMaxEntries int

	PreferencesPath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisStream   string
	RedisDLQ      string
	RedisGroup    string
	RedisConsumer string

	RateLimitRPS   float64
	RateLimitBurst int

	QueueBatchingEnabled     bool
	QueueBatchSize           int
	QueueBatchFlushMS        int
	QueueBatchFlushTimeoutMS int
	QueueBatchQueueCapacity  int
	QueueBatchMaxInFlight    int

	RunnerMode      string
	ComputeAPIURL   string
	ComputeAPIToken string
	CallbackURL     string
	CallbackToken   string
	InstanceTTLMin  int

	CORSOrigins []string

	WorkerEnabled bool
}

func Load() Config {
	return Config{
		Port: getEnv("PORT", "8080"),

		AuthToken: getEnv("API_AUTH_TOKEN", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		SearchProvider:    getEnv("SEARCH_PROVIDER", "tavily"),
		TavilyAPIKey:      getEnv("TAVILY_API_KEY", ""),
		TavilySearchDepth: getEnv("TAVILY_SEARCH_DEPTH", "advanced"),
		BraveAPIKey:       getEnv("BRAVE_API_KEY", ""),
		SearchTimeoutMS:   getEnvInt("SEARCH_TIMEOUT_MS", 30000),

		LLMProvider:       getEnv("LLM_PROVIDER", "anthropic"),
		AnthropicAPIKey:   getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:    getEnv("ANTHROPIC_MODEL", ""),
		OpenRouterAPIKey:  getEnv("OPENROUTER_API_KEY", ""),
		OpenRouterModel:   getEnv("OPENROUTER_MODEL", ""),
		OpenRouterSiteURL: getEnv("OPENROUTER_SITE_URL", ""),
		LLMTimeoutMS:      getEnvInt("LLM_TIMEOUT_MS", 120000),

		ExtractUseLLM:           getEnvBool("EXTRACT_USE_LLM", false),
		ExtractTimeoutMS:        getEnvInt("EXTRACT_TIMEOUT_MS", 15000),
		ExtractMaxContentLength: getEnvInt("EXTRACT_MAX_CONTENT_LENGTH", 100000),
		ExtractUserAgent:        getEnv("EXTRACT_USER_AGENT", ""),

		ArticleCacheTTLSeconds: getEnvInt("ARTICLE_CACHE_TTL_SECONDS", 900),
		ArticleCacheMaxEntries: getEnvInt("ARTICLE_CACHE_MAX_ENTRIES", 2000),

		PreferencesPath: getEnv("PREFERENCES_PATH", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisStream:   getEnv("REDIS_STREAM", "digest_jobs"),
		RedisDLQ:      getEnv("REDIS_DLQ_STREAM", "digest_jobs_dlq"),
		RedisGroup:    getEnv("REDIS_GROUP", "digest_workers"),
		RedisConsumer: getEnv("REDIS_CONSUMER", "api-1"),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 40),

		QueueBatchingEnabled:     getEnvBool("QUEUE_BATCHING_ENABLED", false),
		QueueBatchSize:           getEnvInt("QUEUE_BATCH_SIZE", 32),
		QueueBatchFlushMS:        getEnvInt("QUEUE_BATCH_FLUSH_MS", 25),
		QueueBatchFlushTimeoutMS: getEnvInt("QUEUE_BATCH_FLUSH_TIMEOUT_MS", 3000),
		QueueBatchQueueCapacity:  getEnvInt("QUEUE_BATCH_QUEUE_CAPACITY", 2048),
		QueueBatchMaxInFlight:    getEnvInt("QUEUE_BATCH_MAX_IN_FLIGHT", 4),

		RunnerMode:      getEnv("RUNNER_MODE", "local"),
		ComputeAPIURL:   getEnv("COMPUTE_API_URL", ""),
		ComputeAPIToken: getEnv("COMPUTE_API_TOKEN", ""),
		CallbackURL:     getEnv("CALLBACK_URL", ""),
		CallbackToken:   getEnv("CALLBACK_TOKEN", ""),
		InstanceTTLMin:  getEnvInt("INSTANCE_TTL_MINUTES", 30),

		CORSOrigins: getEnvList("CORS_ORIGINS"),

		WorkerEnabled: getEnvBool("WORKER_ENABLED", true),
	}
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	list := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			list = append(list, trimmed)
		}
	}
	return list
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
