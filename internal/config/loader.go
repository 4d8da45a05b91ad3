package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Load reads configuration from environment variables, applying .env
// overrides first so local/repo configuration deterministically controls
// development behavior: a value in .env replaces one already set in the
// real environment.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{}

	cfg.LLMClient.Provider = strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "openai")))
	cfg.LLMClient.OpenAI.APIKey = getEnv("OPENAI_API_KEY", "")
	cfg.LLMClient.OpenAI.Model = getEnv("OPENAI_MODEL", "gpt-5")
	cfg.LLMClient.OpenAI.BaseURL = firstNonEmpty(getEnv("OPENAI_BASE_URL", ""), getEnv("OPENAI_API_BASE_URL", ""))
	cfg.LLMClient.OpenAI.LogPayloads = getEnvBool("LOG_PAYLOADS", false)

	cfg.LLMClient.Anthropic.APIKey = getEnv("ANTHROPIC_API_KEY", "")
	cfg.LLMClient.Anthropic.Model = getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-5")
	cfg.LLMClient.Anthropic.BaseURL = getEnv("ANTHROPIC_BASE_URL", "")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)
	cfg.Redis.TLS = getEnvBool("REDIS_TLS", false)

	cfg.RateLimit.DailyRequestLimit = getEnvInt("DAILY_REQUEST_LIMIT", 5)
	cfg.RateLimit.GlobalMax = getEnvInt("GLOBAL_RATE_MAX", 10)
	cfg.RateLimit.GlobalWindowMillis = getEnvInt("GLOBAL_RATE_WINDOW_MS", 5000)
	cfg.RateLimit.AdminUserIDs = parseCommaSeparatedList(getEnv("RATE_LIMIT_ADMIN_IDS", ""))

	cfg.Cache.TTLSeconds = getEnvInt("CACHE_TTL_SECONDS", 6*60*60)

	cfg.Search.SearXNGURL = getEnv("SEARXNG_URL", "http://localhost:8080")
	cfg.Search.ResultCount = getEnvInt("SEARCH_RESULTS_COUNT", 3)

	cfg.Loop.MaxSteps = getEnvInt("AGENT_MAX_STEPS", 3)
	cfg.Loop.MaxParallelism = getEnvInt("FANOUT_MAX_PARALLELISM", 5)
	cfg.Loop.RequestTimeoutS = getEnvInt("REQUEST_TIMEOUT_SECONDS", 60)

	cfg.Auth.CookieName = getEnv("AUTH_COOKIE_NAME", "researchd_session")
	cfg.Auth.Required = getEnvBool("AUTH_REQUIRED", false)

	cfg.Database.URL = getEnv("DATABASE_URL", "")

	cfg.Obs.OTLP = getEnv("OBS_OTLP", "")
	cfg.Obs.ServiceName = getEnv("OBS_SERVICE_NAME", "deepresearch")
	cfg.Obs.ServiceVersion = getEnv("OBS_SERVICE_VERSION", "dev")
	cfg.Obs.Environment = getEnv("OBS_ENVIRONMENT", "development")

	cfg.LogPath = getEnv("LOG_PATH", "")
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseCommaSeparatedList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
