// Package config loads the service configuration from environment variables
// (with optional .env overrides), the way the rest of the stack wires things:
// no config files, no remote config service, just os.Getenv read once at
// startup into a plain struct.
package config

// OpenAIConfig configures the OpenAI (or OpenAI-compatible) chat completions backend.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	ExtraParams map[string]any
	LogPayloads bool
}

// AnthropicConfig configures the Anthropic Messages API backend.
type AnthropicConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	ExtraParams map[string]any
}

// LLMClientConfig selects and configures the active provider.
type LLMClientConfig struct {
	Provider  string // "openai" (default) or "anthropic"
	OpenAI    OpenAIConfig
	Anthropic AnthropicConfig
}

// RedisConfig configures the shared Redis client used for caching, rate
// limiting, and the resumable-stream pub/sub bus.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TLS      bool
}

// RateLimitConfig configures per-user and global request admission (C1).
type RateLimitConfig struct {
	DailyRequestLimit  int
	GlobalMax          int
	GlobalWindowMillis int
	AdminUserIDs       []string
}

// CacheConfig configures the content-addressed Redis cache (C2).
type CacheConfig struct {
	TTLSeconds int
}

// SearchConfig configures the SearXNG-backed search stage (C3).
type SearchConfig struct {
	SearXNGURL  string
	ResultCount int
}

// LoopConfig configures the plan/fan-out/evaluate agent loop (C11).
type LoopConfig struct {
	MaxSteps        int
	MaxParallelism  int
	RequestTimeoutS int
}

// AuthConfig configures the session-cookie middleware (C17).
type AuthConfig struct {
	CookieName string
	Required   bool
}

// DatabaseConfig configures the chat-persistence Postgres pool (C16).
type DatabaseConfig struct {
	URL string
}

// ObsConfig configures OpenTelemetry export (C15).
type ObsConfig struct {
	OTLP           string
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// Config is the fully-resolved application configuration, built once at
// startup by Load and passed down by value/pointer to every component.
type Config struct {
	LLMClient LLMClientConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Search    SearchConfig
	Loop      LoopConfig
	Auth      AuthConfig
	Database  DatabaseConfig
	Obs       ObsConfig

	LogPath  string
	LogLevel string
}
