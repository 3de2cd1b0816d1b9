package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ModeStandard    = "standard"
	ModeConstrained = "constrained" // serverless / short-lived hosting
)

type Config struct {
	Port       string
	Env        string
	Deployment string

	Providers ProvidersConfig
	Limits    LimitsConfig
	Coins     CoinsConfig

	LedgerBackend string
	RedisAddr     string
	SQLiteDir     string

	QdrantHost       string
	QdrantPort       int
	QdrantCollection string
	EmbeddingModel   string

	JWTSecret string

	LogLevel slog.Level
	LogFile  string
}

type ProvidersConfig struct {
	Order []string

	GeminiAPIKey string
	GeminiModel  string

	OpenAIAPIKey string
	OpenAIModel  string

	OpenRouterAPIKey  string
	OpenRouterModel   string
	OpenRouterBaseURL string

	AnthropicAPIKey string
	AnthropicModel  string

	AttemptTimeout time.Duration
	MaxTokens      int
}

type LimitsConfig struct {
	MaxMessages     int
	MaxMessageChars int
	RateRequests    int
	RateWindow      time.Duration
}

type CoinsConfig struct {
	DiscoverCost      int64
	ResumeCost        int64
	SignupBonus       int64
	IdempotencyWindow time.Duration
}

// Load reads an optional .env file and then the process environment.
func Load() Config {
	if err := godotenv.Load(".env"); err != nil {
		slog.Debug(".env file not found, using system environment variables")
	}
	return FromEnv()
}

// FromEnv builds the config from the current environment only.
func FromEnv() Config {
	cfg := Config{
		Port:       getEnv("PORT", "8080"),
		Env:        getEnv("APP_ENV", "development"),
		Deployment: strings.ToLower(getEnv("DEPLOYMENT_MODE", ModeStandard)),

		Providers: ProvidersConfig{
			Order: splitList(getEnv("PROVIDER_ORDER", "gemini,openai,openrouter,anthropic")),

			GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
			GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),

			OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
			OpenAIModel:  getEnv("OPENAI_MODEL", "gpt-4o-mini"),

			OpenRouterAPIKey:  os.Getenv("OPENROUTER_API_KEY"),
			OpenRouterModel:   getEnv("OPENROUTER_MODEL", "meta-llama/llama-3.3-70b-instruct"),
			OpenRouterBaseURL: getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),

			AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
			AnthropicModel:  getEnv("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
		},

		Limits: LimitsConfig{
			MaxMessages:     getInt("MAX_MESSAGES", 50),
			MaxMessageChars: getInt("MAX_MESSAGE_CHARS", 4000),
			RateRequests:    getInt("RATE_LIMIT_REQUESTS", 30),
			RateWindow:      getDuration("RATE_LIMIT_WINDOW", time.Minute),
		},

		Coins: CoinsConfig{
			DiscoverCost:      int64(getInt("COIN_COST_DISCOVER", 1)),
			ResumeCost:        int64(getInt("COIN_COST_RESUME", 1)),
			SignupBonus:       int64(getInt("SIGNUP_BONUS", 3)),
			IdempotencyWindow: getDuration("IDEMPOTENCY_WINDOW", 10*time.Minute),
		},

		RedisAddr: os.Getenv("REDIS_ADDR"),
		SQLiteDir: getEnv("SQLITE_DIR", "./data"),

		QdrantHost:       os.Getenv("QDRANT_HOST"),
		QdrantPort:       getInt("QDRANT_PORT", 6334),
		QdrantCollection: getEnv("QDRANT_COLLECTION", "coingate-feedback"),
		EmbeddingModel:   getEnv("EMBEDDING_MODEL", "text-embedding-004"),

		JWTSecret: os.Getenv("JWT_SECRET"),

		LogLevel: parseLogLevel(getEnv("LOG_LEVEL", "INFO")),
		LogFile:  os.Getenv("LOG_FILE"),
	}

	// Constrained hosts kill long requests, so every attempt gets a smaller budget.
	if cfg.Deployment == ModeConstrained {
		cfg.Providers.AttemptTimeout = getDuration("PROVIDER_TIMEOUT", 9*time.Second)
		cfg.Providers.MaxTokens = getInt("PROVIDER_MAX_TOKENS", 1024)
	} else {
		cfg.Providers.AttemptTimeout = getDuration("PROVIDER_TIMEOUT", 25*time.Second)
		cfg.Providers.MaxTokens = getInt("PROVIDER_MAX_TOKENS", 2048)
	}

	cfg.LedgerBackend = strings.ToLower(os.Getenv("LEDGER_BACKEND"))
	if cfg.LedgerBackend == "" {
		if cfg.RedisAddr != "" {
			cfg.LedgerBackend = "redis"
		} else {
			cfg.LedgerBackend = "sqlite"
		}
	}

	return cfg
}

func (c Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultVal
	}
	return n
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
