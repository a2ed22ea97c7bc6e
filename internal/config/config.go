package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Supported LLM and embedding providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// LLM provider
	LLMProvider     string // "openai", "anthropic", "ollama"
	LLMModel        string
	OpenAIKey       string
	AnthropicKey    string
	OllamaHost      string
	PromptVersion   string
	DefaultTopic    string
	MaxOutputTokens int

	// Embeddings
	EmbedProvider  string
	EmbedModel     string
	EmbedDimension int

	// Chunking
	ChunkMode            string // "semantic" or "fixed"
	ChunkSize            int
	ChunkOverlapFraction float64

	// Outline gate
	UseGlobalOutline      bool
	OutlineChunkThreshold int
	OutlineMaxChunks      int

	// Retrieval
	RAGTopK        int
	RAGMaxDistance float64

	// Generation
	GenerationWorkers     int
	MaxConcurrentRuns     int64
	GenerationTimeoutBase time.Duration
	TimeoutPerDecile      time.Duration
	MinExtractionWords    int

	// Cost accounting, USD per 1M tokens
	InputCostPerMTok  float64
	OutputCostPerMTok float64

	// Export
	ExportsDir   string
	EnableExport bool

	// HTTP server
	ListenAddr string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "quizforge"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "main"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		LLMProvider:     getEnv("QUIZFORGE_LLM_PROVIDER", "openai"),
		LLMModel:        getEnv("QUIZFORGE_LLM_MODEL", "gpt-4o-mini"),
		OpenAIKey:       getEnv("OPENAI_API_KEY", ""),
		AnthropicKey:    getEnv("ANTHROPIC_API_KEY", ""),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		PromptVersion:   getEnv("QUIZFORGE_PROMPT_VERSION", "mcq_v1"),
		DefaultTopic:    getEnv("QUIZFORGE_DEFAULT_TOPIC", "polity"),
		MaxOutputTokens: getEnvInt("QUIZFORGE_MAX_OUTPUT_TOKENS", 4096),

		EmbedProvider:  getEnv("QUIZFORGE_EMBED_PROVIDER", "ollama"),
		EmbedModel:     getEnv("QUIZFORGE_EMBED_MODEL", "all-minilm:l6-v2"),
		EmbedDimension: getEnvInt("QUIZFORGE_EMBED_DIMENSION", 384),

		ChunkMode:            getEnv("QUIZFORGE_CHUNK_MODE", "semantic"),
		ChunkSize:            getEnvInt("QUIZFORGE_CHUNK_SIZE", 1500),
		ChunkOverlapFraction: getEnvFloat("QUIZFORGE_CHUNK_OVERLAP", 0.2),

		UseGlobalOutline:      getEnvBool("QUIZFORGE_USE_GLOBAL_OUTLINE", true),
		OutlineChunkThreshold: getEnvInt("QUIZFORGE_OUTLINE_CHUNK_THRESHOLD", 20),
		OutlineMaxChunks:      getEnvInt("QUIZFORGE_OUTLINE_MAX_CHUNKS", 10),

		RAGTopK:        getEnvInt("QUIZFORGE_RAG_TOP_K", 5),
		RAGMaxDistance: getEnvFloat("QUIZFORGE_RAG_MAX_DISTANCE", 0),

		GenerationWorkers:     getEnvInt("QUIZFORGE_WORKERS", 4),
		MaxConcurrentRuns:     int64(getEnvInt("QUIZFORGE_MAX_CONCURRENT_RUNS", 3)),
		GenerationTimeoutBase: time.Duration(getEnvInt("QUIZFORGE_TIMEOUT_BASE_SEC", 1200)) * time.Second,
		TimeoutPerDecile:      time.Duration(getEnvInt("QUIZFORGE_TIMEOUT_PER_DECILE_SEC", 60)) * time.Second,
		MinExtractionWords:    getEnvInt("QUIZFORGE_MIN_EXTRACTION_WORDS", 500),

		InputCostPerMTok:  getEnvFloat("QUIZFORGE_INPUT_COST_PER_MTOK", 0.15),
		OutputCostPerMTok: getEnvFloat("QUIZFORGE_OUTPUT_COST_PER_MTOK", 0.60),

		ExportsDir:   getEnv("QUIZFORGE_EXPORTS_DIR", "exports"),
		EnableExport: getEnvBool("QUIZFORGE_ENABLE_EXPORT", false),

		ListenAddr: getEnv("QUIZFORGE_LISTEN_ADDR", ":8080"),

		LogFile:  getEnv("QUIZFORGE_LOG_FILE", "/tmp/quizforge.log"),
		LogLevel: parseLogLevel(getEnv("QUIZFORGE_LOG_LEVEL", "INFO")),
	}
}

// HasLLMCredential reports whether the configured provider can be used.
// Ollama is local and needs no key.
func (c Config) HasLLMCredential() bool {
	switch strings.ToLower(c.LLMProvider) {
	case "openai":
		return c.OpenAIKey != ""
	case "anthropic":
		return c.AnthropicKey != ""
	case "ollama":
		return true
	default:
		return false
	}
}

// RunTimeout computes the generation deadline for a document of the
// given chunk count. The base window is extended for every ten chunks.
func (c Config) RunTimeout(chunkCount int) time.Duration {
	deciles := chunkCount / 10
	return c.GenerationTimeoutBase + time.Duration(deciles)*c.TimeoutPerDecile
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
