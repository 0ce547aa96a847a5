package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Archive backends accepted by ARCHIVE_BACKEND.
const (
	ArchiveAuto     = "auto"
	ArchivePostgres = "postgres"
	ArchiveSQLite   = "sqlite"
	ArchiveRedis    = "redis"
	ArchiveNone     = "none"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	SQLitePath  string
	RedisURL    string

	// ArchiveBackend selects where transcripts are mirrored. "auto" picks
	// postgres, then sqlite, then none depending on what is configured.
	ArchiveBackend string

	// Delivery
	PollTimeout      time.Duration
	HistorySize      int
	MaxMessageBytes  int
	SocketSendBuffer int

	// Automated replies
	ReplyMinDelay time.Duration
	ReplyMaxDelay time.Duration
	OpenAIAPIKey  string
	OpenAIModel   string

	StaticDir      string
	AllowedOrigins []string

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// It panics on values that cannot be parsed.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		Env:              getEnv("ENV", "development"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		SQLitePath:       os.Getenv("SQLITE_PATH"),
		RedisURL:         os.Getenv("REDIS_URL"),
		ArchiveBackend:   strings.ToLower(getEnv("ARCHIVE_BACKEND", ArchiveAuto)),
		PollTimeout:      getDuration("POLL_TIMEOUT", 25*time.Second),
		HistorySize:      getInt("HISTORY_SIZE", 20),
		MaxMessageBytes:  getInt("MAX_MESSAGE_BYTES", 4096),
		SocketSendBuffer: getInt("SOCKET_SEND_BUFFER", 64),
		ReplyMinDelay:    getDuration("REPLY_MIN_DELAY", 800*time.Millisecond),
		ReplyMaxDelay:    getDuration("REPLY_MAX_DELAY", 1600*time.Millisecond),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      os.Getenv("OPENAI_MODEL"),
		StaticDir:        os.Getenv("STATIC_DIR"),
		AllowedOrigins:   getList("ALLOWED_ORIGINS"),
		AutoBlockEnabled: getEnv("AUTO_BLOCK_ENABLED", "false") == "true",
	}

	// Parse whitelist (comma-separated IPs or CIDRs)
	cfg.RateLimitWhitelist = getList("RATE_LIMIT_WHITELIST")

	switch cfg.ArchiveBackend {
	case ArchiveAuto, ArchiveNone, ArchiveSQLite:
	case ArchivePostgres:
		if cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required when ARCHIVE_BACKEND=postgres")
		}
	case ArchiveRedis:
		if cfg.RedisURL == "" {
			panic("REDIS_URL is required when ARCHIVE_BACKEND=redis")
		}
	default:
		panic(fmt.Sprintf("unknown ARCHIVE_BACKEND %q", cfg.ArchiveBackend))
	}

	if cfg.PollTimeout <= 0 {
		panic("POLL_TIMEOUT must be positive")
	}
	if cfg.ReplyMaxDelay < cfg.ReplyMinDelay {
		panic("REPLY_MAX_DELAY must not be less than REPLY_MIN_DELAY")
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// ResolveArchive returns the concrete archive backend, resolving "auto".
func (c *Config) ResolveArchive() string {
	if c.ArchiveBackend != ArchiveAuto {
		return c.ArchiveBackend
	}
	switch {
	case c.DatabaseURL != "":
		return ArchivePostgres
	case c.SQLitePath != "":
		return ArchiveSQLite
	default:
		return ArchiveNone
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		panic(fmt.Sprintf("invalid %s: %v", key, err))
	}
	return d
}

func getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		panic(fmt.Sprintf("invalid %s: %q", key, value))
	}
	return n
}

func getList(key string) []string {
	var out []string
	for _, entry := range strings.Split(os.Getenv(key), ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
