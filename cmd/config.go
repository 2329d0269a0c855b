package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	durableNone     = "none"
	durableDynamoDB = "dynamodb"
	durableMySQL    = "mysql"
	durableSQLite   = "sqlite"
)

type config struct {
	LogLevel  string
	LogFormat string

	RedisURL        string
	RedisProfileTTL time.Duration
	RedisTurnsTTL   time.Duration
	DurableBackend string
	StateTable     string
	MySQLDSN       string
	SQLitePath     string

	OllamaBaseURL   string
	OllamaModel     string
	OllamaMaxTokens int
	ParamPrefix   string
	OpenAIModel   string

	GenerationTimeout     time.Duration
	GenerationRetryFactor float64

	TierTimeout       time.Duration
	TierRetryInterval time.Duration
	HotTurnLimit      int

	MaxContextTurns   int
	MaxQuestionLength int
	MaxAgents         int

	WhisperBaseURL string
}

// loadConfig reads the environment. Every problem found is reported, not
// just the first.
func loadConfig() (config, error) {
	var errs []error
	cfg := config{
		LogLevel:       envString("LOG_LEVEL", "info"),
		LogFormat:      envString("LOG_FORMAT", "json"),
		RedisURL:       envString("REDIS_URL", ""),
		DurableBackend: strings.ToLower(envString("DURABLE_BACKEND", durableNone)),
		StateTable:     envString("STATE_TABLE", ""),
		MySQLDSN:       envString("MYSQL_DSN", ""),
		SQLitePath:     envString("SQLITE_PATH", "data/travel-assistant.db"),
		OllamaBaseURL:  envString("OLLAMA_BASE_URL", ""),
		OllamaModel:    envString("OLLAMA_MODEL", ""),
		ParamPrefix:    envString("PARAM_PREFIX", ""),
		OpenAIModel:    envString("OPENAI_MODEL", ""),
		WhisperBaseURL: envString("WHISPER_BASE_URL", ""),
	}
	cfg.RedisProfileTTL = envDuration("REDIS_PROFILE_TTL", 0, &errs)
	cfg.RedisTurnsTTL = envDuration("REDIS_TURNS_TTL", 0, &errs)
	cfg.OllamaMaxTokens = envInt("OLLAMA_MAX_TOKENS", 0, &errs)
	cfg.GenerationTimeout = envDuration("GENERATION_TIMEOUT", 15*time.Second, &errs)
	cfg.GenerationRetryFactor = envFloat("GENERATION_RETRY_FACTOR", 0.5, &errs)
	cfg.TierTimeout = envDuration("TIER_TIMEOUT", 2*time.Second, &errs)
	cfg.TierRetryInterval = envDuration("TIER_RETRY_INTERVAL", 30*time.Second, &errs)
	cfg.HotTurnLimit = envInt("HOT_TURN_LIMIT", 50, &errs)
	cfg.MaxContextTurns = envInt("MAX_CONTEXT_TURNS", 10, &errs)
	cfg.MaxQuestionLength = envInt("MAX_QUESTION_LENGTH", 2000, &errs)
	cfg.MaxAgents = envInt("MAX_AGENTS", 3, &errs)

	switch cfg.DurableBackend {
	case durableNone:
	case durableDynamoDB:
		if cfg.StateTable == "" {
			errs = append(errs, errors.New("STATE_TABLE is required when DURABLE_BACKEND=dynamodb"))
		}
	case durableMySQL:
		if cfg.MySQLDSN == "" {
			errs = append(errs, errors.New("MYSQL_DSN is required when DURABLE_BACKEND=mysql"))
		}
	case durableSQLite:
		if cfg.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required when DURABLE_BACKEND=sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("DURABLE_BACKEND %q is not one of none|dynamodb|mysql|sqlite", cfg.DurableBackend))
	}
	if cfg.GenerationRetryFactor <= 0 || cfg.GenerationRetryFactor >= 1 {
		errs = append(errs, fmt.Errorf("GENERATION_RETRY_FACTOR must be within (0, 1), got %v", cfg.GenerationRetryFactor))
	}
	return cfg, errors.Join(errs...)
}

// needsAWS reports whether any configured component talks to AWS.
func (c config) needsAWS() bool {
	return c.DurableBackend == durableDynamoDB || c.ParamPrefix != ""
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		*errs = append(*errs, fmt.Errorf("%s: want a positive integer, got %q", key, v))
		return def
	}
	return n
}

func envFloat(key string, def float64, errs *[]error) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: want a number, got %q", key, v))
		return def
	}
	return f
}

func envDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		*errs = append(*errs, fmt.Errorf("%s: want a positive duration such as 15s, got %q", key, v))
		return def
	}
	return d
}
