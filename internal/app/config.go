package app

import (
	"os"
	"strconv"
	"time"

	"tinred-agent/internal/core"
	"tinred-agent/internal/tinred"

	"github.com/shopspring/decimal"
)

// Config centralizes every tunable, read from the environment. Callers load
// .env first (godotenv in main), then call LoadConfig.
type Config struct {
	Addr           string
	AllowedOrigins string

	// DatabaseURL is optional: without it the service runs on the TinRed
	// listings alone and skips the local history recorder.
	DatabaseURL string

	// OpenAIKey is optional: without it classification stays rule-based and
	// audio messages are rejected with an explanatory reply.
	OpenAIKey string

	TinRed tinred.Config

	SessionTTL    time.Duration
	MinConfidence float64
	Retry         core.RetryPolicy
	Anomaly       core.AnomalyThresholds
}

// LoadConfig reads the environment with defaults matching the TinRed test
// environment and the conversation policy defaults.
func LoadConfig() Config {
	return Config{
		Addr:           envString("LISTEN_ADDR", ":8080"),
		AllowedOrigins: os.Getenv("ALLOWED_ORIGINS"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		TinRed: tinred.Config{
			BaseURL:     os.Getenv("TINRED_BASE_URL"),
			APIKey:      os.Getenv("TINRED_API_KEY"),
			Timeout:     envSeconds("TINRED_TIMEOUT_SECONDS", 30),
			EmitTimeout: envSeconds("TINRED_EMIT_TIMEOUT_SECONDS", 90),
		},
		SessionTTL:    envMinutes("SESSION_TTL_MINUTES", 15),
		MinConfidence: envFloat("INTENT_CONFIDENCE_FLOOR", 0.6),
		Retry: core.RetryPolicy{
			MaxAttempts: envInt("EMIT_MAX_ATTEMPTS", 3),
			BaseDelay:   time.Duration(envInt("EMIT_BASE_DELAY_MS", 500)) * time.Millisecond,
		},
		Anomaly: core.AnomalyThresholds{
			PriceDeviation: decimal.NewFromFloat(envFloat("ANOMALY_PRICE_DEVIATION", 0.5)),
			MaxQuantity:    envInt("ANOMALY_MAX_QUANTITY", 100),
			TotalMultiple:  decimal.NewFromFloat(envFloat("ANOMALY_TOTAL_MULTIPLE", 10)),
		},
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envSeconds(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Second
}

func envMinutes(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Minute
}
