package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port              int
	NatsURL           string
	NatsToken         string
	DatabaseURL       string
	LogLevel          string
	AdminToken        string
	ConfirmThreshold  float64
	DisputeThreshold  float64
	Quorum            int
	TrustHalfLifeDays int
}

func Load() Config {
	// A local .env is a convenience for development; absence is fine.
	_ = godotenv.Load()

	return Config{
		Port:              envInt("VERITAS_PORT", 8800),
		NatsURL:           envStr("NATS_URL", "nats://localhost:4222"),
		NatsToken:         envStr("NATS_TOKEN", ""),
		DatabaseURL:       envStr("DATABASE_URL", ""),
		LogLevel:          envStr("LOG_LEVEL", "info"),
		AdminToken:        envStr("VERITAS_ADMIN_TOKEN", ""),
		ConfirmThreshold:  envFloat("VERITAS_CONFIRM_THRESHOLD", 0.4),
		DisputeThreshold:  envFloat("VERITAS_DISPUTE_THRESHOLD", 0.5),
		Quorum:            envInt("VERITAS_QUORUM", 3),
		TrustHalfLifeDays: envInt("VERITAS_TRUST_HALFLIFE_DAYS", 30),
	}
}

func envStr(key, fallback string) string {
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
