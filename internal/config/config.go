package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	DatabaseURL   string
	EncryptionKey string

	BrokerBaseURL string

	// Credential health monitor tuning.
	ValidationTTL      time.Duration
	ProbeTimeout       time.Duration
	ValidationInterval time.Duration

	// BrokerOnlyLedger drops APP-sourced ledger events except manual exits.
	BrokerOnlyLedger bool
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return &Config{
		Port:               port,
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		EncryptionKey:      os.Getenv("ENCRYPTION_KEY"),
		BrokerBaseURL:      os.Getenv("BROKER_BASE_URL"),
		ValidationTTL:      durationEnv("CREDENTIAL_VALIDATION_TTL", 5*time.Minute),
		ProbeTimeout:       durationEnv("CREDENTIAL_PROBE_TIMEOUT", 10*time.Second),
		ValidationInterval: durationEnv("CREDENTIAL_VALIDATION_INTERVAL", 30*time.Minute),
		BrokerOnlyLedger:   boolEnv("BROKER_ONLY_LEDGER", false),
	}
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
		log.Printf("Warning: invalid %s=%q, using default %s", key, v, fallback)
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		log.Printf("Warning: invalid %s=%q, using default %v", key, v, fallback)
	}
	return fallback
}
