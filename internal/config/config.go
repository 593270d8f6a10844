package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DSN             string
	JWTSecret       string
	AppPort         string
	JournalsAPIURL  string
	JournalsTimeout time.Duration
}

func Load() Config {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ .env file not found, using system environment variables")
	} else {
		log.Println("✅ .env file loaded successfully!")
	}

	cfg := Config{
		DSN:            os.Getenv("MYSQL_DSN"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		AppPort:        os.Getenv("APP_PORT"),
		JournalsAPIURL: os.Getenv("JOURNALS_API_URL"),
	}

	if cfg.DSN == "" {
		log.Fatal("❌ MYSQL_DSN not set in environment")
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret-only"
	}
	if cfg.AppPort == "" {
		cfg.AppPort = "8080"
	}
	if cfg.JournalsAPIURL == "" {
		log.Fatal("❌ JOURNALS_API_URL not set in environment")
	}

	cfg.JournalsTimeout = 30 * time.Second
	if raw := os.Getenv("JOURNALS_TIMEOUT_SECONDS"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			log.Fatalf("❌ invalid JOURNALS_TIMEOUT_SECONDS: %q", raw)
		}
		cfg.JournalsTimeout = time.Duration(secs) * time.Second
	}

	return cfg
}
