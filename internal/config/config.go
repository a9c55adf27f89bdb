package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

// Config carries the service configuration, loaded from the environment with
// an optional .env file for local development.
type Config struct {
	Addr        string // HTTP listen address
	PostgresDSN string // empty -> in-memory storage
	ValkeyAddr  string // empty -> presence stored alongside chat data
	JWTSecret   string // HMAC secret for session tokens
	CORSOrigin  string
}

func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	return Config{
		Addr:        getEnv("ADDR", ":8080"),
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
		ValkeyAddr:  os.Getenv("VALKEY_ADDR"),
		JWTSecret:   getEnv("JWT_SECRET", "dev-secret"),
		CORSOrigin:  getEnv("CORS_ORIGIN", "http://127.0.0.1:5173"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
