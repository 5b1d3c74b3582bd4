package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	APIBaseURL   string // remote query-generation backend
	APIPrefix    string
	Model        string
	DatabaseType string
	DatabaseURL  string // local sqlite file
	HTTPPort     string
	LogLevel     string
	JWTSecret    string
}

var AppConfig Config

func LoadConfig() {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Info().Msg("No .env file found, relying on environment variables")
	}

	AppConfig = Config{
		APIBaseURL:   getEnv("QCONNECT_API_BASE_URL", "http://localhost:8000"),
		APIPrefix:    getEnv("QCONNECT_API_PREFIX", "/api/v1"),
		Model:        getEnv("QCONNECT_MODEL", "gemini"),
		DatabaseType: getEnv("QCONNECT_DB_TYPE", "kdb"),
		DatabaseURL:  getEnv("DATABASE_URL", "qconnect.db"),
		HTTPPort:     getEnv("HTTP_PORT", "8080"),
		LogLevel:     getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:    getEnv("JWT_SECRET", ""),
	}

	if AppConfig.JWTSecret == "" {
		log.Fatal().Msg("JWT_SECRET environment variable is required")
	}
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}
