package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	LoadConfig()

	assert.Equal(t, "http://localhost:8000", AppConfig.APIBaseURL)
	assert.Equal(t, "/api/v1", AppConfig.APIPrefix)
	assert.Equal(t, "gemini", AppConfig.Model)
	assert.Equal(t, "kdb", AppConfig.DatabaseType)
	assert.Equal(t, "qconnect.db", AppConfig.DatabaseURL)
	assert.Equal(t, "8080", AppConfig.HTTPPort)
	assert.Equal(t, "test-secret", AppConfig.JWTSecret)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("QCONNECT_API_BASE_URL", "http://qgen.internal:9000")
	t.Setenv("QCONNECT_DB_TYPE", "postgres")
	t.Setenv("HTTP_PORT", "9090")

	LoadConfig()

	assert.Equal(t, "http://qgen.internal:9000", AppConfig.APIBaseURL)
	assert.Equal(t, "postgres", AppConfig.DatabaseType)
	assert.Equal(t, "9090", AppConfig.HTTPPort)
}

func TestGetEnvAsInt(t *testing.T) {
	t.Setenv("SOME_INT", "42")
	assert.Equal(t, 42, getEnvAsInt("SOME_INT", 7))
	assert.Equal(t, 7, getEnvAsInt("SOME_MISSING_INT", 7))

	t.Setenv("SOME_BAD_INT", "not a number")
	assert.Equal(t, 7, getEnvAsInt("SOME_BAD_INT", 7))
}
