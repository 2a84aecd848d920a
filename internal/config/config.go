package config

import (
	"os"
	"strconv"
)

type Config struct {
	Addr          string
	RedisURL      string
	MigrationsDir string
	// Remote sync peer - empty by default, replication disabled if not configured
	DatabaseURL string
	// Search - empty by default, falls back to in-memory search
	MeiliURL       string
	MeiliMasterKey string
	// Blob store - empty by default, screenshots stay inline if not configured
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool
	// Rendering
	RenderEnabled bool
	// Clipboard history
	ClipboardEnabled bool
}

func Load() Config {
	return Config{
		Addr:             getenv("DARC_ADDR", ":8997"),
		RedisURL:         getenv("DARC_REDIS_URL", "redis://localhost:6379/0"),
		MigrationsDir:    getenv("DARC_MIGRATIONS_DIR", "./db/migrations"),
		DatabaseURL:      getenv("DARC_DATABASE_URL", ""),
		MeiliURL:         getenv("MEILI_URL", ""),
		MeiliMasterKey:   getenv("MEILI_MASTER_KEY", ""),
		S3Endpoint:       getenv("DARC_S3_ENDPOINT", ""),
		S3AccessKey:      getenv("DARC_S3_ACCESS_KEY", ""),
		S3SecretKey:      getenv("DARC_S3_SECRET_KEY", ""),
		S3Bucket:         getenv("DARC_S3_BUCKET", "darc-screenshots"),
		S3UseSSL:         getenvBool("DARC_S3_USE_SSL", false),
		RenderEnabled:    getenvBool("DARC_RENDER_ENABLED", true),
		ClipboardEnabled: getenvBool("DARC_CLIPBOARD_ENABLED", false),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
