package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	Backends  BackendConfig
	Assistant AssistantConfig
}

type AppConfig struct {
	Port               string
	BaseURL            string
	ClientURL          string
	Environment        string
	LogFilePath        string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
}

type BackendConfig struct {
	// Document-search (RAG) backend for uploaded documents
	RagBaseURL string
	// Structured-record backend for the hosted client database
	RecordBaseURL string
	// External assistant (Morphik) reached through its own backend proxy
	MorphikBaseURL string

	ProbeTimeout   time.Duration
	QueryTimeout   time.Duration
	MorphikTimeout time.Duration
}

type AssistantConfig struct {
	// Key namespace inside the shared key-value store
	StoragePrefix string
	// Recent-session index capacity
	RecentLimit int
	// Sessions older than this are dropped on save
	MaxSessionAge time.Duration
	// Sessions with fewer messages than this are replaceable
	FreshThreshold int
	// Reveal loop pacing
	RevealTick        time.Duration
	RevealMaxDuration time.Duration
	// Default for the sound preference when none is stored
	SoundDefault bool
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "8081"),
			BaseURL:            getEnv("APP_BASE_URL", "http://localhost:8081"),
			ClientURL:          getEnv("CLIENT_URL", "http://localhost:5173"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "app.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", ""),
			RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
		},
		Backends: BackendConfig{
			RagBaseURL:     getEnv("RAG_BASE_URL", "http://localhost:5001"),
			RecordBaseURL:  getEnv("RECORD_BASE_URL", "http://localhost:8082"),
			MorphikBaseURL: getEnv("MORPHIK_BASE_URL", "http://localhost:8083"),
			ProbeTimeout:   getEnvAsDuration("PROBE_TIMEOUT", 5*time.Second),
			QueryTimeout:   getEnvAsDuration("QUERY_TIMEOUT", 30*time.Second),
			MorphikTimeout: getEnvAsDuration("MORPHIK_TIMEOUT", 60*time.Second),
		},
		Assistant: AssistantConfig{
			StoragePrefix:     getEnv("CHAT_STORAGE_PREFIX", "meddoc_chat"),
			RecentLimit:       getEnvAsInt("CHAT_RECENT_LIMIT", 5),
			MaxSessionAge:     getEnvAsDuration("CHAT_MAX_SESSION_AGE", 30*24*time.Hour),
			FreshThreshold:    getEnvAsInt("CHAT_FRESH_THRESHOLD", 2),
			RevealTick:        getEnvAsDuration("CHAT_REVEAL_TICK", 30*time.Millisecond),
			RevealMaxDuration: getEnvAsDuration("CHAT_REVEAL_MAX", 2*time.Second),
			SoundDefault:      getEnvAsBool("CHAT_SOUND_DEFAULT", true),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	return fallback
}
