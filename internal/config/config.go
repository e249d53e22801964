package config

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	ServerPort  string
	Environment string
	LogLevel    string

	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis configuration
	RedisAddress string

	// JWT configuration
	JWTSecret string

	// Lease configuration
	LeaseBackend string // "postgres" or "redis"
	LeaseTTL     time.Duration

	// Version store configuration
	CommitMaxAttempts int
	VersionCacheTTL   time.Duration
	WorkerPoolSize    int

	FrontendAddress string
}

// ClientConfig configures scriptctl and other edit session clients.
type ClientConfig struct {
	APIAddress       string
	APIToken         string
	AutosaveInterval time.Duration
}

// Global application configuration
var AppConfig Config

// LoadConfig loads configuration from environment variables
func LoadConfig() {
	loadDotEnv()

	// Load configuration from environment variables
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = generateRandomSecret(32) // Generate a 32-byte random secret if not declared
		log.Println("Generated random JWT secret")
	}

	AppConfig = Config{
		ServerPort:        getEnv("PORT", "8080"),
		Environment:       getEnv("ENV", "development"),
		LogLevel:          getEnv("LOG_LEVEL", ""),
		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "5432"),
		DBUser:            getEnv("DB_USER", "postgres"),
		DBPassword:        getEnv("DB_PASSWORD", "postgres"),
		DBName:            getEnv("DB_NAME", "script_desk"),
		RedisAddress:      getEnv("REDIS_ADDRESS", "localhost:6379"),
		JWTSecret:         jwtSecret,
		LeaseBackend:      getEnv("LEASE_BACKEND", "postgres"),
		LeaseTTL:          getEnvDuration("LEASE_TTL", 15*time.Minute),
		CommitMaxAttempts: getEnvInt("COMMIT_MAX_ATTEMPTS", 3),
		VersionCacheTTL:   getEnvDuration("VERSION_CACHE_TTL", 10*time.Minute),
		WorkerPoolSize:    getEnvInt("WORKER_POOL_SIZE", 4),
		FrontendAddress:   getEnv("FRONTEND_ADDRESS", "https://production-frontend.com"),
	}
}

// LoadClientConfig reads the settings used by edit session clients.
func LoadClientConfig() ClientConfig {
	loadDotEnv()

	return ClientConfig{
		APIAddress:       getEnv("SCRIPT_API_URL", "http://localhost:8080"),
		APIToken:         getEnv("SCRIPT_API_TOKEN", ""),
		AutosaveInterval: getEnvDuration("AUTOSAVE_INTERVAL", 10*time.Second),
	}
}

func loadDotEnv() {
	// Find .env file
	envPath := ".env"
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		// Try to find .env in parent directories
		envPath = filepath.Join("..", ".env")
		if _, err := os.Stat(envPath); os.IsNotExist(err) {
			envPath = filepath.Join("..", "..", ".env")
		}
	}

	// Load .env file if it exists
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			log.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		log.Printf("Warning: invalid %s=%q, using %d\n", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

// getEnvDuration accepts Go durations ("15m") or plain seconds ("900").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	log.Printf("Warning: invalid %s=%q, using %s\n", key, value, defaultValue)
	return defaultValue
}

// generateRandomSecret generates a random hex secret of length bytes
func generateRandomSecret(length int) string {
	secret := make([]byte, length)
	if _, err := rand.Read(secret); err != nil {
		log.Fatalf("failed to generate secret: %v", err)
	}
	return hex.EncodeToString(secret)
}
