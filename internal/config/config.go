// Package config provides application configuration loaded from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Blob backends.
const (
	BlobPostgres = "postgres"
	BlobFS       = "fs"
	BlobAzure    = "azure"
)

// Config holds all application configuration.
type Config struct {
	DatabaseURL string

	BlobBackend string
	BlobDir     string
	Azure       AzureConfig

	Worker WorkerConfig

	MatchThreshold float64
	EmbeddingCache bool
	Host           string
	Port           int
	RequestTimeout time.Duration
	LogLevel       string
	LogDevelopment bool
}

type AzureConfig struct {
	Account    string
	Key        string
	Container  string
	ServiceURL string // optional, e.g. an Azurite endpoint
}

type WorkerConfig struct {
	Python  string
	Script  string
	Engines int
	Timeout time.Duration
	Dim     int
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getEnvAsFloat(key string, defaultValue float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getEnvAsBool(key string, defaultValue bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

// databaseURL prefers DATABASE_URL, then POSTGRES_* parts, then a local default.
func databaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
			os.Getenv("POSTGRES_USER"),
			os.Getenv("POSTGRES_PASSWORD"),
			host,
			getEnv("POSTGRES_PORT", "5432"),
			os.Getenv("POSTGRES_DB"),
		)
	}
	return "postgres://localhost:5432/checkmates"
}

// Load reads configuration from the environment, after loading .env if present.
func Load() (*Config, error) {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	engines, err := getEnvAsInt("WORKER_ENGINES", 1)
	collect(err)
	dim, err := getEnvAsInt("EMBEDDING_DIM", 512)
	collect(err)
	port, err := getEnvAsInt("PORT", 5050)
	collect(err)
	workerTimeout, err := getEnvAsDuration("WORKER_TIMEOUT", 60*time.Second)
	collect(err)
	requestTimeout, err := getEnvAsDuration("REQUEST_TIMEOUT", 5*time.Minute)
	collect(err)
	threshold, err := getEnvAsFloat("MATCH_THRESHOLD", 0.45)
	collect(err)
	cache, err := getEnvAsBool("EMBEDDING_CACHE", true)
	collect(err)
	logDev, err := getEnvAsBool("LOG_DEV", false)
	collect(err)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	cfg := &Config{
		DatabaseURL: databaseURL(),
		BlobBackend: getEnv("BLOB_BACKEND", BlobPostgres),
		BlobDir:     getEnv("BLOB_DIR", "./data/blobs"),
		Azure: AzureConfig{
			Account:    os.Getenv("AZURE_STORAGE_ACCOUNT"),
			Key:        os.Getenv("AZURE_STORAGE_KEY"),
			Container:  getEnv("AZURE_STORAGE_CONTAINER", "faces"),
			ServiceURL: os.Getenv("AZURE_STORAGE_SERVICE_URL"),
		},
		Worker: WorkerConfig{
			Python:  getEnv("WORKER_PYTHON", "python3"),
			Script:  getEnv("WORKER_SCRIPT", "python/worker.py"),
			Engines: engines,
			Timeout: workerTimeout,
			Dim:     dim,
		},
		MatchThreshold: threshold,
		EmbeddingCache: cache,
		Host:           getEnv("HOST", "0.0.0.0"),
		Port:           port,
		RequestTimeout: requestTimeout,
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogDevelopment: logDev,
	}
	// Range checks wait for flag overrides; callers run Validate afterwards.
	return cfg, nil
}

// Validate checks value ranges. Call it after flags have overridden env values.
func (c *Config) Validate() error {
	if c.MatchThreshold <= 0 || c.MatchThreshold > 1.0 {
		return fmt.Errorf("match threshold must be between 0.0 and 1.0, got %f", c.MatchThreshold)
	}
	if c.Worker.Engines < 1 {
		return fmt.Errorf("worker engines must be >= 1, got %d", c.Worker.Engines)
	}
	if c.Worker.Dim < 1 {
		return fmt.Errorf("embedding dimension must be >= 1, got %d", c.Worker.Dim)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.BlobBackend {
	case BlobPostgres, BlobFS:
	case BlobAzure:
		if c.Azure.Account == "" || c.Azure.Key == "" {
			return errors.New("azure blob backend requires AZURE_STORAGE_ACCOUNT and AZURE_STORAGE_KEY")
		}
	default:
		return fmt.Errorf("unknown blob backend %q", c.BlobBackend)
	}
	return nil
}
