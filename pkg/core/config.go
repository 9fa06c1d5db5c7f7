package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config contains the complete configuration for a memory engine.
//
// Example:
//
//	config := &core.Config{
//	    Store: core.StoreConfig{
//	        Provider: "sqlite",
//	        Config: map[string]interface{}{
//	            "db_path": "./recall.db",
//	        },
//	    },
//	    Embedder: &core.EmbedderConfig{
//	        Provider: "openai",
//	        APIKey:   "sk-...",
//	    },
//	}
type Config struct {
	// Store contains durable store configuration.
	Store StoreConfig `json:"store"`

	// Embedder contains embedding provider configuration. Nil disables
	// vector search; records are stored without embeddings.
	Embedder *EmbedderConfig `json:"embedder,omitempty"`

	// Delegate contains delegate provider configuration. Nil disables
	// the delegate search source and write mirroring.
	Delegate *DelegateConfig `json:"delegate,omitempty"`

	// Engine contains engine tuning knobs.
	Engine EngineConfig `json:"engine"`
}

// StoreConfig contains configuration for the durable store.
//
// Supported providers: sqlite, postgres, mysql.
type StoreConfig struct {
	// Provider is the store provider name (sqlite, postgres, mysql).
	Provider string `json:"provider"`

	// Config contains provider-specific configuration.
	// For SQLite: db_path
	// For PostgreSQL: host, port, user, password, db_name, ssl_mode
	// For MySQL: host, port, user, password, db_name
	Config map[string]interface{} `json:"config"`
}

// EmbedderConfig contains configuration for the embedding provider.
//
// Supported providers: openai (and any OpenAI-compatible endpoint via
// BaseURL).
type EmbedderConfig struct {
	// Provider is the embedding provider name.
	Provider string `json:"provider"`

	// APIKey is the API key for the embedding provider.
	APIKey string `json:"api_key"`

	// Model is the embedding model name.
	Model string `json:"model,omitempty"`

	// BaseURL overrides the API endpoint.
	BaseURL string `json:"base_url,omitempty"`

	// Dimensions is the embedding vector dimension.
	Dimensions int `json:"dimensions,omitempty"`
}

// DelegateConfig contains configuration for the delegate search provider.
//
// Supported providers: chromem (embedded vector store), rest (remote
// memory service).
type DelegateConfig struct {
	// Provider is the delegate provider name (chromem, rest).
	Provider string `json:"provider"`

	// Path is the persistence directory for the chromem provider.
	// Empty means in-memory.
	Path string `json:"path,omitempty"`

	// BaseURL is the endpoint for the rest provider.
	BaseURL string `json:"base_url,omitempty"`

	// APIKey authenticates the rest provider.
	APIKey string `json:"api_key,omitempty"`
}

// EngineConfig contains engine tuning knobs. Zero values take defaults.
type EngineConfig struct {
	// DefaultOwner is the owner used when a call supplies none.
	// Default: "default".
	DefaultOwner string `json:"default_owner,omitempty"`

	// CacheAdmissionThreshold is the minimum importance for hot-cache
	// admission. Default: 0.8.
	CacheAdmissionThreshold float64 `json:"cache_admission_threshold,omitempty"`

	// CacheCapacity is the per-kind hot-cache capacity. Default: 1000.
	CacheCapacity int `json:"cache_capacity,omitempty"`

	// VectorSimilarityFloor is the minimum cosine similarity for vector
	// search hits. Default: 0.3.
	VectorSimilarityFloor float64 `json:"vector_similarity_floor,omitempty"`

	// VectorCandidateLimit caps the embedded rows loaded for the vector
	// scan, most important first. Default: 100.
	VectorCandidateLimit int `json:"vector_candidate_limit,omitempty"`

	// DelegateTimeoutSeconds bounds the delegate search call. Default: 3.
	DelegateTimeoutSeconds int `json:"delegate_timeout_seconds,omitempty"`

	// DisableDelegateShortCircuit keeps the local search sources running
	// even when the delegate alone fills the limit.
	DisableDelegateShortCircuit bool `json:"disable_delegate_short_circuit,omitempty"`

	// SessionRetentionDays is how long session messages are kept.
	// Default: 30.
	SessionRetentionDays int `json:"session_retention_days,omitempty"`

	// JanitorIntervalHours is the background cleanup interval.
	// Default: 24.
	JanitorIntervalHours int `json:"janitor_interval_hours,omitempty"`
}

// Engine knob defaults.
const (
	defaultOwner                = "default"
	defaultAdmissionThreshold   = 0.8
	defaultCacheCapacity        = 1000
	defaultSimilarityFloor      = 0.3
	defaultVectorCandidateLimit = 100
	defaultDelegateTimeout      = 3 * time.Second
	defaultSessionRetention     = 30 * 24 * time.Hour
	defaultJanitorInterval      = 24 * time.Hour
	defaultSearchLimit          = 10
	defaultSessionContextLimit  = 20
)

// applyDefaults fills zero-valued knobs.
func (c *EngineConfig) applyDefaults() {
	if c.DefaultOwner == "" {
		c.DefaultOwner = defaultOwner
	}
	if c.CacheAdmissionThreshold == 0 {
		c.CacheAdmissionThreshold = defaultAdmissionThreshold
	}
	if c.CacheCapacity == 0 {
		c.CacheCapacity = defaultCacheCapacity
	}
	if c.VectorSimilarityFloor == 0 {
		c.VectorSimilarityFloor = defaultSimilarityFloor
	}
	if c.VectorCandidateLimit == 0 {
		c.VectorCandidateLimit = defaultVectorCandidateLimit
	}
	if c.DelegateTimeoutSeconds == 0 {
		c.DelegateTimeoutSeconds = int(defaultDelegateTimeout / time.Second)
	}
	if c.SessionRetentionDays == 0 {
		c.SessionRetentionDays = int(defaultSessionRetention / (24 * time.Hour))
	}
	if c.JanitorIntervalHours == 0 {
		c.JanitorIntervalHours = int(defaultJanitorInterval / time.Hour)
	}
}

// delegateTimeout returns the delegate timeout as a duration.
func (c *EngineConfig) delegateTimeout() time.Duration {
	return time.Duration(c.DelegateTimeoutSeconds) * time.Second
}

// sessionRetention returns the session-message retention window.
func (c *EngineConfig) sessionRetention() time.Duration {
	return time.Duration(c.SessionRetentionDays) * 24 * time.Hour
}

// janitorInterval returns the background cleanup interval.
func (c *EngineConfig) janitorInterval() time.Duration {
	return time.Duration(c.JanitorIntervalHours) * time.Hour
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables into a Config struct
//
// Supported environment variables:
//   - DATABASE_PROVIDER (sqlite, postgres, mysql)
//   - SQLITE_PATH
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD,
//     POSTGRES_DATABASE, POSTGRES_SSLMODE
//   - MYSQL_HOST, MYSQL_PORT, MYSQL_USER, MYSQL_PASSWORD, MYSQL_DATABASE
//   - EMBEDDING_PROVIDER, EMBEDDING_API_KEY, EMBEDDING_MODEL,
//     EMBEDDING_BASE_URL, EMBEDDING_DIMENSIONS
//   - DELEGATE_PROVIDER, DELEGATE_PATH, DELEGATE_BASE_URL, DELEGATE_API_KEY
//   - RECALL_DEFAULT_OWNER, RECALL_CACHE_THRESHOLD, RECALL_CACHE_CAPACITY,
//     RECALL_VECTOR_FLOOR, RECALL_DELEGATE_TIMEOUT_SECONDS,
//     RECALL_SESSION_RETENTION_DAYS, RECALL_JANITOR_INTERVAL_HOURS
//
// Returns a Config instance, or an error if loading fails.
func LoadConfigFromEnv() (*Config, error) {
	if envPath, found := FindEnvFile(); found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	provider := getEnvOrDefault("DATABASE_PROVIDER", "sqlite")

	storeConfig := make(map[string]interface{})
	switch provider {
	case "postgres":
		port, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_PORT", "5432"))
		storeConfig = map[string]interface{}{
			"host":     getEnvOrDefault("POSTGRES_HOST", "localhost"),
			"port":     port,
			"user":     getEnvOrDefault("POSTGRES_USER", "postgres"),
			"password": os.Getenv("POSTGRES_PASSWORD"),
			"db_name":  getEnvOrDefault("POSTGRES_DATABASE", "recall"),
			"ssl_mode": getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	case "mysql":
		port, _ := strconv.Atoi(getEnvOrDefault("MYSQL_PORT", "3306"))
		storeConfig = map[string]interface{}{
			"host":     getEnvOrDefault("MYSQL_HOST", "127.0.0.1"),
			"port":     port,
			"user":     getEnvOrDefault("MYSQL_USER", "root"),
			"password": os.Getenv("MYSQL_PASSWORD"),
			"db_name":  getEnvOrDefault("MYSQL_DATABASE", "recall"),
		}
	default:
		storeConfig = map[string]interface{}{
			"db_path": getEnvOrDefault("SQLITE_PATH", "./recall.db"),
		}
	}

	config := &Config{
		Store: StoreConfig{
			Provider: provider,
			Config:   storeConfig,
		},
	}

	if apiKey := os.Getenv("EMBEDDING_API_KEY"); apiKey != "" {
		dims, _ := strconv.Atoi(getEnvOrDefault("EMBEDDING_DIMENSIONS", "0"))
		config.Embedder = &EmbedderConfig{
			Provider:   getEnvOrDefault("EMBEDDING_PROVIDER", "openai"),
			APIKey:     apiKey,
			Model:      os.Getenv("EMBEDDING_MODEL"),
			BaseURL:    os.Getenv("EMBEDDING_BASE_URL"),
			Dimensions: dims,
		}
	}

	if delegateProvider := os.Getenv("DELEGATE_PROVIDER"); delegateProvider != "" {
		config.Delegate = &DelegateConfig{
			Provider: delegateProvider,
			Path:     os.Getenv("DELEGATE_PATH"),
			BaseURL:  os.Getenv("DELEGATE_BASE_URL"),
			APIKey:   os.Getenv("DELEGATE_API_KEY"),
		}
	}

	config.Engine = EngineConfig{
		DefaultOwner:            os.Getenv("RECALL_DEFAULT_OWNER"),
		CacheAdmissionThreshold: getEnvFloat("RECALL_CACHE_THRESHOLD"),
		CacheCapacity:           getEnvInt("RECALL_CACHE_CAPACITY"),
		VectorSimilarityFloor:   getEnvFloat("RECALL_VECTOR_FLOOR"),
		VectorCandidateLimit:    getEnvInt("RECALL_VECTOR_CANDIDATES"),
		DelegateTimeoutSeconds:  getEnvInt("RECALL_DELEGATE_TIMEOUT_SECONDS"),
		SessionRetentionDays:    getEnvInt("RECALL_SESSION_RETENTION_DAYS"),
		JanitorIntervalHours:    getEnvInt("RECALL_JANITOR_INTERVAL_HOURS"),
	}

	return config, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewEngineError("LoadConfigFromJSON", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, NewEngineError("LoadConfigFromJSON", err)
	}

	return &config, nil
}

// Validate checks that the configuration can build an engine.
func (c *Config) Validate() error {
	if c.Store.Provider == "" {
		return NewEngineError("Validate", ErrInvalidConfig)
	}
	if c.Embedder != nil && c.Embedder.Provider == "" {
		return NewEngineError("Validate", ErrInvalidConfig)
	}
	if c.Delegate != nil && c.Delegate.Provider == "" {
		return NewEngineError("Validate", ErrInvalidConfig)
	}
	return nil
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt parses an integer environment variable, zero if unset.
func getEnvInt(key string) int {
	v, _ := strconv.Atoi(os.Getenv(key))
	return v
}

// getEnvFloat parses a float environment variable, zero if unset.
func getEnvFloat(key string) float64 {
	v, _ := strconv.ParseFloat(os.Getenv(key), 64)
	return v
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
//
// Returns the path to the found file and whether one was found.
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
