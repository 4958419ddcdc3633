package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/timmy/storydedup/internal/domain"
)

type Config struct {
	Dedup       DedupConfig       `mapstructure:"dedup"`
	Database    DatabaseConfig    `mapstructure:"database"`
	VectorIndex VectorIndexConfig `mapstructure:"vector_index"`
	Qdrant      QdrantConfig      `mapstructure:"qdrant"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	Snapshot    SnapshotConfig    `mapstructure:"snapshot"`
	Batch       BatchConfig       `mapstructure:"batch"`
	Log         LogConfig         `mapstructure:"log"`
}

// DedupConfig holds the engine switches, thresholds and hybrid weights.
type DedupConfig struct {
	EnableSignatureDedup bool `mapstructure:"enable_signature_dedup"`
	StrictMode           bool `mapstructure:"strict_mode"`
	EnableSemanticDedup  bool `mapstructure:"enable_semantic_dedup"`

	SimilarityThresholdMedium float64 `mapstructure:"similarity_threshold_medium"`
	SimilarityThresholdHigh   float64 `mapstructure:"similarity_threshold_high"`

	HybridCanonicalWeight    float64 `mapstructure:"hybrid_canonical_weight"`
	HybridSemanticWeight     float64 `mapstructure:"hybrid_semantic_weight"`
	HybridDuplicateThreshold float64 `mapstructure:"hybrid_duplicate_threshold"`

	// SaveOnCommit persists the vector index after every accepted artifact.
	SaveOnCommit bool `mapstructure:"save_on_commit"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite or postgres
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

type VectorIndexConfig struct {
	Backend     string        `mapstructure:"backend"` // local or qdrant
	Dir         string        `mapstructure:"dir"`
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
	Collection string `mapstructure:"collection"`
}

type SnapshotConfig struct {
	Type      string `mapstructure:"type"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Prefix    string `mapstructure:"prefix"`
}

type BatchConfig struct {
	Workers int `mapstructure:"workers"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// envBindings maps config keys to the environment variables that override them.
var envBindings = map[string]string{
	"dedup.enable_signature_dedup":      "ENABLE_SIGNATURE_DEDUP",
	"dedup.strict_mode":                 "STRICT_MODE",
	"dedup.enable_semantic_dedup":       "ENABLE_SEMANTIC_DEDUP",
	"dedup.similarity_threshold_medium": "SIMILARITY_THRESHOLD_MEDIUM",
	"dedup.similarity_threshold_high":   "SIMILARITY_THRESHOLD_HIGH",
	"dedup.hybrid_canonical_weight":     "HYBRID_CANONICAL_WEIGHT",
	"dedup.hybrid_semantic_weight":      "HYBRID_SEMANTIC_WEIGHT",
	"dedup.hybrid_duplicate_threshold":  "HYBRID_DUPLICATE_THRESHOLD",
	"dedup.save_on_commit":              "SAVE_ON_COMMIT",
	"database.driver":                   "DATABASE_DRIVER",
	"database.path":                     "DATABASE_PATH",
	"database.dsn":                      "DATABASE_DSN",
	"vector_index.backend":              "VECTOR_INDEX_BACKEND",
	"vector_index.dir":                  "VECTOR_INDEX_DIR",
	"qdrant.host":                       "QDRANT_HOST",
	"qdrant.port":                       "QDRANT_PORT",
	"qdrant.api_key":                    "QDRANT_API_KEY",
	"qdrant.use_tls":                    "QDRANT_USE_TLS",
	"qdrant.collection":                 "QDRANT_COLLECTION",
	"embedding.provider":                "EMBEDDING_PROVIDER",
	"embedding.model":                   "EMBEDDING_MODEL",
	"embedding.api_key":                 "EMBEDDING_API_KEY",
	"embedding.base_url":                "EMBEDDING_BASE_URL",
	"embedding.dimensions":              "EMBEDDING_DIMENSIONS",
	"embedding.rate_limit":              "EMBEDDING_RATE_LIMIT",
	"snapshot.endpoint":                 "SNAPSHOT_ENDPOINT",
	"snapshot.access_key":               "SNAPSHOT_ACCESS_KEY",
	"snapshot.secret_key":               "SNAPSHOT_SECRET_KEY",
	"snapshot.use_ssl":                  "SNAPSHOT_USE_SSL",
	"snapshot.bucket":                   "SNAPSHOT_BUCKET",
	"snapshot.region":                   "SNAPSHOT_REGION",
	"snapshot.prefix":                   "SNAPSHOT_PREFIX",
	"batch.workers":                     "BATCH_WORKERS",
	"log.level":                         "LOG_LEVEL",
	"log.format":                        "LOG_FORMAT",
	"log.file":                          "LOG_FILE",
}

// strictKeys are parsed by hand so a bad value is reported under its env name.
var (
	strictFloatKeys = []string{
		"dedup.similarity_threshold_medium",
		"dedup.similarity_threshold_high",
		"dedup.hybrid_canonical_weight",
		"dedup.hybrid_semantic_weight",
		"dedup.hybrid_duplicate_threshold",
	}
	strictBoolKeys = []string{
		"dedup.enable_signature_dedup",
		"dedup.strict_mode",
		"dedup.enable_semantic_dedup",
		"dedup.save_on_commit",
	}
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("dedup.enable_signature_dedup", true)
	v.SetDefault("dedup.strict_mode", false)
	v.SetDefault("dedup.enable_semantic_dedup", true)
	v.SetDefault("dedup.similarity_threshold_medium", 0.70)
	v.SetDefault("dedup.similarity_threshold_high", 0.85)
	v.SetDefault("dedup.hybrid_canonical_weight", 0.3)
	v.SetDefault("dedup.hybrid_semantic_weight", 0.7)
	v.SetDefault("dedup.hybrid_duplicate_threshold", 0.85)
	v.SetDefault("dedup.save_on_commit", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/dedup.db")
	v.SetDefault("vector_index.backend", "local")
	v.SetDefault("vector_index.dir", "./data/index")
	v.SetDefault("vector_index.lock_timeout", 10*time.Second)
	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "story_embeddings")
	v.SetDefault("embedding.provider", "jina")
	v.SetDefault("embedding.model", "jina-embeddings-v3")
	v.SetDefault("embedding.dimensions", 1024)
	v.SetDefault("embedding.rate_limit", 0.0)
	v.SetDefault("embedding.timeout", 30*time.Second)
	v.SetDefault("snapshot.use_ssl", true)
	v.SetDefault("snapshot.prefix", "index")
	v.SetDefault("batch.workers", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads configuration from an optional YAML file, .env and the environment.
// Environment variables win over the file, the file wins over defaults.
func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if err := checkStrictValues(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &domain.ConfigurationError{Key: "config", Reason: err.Error()}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func checkStrictValues(v *viper.Viper) error {
	for _, key := range strictFloatKeys {
		raw := strings.TrimSpace(v.GetString(key))
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return &domain.ConfigurationError{Key: envBindings[key], Value: raw, Reason: "not a number"}
		}
		if !isFinite(f) {
			return &domain.ConfigurationError{Key: envBindings[key], Value: raw, Reason: "must be a finite number"}
		}
	}
	for _, key := range strictBoolKeys {
		raw := strings.TrimSpace(v.GetString(key))
		if _, err := strconv.ParseBool(raw); err != nil {
			return &domain.ConfigurationError{Key: envBindings[key], Value: raw, Reason: "not a boolean"}
		}
	}
	return nil
}

// Validate checks ranges and cross-field constraints. All failures are *domain.ConfigurationError.
func (c *Config) Validate() error {
	if err := c.Dedup.Validate(); err != nil {
		return err
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return &domain.ConfigurationError{Key: "DATABASE_DRIVER", Value: c.Database.Driver, Reason: "must be sqlite or postgres"}
	}
	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		return &domain.ConfigurationError{Key: "DATABASE_DSN", Reason: "required for postgres"}
	}
	switch c.VectorIndex.Backend {
	case "local", "qdrant":
	default:
		return &domain.ConfigurationError{Key: "VECTOR_INDEX_BACKEND", Value: c.VectorIndex.Backend, Reason: "must be local or qdrant"}
	}
	if c.Batch.Workers <= 0 {
		return &domain.ConfigurationError{Key: "BATCH_WORKERS", Value: strconv.Itoa(c.Batch.Workers), Reason: "must be positive"}
	}
	return c.Embedding.Validate()
}

// Validate checks thresholds lie in [0,1] with medium <= high, and that weights are usable.
func (d DedupConfig) Validate() error {
	unit := []struct {
		key string
		val float64
	}{
		{"SIMILARITY_THRESHOLD_MEDIUM", d.SimilarityThresholdMedium},
		{"SIMILARITY_THRESHOLD_HIGH", d.SimilarityThresholdHigh},
		{"HYBRID_DUPLICATE_THRESHOLD", d.HybridDuplicateThreshold},
	}
	for _, u := range unit {
		if !isFinite(u.val) || u.val < 0 || u.val > 1 {
			return &domain.ConfigurationError{Key: u.key, Value: formatFloat(u.val), Reason: "must be between 0.0 and 1.0"}
		}
	}
	if d.SimilarityThresholdMedium > d.SimilarityThresholdHigh {
		return &domain.ConfigurationError{
			Key:    "SIMILARITY_THRESHOLD_MEDIUM",
			Value:  formatFloat(d.SimilarityThresholdMedium),
			Reason: "must not exceed SIMILARITY_THRESHOLD_HIGH",
		}
	}
	weights := []struct {
		key string
		val float64
	}{
		{"HYBRID_CANONICAL_WEIGHT", d.HybridCanonicalWeight},
		{"HYBRID_SEMANTIC_WEIGHT", d.HybridSemanticWeight},
	}
	for _, w := range weights {
		if !isFinite(w.val) {
			return &domain.ConfigurationError{Key: w.key, Value: formatFloat(w.val), Reason: "must be a finite number"}
		}
		if w.val < 0 {
			return &domain.ConfigurationError{Key: w.key, Value: formatFloat(w.val), Reason: "must not be negative"}
		}
	}
	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// DefaultDedup returns the engine defaults without touching files or the environment.
func DefaultDedup() DedupConfig {
	return DedupConfig{
		EnableSignatureDedup:      true,
		EnableSemanticDedup:       true,
		SimilarityThresholdMedium: 0.70,
		SimilarityThresholdHigh:   0.85,
		HybridCanonicalWeight:     0.3,
		HybridSemanticWeight:      0.7,
		HybridDuplicateThreshold:  0.85,
		SaveOnCommit:              true,
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
