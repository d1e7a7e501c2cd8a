// Package config loads and validates the shingles configuration from YAML
// files with environment-variable overrides. It provides typed structs for
// the shingle generator, the detector, every index backend, Kafka ingestion,
// logging and metrics.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names accepted by IndexConfig.Backend.
const (
	BackendMemory   = "memory"
	BackendSegment  = "segment"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendBadger   = "badger"
)

// Candidate strategies accepted by DetectorConfig.Candidates.
const (
	CandidatesByHash   = "hash"
	CandidatesBySketch = "sketch"
)

// Config is the top-level application configuration.
type Config struct {
	Shingle  ShingleConfig  `yaml:"shingle"`
	Detector DetectorConfig `yaml:"detector"`
	Index    IndexConfig    `yaml:"index"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Badger   BadgerConfig   `yaml:"badger"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Retry    RetryConfig    `yaml:"retry"`
}

// ShingleConfig controls how text is turned into a sketch.
type ShingleConfig struct {
	NGramLength int `yaml:"nGramLength"`
	SketchSize  int `yaml:"sketchSize"`
}

// DetectorConfig controls when two sketches are considered near-duplicates.
type DetectorConfig struct {
	MaxDistance float64 `yaml:"maxDistance"`
	Candidates  string  `yaml:"candidates"`
}

// IndexConfig selects the index backend and its namespace.
type IndexConfig struct {
	Backend string `yaml:"backend"`
	Name    string `yaml:"name"`
	DataDir string `yaml:"dataDir"`
}

// SQLiteConfig holds the embedded SQLite database location.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	PoolSize  int    `yaml:"poolSize"`
	KeyPrefix string `yaml:"keyPrefix"`
}

// BadgerConfig controls the embedded BadgerDB backend.
type BadgerConfig struct {
	InMemory   bool `yaml:"inMemory"`
	SyncWrites bool `yaml:"syncWrites"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	Documents    string `yaml:"documents"`
	Similarities string `yaml:"similarities"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics and health server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// RetryConfig controls how often connecting to an external backend is
// attempted at startup.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"maxAttempts"`
	InitialDelay time.Duration `yaml:"initialDelay"`
	MaxDelay     time.Duration `yaml:"maxDelay"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values and validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with the defaults used for local runs: an
// in-memory index, 3-word shingles and a 200-hash sketch.
func Default() *Config {
	return &Config{
		Shingle: ShingleConfig{
			NGramLength: 3,
			SketchSize:  200,
		},
		Detector: DetectorConfig{
			MaxDistance: 0.3,
			Candidates:  CandidatesByHash,
		},
		Index: IndexConfig{
			Backend: BackendMemory,
			Name:    "shingles",
			DataDir: "data/shingles",
		},
		SQLite: SQLiteConfig{
			Path: "data/shingles/shingles.db",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "shingles",
			User:            "shingles",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "shingles",
		},
		Badger: BadgerConfig{
			SyncWrites: true,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "shingles-group",
			Topics: KafkaTopics{
				Documents:    "shingles-documents",
				Similarities: "shingles-similarities",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9091,
		},
		Retry: RetryConfig{
			MaxAttempts:  5,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
		},
	}
}

// Validate rejects values the generator, the detector or the backend
// factory cannot work with.
func (c *Config) Validate() error {
	if c.Shingle.NGramLength < 1 {
		return fmt.Errorf("shingle.nGramLength must be at least 1, got %d", c.Shingle.NGramLength)
	}
	if c.Detector.MaxDistance <= 0 || c.Detector.MaxDistance > 1 {
		return fmt.Errorf("detector.maxDistance must be in (0, 1], got %v", c.Detector.MaxDistance)
	}
	switch c.Detector.Candidates {
	case CandidatesByHash, CandidatesBySketch:
	default:
		return fmt.Errorf("detector.candidates must be %q or %q, got %q",
			CandidatesByHash, CandidatesBySketch, c.Detector.Candidates)
	}
	switch c.Index.Backend {
	case BackendMemory, BackendSegment, BackendSQLite, BackendPostgres, BackendRedis, BackendBadger:
	default:
		return fmt.Errorf("unknown index.backend %q", c.Index.Backend)
	}
	if c.Index.Name == "" {
		return fmt.Errorf("index.name must not be empty")
	}
	return nil
}

// applyEnvOverrides reads SHINGLES_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SHINGLES_NGRAM_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Shingle.NGramLength = n
		}
	}
	if v := os.Getenv("SHINGLES_SKETCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Shingle.SketchSize = n
		}
	}
	if v := os.Getenv("SHINGLES_MAX_DISTANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Detector.MaxDistance = f
		}
	}
	if v := os.Getenv("SHINGLES_CANDIDATES"); v != "" {
		cfg.Detector.Candidates = v
	}
	if v := os.Getenv("SHINGLES_INDEX_BACKEND"); v != "" {
		cfg.Index.Backend = v
	}
	if v := os.Getenv("SHINGLES_INDEX_NAME"); v != "" {
		cfg.Index.Name = v
	}
	if v := os.Getenv("SHINGLES_INDEX_DATA_DIR"); v != "" {
		cfg.Index.DataDir = v
	}
	if v := os.Getenv("SHINGLES_SQLITE_PATH"); v != "" {
		cfg.SQLite.Path = v
	}
	if v := os.Getenv("SHINGLES_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SHINGLES_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("SHINGLES_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("SHINGLES_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("SHINGLES_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SHINGLES_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("SHINGLES_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SHINGLES_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SHINGLES_BADGER_IN_MEMORY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Badger.InMemory = b
		}
	}
	if v := os.Getenv("SHINGLES_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SHINGLES_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SHINGLES_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("SHINGLES_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
