package types

import (
	"errors"
	"time"
)

// Config holds backend selection and engine parameters.
type Config struct {
	Backend     string `json:"backend" yaml:"backend" mapstructure:"backend"`
	DataDir     string `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
	PostgresDSN string `json:"postgres_dsn" yaml:"postgres_dsn" mapstructure:"postgres_dsn"`

	RedisAddr     string `json:"redis_addr" yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string `json:"redis_password" yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int    `json:"redis_db" yaml:"redis_db" mapstructure:"redis_db"`

	CacheTTL             time.Duration `json:"cache_ttl" yaml:"cache_ttl" mapstructure:"cache_ttl"`
	StorageTimeout       time.Duration `json:"storage_timeout" yaml:"storage_timeout" mapstructure:"storage_timeout"`
	AutoCreateSpaces     bool          `json:"auto_create_spaces" yaml:"auto_create_spaces" mapstructure:"auto_create_spaces"`
	HashCost             int           `json:"hash_cost" yaml:"hash_cost" mapstructure:"hash_cost"`
	HashedCandidateLimit int           `json:"hashed_candidate_limit" yaml:"hashed_candidate_limit" mapstructure:"hashed_candidate_limit"`

	ListenAddr     string   `json:"listen_addr" yaml:"listen_addr" mapstructure:"listen_addr"`
	JWTSecret      string   `json:"jwt_secret" yaml:"jwt_secret" mapstructure:"jwt_secret"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" mapstructure:"allowed_origins"`

	LogLevel string `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	LogJSON  bool   `json:"log_json" yaml:"log_json" mapstructure:"log_json"`
}

// Supported backend names.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Defaults applied by DefaultConfig.
const (
	DefaultCacheTTL             = 30 * time.Second
	DefaultStorageTimeout       = 5 * time.Second
	DefaultHashCost             = 10
	DefaultHashedCandidateLimit = 1000
	DefaultListenAddr           = ":8080"
)

// Config validation errors.
var (
	ErrBackendEmpty        = errors.New("backend must not be empty")
	ErrBackendUnknown      = errors.New("unknown backend")
	ErrPostgresDSNEmpty    = errors.New("postgres backend requires postgres_dsn")
	ErrTimeoutInvalid      = errors.New("storage_timeout must be positive")
	ErrCacheTTLInvalid     = errors.New("cache_ttl must be positive")
	ErrCandidateLimitEmpty = errors.New("hashed_candidate_limit must be positive")
)

// knownBackends lists the backends that Validate accepts.
var knownBackends = map[string]bool{
	BackendSQLite:   true,
	BackendPostgres: true,
	BackendMemory:   true,
}

// DefaultConfig returns a Config for a local SQLite backend with an
// in-process cache.
func DefaultConfig() Config {
	return Config{
		Backend:              BackendSQLite,
		CacheTTL:             DefaultCacheTTL,
		StorageTimeout:       DefaultStorageTimeout,
		AutoCreateSpaces:     true,
		HashCost:             DefaultHashCost,
		HashedCandidateLimit: DefaultHashedCandidateLimit,
		ListenAddr:           DefaultListenAddr,
		AllowedOrigins:       []string{"*"},
		LogLevel:             "info",
	}
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return ErrBackendUnknown
	}
	if c.Backend == BackendPostgres && c.PostgresDSN == "" {
		return ErrPostgresDSNEmpty
	}
	if c.StorageTimeout <= 0 {
		return ErrTimeoutInvalid
	}
	if c.CacheTTL <= 0 {
		return ErrCacheTTLInvalid
	}
	if c.HashedCandidateLimit <= 0 {
		return ErrCandidateLimitEmpty
	}
	return nil
}
