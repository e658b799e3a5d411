package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	CORS      CORSConfig
	Reconcile ReconcileConfig
	Metrics   MetricsConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string
	Env  string
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string
	PoolMin  int
	PoolMax  int
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	Origins []string
}

// ReconcileConfig holds the tunables of the reconciliation engine.
// Durations parse with time.ParseDuration.
type ReconcileConfig struct {
	ChunkSize         int
	ChunkPause        time.Duration
	OperationTimeout  time.Duration
	SnapshotPageSize  int
	MaxChunkAttempts  int
	RetryBaseDelay    time.Duration
	HeartbeatInterval time.Duration
	RunIdleTimeout    time.Duration
	UploadMaxBytes    int64
}

// MetricsConfig holds Prometheus exposition configuration.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// Load reads configuration from environment variables.
// It uses viper to read values and provides sensible defaults for development.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_HOST", "host.docker.internal")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "appraisal")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_POOL_MIN", 2)
	v.SetDefault("DB_POOL_MAX", 10)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000,http://localhost:3001")

	v.SetDefault("RECONCILE_CHUNK_SIZE", 500)
	v.SetDefault("RECONCILE_CHUNK_PAUSE", "100ms")
	v.SetDefault("RECONCILE_OPERATION_TIMEOUT", "15m")
	v.SetDefault("RECONCILE_SNAPSHOT_PAGE_SIZE", 1000)
	v.SetDefault("RECONCILE_MAX_CHUNK_ATTEMPTS", 3)
	v.SetDefault("RECONCILE_RETRY_BASE_DELAY", "500ms")
	v.SetDefault("RECONCILE_HEARTBEAT_INTERVAL", "10s")
	v.SetDefault("RECONCILE_RUN_IDLE_TIMEOUT", "30m")
	v.SetDefault("RECONCILE_UPLOAD_MAX_BYTES", 64<<20)

	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("METRICS_PATH", "/metrics")

	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetString("PORT"),
			Env:  v.GetString("ENV"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			Name:     v.GetString("DB_NAME"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			SSLMode:  v.GetString("DB_SSLMODE"),
			PoolMin:  v.GetInt("DB_POOL_MIN"),
			PoolMax:  v.GetInt("DB_POOL_MAX"),
		},
		CORS: CORSConfig{
			Origins: parseOrigins(v.GetString("CORS_ORIGINS")),
		},
		Reconcile: ReconcileConfig{
			ChunkSize:         v.GetInt("RECONCILE_CHUNK_SIZE"),
			ChunkPause:        v.GetDuration("RECONCILE_CHUNK_PAUSE"),
			OperationTimeout:  v.GetDuration("RECONCILE_OPERATION_TIMEOUT"),
			SnapshotPageSize:  v.GetInt("RECONCILE_SNAPSHOT_PAGE_SIZE"),
			MaxChunkAttempts:  v.GetInt("RECONCILE_MAX_CHUNK_ATTEMPTS"),
			RetryBaseDelay:    v.GetDuration("RECONCILE_RETRY_BASE_DELAY"),
			HeartbeatInterval: v.GetDuration("RECONCILE_HEARTBEAT_INTERVAL"),
			RunIdleTimeout:    v.GetDuration("RECONCILE_RUN_IDLE_TIMEOUT"),
			UploadMaxBytes:    v.GetInt64("RECONCILE_UPLOAD_MAX_BYTES"),
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("METRICS_ENABLED"),
			Path:    v.GetString("METRICS_PATH"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if err := c.Database.Validate(); err != nil {
		return err
	}

	if len(c.CORS.Origins) == 0 {
		return fmt.Errorf("CORS_ORIGINS is required")
	}

	if err := c.Reconcile.Validate(); err != nil {
		return err
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("METRICS_PATH must start with /")
	}

	return nil
}

// Validate checks the database section on its own so the CLI can reuse it.
func (d DatabaseConfig) Validate() error {
	if d.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if d.Port == "" {
		return fmt.Errorf("DB_PORT is required")
	}
	if d.Name == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if d.User == "" {
		return fmt.Errorf("DB_USER is required")
	}
	if d.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if d.PoolMin < 0 {
		return fmt.Errorf("DB_POOL_MIN must be non-negative")
	}
	if d.PoolMax < 1 {
		return fmt.Errorf("DB_POOL_MAX must be at least 1")
	}
	if d.PoolMin > d.PoolMax {
		return fmt.Errorf("DB_POOL_MIN must be less than or equal to DB_POOL_MAX")
	}
	return nil
}

// Validate checks the engine tunables.
func (r ReconcileConfig) Validate() error {
	if r.ChunkSize < 1 {
		return fmt.Errorf("RECONCILE_CHUNK_SIZE must be at least 1")
	}
	if r.ChunkPause < 0 {
		return fmt.Errorf("RECONCILE_CHUNK_PAUSE must be non-negative")
	}
	if r.OperationTimeout <= 0 {
		return fmt.Errorf("RECONCILE_OPERATION_TIMEOUT must be positive")
	}
	if r.SnapshotPageSize < 1 {
		return fmt.Errorf("RECONCILE_SNAPSHOT_PAGE_SIZE must be at least 1")
	}
	if r.MaxChunkAttempts < 1 {
		return fmt.Errorf("RECONCILE_MAX_CHUNK_ATTEMPTS must be at least 1")
	}
	if r.RetryBaseDelay < 0 {
		return fmt.Errorf("RECONCILE_RETRY_BASE_DELAY must be non-negative")
	}
	if r.RunIdleTimeout <= 0 {
		return fmt.Errorf("RECONCILE_RUN_IDLE_TIMEOUT must be positive")
	}
	if r.UploadMaxBytes < 1 {
		return fmt.Errorf("RECONCILE_UPLOAD_MAX_BYTES must be positive")
	}
	return nil
}

// parseOrigins splits a comma-separated string of origins into a slice.
func parseOrigins(origins string) []string {
	if origins == "" {
		return []string{}
	}

	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
