// Package config loads the client configuration from layered YAML files and
// environment variables, and hot reloads the dynamic parts in development.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Environment is the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Backend drivers.
const (
	DriverMemory   = "memory"
	DriverSupabase = "supabase"
	DriverDynamoDB = "dynamodb"
)

// Config holds all application configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	Server  Server  `yaml:"server"`
	Backend Backend `yaml:"backend"`
	Breaker Breaker `yaml:"breaker"`
	Cache   Cache   `yaml:"cache"`
	Session Session `yaml:"session"`
	Media   Media   `yaml:"media"`
	Logging Logging `yaml:"logging"`
	Tracing Tracing `yaml:"tracing"`
	Metrics Metrics `yaml:"metrics"`

	// LoadedFrom lists the sources in the order they were applied.
	LoadedFrom []string `yaml:"-"`
}

// Server configures the HTTP view layer.
type Server struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// Backend selects and configures the remote backend driver.
type Backend struct {
	Driver string `yaml:"driver"`

	SupabaseURL    string `yaml:"supabase_url"`
	SupabaseKey    string `yaml:"supabase_key"`
	StorageBucket  string `yaml:"storage_bucket"`
	DocumentsTable string `yaml:"documents_table"`
	DocumentsIndex string `yaml:"documents_index"`
	AWSRegion      string `yaml:"aws_region"`
	// DynamoEndpoint overrides the DynamoDB endpoint, for local instances.
	DynamoEndpoint string `yaml:"dynamo_endpoint"`

	// PreviewBaseURL prefixes asset preview URLs of the memory driver.
	PreviewBaseURL string `yaml:"preview_base_url"`
	AvatarBaseURL  string `yaml:"avatar_base_url"`
}

// Breaker configures the circuit breaker around the backend.
type Breaker struct {
	MaxRequests      uint32        `yaml:"max_requests"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold float64       `yaml:"failure_threshold"`
	MinRequests      uint32        `yaml:"min_requests"`
}

// Cache configures the query cache.
type Cache struct {
	// StaleTime is how long fetched data is served without revalidation.
	// Zero revalidates on every read; negative only on invalidation.
	StaleTime time.Duration `yaml:"stale_time"`
}

// Session configures the local session marker.
type Session struct {
	DataDir string `yaml:"data_dir"`
}

// MarkerPath is the SQLite file holding the session marker.
func (s Session) MarkerPath() string {
	return filepath.Join(s.DataDir, "session.db")
}

// Media configures image normalization.
type Media struct {
	MaxDimension uint `yaml:"max_dimension"`
}

// Logging configures the zap logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Tracing configures OpenTelemetry export.
type Tracing struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
	Insecure    bool    `yaml:"insecure"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Namespace string `yaml:"namespace"`
	Path      string `yaml:"path"`
}

// IsDevelopment reports whether hot reload and console logging apply.
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// Validate checks the configuration for missing or inconsistent values.
func (c *Config) Validate() error {
	switch c.Environment {
	case Development, Staging, Production:
	default:
		return fmt.Errorf("unknown environment %q", c.Environment)
	}

	if c.Server.Address == "" {
		return fmt.Errorf("server address is required")
	}

	switch c.Backend.Driver {
	case DriverMemory:
		if c.Environment == Production {
			return fmt.Errorf("memory backend is not allowed in production")
		}
	case DriverSupabase:
		if c.Backend.SupabaseURL == "" || c.Backend.SupabaseKey == "" {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_KEY are required for the supabase backend")
		}
		if c.Backend.StorageBucket == "" {
			return fmt.Errorf("STORAGE_BUCKET is required for the supabase backend")
		}
	case DriverDynamoDB:
		if c.Backend.DocumentsTable == "" {
			return fmt.Errorf("DOCUMENTS_TABLE is required for the dynamodb backend")
		}
		if c.Backend.SupabaseURL == "" || c.Backend.SupabaseKey == "" || c.Backend.StorageBucket == "" {
			return fmt.Errorf("the dynamodb backend keeps accounts and assets on supabase: SUPABASE_URL, SUPABASE_KEY and STORAGE_BUCKET are required")
		}
	default:
		return fmt.Errorf("unknown backend driver %q", c.Backend.Driver)
	}

	if c.Breaker.FailureThreshold <= 0 || c.Breaker.FailureThreshold > 1 {
		return fmt.Errorf("breaker failure threshold must be in (0, 1], got %v", c.Breaker.FailureThreshold)
	}
	if c.Session.DataDir == "" {
		return fmt.Errorf("session data dir is required")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing endpoint is required when tracing is enabled")
	}
	return nil
}
