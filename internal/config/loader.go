package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// CONFIGURATION LOADER
// ============================================================================

// Loader builds a Config from, in increasing priority: defaults, base.yaml,
// <environment>.yaml, local.yaml (development only) and environment
// variables.
type Loader struct {
	dir         string
	environment Environment
	getenv      func(string) string
}

// NewLoader creates a loader reading files from dir.
func NewLoader(dir string, env Environment) *Loader {
	if dir == "" {
		dir = "config"
	}
	if env == "" {
		env = Development
	}
	return &Loader{dir: dir, environment: env, getenv: os.Getenv}
}

// Dir returns the configuration directory.
func (l *Loader) Dir() string {
	return l.dir
}

// Load reads every source and validates the result.
func (l *Loader) Load() (*Config, error) {
	cfg := defaultConfig(l.environment)
	cfg.LoadedFrom = append(cfg.LoadedFrom, "defaults")

	files := []string{"base", strings.ToLower(string(l.environment))}
	if l.environment == Development {
		files = append(files, "local")
	}
	for _, name := range files {
		path, err := l.loadFile(name, cfg)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load %s config: %w", name, err)
		}
		cfg.LoadedFrom = append(cfg.LoadedFrom, path)
	}

	l.applyEnvironment(cfg)
	cfg.LoadedFrom = append(cfg.LoadedFrom, "environment")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes <name>.yaml or <name>.yml over cfg.
func (l *Loader) loadFile(name string, cfg *Config) (string, error) {
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(l.dir, name+ext)
		f, err := os.Open(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		err = decodeYAML(f, cfg)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return path, nil
	}
	return "", fs.ErrNotExist
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnvironment overlays environment variables.
func (l *Loader) applyEnvironment(cfg *Config) {
	setString(&cfg.Server.Address, l.getenv("SERVER_ADDRESS"))

	setString(&cfg.Backend.Driver, l.getenv("BACKEND_DRIVER"))
	setString(&cfg.Backend.SupabaseURL, l.getenv("SUPABASE_URL"))
	setString(&cfg.Backend.SupabaseKey, l.getenv("SUPABASE_KEY"))
	setString(&cfg.Backend.StorageBucket, l.getenv("STORAGE_BUCKET"))
	setString(&cfg.Backend.DocumentsTable, l.getenv("DOCUMENTS_TABLE"))
	setString(&cfg.Backend.DocumentsIndex, l.getenv("DOCUMENTS_INDEX"))
	setString(&cfg.Backend.AWSRegion, l.getenv("AWS_REGION"))
	setString(&cfg.Backend.DynamoEndpoint, l.getenv("DYNAMO_ENDPOINT"))

	setString(&cfg.Session.DataDir, l.getenv("DATA_DIR"))
	setString(&cfg.Logging.Level, l.getenv("LOG_LEVEL"))
	setString(&cfg.Logging.Format, l.getenv("LOG_FORMAT"))

	if val := l.getenv("CACHE_STALE_TIME"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Cache.StaleTime = d
		}
	}
	if val := l.getenv("ENABLE_TRACING"); val != "" {
		cfg.Tracing.Enabled = parseBool(val)
	}
	setString(&cfg.Tracing.Endpoint, l.getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
}

func defaultConfig(env Environment) *Config {
	cfg := &Config{
		Environment: env,
		Server: Server{
			Address:         ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxUploadBytes:  10 * 1024 * 1024,
			AllowedOrigins:  []string{"*"},
		},
		Backend: Backend{
			Driver:         DriverMemory,
			DocumentsIndex: "by_updated",
			AvatarBaseURL:  "https://cloud.appwrite.io/v1/avatars/initials",
		},
		Breaker: Breaker{
			MaxRequests:      3,
			Interval:         30 * time.Second,
			Timeout:          20 * time.Second,
			FailureThreshold: 0.6,
			MinRequests:      5,
		},
		Cache: Cache{
			StaleTime: 30 * time.Second,
		},
		Session: Session{
			DataDir: "data",
		},
		Media: Media{
			MaxDimension: 2000,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Tracing: Tracing{
			ServiceName: "snapgram",
			SampleRate:  0.1,
		},
		Metrics: Metrics{
			Namespace: "snapgram",
			Path:      "/metrics",
		},
	}
	if env == Development {
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "console"
		cfg.Tracing.SampleRate = 1
		cfg.Tracing.Insecure = true
	}
	return cfg
}

// ============================================================================
// HELPER FUNCTIONS
// ============================================================================

func setString(dst *string, val string) {
	if val != "" {
		*dst = val
	}
}

func parseBool(s string) bool {
	val, _ := strconv.ParseBool(s)
	return val
}

// EnvironmentFromEnv reads ENVIRONMENT, defaulting to development.
func EnvironmentFromEnv() Environment {
	switch env := Environment(strings.ToLower(os.Getenv("ENVIRONMENT"))); env {
	case Staging, Production:
		return env
	default:
		return Development
	}
}

// Load loads the configuration from CONFIG_DIR (default "config") for the
// environment named by ENVIRONMENT.
func Load() (*Config, error) {
	return NewLoader(os.Getenv("CONFIG_DIR"), EnvironmentFromEnv()).Load()
}
