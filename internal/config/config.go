// Package config loads and validates the admin backend configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the GGR_ prefix (e.g., GGR_AUDIT_BACKEND
// overrides audit.backend in the YAML).
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	DefaultBackend string             `mapstructure:"default_backend"`
	Azure          AzureStorageConfig `mapstructure:"azure"`
	S3             S3StorageConfig    `mapstructure:"s3"`
	GCS            GCSStorageConfig   `mapstructure:"gcs"`
	Local          LocalStorageConfig `mapstructure:"local"`
}

// AzureStorageConfig holds Azure Blob Storage configuration
type AzureStorageConfig struct {
	AccountName   string `mapstructure:"account_name"`
	AccountKey    string `mapstructure:"account_key"`
	ContainerName string `mapstructure:"container_name"`
}

// S3StorageConfig holds S3-compatible storage configuration
type S3StorageConfig struct {
	// Endpoint is optional, for MinIO and other S3-compatible services
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`

	// AuthMethod is one of "default", "static", "assume_role"
	AuthMethod      string `mapstructure:"auth_method"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	RoleARN         string `mapstructure:"role_arn"`
	ExternalID      string `mapstructure:"external_id"`
}

// GCSStorageConfig holds Google Cloud Storage configuration
type GCSStorageConfig struct {
	Bucket          string `mapstructure:"bucket"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`
	// Endpoint is an optional custom endpoint (for GCS emulators)
	Endpoint string `mapstructure:"endpoint"`
}

// LocalStorageConfig holds local filesystem storage configuration
type LocalStorageConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// RedisConfig holds the Redis connection used by the redis audit backend and
// the distributed rate limiter.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig holds authentication configuration.
// Tokens are issued by the hosted backend; this service only verifies them.
type AuthConfig struct {
	// Issuer, when set, must match the iss claim of incoming tokens
	Issuer string `mapstructure:"issuer"`
	// RoleClaim names the claim holding the dashboard role (super_admin, admin, moderator, user)
	RoleClaim string `mapstructure:"role_claim"`
}

// AuditConfig holds audit trail configuration
type AuditConfig struct {
	// Backend selects the backing store: memory, blob, redis, postgres
	Backend string `mapstructure:"backend"`
	// BlobKey is the fixed object key used by the blob backend
	BlobKey string `mapstructure:"blob_key"`
	// RedisKey is the fixed key used by the redis backend
	RedisKey string `mapstructure:"redis_key"`
	// RedisChannel receives a message after every redis backend write
	RedisChannel string `mapstructure:"redis_channel"`
	// Delimiter used by the delimited-text export
	Delimiter string `mapstructure:"delimiter"`
	// LogReadOperations records GET requests made to this service
	LogReadOperations bool `mapstructure:"log_read_operations"`
	// Archive configures the periodic export archive job
	Archive AuditArchiveConfig `mapstructure:"archive"`
	// Shippers configures external log shipping
	Shippers []AuditShipperConfig `mapstructure:"shippers"`
}

// AuditArchiveConfig holds configuration for the archive job
type AuditArchiveConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	IntervalHours int    `mapstructure:"interval_hours"`
	Format        string `mapstructure:"format"`
	// Keep is how many archives to retain under exports/; 0 keeps all
	Keep          int    `mapstructure:"keep"`
}

// AuditShipperConfig holds configuration for a single audit shipper
type AuditShipperConfig struct {
	Enabled bool                `mapstructure:"enabled"`
	Type    string              `mapstructure:"type"` // webhook, file, kafka
	Webhook *AuditWebhookConfig `mapstructure:"webhook"`
	File    *AuditFileConfig    `mapstructure:"file"`
	Kafka   *AuditKafkaConfig   `mapstructure:"kafka"`
}

// AuditWebhookConfig holds webhook shipper configuration
type AuditWebhookConfig struct {
	URL           string            `mapstructure:"url"`
	Headers       map[string]string `mapstructure:"headers"`
	TimeoutSecs   int               `mapstructure:"timeout_secs"`
	BatchSize     int               `mapstructure:"batch_size"`
	FlushInterval int               `mapstructure:"flush_interval_secs"`
}

// AuditFileConfig holds file shipper configuration
type AuditFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// AuditKafkaConfig holds kafka shipper configuration
type AuditKafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
	// UseRedis shares the limit across instances through redis_rate
	UseRedis bool `mapstructure:"use_redis"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// envKeys walks the mapstructure tags of Config and returns every leaf key, so that
// GGR_AUDIT_ARCHIVE_FORMAT reaches audit.archive.format. AutomaticEnv alone does not reach
// nested keys during Unmarshal. Pointer and slice-of-struct fields (the shippers) are left
// to the config file.
func envKeys() []string {
	var keys []string
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := range t.NumField() {
			f := t.Field(i)
			tag := f.Tag.Get("mapstructure")
			if tag == "" || tag == "-" {
				continue
			}
			key := prefix + tag
			switch {
			case f.Type.Kind() == reflect.Struct:
				walk(f.Type, key+".")
			case f.Type.Kind() == reflect.Pointer:
			case f.Type.Kind() == reflect.Slice && f.Type.Elem().Kind() == reflect.Struct:
			default:
				keys = append(keys, key)
			}
		}
	}
	walk(reflect.TypeOf(Config{}), "")
	return keys
}

func bindEnvVars(v *viper.Viper) error {
	for _, key := range envKeys() {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind env for %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	return unmarshal(v)
}

func newViper(configPath string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/ggr-admin")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("GGR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}
	return v, nil
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = os.ExpandEnv(cfg.Database.Password)
	cfg.Redis.Password = os.ExpandEnv(cfg.Redis.Password)
	cfg.Storage.Azure.AccountKey = os.ExpandEnv(cfg.Storage.Azure.AccountKey)
	cfg.Storage.S3.AccessKeyID = os.ExpandEnv(cfg.Storage.S3.AccessKeyID)
	cfg.Storage.S3.SecretAccessKey = os.ExpandEnv(cfg.Storage.S3.SecretAccessKey)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "gogreen_admin")
	v.SetDefault("database.user", "gogreen")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Storage defaults
	v.SetDefault("storage.default_backend", "local")
	v.SetDefault("storage.local.base_path", "./storage")

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Auth defaults
	v.SetDefault("auth.role_claim", "role")

	// Audit defaults
	v.SetDefault("audit.backend", "blob")
	v.SetDefault("audit.blob_key", "audit-logs.json")
	v.SetDefault("audit.redis_key", "ggr:audit-logs")
	v.SetDefault("audit.redis_channel", "ggr:audit-events")
	v.SetDefault("audit.delimiter", ",")
	v.SetDefault("audit.log_read_operations", false)
	v.SetDefault("audit.archive.enabled", false)
	v.SetDefault("audit.archive.interval_hours", 24)
	v.SetDefault("audit.archive.format", "json")
	v.SetDefault("audit.archive.keep", 0)

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "DELETE", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 120)
	v.SetDefault("security.rate_limiting.burst", 20)
	v.SetDefault("security.rate_limiting.use_redis", false)
	v.SetDefault("security.tls.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
}

// Validate reports every problem in the configuration at once
func (c *Config) Validate() error {
	return errors.Join(
		c.validateServer(),
		c.validateStorage(),
		c.validateAudit(),
		c.validateLogging(),
	)
}

func (c *Config) validateServer() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d", c.Server.Port))
	}
	if tls := c.Security.TLS; tls.Enabled && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("security.tls.cert_file and key_file are required when TLS is enabled"))
	}
	return errors.Join(errs...)
}

func (c *Config) validateStorage() error {
	st := c.Storage
	missing := func(field string) error {
		return fmt.Errorf("storage.%s.%s is required for the %s storage backend", st.DefaultBackend, field, st.DefaultBackend)
	}

	switch st.DefaultBackend {
	case "azure":
		switch {
		case st.Azure.AccountName == "":
			return missing("account_name")
		case st.Azure.AccountKey == "":
			return missing("account_key")
		case st.Azure.ContainerName == "":
			return missing("container_name")
		}
	case "s3":
		switch {
		case st.S3.Bucket == "":
			return missing("bucket")
		case st.S3.Region == "":
			return missing("region")
		}
	case "gcs":
		if st.GCS.Bucket == "" {
			return missing("bucket")
		}
	case "local":
		if st.Local.BasePath == "" {
			return missing("base_path")
		}
	default:
		return fmt.Errorf("invalid storage backend %q (want azure, s3, gcs or local)", st.DefaultBackend)
	}
	return nil
}

func (c *Config) validateAudit() error {
	a := c.Audit
	var errs []error

	switch a.Backend {
	case "memory":
	case "blob":
		if a.BlobKey == "" {
			errs = append(errs, errors.New("audit.blob_key is required for the blob audit backend"))
		}
	case "redis":
		if a.RedisKey == "" {
			errs = append(errs, errors.New("audit.redis_key is required for the redis audit backend"))
		}
	case "postgres":
		if c.Database.Host == "" || c.Database.Name == "" || c.Database.User == "" {
			errs = append(errs, errors.New("database.host, name and user are required for the postgres audit backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid audit backend %q (want memory, blob, redis or postgres)", a.Backend))
	}

	if utf8.RuneCountInString(a.Delimiter) != 1 {
		errs = append(errs, fmt.Errorf("audit.delimiter must be a single character, got %q", a.Delimiter))
	} else if r := a.DelimiterRune(); r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
		// encoding/csv rejects these as Comma
		errs = append(errs, fmt.Errorf("audit.delimiter %q cannot be used as a field separator", a.Delimiter))
	}
	if a.Archive.Format != "json" && a.Archive.Format != "csv" {
		errs = append(errs, fmt.Errorf("invalid audit.archive.format %q (want json or csv)", a.Archive.Format))
	}
	if a.Archive.Keep < 0 {
		errs = append(errs, fmt.Errorf("audit.archive.keep must not be negative, got %d", a.Archive.Keep))
	}
	return errors.Join(errs...)
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("invalid logging level %q (want debug, info, warn or error)", c.Logging.Level)
}

// NeedsDatabase reports whether the configured components require PostgreSQL
func (c *Config) NeedsDatabase() bool {
	return c.Audit.Backend == "postgres"
}

// NeedsRedis reports whether the configured components require Redis
func (c *Config) NeedsRedis() bool {
	return c.Audit.Backend == "redis" || (c.Security.RateLimiting.Enabled && c.Security.RateLimiting.UseRedis)
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DelimiterRune returns the export delimiter as a rune
func (c *AuditConfig) DelimiterRune() rune {
	r := []rune(c.Delimiter)
	if len(r) == 0 {
		return ','
	}
	return r[0]
}
