package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ConfigSource defines an interface for loading configuration from various sources.
type ConfigSource interface {
	Get(key string) (string, bool)
	GetWithDefault(key, defaultValue string) string
}

// EnvConfigSource loads configuration from environment variables.
type EnvConfigSource struct{}

// Get retrieves an environment variable.
func (e *EnvConfigSource) Get(key string) (string, bool) {
	val := os.Getenv(key)
	return val, val != ""
}

// GetWithDefault retrieves an environment variable or returns a default value.
func (e *EnvConfigSource) GetWithDefault(key, defaultValue string) string {
	if val, ok := e.Get(key); ok {
		return val
	}
	return defaultValue
}

// MapConfigSource serves configuration from an in-memory map. Handy for tests and flag overrides.
type MapConfigSource map[string]string

// Get retrieves a value from the map.
func (m MapConfigSource) Get(key string) (string, bool) {
	val, ok := m[key]
	return val, ok && val != ""
}

// GetWithDefault retrieves a value from the map or returns a default.
func (m MapConfigSource) GetWithDefault(key, defaultValue string) string {
	if val, ok := m.Get(key); ok {
		return val
	}
	return defaultValue
}

// FileConfigSource loads configuration from a JSON, YAML or TOML file.
type FileConfigSource struct {
	data map[string]interface{}
}

// NewFileConfigSource creates a new file-based config source.
// The format is picked from the file extension.
func NewFileConfigSource(filePath string) (*FileConfigSource, error) {
	data := make(map[string]interface{})

	fileData, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	switch {
	case strings.HasSuffix(filePath, ".yaml"), strings.HasSuffix(filePath, ".yml"):
		if err := yaml.Unmarshal(fileData, &data); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case strings.HasSuffix(filePath, ".json"):
		if err := json.Unmarshal(fileData, &data); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case strings.HasSuffix(filePath, ".toml"):
		if err := toml.Unmarshal(fileData, &data); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format, use .json, .yaml, .yml or .toml")
	}

	return &FileConfigSource{data: data}, nil
}

// Get retrieves a value from the config file.
// Keys are looked up verbatim first (BLOB_PROVIDER), then in dot notation (blob.provider).
func (f *FileConfigSource) Get(key string) (string, bool) {
	if val, ok := f.data[key]; ok {
		return stringify(val), true
	}

	keys := strings.Split(key, ".")
	var current interface{} = f.data

	for _, k := range keys {
		m, ok := current.(map[string]interface{})
		if !ok {
			return "", false
		}
		val, exists := m[k]
		if !exists {
			return "", false
		}
		current = val
	}

	return stringify(current), true
}

// GetWithDefault retrieves a value from the config file or returns a default.
func (f *FileConfigSource) GetWithDefault(key, defaultValue string) string {
	if val, ok := f.Get(key); ok {
		return val
	}
	return defaultValue
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			parts = append(parts, stringify(p))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Provider names accepted in Config.Provider.
const (
	ProviderMemory  = "memory"
	ProviderDisk    = "disk"
	ProviderS3      = "s3"
	ProviderAzure   = "azure"
	ProviderGCS     = "gcs"
	ProviderKvpbase = "kvpbase"
	ProviderSQL     = "sql"
)

// DiskConfig configures the local directory provider.
type DiskConfig struct {
	Directory string
}

// S3Config configures the AWS S3 (or S3-compatible) provider.
type S3Config struct {
	AccessKey    string
	SecretKey    string
	Region       string
	Bucket       string
	Endpoint     string
	BaseURL      string
	UsePathStyle bool
}

// AzureConfig configures the Azure Blob Storage provider.
type AzureConfig struct {
	AccountName        string
	AccountKey         string
	Container          string
	Endpoint           string
	UseManagedIdentity bool
}

// GCSConfig configures the Google Cloud Storage provider.
type GCSConfig struct {
	Bucket          string
	CredentialsJSON string // base64 encoded service account JSON
	Endpoint        string
	BaseURL         string
}

// KvpbaseConfig configures the HTTP key-value store provider.
type KvpbaseConfig struct {
	Endpoint  string
	UserGUID  string
	Container string
	APIKey    string
}

// SQLConfig configures the SQL table provider.
type SQLConfig struct {
	Driver string // postgres, sqlite
	DSN    string
	Table  string
}

// Config holds application configuration.
type Config struct {
	// Provider selection
	Provider  string `validate:"required,oneof=memory disk s3 azure gcs kvpbase sql"`
	Container string // logical namespace name reported in events and logs
	PageSize  int    `validate:"gte=0"`

	Disk    DiskConfig
	S3      S3Config
	Azure   AzureConfig
	GCS     GCSConfig
	Kvpbase KvpbaseConfig
	SQL     SQLConfig

	// Event publishing (Service Bus)
	EventsEnabled       bool
	ServiceBusNamespace string
	ServiceBusKeyName   string
	ServiceBusKeyValue  string
	ServiceBusQueue     string
	ServiceBusTopic     string

	// HTTP gateway configuration
	HTTPPort             int `validate:"gte=0,lte=65535"`
	HTTPReadTimeout      int // seconds
	HTTPWriteTimeout     int // seconds
	HTTPIdleTimeout      int // seconds
	HTTPMaxBodySize      int64
	RateLimitRPS         float64
	RateLimitBurst       int
	APIKeys              []string
	JWTSecret            string
	SlowRequestThreshold time.Duration

	// Logging configuration
	LogLevel  string // debug, info, warn, error
	LogFormat string // json, console

	// Application configuration
	AppName     string
	AppVersion  string
	Environment string // dev, staging, prod

	// Retry configuration
	RetryMaxAttempts  int
	RetryInitialDelay int // milliseconds
	RetryMaxDelay     int // milliseconds

	// Telemetry configuration
	NewRelicEnabled    bool
	NewRelicLicenseKey string
	SlackWebhookURL    string
	SlackChannel       string
	OTLPEndpoint       string
	TracingEnabled     bool
}

// LoadConfig loads configuration from the provided source.
func LoadConfig(source ConfigSource) (*Config, error) {
	cfg := &Config{}

	getInt := func(key string, defaultValue int) int {
		str := source.GetWithDefault(key, fmt.Sprintf("%d", defaultValue))
		val, err := strconv.Atoi(str)
		if err != nil {
			return defaultValue
		}
		return val
	}
	getBool := func(key string, defaultValue bool) bool {
		str := source.GetWithDefault(key, strconv.FormatBool(defaultValue))
		val, err := strconv.ParseBool(str)
		if err != nil {
			return defaultValue
		}
		return val
	}
	getFloat := func(key string, defaultValue float64) float64 {
		str := source.GetWithDefault(key, strconv.FormatFloat(defaultValue, 'f', -1, 64))
		val, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return defaultValue
		}
		return val
	}

	cfg.Provider = strings.ToLower(source.GetWithDefault("BLOB_PROVIDER", ProviderMemory))
	cfg.Container = source.GetWithDefault("BLOB_CONTAINER", "default-container")
	cfg.PageSize = getInt("BLOB_PAGE_SIZE", 0)

	cfg.Disk.Directory = source.GetWithDefault("DISK_DIRECTORY", "./blobs")

	cfg.S3.AccessKey = source.GetWithDefault("S3_ACCESS_KEY", "")
	cfg.S3.SecretKey = source.GetWithDefault("S3_SECRET_KEY", "")
	cfg.S3.Region = source.GetWithDefault("S3_REGION", "us-east-1")
	cfg.S3.Bucket = source.GetWithDefault("S3_BUCKET", "")
	cfg.S3.Endpoint = source.GetWithDefault("S3_ENDPOINT", "")
	cfg.S3.BaseURL = source.GetWithDefault("S3_BASE_URL", "")
	cfg.S3.UsePathStyle = getBool("S3_USE_PATH_STYLE", false)

	cfg.Azure.AccountName = source.GetWithDefault("BLOB_STORAGE_ACCOUNT_NAME", "")
	cfg.Azure.AccountKey = source.GetWithDefault("BLOB_STORAGE_ACCOUNT_KEY", "")
	cfg.Azure.Container = source.GetWithDefault("AZURE_CONTAINER", cfg.Container)
	cfg.Azure.Endpoint = source.GetWithDefault("AZURE_ENDPOINT", "")
	cfg.Azure.UseManagedIdentity = getBool("AZURE_USE_MANAGED_IDENTITY", false)

	cfg.GCS.Bucket = source.GetWithDefault("GCS_BUCKET", "")
	cfg.GCS.CredentialsJSON = source.GetWithDefault("GCS_CREDENTIALS", "")
	cfg.GCS.Endpoint = source.GetWithDefault("GCS_ENDPOINT", "")
	cfg.GCS.BaseURL = source.GetWithDefault("GCS_BASE_URL", "")

	cfg.Kvpbase.Endpoint = source.GetWithDefault("KVPBASE_ENDPOINT", "")
	cfg.Kvpbase.UserGUID = source.GetWithDefault("KVPBASE_USER_GUID", "")
	cfg.Kvpbase.Container = source.GetWithDefault("KVPBASE_CONTAINER", cfg.Container)
	cfg.Kvpbase.APIKey = source.GetWithDefault("KVPBASE_API_KEY", "")

	cfg.SQL.Driver = source.GetWithDefault("SQL_DRIVER", "postgres")
	cfg.SQL.DSN = source.GetWithDefault("SQL_DSN", "")
	cfg.SQL.Table = source.GetWithDefault("SQL_TABLE", "blobs")

	cfg.EventsEnabled = getBool("EVENTS_ENABLED", false)
	cfg.ServiceBusNamespace = source.GetWithDefault("SERVICE_BUS_NAMESPACE", "")
	cfg.ServiceBusKeyName = source.GetWithDefault("SERVICE_BUS_KEY_NAME", "")
	cfg.ServiceBusKeyValue = source.GetWithDefault("SERVICE_BUS_KEY_VALUE", "")
	cfg.ServiceBusQueue = source.GetWithDefault("SERVICE_BUS_QUEUE", "blob-events")
	cfg.ServiceBusTopic = source.GetWithDefault("SERVICE_BUS_TOPIC", "")

	cfg.HTTPPort = getInt("HTTP_PORT", 8080)
	cfg.HTTPReadTimeout = getInt("HTTP_READ_TIMEOUT", 30)
	cfg.HTTPWriteTimeout = getInt("HTTP_WRITE_TIMEOUT", 30)
	cfg.HTTPIdleTimeout = getInt("HTTP_IDLE_TIMEOUT", 120)
	cfg.HTTPMaxBodySize = int64(getInt("HTTP_MAX_BODY_SIZE", 64<<20))
	cfg.RateLimitRPS = getFloat("RATE_LIMIT_RPS", 100)
	cfg.RateLimitBurst = getInt("RATE_LIMIT_BURST", 200)
	cfg.APIKeys = splitList(source.GetWithDefault("API_KEYS", ""))
	cfg.JWTSecret = source.GetWithDefault("JWT_SECRET", "")
	cfg.SlowRequestThreshold = time.Duration(getInt("SLOW_REQUEST_THRESHOLD_MS", 2000)) * time.Millisecond

	cfg.LogLevel = source.GetWithDefault("LOG_LEVEL", "info")
	cfg.LogFormat = source.GetWithDefault("LOG_FORMAT", "json")

	cfg.AppName = source.GetWithDefault("APP_NAME", "go-blob-kit")
	cfg.AppVersion = source.GetWithDefault("APP_VERSION", "1.0.0")
	cfg.Environment = source.GetWithDefault("ENVIRONMENT", "dev")

	cfg.RetryMaxAttempts = getInt("RETRY_MAX_ATTEMPTS", 3)
	cfg.RetryInitialDelay = getInt("RETRY_INITIAL_DELAY", 100)
	cfg.RetryMaxDelay = getInt("RETRY_MAX_DELAY", 5000)

	cfg.NewRelicEnabled = getBool("NEW_RELIC_ENABLED", false)
	cfg.NewRelicLicenseKey = source.GetWithDefault("NEW_RELIC_LICENSE_KEY", "")
	cfg.SlackWebhookURL = source.GetWithDefault("SLACK_WEBHOOK_URL", "")
	cfg.SlackChannel = source.GetWithDefault("SLACK_CHANNEL", "")
	cfg.OTLPEndpoint = source.GetWithDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	cfg.TracingEnabled = getBool("TRACING_ENABLED", false)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// RetryPolicy returns the retry settings as durations.
func (c *Config) RetryPolicy() (attempts int, initial, max time.Duration) {
	return c.RetryMaxAttempts,
		time.Duration(c.RetryInitialDelay) * time.Millisecond,
		time.Duration(c.RetryMaxDelay) * time.Millisecond
}

// LoadConfigFromEnv loads configuration from environment variables.
func LoadConfigFromEnv() (*Config, error) {
	return LoadConfig(&EnvConfigSource{})
}

// LoadConfigFromFile loads configuration from a JSON, YAML or TOML file.
// Environment variables will override file values if both are set.
func LoadConfigFromFile(filePath string) (*Config, error) {
	fileSource, err := NewFileConfigSource(filePath)
	if err != nil {
		return nil, err
	}

	return LoadConfig(NewCompositeConfigSource(&EnvConfigSource{}, fileSource))
}

// CompositeConfigSource checks multiple config sources in order.
type CompositeConfigSource struct {
	sources []ConfigSource
}

// NewCompositeConfigSource creates a source that consults sources in order.
func NewCompositeConfigSource(sources ...ConfigSource) *CompositeConfigSource {
	return &CompositeConfigSource{sources: sources}
}

// Get retrieves a value from the first source that has it.
func (c *CompositeConfigSource) Get(key string) (string, bool) {
	for _, source := range c.sources {
		if val, ok := source.Get(key); ok {
			return val, true
		}
	}
	return "", false
}

// GetWithDefault retrieves a value from sources or returns default.
func (c *CompositeConfigSource) GetWithDefault(key, defaultValue string) string {
	if val, ok := c.Get(key); ok {
		return val
	}
	return defaultValue
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
