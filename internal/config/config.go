package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	DialectMySQL    = "mysql"
	DialectPostgres = "postgres"
	DialectDuckDB   = "duckdb"
	DialectLake     = "lake"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Database      DatabaseConfig
	ObjectStore   ObjectStoreConfig
	Lake          LakeConfig
	Schema        SchemaConfig
	Gate          GateConfig
	AI            AIConfig
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Dialect         string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type ObjectStoreConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Prefix          string
}

type LakeConfig struct {
	LocalDir string
}

type SchemaConfig struct {
	TTL             time.Duration
	SampleRows      int
	SingleFlight    bool
	EndpointEnabled bool
}

type GateConfig struct {
	RowLimit    int
	ParserCheck bool
}

type AIConfig struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

type RateLimitConfig struct {
	Enabled bool
	RPM     int
	Burst   int
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
	LogSQL   bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("ASKDB_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid ASKDB_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	if err := applyString(lookup, "ASKDB_SERVICE_NAME", &cfg.Service.Name); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_HTTP_ADDR", &cfg.HTTP.Address); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "ASKDB_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "ASKDB_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "ASKDB_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_DB_DIALECT", &cfg.Database.Dialect); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_DB_DSN", &cfg.Database.DSN); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "ASKDB_DB_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "ASKDB_DB_MAX_IDLE_CONNS", &cfg.Database.MaxIdleConns); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "ASKDB_DB_CONN_MAX_IDLE_TIME", &cfg.Database.ConnMaxIdleTime); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "ASKDB_DB_CONN_MAX_LIFETIME", &cfg.Database.ConnMaxLifetime); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_OBJECTSTORE_REGION", &cfg.ObjectStore.Region); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "ASKDB_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_LAKE_LOCAL_DIR", &cfg.Lake.LocalDir); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "ASKDB_SCHEMA_TTL", &cfg.Schema.TTL); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "ASKDB_SCHEMA_SAMPLE_ROWS", &cfg.Schema.SampleRows); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "ASKDB_SCHEMA_SINGLE_FLIGHT", &cfg.Schema.SingleFlight); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "ASKDB_SCHEMA_ENDPOINT_ENABLED", &cfg.Schema.EndpointEnabled); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "ASKDB_GATE_ROW_LIMIT", &cfg.Gate.RowLimit); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "ASKDB_GATE_PARSER_CHECK", &cfg.Gate.ParserCheck); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_AI_PROVIDER", &cfg.AI.Provider); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_AI_BASE_URL", &cfg.AI.BaseURL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_AI_API_KEY", &cfg.AI.APIKey); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_AI_MODEL", &cfg.AI.Model); err != nil {
		return Config{}, err
	}
	if err := applyFloat(lookup, "ASKDB_AI_TEMPERATURE", &cfg.AI.Temperature); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "ASKDB_AI_TIMEOUT", &cfg.AI.Timeout); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "ASKDB_RATE_LIMIT_ENABLED", &cfg.RateLimit.Enabled); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "ASKDB_RATE_LIMIT_RPM", &cfg.RateLimit.RPM); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "ASKDB_RATE_LIMIT_BURST", &cfg.RateLimit.Burst); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "ASKDB_LOG_JSON", &cfg.Observability.LogJSON); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "ASKDB_LOG_SQL", &cfg.Observability.LogSQL); err != nil {
		return Config{}, err
	}
	if err := applyLogLevel(lookup, "ASKDB_LOG_LEVEL", &cfg.Observability.LogLevel); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "ASKDB_AUTH_REQUIRED", &cfg.Auth.Required); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys); err != nil {
		return Config{}, err
	}

	cfg.Database.Dialect = strings.ToLower(cfg.Database.Dialect)
	cfg.AI.Provider = strings.ToLower(cfg.AI.Provider)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if c.HTTP.Address == "" {
		return fmt.Errorf("http address is required")
	}
	switch c.Database.Dialect {
	case DialectMySQL, DialectPostgres, DialectDuckDB, DialectLake:
	default:
		return fmt.Errorf("invalid ASKDB_DB_DIALECT: %q", c.Database.Dialect)
	}
	switch c.AI.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("invalid ASKDB_AI_PROVIDER: %q", c.AI.Provider)
	}
	if c.Schema.TTL <= 0 {
		return fmt.Errorf("ASKDB_SCHEMA_TTL must be positive")
	}
	if c.Schema.SampleRows < 0 {
		return fmt.Errorf("ASKDB_SCHEMA_SAMPLE_ROWS must be >= 0")
	}
	if c.Gate.RowLimit <= 0 {
		return fmt.Errorf("ASKDB_GATE_ROW_LIMIT must be positive")
	}
	if c.RateLimit.Enabled && c.RateLimit.RPM <= 0 {
		return fmt.Errorf("ASKDB_RATE_LIMIT_RPM must be positive when rate limiting is enabled")
	}
	return nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "askdb-api"},
		HTTP: HTTPConfig{
			Address:      ":5000",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Dialect:         DialectMySQL,
			DSN:             "root:root@tcp(localhost:3306)/app?parseTime=true",
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:        "localhost:9000",
			Region:          "us-east-1",
			Bucket:          "askdb",
			AccessKeyID:     "minio",
			SecretAccessKey: "miniostorage",
			UseSSL:          false,
			Prefix:          "",
		},
		Lake: LakeConfig{
			LocalDir: "",
		},
		Schema: SchemaConfig{
			TTL:             10 * time.Minute,
			SampleRows:      3,
			SingleFlight:    false,
			EndpointEnabled: true,
		},
		Gate: GateConfig{
			RowLimit:    100,
			ParserCheck: false,
		},
		AI: AIConfig{
			Provider:    ProviderGemini,
			BaseURL:     "https://api.openai.com",
			Model:       "",
			Temperature: 0,
			Timeout:     30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled: false,
			RPM:     60,
			Burst:   10,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
			LogSQL:   true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":15000"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Auth.Required = false
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Observability.LogSQL = false
		cfg.Auth.Required = true
		cfg.ObjectStore.UseSSL = true
		cfg.Schema.EndpointEnabled = false
		cfg.RateLimit.Enabled = true
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
