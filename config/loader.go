package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration. Each section feeds one
// subsystem; fields carry yaml and env tags, and nested sections
// concatenate env segments, so AGENTRUN_REDIS_ADDR reaches Redis.Addr.
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Engine    EngineConfig    `yaml:"engine" env:"ENGINE"`
	Agents    AgentsConfig    `yaml:"agents" env:"AGENTS"`
	LLM       LLMConfig       `yaml:"llm" env:"LLM"`
	Mongo     MongoConfig     `yaml:"mongo" env:"MONGO"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Sessions  SessionsConfig  `yaml:"sessions" env:"SESSIONS"`
	Records   RecordsConfig   `yaml:"records" env:"RECORDS"`
	Telegram  TelegramConfig  `yaml:"telegram" env:"TELEGRAM"`
	Scheduler SchedulerConfig `yaml:"scheduler" env:"SCHEDULER"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Metrics   MetricsConfig   `yaml:"metrics" env:"METRICS"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
	Auth            AuthConfig    `yaml:"auth" env:"AUTH"`
}

// AuthConfig gates the admin API behind HS256 bearer tokens. An empty
// secret leaves the API open; health and version endpoints are always
// reachable.
type AuthConfig struct {
	Secret   string `yaml:"secret" env:"SECRET"`
	Issuer   string `yaml:"issuer" env:"ISSUER"`
	Audience string `yaml:"audience" env:"AUDIENCE"`
}

// EngineConfig configures workflow execution.
type EngineConfig struct {
	// MaxSteps caps node executions per run.
	MaxSteps int `yaml:"max_steps" env:"MAX_STEPS"`
	// MaxConcurrentRuns bounds parallel workflow runs. Zero or
	// negative means unlimited.
	MaxConcurrentRuns int `yaml:"max_concurrent_runs" env:"MAX_CONCURRENT_RUNS"`
}

// AgentsConfig configures the agent definition store.
type AgentsConfig struct {
	// Dir holds one JSON file per agent definition.
	Dir string `yaml:"dir" env:"DIR"`
	// Watch reloads definitions when their files change.
	Watch         bool          `yaml:"watch" env:"WATCH"`
	PollInterval  time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	DebounceDelay time.Duration `yaml:"debounce_delay" env:"DEBOUNCE_DELAY"`
}

// ProviderCreds carries one LLM provider's credentials.
type ProviderCreds struct {
	APIKey  string `yaml:"api_key" env:"API_KEY"`
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	Model   string `yaml:"model" env:"MODEL"`
}

// LLMConfig configures the model providers.
type LLMConfig struct {
	// DefaultProvider serves agents whose llmConfig names no provider.
	DefaultProvider string        `yaml:"default_provider" env:"DEFAULT_PROVIDER"`
	Timeout         time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// HistoryBudget caps the tokens spent replaying session history
	// in front of llm_prompt nodes.
	HistoryBudget int           `yaml:"history_budget" env:"HISTORY_BUDGET"`
	OpenAI        ProviderCreds `yaml:"openai" env:"OPENAI"`
	DeepSeek      ProviderCreds `yaml:"deepseek" env:"DEEPSEEK"`
	Gemini        ProviderCreds `yaml:"gemini" env:"GEMINI"`
}

// MongoConfig configures the document store.
type MongoConfig struct {
	URI            string        `yaml:"uri" env:"URI"`
	Database       string        `yaml:"database" env:"DATABASE"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
	MaxPoolSize    int           `yaml:"max_pool_size" env:"MAX_POOL_SIZE"`
}

// RedisConfig configures the Redis client behind session storage.
type RedisConfig struct {
	Addr      string `yaml:"addr" env:"ADDR"`
	Password  string `yaml:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" env:"DB"`
	PoolSize  int    `yaml:"pool_size" env:"POOL_SIZE"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// SessionsConfig configures conversation sessions.
type SessionsConfig struct {
	// Backend is redis or memory.
	Backend string `yaml:"backend" env:"BACKEND"`
	// TTL expires idle sessions. Zero keeps them forever.
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// HistoryLimit is how many recent exchanges replay into prompts.
	HistoryLimit int `yaml:"history_limit" env:"HISTORY_LIMIT"`
}

// RecordsConfig configures the relational run-history store.
type RecordsConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Driver is postgres, mysql, or sqlite.
	Driver          string        `yaml:"driver" env:"DRIVER"`
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// QueueSize buffers records between the engine and the writer.
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE"`
}

// TelegramConfig configures the Telegram channel.
type TelegramConfig struct {
	Enabled           bool    `yaml:"enabled" env:"ENABLED"`
	Token             string  `yaml:"token" env:"TOKEN"`
	MessagesPerSecond float64 `yaml:"messages_per_second" env:"MESSAGES_PER_SECOND"`
	Burst             int     `yaml:"burst" env:"BURST"`
}

// SchedulerConfig configures cron-driven workflow runs.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Port serves metrics on its own listener. Zero mounts them on
	// the API server instead.
	Port int    `yaml:"port" env:"PORT"`
	Path string `yaml:"path" env:"PATH"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Loader assembles configuration with precedence defaults, then YAML
// file, then environment variables.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the AGENTRUN env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "AGENTRUN",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file to load. A missing file is not an
// error; defaults and environment still apply.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator registers a check run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load assembles the configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// time.Duration wants "30s", not nanosecond integers.
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// Comma-separated values for string slices.
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads configuration from path, panicking on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Engine.MaxSteps <= 0 {
		errs = append(errs, "engine max_steps must be positive")
	}
	switch c.Sessions.Backend {
	case "redis", "memory":
	default:
		errs = append(errs, fmt.Sprintf("unknown sessions backend %q", c.Sessions.Backend))
	}
	if c.Records.Enabled {
		switch c.Records.Driver {
		case "postgres", "mysql", "sqlite":
		default:
			errs = append(errs, fmt.Sprintf("unknown records driver %q", c.Records.Driver))
		}
	}
	if c.Telegram.Enabled && c.Telegram.Token == "" {
		errs = append(errs, "telegram enabled without a token")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("unknown log level %q", c.Log.Level))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry sample_rate must be between 0 and 1")
	}
	if s := c.Server.Auth.Secret; s != "" && len(s) < 16 {
		errs = append(errs, "auth secret must be at least 16 bytes")
	}
	if c.Server.Auth.Secret == "" && (c.Server.Auth.Issuer != "" || c.Server.Auth.Audience != "") {
		errs = append(errs, "auth issuer/audience set without a secret")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the records database connection string.
func (r *RecordsConfig) DSN() string {
	switch r.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			r.Host, r.Port, r.User, r.Password, r.Name, r.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			r.User, r.Password, r.Host, r.Port, r.Name,
		)
	case "sqlite":
		return r.Name
	default:
		return ""
	}
}
