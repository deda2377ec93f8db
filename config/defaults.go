package config

import "time"

// DefaultConfig returns the full default configuration. Provider
// credentials default to empty; keys arrive via environment or file.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Engine:    DefaultEngineConfig(),
		Agents:    DefaultAgentsConfig(),
		LLM:       DefaultLLMConfig(),
		Mongo:     DefaultMongoConfig(),
		Redis:     DefaultRedisConfig(),
		Sessions:  DefaultSessionsConfig(),
		Records:   DefaultRecordsConfig(),
		Telegram:  DefaultTelegramConfig(),
		Scheduler: SchedulerConfig{Enabled: true},
		Log:       DefaultLogConfig(),
		Metrics:   DefaultMetricsConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the default HTTP server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
		AllowedOrigins:  []string{"*"},
	}
}

// DefaultEngineConfig returns the default execution limits.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxSteps:          100,
		MaxConcurrentRuns: 16,
	}
}

// DefaultAgentsConfig returns the default agent store configuration.
func DefaultAgentsConfig() AgentsConfig {
	return AgentsConfig{
		Dir:           "./agents",
		Watch:         true,
		PollInterval:  time.Second,
		DebounceDelay: 100 * time.Millisecond,
	}
}

// DefaultLLMConfig returns the default provider configuration.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		DefaultProvider: "openai",
		Timeout:         2 * time.Minute,
		HistoryBudget:   4000,
	}
}

// DefaultMongoConfig returns the default document store configuration.
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:            "mongodb://localhost:27017",
		Database:       "agentrun",
		ConnectTimeout: 10 * time.Second,
		MaxPoolSize:    32,
	}
}

// DefaultRedisConfig returns the default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		Password:  "",
		DB:        0,
		PoolSize:  10,
		KeyPrefix: "agentrun:sess:",
	}
}

// DefaultSessionsConfig returns the default session configuration.
func DefaultSessionsConfig() SessionsConfig {
	return SessionsConfig{
		Backend:      "memory",
		TTL:          24 * time.Hour,
		HistoryLimit: 50,
	}
}

// DefaultRecordsConfig returns the default run-history configuration.
// Disabled by default; the sqlite driver needs no server when turned on.
func DefaultRecordsConfig() RecordsConfig {
	return RecordsConfig{
		Enabled:         false,
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "agentrun",
		Password:        "",
		Name:            "agentrun.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		QueueSize:       256,
	}
}

// DefaultTelegramConfig returns the default Telegram channel
// configuration. The send limits stay under the Bot API's ~30 msg/s
// ceiling.
func DefaultTelegramConfig() TelegramConfig {
	return TelegramConfig{
		Enabled:           false,
		MessagesPerSecond: 25,
		Burst:             5,
	}
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultMetricsConfig returns the default metrics configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled: true,
		Port:    9091,
		Path:    "/metrics",
	}
}

// DefaultTelemetryConfig returns the default tracing configuration.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "agentrun",
		SampleRate:   0.1,
	}
}
