// =============================================================================
// 📦 AgentGraph 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Engine:    DefaultEngineConfig(),
		Inference: DefaultInferenceConfig(),
		History:   DefaultHistoryConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Mongo:     DefaultMongoConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:           8080,
		MetricsPort:        9091,
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       10 * time.Minute,
		ShutdownTimeout:    15 * time.Second,
		RateLimitRPS:       50,
		RateLimitBurst:     100,
		CORSAllowedOrigins: []string{"*"},
	}
}

// DefaultEngineConfig 返回默认引擎配置
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxToolIterations:        10,
		InferenceResponseTimeout: 5 * time.Minute,
		DefinitionsDir:           "",
		WatchInterval:            2 * time.Second,
	}
}

// DefaultInferenceConfig 返回默认推理配置
func DefaultInferenceConfig() InferenceConfig {
	return InferenceConfig{
		QueueCapacity:        100,
		DefaultMaxConcurrent: 1,
		BaseURL:              "https://api.openai.com/v1",
		Timeout:              2 * time.Minute,
	}
}

// DefaultHistoryConfig 返回默认历史配置
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		Backend:   "memory",
		Retention: 7 * 24 * time.Hour,
		MaxRuns:   1000,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		KeyPrefix:    "agentgraph",
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "agentgraph",
		Password:        "",
		Name:            "agentgraph",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		AutoMigrate:     false,
	}
}

// DefaultMongoConfig 返回默认 MongoDB 配置
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:            "mongodb://localhost:27017",
		Database:       "agentgraph",
		Collection:     "workflow_runs",
		ConnectTimeout: 10 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "agentgraph",
		SampleRate:   0.1,
	}
}
