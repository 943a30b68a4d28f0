// internal/pkg/config/config.go
package config

import (
	"time"

	"github.com/shopspring/decimal"
)

// 冲突策略：CAS 未生效（版本冲突）时如何处理决策结果。
const (
	ConflictPolicyPublish  = "publish"  // 与原系统一致：无论是否生效都发布，消息头标记 x-cas-applied=false
	ConflictPolicySuppress = "suppress" // 冲突时不发布
	ConflictPolicyRetry    = "retry"    // 重新读取、重新决策，有限次数
)

// 决策引擎
const (
	EngineThreshold = "threshold"
	EngineCEL       = "cel"
)

// 存储驱动
const (
	StoreMySQL  = "mysql"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Config 在进程启动时构建一次，之后只读。
type Config struct {
	Service  ServiceConfig  `mapstructure:"service"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Business BusinessConfig `mapstructure:"business"`
	Decision DecisionConfig `mapstructure:"decision"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Consumer ConsumerConfig `mapstructure:"consumer"`
	Failure  FailureConfig  `mapstructure:"failure"`
	Results  ResultsConfig  `mapstructure:"results"`
	Store    StoreConfig    `mapstructure:"store"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Jaeger   JaegerConfig   `mapstructure:"jaeger"`
}

type ServiceConfig struct {
	Name      string `mapstructure:"name"`
	HTTPAddr  string `mapstructure:"http-addr"`
	LogLevel  string `mapstructure:"log-level"`
	LogPretty bool   `mapstructure:"log-pretty"`
}

type KafkaConfig struct {
	Brokers     []string      `mapstructure:"brokers"`
	GroupID     string        `mapstructure:"group-id"`
	DialTimeout time.Duration `mapstructure:"dial-timeout"`
	Topics      TopicsConfig  `mapstructure:"topics"`
}

type TopicsConfig struct {
	CheckRequest   string `mapstructure:"check-request"`
	CheckRetry     string `mapstructure:"check-retry"`
	DecisionResult string `mapstructure:"decision-result"`
	DeadLetter     string `mapstructure:"dead-letter"`
}

type BusinessConfig struct {
	MaxAmountRaw string `mapstructure:"max-amount"`

	// MaxAmount 由 Load 从 MaxAmountRaw 解析得到
	MaxAmount decimal.Decimal `mapstructure:"-"`
}

type DecisionConfig struct {
	Engine           string `mapstructure:"engine"`
	RejectExpression string `mapstructure:"reject-expression"`
}

type PipelineConfig struct {
	ConflictPolicy    string        `mapstructure:"conflict-policy"`
	ConflictRetries   int           `mapstructure:"conflict-retries"`
	ProcessingTimeout time.Duration `mapstructure:"processing-timeout"`
}

type ConsumerConfig struct {
	Concurrency int  `mapstructure:"concurrency"`
	MonitorDLT  bool `mapstructure:"monitor-dlt"`
}

type FailureConfig struct {
	MaxAttempts int           `mapstructure:"max-attempts"`
	RetryDelay  time.Duration `mapstructure:"retry-delay"`
}

type ResultsConfig struct {
	DedupeTTL time.Duration `mapstructure:"dedupe-ttl"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

type MySQLConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	Database     string        `mapstructure:"database"`
	MaxOpenConns int           `mapstructure:"max-open-conns"`
	MaxIdleConns int           `mapstructure:"max-idle-conns"`
	ConnMaxLife  time.Duration `mapstructure:"conn-max-lifetime"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JaegerConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}
