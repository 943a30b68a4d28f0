// internal/pkg/config/load.go
package config

import (
	"bytes"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 环境变量前缀，例如 FRAUDGUARD_BUSINESS_MAX_AMOUNT。
const EnvPrefix = "FRAUDGUARD"

// ErrInvalidConfig 表示配置校验失败。
var ErrInvalidConfig = errors.New("invalid configuration")

func setDefaults(v *viper.Viper, serviceName string) {
	v.SetDefault("service.name", serviceName)
	v.SetDefault("service.http-addr", ":8085")
	v.SetDefault("service.log-level", "info")
	v.SetDefault("service.log-pretty", false)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group-id", serviceName+"-group")
	v.SetDefault("kafka.dial-timeout", "5s")
	v.SetDefault("kafka.topics.check-request", "antifraud-check")
	v.SetDefault("kafka.topics.check-retry", "antifraud-check-retry")
	v.SetDefault("kafka.topics.decision-result", "antifraud-decision")
	v.SetDefault("kafka.topics.dead-letter", "antifraud-check-dlt")

	v.SetDefault("business.max-amount", "1000")

	v.SetDefault("decision.engine", EngineThreshold)
	v.SetDefault("decision.reject-expression", "value > max_amount")

	v.SetDefault("pipeline.conflict-policy", ConflictPolicyPublish)
	v.SetDefault("pipeline.conflict-retries", 2)
	v.SetDefault("pipeline.processing-timeout", "10s")

	v.SetDefault("consumer.concurrency", 1)
	v.SetDefault("consumer.monitor-dlt", true)

	v.SetDefault("failure.max-attempts", 3)
	v.SetDefault("failure.retry-delay", "5s")

	v.SetDefault("results.dedupe-ttl", "24h")

	v.SetDefault("store.driver", StoreMySQL)

	v.SetDefault("mysql.host", "localhost")
	v.SetDefault("mysql.port", 3306)
	v.SetDefault("mysql.user", "root")
	v.SetDefault("mysql.password", "")
	v.SetDefault("mysql.database", "fraudguard")
	v.SetDefault("mysql.max-open-conns", 20)
	v.SetDefault("mysql.max-idle-conns", 10)
	v.SetDefault("mysql.conn-max-lifetime", "30m")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("jaeger.endpoint", "")
}

// Load 按优先级 环境变量 > 远程配置(Nacos) > 本地文件 > 默认值 构建配置。
// path 和 remote 都可以为空。
func Load(serviceName, path string, remote []byte) (*Config, error) {
	v := viper.New()
	setDefaults(v, serviceName)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
	}

	if len(bytes.TrimSpace(remote)) > 0 {
		var overlay map[string]any
		if err := yaml.Unmarshal(remote, &overlay); err != nil {
			return nil, errors.Wrap(err, "decode remote config")
		}
		if err := v.MergeConfigMap(overlay); err != nil {
			return nil, errors.Wrap(err, "merge remote config")
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	maxAmount, err := decimal.NewFromString(strings.TrimSpace(c.Business.MaxAmountRaw))
	if err != nil {
		return errors.Wrapf(ErrInvalidConfig, "business.max-amount %q: %v", c.Business.MaxAmountRaw, err)
	}
	if maxAmount.IsNegative() {
		return errors.Wrapf(ErrInvalidConfig, "business.max-amount must not be negative, got %s", maxAmount)
	}
	c.Business.MaxAmount = maxAmount

	if len(c.Kafka.Brokers) == 0 {
		return errors.Wrap(ErrInvalidConfig, "kafka.brokers is empty")
	}
	topics := map[string]string{
		"kafka.topics.check-request":   c.Kafka.Topics.CheckRequest,
		"kafka.topics.decision-result": c.Kafka.Topics.DecisionResult,
	}
	for key, topic := range topics {
		if strings.TrimSpace(topic) == "" {
			return errors.Wrapf(ErrInvalidConfig, "%s is empty", key)
		}
	}

	switch c.Pipeline.ConflictPolicy {
	case ConflictPolicyPublish, ConflictPolicySuppress, ConflictPolicyRetry:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown pipeline.conflict-policy %q", c.Pipeline.ConflictPolicy)
	}
	if c.Pipeline.ConflictRetries < 0 {
		return errors.Wrap(ErrInvalidConfig, "pipeline.conflict-retries must not be negative")
	}

	switch c.Decision.Engine {
	case EngineThreshold, EngineCEL:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown decision.engine %q", c.Decision.Engine)
	}

	switch c.Store.Driver {
	case StoreMySQL, StoreRedis, StoreMemory:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown store.driver %q", c.Store.Driver)
	}

	if c.Failure.MaxAttempts < 0 {
		return errors.Wrap(ErrInvalidConfig, "failure.max-attempts must not be negative")
	}
	return nil
}
