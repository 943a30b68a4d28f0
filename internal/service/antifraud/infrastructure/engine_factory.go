// internal/service/antifraud/infrastructure/engine_factory.go
package infrastructure

import (
	"github.com/pkg/errors"

	"fraudguard/internal/pkg/config"
	"fraudguard/internal/service/antifraud/domain"
)

// NewRuleEngine 按 decision.engine 选择决策引擎。
func NewRuleEngine(cfg config.DecisionConfig) (domain.RuleEngine, error) {
	switch cfg.Engine {
	case config.EngineThreshold, "":
		return domain.NewThresholdEngine(), nil
	case config.EngineCEL:
		return domain.NewCELEngine(cfg.RejectExpression)
	}
	return nil, errors.Wrapf(config.ErrInvalidConfig, "unknown decision.engine %q", cfg.Engine)
}
