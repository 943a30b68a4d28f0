// internal/service/antifraud/domain/cel_engine.go
package domain

import (
	"math"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	txdomain "fraudguard/internal/service/transaction/domain"
)

// ErrInvalidRule 表示拒绝表达式无法编译。
var ErrInvalidRule = errors.New("invalid reject expression")

// CELEngine 用一条 CEL 表达式描述拒绝条件，表达式为 true 时拒绝。
// 可用变量：value、max_amount，均为以分为单位的 int，比较是精确的。
//
// 表达式只在构造时编译一次，Program 可以被多个 goroutine 并发使用。
type CELEngine struct {
	expression string
	program    cel.Program
}

// NewCELEngine 编译表达式并检查其结果类型为 bool。
func NewCELEngine(expression string) (*CELEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("value", cel.IntType),
		cel.Variable("max_amount", cel.IntType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cel environment")
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrapf(ErrInvalidRule, "%q: %v", expression, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, errors.Wrapf(ErrInvalidRule, "%q must evaluate to bool, got %s", expression, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidRule, "%q: %v", expression, err)
	}
	return &CELEngine{expression: expression, program: program}, nil
}

// Expression 返回编译时使用的原始表达式。
func (e *CELEngine) Expression() string {
	return e.expression
}

// Decide 求值失败时按拒绝处理。
func (e *CELEngine) Decide(tx *txdomain.Transaction, maxAmount decimal.Decimal) txdomain.Status {
	// 交易金额在创建时已限定为两位小数，不是整分的值按无法求值处理
	if !tx.Value.Shift(2).IsInteger() {
		return txdomain.StatusRejected
	}
	value, ok := toCents(tx.Value)
	if !ok {
		return txdomain.StatusRejected
	}
	limit, ok := toCents(maxAmount)
	if !ok {
		// 阈值超出 int64 分的范围时，任何可存储的金额都不会超过它
		if maxAmount.IsPositive() {
			limit = math.MaxInt64
		} else {
			return txdomain.StatusRejected
		}
	}

	out, _, err := e.program.Eval(map[string]any{
		"value":      value,
		"max_amount": limit,
	})
	if err != nil {
		return txdomain.StatusRejected
	}
	reject, ok := out.Value().(bool)
	if !ok || reject {
		return txdomain.StatusRejected
	}
	return txdomain.StatusApproved
}

var (
	minCents = decimal.NewFromInt(math.MinInt64)
	maxCents = decimal.NewFromInt(math.MaxInt64)
)

// toCents 向下取整到分。对整数 v 有 v > floor(m) 当且仅当 v > m，
// 因此阈值带有更多小数位时结果仍与 decimal 比较一致。
func toCents(d decimal.Decimal) (int64, bool) {
	cents := d.Shift(2).Floor()
	if cents.LessThan(minCents) || cents.GreaterThan(maxCents) {
		return 0, false
	}
	return cents.IntPart(), true
}
