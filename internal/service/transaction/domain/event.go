// internal/service/transaction/domain/event.go
package domain

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// HeaderCASApplied 是决策结果消息上的头，"false" 表示这条决策没有写入存储（过期决策）。
const HeaderCASApplied = "x-cas-applied"

// CheckRequestEvent 请求对一笔交易做风控分析。
type CheckRequestEvent struct {
	TransactionID string `json:"transactionId"`
}

// DecisionResultEvent 是风控分析的结果。
// Version 是决策所依据的快照版本（更新前的版本），接收方据此把决策和快照对应起来。
type DecisionResultEvent struct {
	TransactionID string `json:"transactionId"`
	Version       int64  `json:"version"`
	NewStatus     Status `json:"newStatus"`
}

// DecodeCheckRequest 解析入站消息，格式错误时返回 ErrDecode。
func DecodeCheckRequest(payload []byte) (*CheckRequestEvent, error) {
	var evt CheckRequestEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, errors.Wrapf(ErrDecode, "check request: %v", err)
	}
	evt.TransactionID = strings.TrimSpace(evt.TransactionID)
	if evt.TransactionID == "" {
		return nil, errors.Wrap(ErrDecode, "check request: transactionId is empty")
	}
	return &evt, nil
}

// DecodeDecisionResult 解析决策结果，只接受终态。
func DecodeDecisionResult(payload []byte) (*DecisionResultEvent, error) {
	var evt DecisionResultEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, errors.Wrapf(ErrDecode, "decision result: %v", err)
	}
	if evt.TransactionID == "" {
		return nil, errors.Wrap(ErrDecode, "decision result: transactionId is empty")
	}
	if evt.Version < 0 {
		return nil, errors.Wrapf(ErrDecode, "decision result: negative version %d", evt.Version)
	}
	if !evt.NewStatus.IsTerminal() {
		return nil, errors.Wrapf(ErrDecode, "decision result: unexpected status %q", evt.NewStatus)
	}
	return &evt, nil
}
