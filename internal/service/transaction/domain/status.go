// internal/service/transaction/domain/status.go
package domain

// Status 定义了交易的风控状态
type Status string

const (
	StatusPending  Status = "pending"  // 初始状态，等待风控分析
	StatusApproved Status = "approved" // 终态
	StatusRejected Status = "rejected" // 终态
)

// IsTerminal 终态之后不存在任何状态流转。
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// IsValid 判断是否为已知状态。
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}
