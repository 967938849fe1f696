package tx

// Status 事务状态
type Status int

const (
	StatusNoTransaction Status = iota
	StatusActive
	StatusMarkedRollback
	StatusPreparing
	StatusPrepared
	StatusCommitting
	StatusCommitted
	StatusRollingBack
	StatusRolledBack
	// StatusUnknown 提交或回滚过程中资源意外失败，结果不确定
	StatusUnknown
)

func (s Status) String() string {
	switch s {
	case StatusNoTransaction:
		return "NO_TRANSACTION"
	case StatusActive:
		return "ACTIVE"
	case StatusMarkedRollback:
		return "MARKED_ROLLBACK"
	case StatusPreparing:
		return "PREPARING"
	case StatusPrepared:
		return "PREPARED"
	case StatusCommitting:
		return "COMMITTING"
	case StatusCommitted:
		return "COMMITTED"
	case StatusRollingBack:
		return "ROLLING_BACK"
	case StatusRolledBack:
		return "ROLLEDBACK"
	default:
		return "UNKNOWN"
	}
}

// activeOrMarked 挂起、恢复与回滚只在这两种状态下允许
func (s Status) activeOrMarked() bool {
	return s == StatusActive || s == StatusMarkedRollback
}
