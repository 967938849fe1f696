package tx

// Synchronization 事务完成前后的回调
type Synchronization interface {
	// BeforeCompletion 返回错误会使事务回滚
	BeforeCompletion() error
	// AfterCompletion 收到事务的最终状态，不能阻止事务结束
	AfterCompletion(status Status)
}

// SyncFunc 用函数实现 Synchronization，任一字段可以为空
type SyncFunc struct {
	Before func() error
	After  func(status Status)
}

func (s SyncFunc) BeforeCompletion() error {
	if s.Before == nil {
		return nil
	}
	return s.Before()
}

func (s SyncFunc) AfterCompletion(status Status) {
	if s.After != nil {
		s.After(status)
	}
}
