package cron

import (
	"github.com/gocrud/ioc/core"
	"github.com/gocrud/ioc/di"
)

// SchedulerName 调度器在容器中的组件名
const SchedulerName = "cronScheduler"

// Job 通过 New 添加的任务
type Job struct {
	Spec    string
	Name    string
	Handler any
}

// New 启用定时任务：创建调度器并注册为托管服务，任务的事务槽由运行时的事务管理器提供
func New(jobs []Job, opts ...Option) core.Option {
	return func(rt *core.Runtime) error {
		opts = append([]Option{WithTransactionManager(rt.Manager())}, opts...)
		s := NewScheduler(rt.Container(), rt.LoggerFactory().CreateLogger("ioc.cron"), opts...)
		for _, job := range jobs {
			if err := s.AddJob(job.Spec, job.Name, job.Handler); err != nil {
				return err
			}
		}
		return core.WithHostedServiceValue(s, di.WithName(SchedulerName))(rt)
	}
}
