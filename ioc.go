// Package ioc 组装配置、日志、容器树和事务管理器，并运行托管服务的生命周期。
//
//	err := ioc.Run(ctx,
//	    core.WithConfigurationFile("app.yaml", "APP_"),
//	    database.New(database.WithConfiguredSqlite("main", "database.main")),
//	    web.New(web.WithConfiguredHost("web"), web.WithControllers(NewOrderController)),
//	)
package ioc

import (
	"context"

	"github.com/gocrud/ioc/core"
)

// New 应用全部选项并构建运行时
func New(opts ...core.Option) (*core.Runtime, error) {
	rt := core.NewRuntime()
	if err := rt.Apply(opts...); err != nil {
		return nil, err
	}
	if err := rt.Build(); err != nil {
		return nil, err
	}
	return rt, nil
}

// Run 构建运行时并阻塞到 ctx 结束、收到退出信号或托管服务失败
func Run(ctx context.Context, opts ...core.Option) error {
	rt, err := New(opts...)
	if err != nil {
		return err
	}
	return rt.Run(ctx)
}
