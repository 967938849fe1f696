package etcd_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/gocrud/ioc/config"
	"github.com/gocrud/ioc/core"
	"github.com/gocrud/ioc/di"
	"github.com/gocrud/ioc/etcd"
)

// MockService 模拟依赖 Etcd 客户端的服务
type MockService struct {
	Master *clientv3.Client `di:"master"`
	Slave  *clientv3.Client `di:"slave,?"`
}

func TestEtcdConfiguration(t *testing.T) {
	rt := core.NewRuntime()
	require.NoError(t, rt.Apply(
		core.WithLogOutput(io.Discard),
		etcd.New(etcd.WithClient("master", func(o *etcd.EtcdClientOptions) {
			o.Endpoints = []string{"localhost:2379"}
		})),
		core.WithComponents(func(c di.Container) error {
			_, err := di.Register[*MockService](c)
			return err
		}),
	))

	svc, err := di.Resolve[*MockService](rt.Container())
	require.NoError(t, err)
	require.NotNil(t, svc.Master)
	assert.Nil(t, svc.Slave)

	master, err := di.ResolveNamed[*clientv3.Client](rt.Container(), "master")
	require.NoError(t, err)
	assert.Same(t, svc.Master, master)

	// 关闭钩子释放客户端
	require.NoError(t, rt.Lifecycle.Stop(context.Background()))
}

func TestEtcdConfiguredClient(t *testing.T) {
	cfg, err := config.NewConfigurationBuilder().AddInMemory(map[string]any{
		"etcd": map[string]any{
			"main": map[string]any{
				"endpoints":   []any{"10.0.0.1:2379", "10.0.0.2:2379"},
				"dialTimeout": "2s",
			},
		},
	}).Build()
	require.NoError(t, err)

	factory, err := etcd.NewBuilder(cfg).AddConfiguredClient("main", "etcd.main").Build(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = factory.Close() })

	client, err := factory.Get("main")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1:2379", "10.0.0.2:2379"}, client.Endpoints())

	src, err := factory.ConfigSource("main", "/app/")
	require.NoError(t, err)
	assert.Equal(t, "/app/", src.Options.Prefix)
	assert.Same(t, client, src.Options.Client)
	assert.Equal(t, 5*time.Second, src.Options.Timeout)

	_, err = factory.ConfigSource("other", "/")
	assert.Error(t, err)
}

func TestEtcdBuilderErrors(t *testing.T) {
	builder := etcd.NewBuilder(nil)

	// 必填项缺失
	builder.AddClient("invalid", func(o *etcd.EtcdClientOptions) {
		o.Endpoints = nil
	})
	builder.AddClient("duplicate", nil)
	builder.AddClient("duplicate", nil)
	builder.AddConfiguredClient("cfg", "etcd.cfg")

	_, err := builder.Build(nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "endpoints are required")
	assert.ErrorContains(t, err, "'duplicate' already configured")
	assert.ErrorContains(t, err, "no configuration")
}
