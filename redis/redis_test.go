package redis_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocrud/ioc/config"
	"github.com/gocrud/ioc/core"
	"github.com/gocrud/ioc/di"
	"github.com/gocrud/ioc/redis"
	"github.com/gocrud/ioc/tx"
	"github.com/gocrud/ioc/txres"
)

// MockRedisService 模拟依赖 Redis 客户端的服务
type MockRedisService struct {
	Cache *goredis.Client `di:"cache"`
	Queue *goredis.Client `di:"queue,?"`
}

func lazy(o *redis.RedisClientOptions) {
	o.Addr = "127.0.0.1:1"
	o.Lazy = true
}

func TestRedisClientsAreRegistered(t *testing.T) {
	rt := core.NewRuntime()
	require.NoError(t, rt.Apply(
		core.WithLogOutput(io.Discard),
		redis.New(redis.WithClient("cache", lazy)),
		core.WithComponents(func(c di.Container) error {
			_, err := di.Register[*MockRedisService](c)
			return err
		}),
	))

	svc, err := di.Resolve[*MockRedisService](rt.Container())
	require.NoError(t, err)
	require.NotNil(t, svc.Cache)
	assert.Nil(t, svc.Queue)

	factory, err := di.ResolveNamed[*redis.RedisClientFactory](rt.Container(), redis.FactoryName)
	require.NoError(t, err)
	client, err := factory.Get("cache")
	require.NoError(t, err)
	assert.Same(t, svc.Cache, client)
	_, err = factory.Get("queue")
	assert.Error(t, err)
	require.NoError(t, factory.Close())
}

func TestRedisResourceDiscardsOnRollback(t *testing.T) {
	rt := core.NewRuntime()
	require.NoError(t, rt.Apply(core.WithLogOutput(io.Discard), redis.New(redis.WithClient("cache", lazy))))

	rm, err := di.ResolveNamed[*txres.Redis](rt.Container(), redis.ResourceName("cache"))
	require.NoError(t, err)
	m := rt.Manager()

	err = tx.Required(context.Background(), m, func(ctx context.Context) error {
		pipe, err := rm.Cmdable(ctx, m)
		if err != nil {
			return err
		}
		pipe.Set(ctx, "k", "v", 0)
		return errors.New("abort")
	})
	require.Error(t, err)
	assert.Zero(t, rm.Active())
}

func TestRedisConfiguredClient(t *testing.T) {
	cfg, err := config.NewConfigurationBuilder().AddInMemory(map[string]any{
		"redis": map[string]any{
			"cache": map[string]any{"addr": "127.0.0.1:1", "db": 2, "dialTimeout": "1s", "lazy": true},
		},
	}).Build()
	require.NoError(t, err)

	factory, err := redis.NewBuilder(cfg).AddConfiguredClient("cache", "redis.cache").Build(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = factory.Close() })

	client, err := factory.Get("cache")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:1", client.Options().Addr)
	assert.Equal(t, 2, client.Options().DB)
	assert.Equal(t, time.Second, client.Options().DialTimeout)
	// 未配置的字段保留默认值
	assert.Equal(t, 10, client.Options().PoolSize)
}

func TestRedisBuilderErrors(t *testing.T) {
	b := redis.NewBuilder(nil)
	b.AddClient("", nil)
	b.AddClient("cache", func(o *redis.RedisClientOptions) { o.Lazy = true })
	b.AddClient("cache", nil)
	b.AddClient("neg", func(o *redis.RedisClientOptions) { o.DB = -1 })
	b.AddConfiguredClient("cfg", "redis.cfg")

	_, err := b.Build(nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "name is required")
	assert.ErrorContains(t, err, "'cache' already configured")
	assert.ErrorContains(t, err, "non-negative")
	assert.ErrorContains(t, err, "no configuration")
}

func TestRedisPingFailure(t *testing.T) {
	_, err := redis.NewBuilder(nil).AddClient("down", func(o *redis.RedisClientOptions) {
		o.Addr = "127.0.0.1:1"
		o.DialTimeout = 200 * time.Millisecond
		o.MaxRetries = -1
	}).Build(nil)
	assert.ErrorContains(t, err, "failed to connect to redis")
}

func TestRedisClientsRegisterByNameOnly(t *testing.T) {
	rt := core.NewRuntime()
	require.NoError(t, rt.Apply(core.WithLogOutput(io.Discard), redis.New(
		redis.WithClient("cache", lazy),
		redis.WithClient("queue", lazy),
	), core.WithComponents(func(c di.Container) error {
		_, err := di.Register[*MockRedisService](c)
		return err
	})))

	svc, err := di.Resolve[*MockRedisService](rt.Container())
	require.NoError(t, err)
	require.NotNil(t, svc.Queue)
	assert.NotSame(t, svc.Cache, svc.Queue)

	_, err = di.Resolve[*goredis.Client](rt.Container())
	assert.ErrorIs(t, err, di.ErrComponentNotFound)
}
