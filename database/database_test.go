package database_test

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gocrud/ioc/config"
	"github.com/gocrud/ioc/core"
	"github.com/gocrud/ioc/database"
	"github.com/gocrud/ioc/di"
	"github.com/gocrud/ioc/logging"
	"github.com/gocrud/ioc/tx"
	"github.com/gocrud/ioc/txres"
)

type User struct {
	gorm.Model
	Name string
}

type MockDBService struct {
	Master *gorm.DB `di:"master"`
	Slave  *gorm.DB `di:"slave,?"`
}

func silent(o *database.DatabaseOptions) {
	o.GormConfig = &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	o.AutoMigrate = []any{&User{}}
}

func TestDatabaseFromConfiguration(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "master.db")
	rt := core.NewRuntime()
	require.NoError(t, rt.Apply(
		core.WithLogOutput(io.Discard),
		core.WithConfiguration(func(b *config.ConfigurationBuilder) {
			b.AddInMemory(map[string]any{
				"database": map[string]any{
					"master": map[string]any{"dsn": dsn, "maxOpenConns": 5},
				},
			})
		}),
		database.New(database.WithConfiguredSqlite("master", "database.master", silent)),
		core.WithComponents(func(c di.Container) error {
			_, err := di.Register[*MockDBService](c)
			return err
		}),
	))

	svc, err := di.Resolve[*MockDBService](rt.Container())
	require.NoError(t, err)
	require.NotNil(t, svc.Master)
	assert.Nil(t, svc.Slave)

	sqlDB, err := svc.Master.DB()
	require.NoError(t, err)
	assert.Equal(t, 5, sqlDB.Stats().MaxOpenConnections)
	require.NoError(t, svc.Master.Create(&User{Name: "test"}).Error)

	factory, err := di.ResolveNamed[*database.DatabaseFactory](rt.Container(), database.FactoryName)
	require.NoError(t, err)
	db, err := factory.Get("master")
	require.NoError(t, err)
	assert.Same(t, svc.Master, db)
	require.NoError(t, factory.Close())
}

func TestDatabaseResourceJoinsTransactions(t *testing.T) {
	rt := core.NewRuntime()
	require.NoError(t, rt.Apply(
		core.WithLogOutput(io.Discard),
		database.New(database.WithSqlite("orders", filepath.Join(t.TempDir(), "orders.db"), silent)),
	))

	rm, err := di.ResolveNamed[*txres.Gorm](rt.Container(), database.ResourceName("orders"))
	require.NoError(t, err)
	m := rt.Manager()

	err = tx.Required(context.Background(), m, func(ctx context.Context) error {
		db, err := rm.DB(ctx, m)
		if err != nil {
			return err
		}
		if err := db.Create(&User{Name: "rolled back"}).Error; err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	var n int64
	require.NoError(t, rm.Client().Model(&User{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestDatabaseBuilderErrors(t *testing.T) {
	builder := database.NewBuilder(nil)

	// 缺少驱动
	builder.Add("invalid", nil, nil)
	// 重复名称
	builder.Add("dup", nil, func(o *database.DatabaseOptions) {})
	database.WithSqlite("dup", "a.db")(builder)
	database.WithSqlite("dup", "b.db")(builder)
	// 没有配置
	database.WithConfiguredSqlite("cfg", "database.cfg")(builder)

	_, err := builder.Build(logging.Nop())
	require.Error(t, err)
	assert.ErrorContains(t, err, "dialector is required")
	assert.ErrorContains(t, err, "'dup' already configured")
	assert.ErrorContains(t, err, "no configuration")
}

func TestDatabaseWithoutConfigurationsIsNoop(t *testing.T) {
	factory, err := database.NewBuilder(nil).Build(nil)
	require.NoError(t, err)
	assert.Nil(t, factory)
}

func TestDatabaseClientsAreNotAmbiguousByType(t *testing.T) {
	dir := t.TempDir()
	rt := core.NewRuntime()
	require.NoError(t, rt.Apply(
		core.WithLogOutput(io.Discard),
		database.New(
			database.WithSqlite("master", filepath.Join(dir, "master.db"), silent),
			database.WithSqlite("slave", filepath.Join(dir, "slave.db"), silent),
		),
		core.WithComponents(func(c di.Container) error {
			_, err := di.Register[*MockDBService](c)
			return err
		}),
	))

	svc, err := di.Resolve[*MockDBService](rt.Container())
	require.NoError(t, err)
	require.NotNil(t, svc.Master)
	require.NotNil(t, svc.Slave)
	assert.NotSame(t, svc.Master, svc.Slave)

	// 客户端只按名称注册，按类型查找既不命中也不歧义
	_, err = di.Resolve[*gorm.DB](rt.Container())
	assert.ErrorIs(t, err, di.ErrComponentNotFound)
	_, err = di.Resolve[*txres.Gorm](rt.Container())
	assert.ErrorIs(t, err, di.ErrComponentNotFound)
}
