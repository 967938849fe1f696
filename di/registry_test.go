package di_test

import (
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocrud/ioc/di"
)

func TestUnknownInstanceStrategy(t *testing.T) {
	c := di.New()
	err := c.Register(di.Component[*Seal](di.WithInstance("forever")))
	require.ErrorIs(t, err, di.ErrUnknownStrategy)

	var unknown *di.UnknownStrategyError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "forever", unknown.Name)
	assert.False(t, c.HasComponentDef(di.TypeOf[*Seal]()))
}

func TestCustomInstanceStrategy(t *testing.T) {
	reg := di.NewRegistry()
	var deployers atomic.Int32
	reg.RegisterInstanceDef(di.NewInstanceDef("custom", func(cd *di.ComponentDef) di.Deployer {
		deployers.Add(1)
		return di.InstancePrototype.NewDeployer(cd)
	}))
	c := di.New(di.WithRegistry(reg))
	_, err := di.Register[*Seal](c, di.WithInstance("CUSTOM"))
	require.NoError(t, err)

	a, err := di.Resolve[*Seal](c)
	require.NoError(t, err)
	b, err := di.Resolve[*Seal](c)
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Equal(t, int32(1), deployers.Load())

	// 自定义注册表不影响默认注册表
	_, err = di.DefaultRegistry().InstanceDef("custom")
	assert.ErrorIs(t, err, di.ErrUnknownStrategy)
}

func TestRegistryAliases(t *testing.T) {
	reg := di.NewRegistry()
	reg.RegisterBindingType("required", di.BindingMust)
	reg.RegisterAutoBinding("full", di.AutoBindingAuto)

	b, err := reg.BindingType("Required")
	require.NoError(t, err)
	assert.Equal(t, di.BindingMust, b)

	a, err := reg.AutoBinding("semiauto")
	require.NoError(t, err)
	assert.Equal(t, di.AutoBindingSemiAuto, a)

	_, err = reg.AccessType("bogus")
	assert.ErrorIs(t, err, di.ErrUnknownStrategy)
	_, err = reg.AutoBinding("bogus")
	assert.ErrorIs(t, err, di.ErrUnknownStrategy)
}

func TestWeaverPanicBecomesIllegalConstructor(t *testing.T) {
	c := di.New(di.WithWeaver(di.WeaverFunc(func(*di.ComponentDef) (reflect.Type, error) {
		panic("weave failed")
	})))
	_, err := di.Register[*Seal](c)
	require.NoError(t, err)

	_, err = di.Resolve[*Seal](c)
	assert.ErrorIs(t, err, di.ErrIllegalConstructor)
	assert.ErrorIs(t, c.Init(), di.ErrIllegalConstructor)
}

func TestConcreteTypeCachedUntilAspectAdded(t *testing.T) {
	var woven atomic.Int32
	c := di.New(di.WithWeaver(di.WeaverFunc(func(cd *di.ComponentDef) (reflect.Type, error) {
		woven.Add(1)
		return cd.ComponentType(), nil
	})))
	cd, err := di.Register[*Seal](c)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		typ, err := cd.ConcreteType()
		require.NoError(t, err)
		assert.Equal(t, di.TypeOf[*Seal](), typ)
	}
	assert.Equal(t, int32(1), woven.Load())

	cd.AddAspectDef(&di.AspectDef{Pointcut: "Name"})
	_, err = cd.ConcreteType()
	require.NoError(t, err)
	assert.Equal(t, int32(2), woven.Load())
}

func TestMetaDefs(t *testing.T) {
	c := di.New()
	c.AddMetaDef(di.NewMetaDef("owner", "ops"))
	cd, err := di.Register[*Seal](c, di.WithMeta("cron", "@every 1m"), di.WithMeta("cron.method", di.Ref("container")))
	require.NoError(t, err)

	assert.Equal(t, "ops", c.MetaDef("owner").Value())
	assert.Nil(t, c.MetaDef("missing"))
	assert.Equal(t, "@every 1m", cd.MetaDef("cron").Value())

	v, err := cd.MetaDef("cron.method").Resolve(t.Context(), c)
	require.NoError(t, err)
	assert.Same(t, c, v)
	assert.Len(t, cd.MetaDefs(), 2)
}
