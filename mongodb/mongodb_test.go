package mongodb_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/gocrud/ioc/core"
	"github.com/gocrud/ioc/di"
	"github.com/gocrud/ioc/mongodb"
	"github.com/gocrud/ioc/txres"
)

type MockMongoService struct {
	Primary *mongo.Client `di:"primary"`
	Archive *mongo.Client `di:"archive,?"`
}

func TestMongoClientsAreRegistered(t *testing.T) {
	rt := core.NewRuntime()
	require.NoError(t, rt.Apply(
		core.WithLogOutput(io.Discard),
		mongodb.New(mongodb.WithClient("primary", "mongodb://127.0.0.1:1", func(o *mongodb.MongoOptions) {
			o.Lazy = true
			o.MinPoolSize = 0
		})),
		core.WithComponents(func(c di.Container) error {
			_, err := di.Register[*MockMongoService](c)
			return err
		}),
	))

	svc, err := di.Resolve[*MockMongoService](rt.Container())
	require.NoError(t, err)
	require.NotNil(t, svc.Primary)
	assert.Nil(t, svc.Archive)

	rm, err := di.ResolveNamed[*txres.Mongo](rt.Container(), mongodb.ResourceName("primary"))
	require.NoError(t, err)
	assert.Same(t, svc.Primary, rm.Client())

	factory, err := di.ResolveNamed[*mongodb.MongoFactory](rt.Container(), mongodb.FactoryName)
	require.NoError(t, err)
	require.NoError(t, factory.Close())
}

func TestMongoBuilderErrors(t *testing.T) {
	b := mongodb.NewBuilder()
	b.Add("", "mongodb://localhost", nil)
	b.Add("nouri", "", nil)
	b.Add("a", "mongodb://localhost", func(o *mongodb.MongoOptions) { o.Lazy = true })
	b.Add("a", "mongodb://localhost", nil)

	_, err := b.Build(nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "name is required")
	assert.ErrorContains(t, err, "uri is required")
	assert.ErrorContains(t, err, "'a' already configured")
}
