package di_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocrud/ioc/di"
)

func TestSameSingletonByNameAndType(t *testing.T) {
	c := di.New()
	require.NoError(t, c.Register(di.Component[*Seal](di.WithName("seaLogic"))))

	byName, err := c.GetComponent("seaLogic")
	require.NoError(t, err)
	byType, err := c.GetComponent(di.TypeOf[*Seal]())
	require.NoError(t, err)

	assert.Same(t, byName, byType)
	assert.IsType(t, &Seal{}, byName)
}

func TestDuplicateNameIsAmbiguous(t *testing.T) {
	c := di.New()
	require.NoError(t, c.Register(di.Component[*Seal](di.WithName("dup"))))
	require.NoError(t, c.Register(di.Component[*Repo](di.WithName("dup"))))

	_, err := c.GetComponent("dup")
	require.ErrorIs(t, err, di.ErrTooManyRegistration)

	var tooMany *di.TooManyRegistrationError
	require.ErrorAs(t, err, &tooMany)
	require.Len(t, tooMany.Candidates, 2)
	assert.Equal(t, di.TypeOf[*Seal](), tooMany.Candidates[0].Type)
	assert.Equal(t, di.TypeOf[*Repo](), tooMany.Candidates[1].Type)
	assert.Equal(t, "dup", tooMany.Candidates[0].Name)

	// 类型键互不冲突
	_, err = c.GetComponent(di.TypeOf[*Seal]())
	assert.NoError(t, err)
}

func TestAmbiguousCandidateReportsDeployedSingleton(t *testing.T) {
	c := di.New()
	first := di.Component[*Seal](di.WithName("dup"))
	require.NoError(t, c.Register(first))
	seal, err := first.GetComponent()
	require.NoError(t, err)
	require.NoError(t, c.Register(di.Component[*Repo](di.WithName("dup"))))

	var tooMany *di.TooManyRegistrationError
	_, err = c.GetComponent("dup")
	require.ErrorAs(t, err, &tooMany)
	assert.Same(t, seal, tooMany.Candidates[0].Instance)
	assert.Nil(t, tooMany.Candidates[1].Instance)
}

func TestDisambiguatorPicksCandidate(t *testing.T) {
	c := di.New(di.WithDisambiguator(func(key any, candidates []*di.ComponentDef) *di.ComponentDef {
		for _, cd := range candidates {
			if cd.ComponentType() == di.TypeOf[*Repo]() {
				return cd
			}
		}
		return nil
	}))
	require.NoError(t, c.Register(di.Component[*Seal](di.WithName("dup"))))
	require.NoError(t, c.Register(di.Component[*Repo](di.WithName("dup"))))

	v, err := c.GetComponent("dup")
	require.NoError(t, err)
	assert.IsType(t, &Repo{}, v)
}

func sealDef(name, value string) *di.ComponentDef {
	return di.Component[*Seal](
		di.WithName(name),
		di.WithConstructor(func() *Seal { return &Seal{Name: value} }),
	)
}

func TestLocalRegistrationWinsOverChild(t *testing.T) {
	t.Run("include first", func(t *testing.T) {
		root, child := di.New(), di.New()
		require.NoError(t, child.Register(sealDef("seal", "child")))
		require.NoError(t, root.Include(child))
		local := sealDef("seal", "root")
		require.NoError(t, root.Register(local))

		def, err := root.GetComponentDef("seal")
		require.NoError(t, err)
		assert.Same(t, local, def)
		def, err = root.GetComponentDef(di.TypeOf[*Seal]())
		require.NoError(t, err)
		assert.Same(t, local, def)
	})

	t.Run("register first", func(t *testing.T) {
		root, child := di.New(), di.New()
		local := sealDef("seal", "root")
		require.NoError(t, root.Register(local))
		require.NoError(t, child.Register(sealDef("seal", "child")))
		require.NoError(t, root.Include(child))

		v, err := root.GetComponent("seal")
		require.NoError(t, err)
		assert.Equal(t, "root", v.(*Seal).Name)
	})

	t.Run("earlier child wins", func(t *testing.T) {
		root, first, second := di.New(), di.New(), di.New()
		require.NoError(t, first.Register(sealDef("seal", "first")))
		require.NoError(t, second.Register(sealDef("seal", "second")))
		require.NoError(t, root.Include(second))
		require.NoError(t, root.Include(first))

		v, err := root.GetComponent("seal")
		require.NoError(t, err)
		assert.Equal(t, "second", v.(*Seal).Name)
	})
}

func TestChildUpdateReplacesGrandchildEntry(t *testing.T) {
	root, child, grand := di.New(), di.New(), di.New()
	require.NoError(t, grand.Register(sealDef("seal", "grand")))
	require.NoError(t, child.Include(grand))
	require.NoError(t, root.Include(child))

	local := sealDef("seal", "child")
	require.NoError(t, child.Register(local))

	def, err := root.GetComponentDef("seal")
	require.NoError(t, err)
	assert.Same(t, local, def)
}

func TestIncludePropagatesThroughHierarchy(t *testing.T) {
	parent, child := di.New(), di.New()
	seal := di.Component[*Seal](di.WithName("seal"))
	require.NoError(t, child.Register(seal))
	require.NoError(t, parent.Include(child))

	byName, err := parent.GetComponentDef("seal")
	require.NoError(t, err)
	assert.Same(t, seal, byName)
	byType, err := parent.GetComponentDef(di.TypeOf[*Seal]())
	require.NoError(t, err)
	assert.Same(t, seal, byType)

	grand := di.New()
	repo := di.Component[*Repo](di.WithName("repo"))
	require.NoError(t, grand.Register(repo))
	require.NoError(t, grand.AddParent(child))

	def, err := parent.GetComponentDef("repo")
	require.NoError(t, err)
	assert.Same(t, repo, def)
	def, err = parent.GetComponentDef(di.TypeOf[*Repo]())
	require.NoError(t, err)
	assert.Same(t, repo, def)

	assert.Same(t, parent.Root(), grand.Root())
	assert.Equal(t, 1, grand.ParentSize())
	assert.Same(t, child, grand.ParentAt(0))
	assert.Equal(t, 1, parent.ChildSize())
}

func TestRegisterAfterIncludePropagates(t *testing.T) {
	parent, child := di.New(), di.New()
	require.NoError(t, parent.Include(child))
	require.NoError(t, child.Register(di.Component[*Repo](di.WithName("repo"))))

	assert.True(t, parent.HasComponentDef("repo"))
	assert.True(t, parent.HasComponentDef(di.TypeOf[*Repo]()))
	assert.Empty(t, parent.FindLocalComponentDefs("repo"))
	assert.Len(t, child.FindLocalComponentDefs("repo"), 1)
}

func TestIncludeRejectsSelfAndDuplicates(t *testing.T) {
	root, child := di.New(), di.New()
	assert.ErrorIs(t, root.Include(root), di.ErrContainerAlreadyIncluded)
	require.NoError(t, root.Include(child))
	assert.ErrorIs(t, root.Include(child), di.ErrContainerAlreadyIncluded)
	assert.ErrorIs(t, child.Include(root), di.ErrContainerAlreadyIncluded)
}

func TestNamespaceQualifiedLookup(t *testing.T) {
	root := di.New()
	dao := di.New(di.WithNamespace("dao"))
	repo := di.Component[*Repo](di.WithName("userRepo"))
	require.NoError(t, dao.Register(repo))
	require.NoError(t, root.Include(dao))

	def, err := root.GetComponentDef("dao:userRepo")
	require.NoError(t, err)
	assert.Same(t, repo, def)

	def, err = dao.GetComponentDef("dao:userRepo")
	require.NoError(t, err)
	assert.Same(t, repo, def)

	v, err := root.GetComponent("dao")
	require.NoError(t, err)
	assert.Same(t, dao, v)
}

func TestSetNamespaceIndexesExistingNames(t *testing.T) {
	c := di.New()
	require.NoError(t, c.Register(di.Component[*Repo](di.WithName("repo"))))
	c.SetNamespace("store")

	assert.True(t, c.HasComponentDef("store:repo"))
	assert.Equal(t, "store", c.Namespace())
}

func TestDescendantRegistry(t *testing.T) {
	root := di.New(di.WithPath("app.yaml"))
	child := di.New(di.WithPath("conf/Dao.yaml"))
	grand := di.New(di.WithPath("conf/jdbc.yaml"))
	require.NoError(t, child.Include(grand))
	require.NoError(t, root.Include(child))

	assert.True(t, root.HasDescendant("CONF/DAO.YAML"))
	d, err := root.GetDescendant("conf/jdbc.yaml")
	require.NoError(t, err)
	assert.Same(t, grand, d)

	_, err = root.GetDescendant("missing.yaml")
	assert.ErrorIs(t, err, di.ErrDescendantNotFound)
}

func TestContainerRegistersItself(t *testing.T) {
	c := di.New()
	v, err := c.GetComponent("container")
	require.NoError(t, err)
	assert.Same(t, c, v)

	self, err := di.Resolve[di.Container](c)
	require.NoError(t, err)
	assert.Same(t, c, self)
	assert.Equal(t, 0, c.ComponentDefSize())
}

func TestFindAllCollectsLocalOwners(t *testing.T) {
	root, child := di.New(), di.New()
	english := di.Component[*EnglishGreeter](di.As[Greeter]())
	french := di.Component[*FrenchGreeter](di.As[Greeter]())
	require.NoError(t, root.Register(english))
	require.NoError(t, child.Register(french))
	require.NoError(t, root.Include(child))

	key := di.TypeOf[Greeter]()
	all := root.FindAllComponentDefs(key)
	require.Len(t, all, 2)
	assert.Same(t, english, all[0])
	assert.Same(t, french, all[1])

	visible := root.FindComponentDefs(key)
	require.Len(t, visible, 1)
	assert.Same(t, english, visible[0])

	greeters, err := di.ResolveAll[Greeter](root)
	require.NoError(t, err)
	assert.Len(t, greeters, 2)
}

func TestInterfaceCatalog(t *testing.T) {
	c := di.New(di.WithInterfaces(di.TypeOf[Greeter]()))
	_, err := di.Register[*EnglishGreeter](c)
	require.NoError(t, err)

	g, err := di.Resolve[Greeter](c)
	require.NoError(t, err)
	assert.Equal(t, "hello", g.Greet())
}

func TestBehaviorAcquiresOnMiss(t *testing.T) {
	c := di.New(di.WithBehavior(di.BehaviorFunc(func(_ di.Container, key any) (*di.ComponentDef, error) {
		if key == "lazy" {
			return di.Component[*Seal](di.WithName("lazy")), nil
		}
		return nil, nil
	})))

	v, err := c.GetComponent("lazy")
	require.NoError(t, err)
	assert.IsType(t, &Seal{}, v)
	assert.True(t, c.HasComponentDef("lazy"))

	_, err = c.GetComponent("missing")
	assert.ErrorIs(t, err, di.ErrComponentNotFound)
}

func TestComponentNotFoundCarriesKey(t *testing.T) {
	c := di.New(di.WithPath("app.yaml"))
	_, err := c.GetComponent(di.TypeOf[*Seal]())

	var notFound *di.ComponentNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, di.TypeOf[*Seal](), notFound.Key)
	assert.Contains(t, err.Error(), "app.yaml")
	assert.False(t, c.HasComponentDef("nothing"))
}

func TestInitAndDestroyLifecycle(t *testing.T) {
	root, child := di.New(), di.New()
	var closed [2]int32
	for i, c := range []di.Container{root, child} {
		i := i
		require.NoError(t, c.Register(di.Component[*Bell](
			di.WithName(fmt.Sprintf("bell%d", i)),
			di.WithDestroyMethod(func(*Bell) { closed[i]++ }),
		)))
	}
	require.NoError(t, root.Register(di.Component[*BrokenBell](di.WithDestroyMethod("Close"))))
	require.NoError(t, root.Include(child))

	require.NoError(t, root.Init())
	require.NoError(t, root.Init())

	root.Destroy()
	assert.Equal(t, [2]int32{1, 1}, closed)

	_, err := root.GetComponent("bell0")
	assert.ErrorIs(t, err, di.ErrContainerDestroyed)
	assert.ErrorIs(t, root.Register(di.Component[*Seal]()), di.ErrContainerDestroyed)
	_, err = child.GetComponent("bell1")
	assert.ErrorIs(t, err, di.ErrContainerDestroyed)
}

func TestDestroyedDefinitionIsUnusable(t *testing.T) {
	c := di.New()
	var closed int
	cd, err := di.Register[*Bell](c, di.WithDestroyMethod(func(*Bell) { closed++ }))
	require.NoError(t, err)

	first, err := cd.GetComponent()
	require.NoError(t, err)
	require.NotNil(t, first)

	c.Destroy()
	assert.Equal(t, 1, closed)

	v, err := cd.GetComponent()
	assert.ErrorIs(t, err, di.ErrContainerDestroyed)
	assert.Nil(t, v)
	assert.ErrorIs(t, cd.InjectDependency(&Bell{}), di.ErrContainerDestroyed)
	assert.ErrorIs(t, cd.Init(), di.ErrContainerDestroyed)
	assert.Empty(t, cd.DestroyMethodDefs())

	cd.Destroy()
	assert.Equal(t, 1, closed)
}

func TestIndexAccessorsAfterDestroy(t *testing.T) {
	root, child := di.New(), di.New()
	require.NoError(t, root.Register(di.Component[*Seal]()))
	require.NoError(t, root.Include(child))
	require.NotNil(t, root.ComponentDefAt(0))
	require.NotNil(t, root.ChildAt(0))
	require.NotNil(t, child.ParentAt(0))

	root.Destroy()
	assert.Nil(t, root.ComponentDefAt(0))
	assert.Nil(t, root.ChildAt(0))
	assert.Nil(t, child.ParentAt(0))
	assert.Nil(t, root.ComponentDefAt(-1))
}

func TestThreadSafeContainer(t *testing.T) {
	root := di.New(di.WithThreadSafe())
	child := di.New()
	require.NoError(t, root.Include(child))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("seal%d", i)
			target := root
			if i%2 == 0 {
				target = child
			}
			assert.NoError(t, target.Register(di.Component[*Seal](di.WithName(name))))
			_, err := root.GetComponent(name)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 20; i++ {
		assert.True(t, root.HasComponentDef(fmt.Sprintf("seal%d", i)))
	}
}
