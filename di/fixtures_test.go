package di_test

import (
	"errors"
	"sync/atomic"

	"github.com/gocrud/ioc/di"
)

type Greeter interface {
	Greet() string
}

type EnglishGreeter struct{}

func (*EnglishGreeter) Greet() string { return "hello" }

type FrenchGreeter struct{}

func (*FrenchGreeter) Greet() string { return "bonjour" }

type Seal struct {
	Name string
}

type Repo struct {
	DSN string
}

type Service struct {
	Repo    *Repo
	Greeter Greeter
}

func (s *Service) Setup(r *Repo) {
	s.Repo = r
}

type Chicken struct {
	Egg *Egg
}

type Egg struct {
	Chicken *Chicken
}

type Left struct{ R *Right }

type Right struct{ L *Left }

type Engine struct {
	Arity int
}

type Counter struct {
	Inits int
}

func (c *Counter) Start() { c.Inits++ }

type Bell struct {
	Name      string
	Destroyed *atomic.Int32
}

func (b *Bell) Rename(name string) { b.Name = name }

func (b *Bell) Close() {
	if b.Destroyed != nil {
		b.Destroyed.Add(1)
	}
}

type BrokenBell struct{}

func (*BrokenBell) Close() error { return errors.New("stuck") }

type Chorus struct {
	Greeters []Greeter
}

type Query struct {
	Page  int
	Tags  []string
	Token string
}

type Tagged struct {
	Primary  Greeter `di:"english"`
	Optional *Seal   `di:"?"`
	Ignored  *Repo   `di:"-"`
}

type Needy struct {
	Missing *Seal `di:"must"`
}

type Relaxed struct {
	Missing *Seal `di:"should"`
}

type Plain struct {
	Repo *Repo
}

type Introspect struct {
	Def *di.ComponentDef
}

type Greeting struct {
	Text  string
	Count int
}

func NewGreeting(text string, count int) *Greeting {
	return &Greeting{Text: text, Count: count}
}

type NoneTagged struct {
	Repo *Repo `di:",none"`
}

func (n *NoneTagged) SetRepo(r *Repo) { n.Repo = r }

// withSetter 通过 setter 暴露属性
type withSetter struct {
	repo *Repo
}

func (w *withSetter) SetRepo(r *Repo) { w.repo = r }
