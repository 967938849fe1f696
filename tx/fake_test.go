package tx_test

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gocrud/ioc/tx"
)

// journal 按顺序记录所有资源调用
type journal struct {
	mu    sync.Mutex
	calls []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = append(j.calls, fmt.Sprintf(format, args...))
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.calls...)
}

// rm 资源管理器标识，同一个 rm 下的资源互为 same RM
type rm struct{ name string }

type fakeResource struct {
	name    string
	rm      *rm
	vendor  string
	log     *journal
	vote    tx.Vote
	failOn  map[string]bool
	started []tx.Flag
	ended   []tx.Flag
}

func newFake(name string, log *journal) *fakeResource {
	return &fakeResource{name: name, rm: &rm{name: name}, log: log, failOn: map[string]bool{}}
}

func (r *fakeResource) fail(op string) error {
	if r.failOn[op] {
		return errors.New(r.name + " " + op + " failed")
	}
	return nil
}

func (r *fakeResource) Start(_ tx.Xid, flag tx.Flag) error {
	r.started = append(r.started, flag)
	r.log.add("%s.start(%s)", r.name, flag)
	return r.fail("start")
}

func (r *fakeResource) End(_ tx.Xid, flag tx.Flag) error {
	r.ended = append(r.ended, flag)
	r.log.add("%s.end(%s)", r.name, flag)
	return r.fail("end")
}

func (r *fakeResource) Prepare(tx.Xid) (tx.Vote, error) {
	r.log.add("%s.prepare", r.name)
	if err := r.fail("prepare"); err != nil {
		return tx.VoteRollback, err
	}
	return r.vote, nil
}

func (r *fakeResource) Commit(_ tx.Xid, onePhase bool) error {
	r.log.add("%s.commit(%t)", r.name, onePhase)
	return r.fail("commit")
}

func (r *fakeResource) Rollback(tx.Xid) error {
	r.log.add("%s.rollback", r.name)
	return r.fail("rollback")
}

func (r *fakeResource) IsSameRM(other tx.Resource) (bool, error) {
	o, ok := other.(*fakeResource)
	return ok && o.rm == r.rm, nil
}

func (r *fakeResource) VendorName() string {
	if r.vendor != "" {
		return r.vendor
	}
	return "fake"
}

// calls 过滤出某个动作的调用
func calls(log *journal, suffix string) []string {
	var out []string
	for _, c := range log.all() {
		if len(c) >= len(suffix) && c[len(c)-len(suffix):] == suffix {
			out = append(out, c)
		}
	}
	return out
}
