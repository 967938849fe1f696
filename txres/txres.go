// Package txres 把常用数据访问客户端适配为 tx.Resource。
//
// 每个适配器是一个资源管理器（Gorm、Redis、Mongo），按 Xid 维护事务分支；
// 资源管理器的 Resource 方法返回可登记的句柄，同一管理器的句柄互为 same RM，
// 因此同一事务中后登记的句柄以 JOIN 加入已有分支。
package txres

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gocrud/ioc/tx"
)

var (
	// ErrUnknownBranch 分支不存在或已经结束
	ErrUnknownBranch = errors.New("txres: unknown branch")
	// ErrDuplicateBranch 同一 Xid 重复开始分支
	ErrDuplicateBranch = errors.New("txres: branch already started")
)

// branches 按 Xid 索引的分支表
type branches[B any] struct {
	mu sync.Mutex
	m  map[string]B
}

func (b *branches[B]) put(xid tx.Xid, v B) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := xid.String()
	if _, ok := b.m[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateBranch, key)
	}
	if b.m == nil {
		b.m = make(map[string]B)
	}
	b.m[key] = v
	return nil
}

func (b *branches[B]) get(xid tx.Xid) (B, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.m[xid.String()]
	if !ok {
		var zero B
		return zero, fmt.Errorf("%w: %s", ErrUnknownBranch, xid)
	}
	return v, nil
}

// take 取出并删除分支
func (b *branches[B]) take(xid tx.Xid) (B, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := xid.String()
	v, ok := b.m[key]
	if !ok {
		var zero B
		return zero, fmt.Errorf("%w: %s", ErrUnknownBranch, key)
	}
	delete(b.m, key)
	return v, nil
}

func (b *branches[B]) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.m)
}

// handle 登记到事务中的句柄，记住自己所在的分支
type handle struct {
	mu  sync.Mutex
	xid tx.Xid
}

func (h *handle) bind(xid tx.Xid) {
	h.mu.Lock()
	h.xid = xid
	h.mu.Unlock()
}

func (h *handle) branch() tx.Xid {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.xid
}

type enlistKey struct{ rm any }

// enlisted 返回当前事务中 rm 已登记的分支 Xid；尚未登记时用 newResource 创建句柄并登记。
// 没有当前事务时 ok 为 false。
func enlisted(ctx context.Context, m *tx.Manager, rm any, newResource func() (tx.Resource, *handle)) (xid tx.Xid, ok bool, err error) {
	t := m.Transaction(ctx)
	if t == nil {
		return tx.Xid{}, false, nil
	}
	if h, found := t.Resource(enlistKey{rm}).(*handle); found {
		return h.branch(), true, nil
	}
	r, h := newResource()
	if _, err := t.EnlistResource(r); err != nil {
		return tx.Xid{}, false, err
	}
	t.PutResource(enlistKey{rm}, h)
	return h.branch(), true, nil
}
