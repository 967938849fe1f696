package txres

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/gocrud/ioc/tx"
)

// Gorm 以 gorm 数据库事务作为分支的资源管理器
type Gorm struct {
	name     string
	db       *gorm.DB
	branches branches[*gorm.DB]
}

func NewGorm(name string, db *gorm.DB) *Gorm {
	return &Gorm{name: name, db: db}
}

func (g *Gorm) Name() string     { return g.name }
func (g *Gorm) Client() *gorm.DB { return g.db }

// Active 尚未结束的分支数
func (g *Gorm) Active() int { return g.branches.size() }

// Resource 返回一个新的可登记句柄
func (g *Gorm) Resource() *GormResource {
	return &GormResource{rm: g}
}

// Branch 返回分支上的 *gorm.DB
func (g *Gorm) Branch(xid tx.Xid) (*gorm.DB, error) {
	return g.branches.get(xid)
}

// DB 返回当前事务中的 *gorm.DB，第一次调用时把本资源管理器登记到事务。
// 没有当前事务时返回普通连接。
//
//	db, err := orders.DB(ctx, manager)
//	if err != nil {
//	    return err
//	}
//	return db.Create(&order).Error
func (g *Gorm) DB(ctx context.Context, m *tx.Manager) (*gorm.DB, error) {
	xid, ok, err := enlisted(ctx, m, g, func() (tx.Resource, *handle) {
		r := g.Resource()
		return r, &r.handle
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return g.db.WithContext(ctx), nil
	}
	branch, err := g.branches.get(xid)
	if err != nil {
		return nil, err
	}
	return branch.WithContext(ctx), nil
}

// GormResource Gorm 的登记句柄
type GormResource struct {
	handle
	rm *Gorm
}

func (r *GormResource) Start(xid tx.Xid, flag tx.Flag) error {
	switch flag {
	case tx.FlagJoin, tx.FlagResume:
		if _, err := r.rm.branches.get(xid); err != nil {
			return err
		}
	default:
		branch := r.rm.db.Begin()
		if branch.Error != nil {
			return fmt.Errorf("txres: gorm %s begin: %w", r.rm.name, branch.Error)
		}
		if err := r.rm.branches.put(xid, branch); err != nil {
			branch.Rollback()
			return err
		}
	}
	r.bind(xid)
	return nil
}

func (r *GormResource) End(xid tx.Xid, _ tx.Flag) error {
	_, err := r.rm.branches.get(xid)
	return err
}

// Prepare 单个数据库事务没有独立的准备阶段，分支存在即投 OK
func (r *GormResource) Prepare(xid tx.Xid) (tx.Vote, error) {
	if _, err := r.rm.branches.get(xid); err != nil {
		return tx.VoteRollback, err
	}
	return tx.VoteOK, nil
}

func (r *GormResource) Commit(xid tx.Xid, _ bool) error {
	branch, err := r.rm.branches.take(xid)
	if err != nil {
		return err
	}
	if err := branch.Commit().Error; err != nil {
		return fmt.Errorf("txres: gorm %s commit: %w", r.rm.name, err)
	}
	return nil
}

func (r *GormResource) Rollback(xid tx.Xid) error {
	branch, err := r.rm.branches.take(xid)
	if err != nil {
		return err
	}
	if err := branch.Rollback().Error; err != nil {
		return fmt.Errorf("txres: gorm %s rollback: %w", r.rm.name, err)
	}
	return nil
}

func (r *GormResource) IsSameRM(other tx.Resource) (bool, error) {
	o, ok := other.(*GormResource)
	return ok && o.rm == r.rm, nil
}

// VendorName 使用方言名，例如 sqlite、mysql、oracle
func (r *GormResource) VendorName() string {
	return r.rm.db.Dialector.Name()
}
