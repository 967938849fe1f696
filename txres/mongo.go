package txres

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/gocrud/ioc/tx"
)

// Mongo 以会话事务作为分支的资源管理器，需要副本集或分片集群
type Mongo struct {
	name     string
	client   *mongo.Client
	timeout  time.Duration
	branches branches[*mongo.Session]
}

// NewMongo timeout 为提交与回滚的超时，非正数时为 10 秒
func NewMongo(name string, client *mongo.Client, timeout time.Duration) *Mongo {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Mongo{name: name, client: client, timeout: timeout}
}

func (m *Mongo) Name() string          { return m.name }
func (m *Mongo) Client() *mongo.Client { return m.client }
func (m *Mongo) Active() int           { return m.branches.size() }

func (m *Mongo) Resource() *MongoResource {
	return &MongoResource{rm: m}
}

// Context 返回携带当前事务会话的 context，集合操作使用它即加入事务。
// 没有当前事务时原样返回 ctx。
func (m *Mongo) Context(ctx context.Context, manager *tx.Manager) (context.Context, error) {
	xid, ok, err := enlisted(ctx, manager, m, func() (tx.Resource, *handle) {
		r := m.Resource()
		return r, &r.handle
	})
	if err != nil || !ok {
		return ctx, err
	}
	sess, err := m.branches.get(xid)
	if err != nil {
		return ctx, err
	}
	return mongo.NewSessionContext(ctx, sess), nil
}

// MongoResource Mongo 的登记句柄
type MongoResource struct {
	handle
	rm *Mongo
}

func (r *MongoResource) Start(xid tx.Xid, flag tx.Flag) error {
	switch flag {
	case tx.FlagJoin, tx.FlagResume:
		if _, err := r.rm.branches.get(xid); err != nil {
			return err
		}
	default:
		sess, err := r.rm.client.StartSession()
		if err != nil {
			return fmt.Errorf("txres: mongo %s start session: %w", r.rm.name, err)
		}
		if err := sess.StartTransaction(); err != nil {
			sess.EndSession(context.Background())
			return fmt.Errorf("txres: mongo %s start transaction: %w", r.rm.name, err)
		}
		if err := r.rm.branches.put(xid, sess); err != nil {
			sess.EndSession(context.Background())
			return err
		}
	}
	r.bind(xid)
	return nil
}

func (r *MongoResource) End(xid tx.Xid, _ tx.Flag) error {
	_, err := r.rm.branches.get(xid)
	return err
}

func (r *MongoResource) Prepare(xid tx.Xid) (tx.Vote, error) {
	if _, err := r.rm.branches.get(xid); err != nil {
		return tx.VoteRollback, err
	}
	return tx.VoteOK, nil
}

func (r *MongoResource) Commit(xid tx.Xid, _ bool) error {
	return r.finish(xid, "commit", (*mongo.Session).CommitTransaction)
}

func (r *MongoResource) Rollback(xid tx.Xid) error {
	return r.finish(xid, "abort", (*mongo.Session).AbortTransaction)
}

// finish 结束会话事务并关闭会话
func (r *MongoResource) finish(xid tx.Xid, op string, fn func(*mongo.Session, context.Context) error) error {
	sess, err := r.rm.branches.take(xid)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.rm.timeout)
	defer cancel()
	defer sess.EndSession(ctx)
	if err := fn(sess, ctx); err != nil {
		return fmt.Errorf("txres: mongo %s %s: %w", r.rm.name, op, err)
	}
	return nil
}

func (r *MongoResource) IsSameRM(other tx.Resource) (bool, error) {
	o, ok := other.(*MongoResource)
	return ok && o.rm == r.rm, nil
}

func (r *MongoResource) VendorName() string { return "mongodb" }
