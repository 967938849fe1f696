package txres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gocrud/ioc/tx"
)

// Redis 以 MULTI/EXEC 管道作为分支的资源管理器。
//
// 分支中的命令在提交时一次执行，回滚时丢弃；命令的结果只能在提交之后读取。
type Redis struct {
	name     string
	client   *redis.Client
	timeout  time.Duration
	branches branches[redis.Pipeliner]
}

// NewRedis timeout 为提交时执行管道的超时，非正数时为 5 秒
func NewRedis(name string, client *redis.Client, timeout time.Duration) *Redis {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Redis{name: name, client: client, timeout: timeout}
}

func (r *Redis) Name() string          { return r.name }
func (r *Redis) Client() *redis.Client { return r.client }
func (r *Redis) Active() int           { return r.branches.size() }

func (r *Redis) Resource() *RedisResource {
	return &RedisResource{rm: r}
}

// Cmdable 返回当前事务中的管道；没有当前事务时返回客户端本身
func (r *Redis) Cmdable(ctx context.Context, m *tx.Manager) (redis.Cmdable, error) {
	xid, ok, err := enlisted(ctx, m, r, func() (tx.Resource, *handle) {
		res := r.Resource()
		return res, &res.handle
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return r.client, nil
	}
	return r.branches.get(xid)
}

// RedisResource Redis 的登记句柄
type RedisResource struct {
	handle
	rm *Redis
}

func (r *RedisResource) Start(xid tx.Xid, flag tx.Flag) error {
	switch flag {
	case tx.FlagJoin, tx.FlagResume:
		if _, err := r.rm.branches.get(xid); err != nil {
			return err
		}
	default:
		if err := r.rm.branches.put(xid, r.rm.client.TxPipeline()); err != nil {
			return err
		}
	}
	r.bind(xid)
	return nil
}

func (r *RedisResource) End(xid tx.Xid, _ tx.Flag) error {
	_, err := r.rm.branches.get(xid)
	return err
}

// Prepare 没有排队命令的分支投只读票并立即结束
func (r *RedisResource) Prepare(xid tx.Xid) (tx.Vote, error) {
	pipe, err := r.rm.branches.get(xid)
	if err != nil {
		return tx.VoteRollback, err
	}
	if pipe.Len() == 0 {
		if _, err := r.rm.branches.take(xid); err == nil {
			pipe.Discard()
		}
		return tx.VoteReadOnly, nil
	}
	return tx.VoteOK, nil
}

func (r *RedisResource) Commit(xid tx.Xid, _ bool) error {
	pipe, err := r.rm.branches.take(xid)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.rm.timeout)
	defer cancel()
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("txres: redis %s exec: %w", r.rm.name, err)
	}
	return nil
}

func (r *RedisResource) Rollback(xid tx.Xid) error {
	pipe, err := r.rm.branches.take(xid)
	if err != nil {
		return err
	}
	pipe.Discard()
	return nil
}

func (r *RedisResource) IsSameRM(other tx.Resource) (bool, error) {
	o, ok := other.(*RedisResource)
	return ok && o.rm == r.rm, nil
}

func (r *RedisResource) VendorName() string { return "redis" }
