package tx

import (
	"reflect"
	"strings"
)

// Flag 传给资源 Start/End 的标志
type Flag int

const (
	FlagNoFlags Flag = iota
	// FlagJoin 加入已有分支
	FlagJoin
	// FlagResume 恢复挂起的分支
	FlagResume
	FlagSuccess
	FlagFail
	FlagSuspend
)

func (f Flag) String() string {
	switch f {
	case FlagJoin:
		return "JOIN"
	case FlagResume:
		return "RESUME"
	case FlagSuccess:
		return "SUCCESS"
	case FlagFail:
		return "FAIL"
	case FlagSuspend:
		return "SUSPEND"
	default:
		return "NOFLAGS"
	}
}

// Vote 资源在准备阶段的投票
type Vote int

const (
	VoteOK Vote = iota
	// VoteReadOnly 分支没有写入，不参与提交
	VoteReadOnly
	// VoteRollback 资源要求回滚
	VoteRollback
)

func (v Vote) String() string {
	switch v {
	case VoteOK:
		return "OK"
	case VoteReadOnly:
		return "READ_ONLY"
	default:
		return "ROLLBACK"
	}
}

// Resource 参与两阶段提交的资源管理器
type Resource interface {
	Start(xid Xid, flag Flag) error
	End(xid Xid, flag Flag) error
	// Prepare 返回投票；返回错误等同于投回滚票
	Prepare(xid Xid) (Vote, error)
	Commit(xid Xid, onePhase bool) error
	Rollback(xid Xid) error
	// IsSameRM 判断 other 是否与自己属于同一个资源管理器
	IsSameRM(other Resource) (bool, error)
}

// VendorNamer 资源可以声明厂商名，用于匹配不可加入的厂商前缀
type VendorNamer interface {
	VendorName() string
}

// DefaultNonJoinablePrefixes 默认不可加入已有分支的厂商前缀
var DefaultNonJoinablePrefixes = []string{"oracle"}

func vendorOf(r Resource) string {
	if v, ok := r.(VendorNamer); ok {
		return v.VendorName()
	}
	t := reflect.TypeOf(r)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}

// joinable 厂商名以不可加入前缀开头的资源总是分配新分支
func joinable(r Resource, nonJoinable []string) bool {
	vendor := strings.ToLower(vendorOf(r))
	for _, prefix := range nonJoinable {
		if strings.HasPrefix(vendor, strings.ToLower(prefix)) {
			return false
		}
	}
	return true
}

// Enlistment 一次资源登记：资源、分支 Xid、是否为提交目标、准备阶段是否投了 OK
type Enlistment struct {
	resource     Resource
	xid          Xid
	commitTarget bool
	voteOK       bool
}

func (e *Enlistment) Resource() Resource   { return e.resource }
func (e *Enlistment) Xid() Xid             { return e.xid }
func (e *Enlistment) IsCommitTarget() bool { return e.commitTarget }
func (e *Enlistment) VotedOK() bool        { return e.voteOK }

func (e *Enlistment) start(flag Flag) error      { return e.resource.Start(e.xid, flag) }
func (e *Enlistment) end(flag Flag) error        { return e.resource.End(e.xid, flag) }
func (e *Enlistment) prepare() (Vote, error)     { return e.resource.Prepare(e.xid) }
func (e *Enlistment) commit(onePhase bool) error { return e.resource.Commit(e.xid, onePhase) }
func (e *Enlistment) rollback() error            { return e.resource.Rollback(e.xid) }
