package tx

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// FormatID 本事务管理器生成的 Xid 的格式标识
const FormatID int32 = 0x494f43 // "IOC"

// Xid 事务分支标识：全局事务 ID 加分支限定符
type Xid struct {
	FormatID        int32
	GlobalID        []byte
	BranchQualifier []byte
}

// newXid 以随机 UUID 作为全局事务 ID，分支限定符为空
func newXid() Xid {
	id := uuid.New()
	return Xid{FormatID: FormatID, GlobalID: id[:]}
}

// branch 同一全局事务下的第 n 个分支
func (x Xid) branch(n uint32) Xid {
	q := make([]byte, 4)
	binary.BigEndian.PutUint32(q, n)
	return Xid{FormatID: x.FormatID, GlobalID: x.GlobalID, BranchQualifier: q}
}

// IsZero 未开始的事务没有 Xid
func (x Xid) IsZero() bool { return len(x.GlobalID) == 0 }

// Equal 格式、全局 ID 与分支限定符都相同
func (x Xid) Equal(o Xid) bool {
	return x.FormatID == o.FormatID &&
		string(x.GlobalID) == string(o.GlobalID) &&
		string(x.BranchQualifier) == string(o.BranchQualifier)
}

// SameGlobal 两个分支属于同一个全局事务
func (x Xid) SameGlobal(o Xid) bool {
	return x.FormatID == o.FormatID && string(x.GlobalID) == string(o.GlobalID)
}

func (x Xid) String() string {
	if x.IsZero() {
		return "<none>"
	}
	gid := hex.EncodeToString(x.GlobalID)
	if id, err := uuid.FromBytes(x.GlobalID); err == nil {
		gid = id.String()
	}
	if len(x.BranchQualifier) == 0 {
		return fmt.Sprintf("%x:%s", x.FormatID, gid)
	}
	return fmt.Sprintf("%x:%s:%s", x.FormatID, gid, hex.EncodeToString(x.BranchQualifier))
}
