package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gocrud/ioc/di"
)

// DefaultSessionCookie 会话 id 所在的 cookie
const DefaultSessionCookie = "IOC_SESSION"

// SessionStore 为请求提供会话作用域的属性表
type SessionStore interface {
	Session(c *gin.Context) di.AttributeMap
}

type session struct {
	attrs    *di.Attributes
	lastSeen time.Time
}

// MemoryStore 按 cookie 中的会话 id 把属性表保存在内存中
type MemoryStore struct {
	cookie string
	maxAge int

	mu       sync.Mutex
	sessions map[string]*session
	now      func() time.Time
}

// MemoryStoreOption 内存会话选项
type MemoryStoreOption func(*MemoryStore)

// WithCookieName 自定义会话 cookie 名称
func WithCookieName(name string) MemoryStoreOption {
	return func(s *MemoryStore) { s.cookie = name }
}

// WithMaxAge cookie 的 Max-Age，单位秒，0 表示浏览器会话
func WithMaxAge(seconds int) MemoryStoreOption {
	return func(s *MemoryStore) { s.maxAge = seconds }
}

// NewMemoryStore 创建内存会话存储
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		cookie:   DefaultSessionCookie,
		sessions: make(map[string]*session),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Session 查找请求携带的会话，不存在时创建新会话并写回 cookie
func (s *MemoryStore) Session(c *gin.Context) di.AttributeMap {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, err := c.Cookie(s.cookie); err == nil {
		if sess, ok := s.sessions[id]; ok {
			sess.lastSeen = s.now()
			return sess.attrs
		}
	}

	id := uuid.NewString()
	sess := &session{attrs: di.NewAttributes(), lastSeen: s.now()}
	s.sessions[id] = sess
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.cookie, id, s.maxAge, "/", "", false, true)
	return sess.attrs
}

// Expire 删除超过 idle 未访问的会话，返回删除的数量
func (s *MemoryStore) Expire(idle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline := s.now().Add(-idle)
	n := 0
	for id, sess := range s.sessions {
		if !sess.lastSeen.After(deadline) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// Len 当前会话数量
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
