package web

import (
	"github.com/gin-gonic/gin"

	"github.com/gocrud/ioc/di"
)

// Context 以 *gin.Context 实现 di.ExternalContext。
// 参数依次取路由参数、查询参数和表单字段，请求属性即 gin 的 Keys。
type Context struct {
	gin         *gin.Context
	session     di.AttributeMap
	application di.AttributeMap
}

// NewContext 创建外部上下文，session 和 application 可以为 nil
func NewContext(c *gin.Context, session, application di.AttributeMap) *Context {
	return &Context{gin: c, session: session, application: application}
}

// Gin 返回底层的 gin 上下文
func (c *Context) Gin() *gin.Context { return c.gin }

func (c *Context) Param(name string) (string, bool) {
	if v, ok := c.gin.Params.Get(name); ok {
		return v, true
	}
	if v, ok := c.gin.GetQuery(name); ok {
		return v, true
	}
	return c.gin.GetPostForm(name)
}

func (c *Context) ParamValues(name string) []string {
	var out []string
	if v, ok := c.gin.Params.Get(name); ok {
		out = append(out, v)
	}
	if vs, ok := c.gin.GetQueryArray(name); ok {
		out = append(out, vs...)
	}
	if vs, ok := c.gin.GetPostFormArray(name); ok {
		out = append(out, vs...)
	}
	return out
}

func (c *Context) Header(name string) (string, bool) {
	vs := c.HeaderValues(name)
	if len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

func (c *Context) HeaderValues(name string) []string {
	if c.gin.Request == nil {
		return nil
	}
	return c.gin.Request.Header.Values(name)
}

func (c *Context) Request() di.AttributeMap { return keys{c.gin} }

func (c *Context) Session() di.AttributeMap { return c.session }

func (c *Context) Application() di.AttributeMap { return c.application }

// removed 标记被删除的键，gin 的 Keys 只能写入
type removed struct{}

// keys 把 gin 的 Keys 适配为 di.AttributeMap
type keys struct {
	c *gin.Context
}

func (k keys) Get(key string) (any, bool) {
	v, ok := k.c.Get(key)
	if _, gone := v.(removed); gone {
		return nil, false
	}
	return v, ok
}

func (k keys) Set(key string, value any) { k.c.Set(key, value) }

func (k keys) Delete(key string) {
	if _, ok := k.c.Get(key); ok {
		k.c.Set(key, removed{})
	}
}
