package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mitchellh/mapstructure"
)

// ErrKeyNotFound 配置中没有该键
var ErrKeyNotFound = errors.New("config: key not found")

// Configuration 分层配置的只读视图。
//
// 键使用 ":" 或 "." 分隔层级，例如 "ioc:transaction:timeout"。
type Configuration interface {
	// Get 获取配置值，不存在时返回空字符串
	Get(key string) string
	GetWithDefault(key, defaultValue string) string
	GetInt(key string) (int, error)
	GetBool(key string) (bool, error)
	// Has 判断键是否存在
	Has(key string) bool
	// GetSection 获取配置节，不存在时返回空配置
	GetSection(key string) Configuration
	// Bind 把配置节解码到 target，字符串会按目标类型做弱类型转换
	Bind(key string, target any) error
	// GetAll 返回全部配置的副本
	GetAll() map[string]any
}

// Reloadable 可以重新加载全部配置源的配置
type Reloadable interface {
	Configuration
	Reload() error
	// OnReload 注册重新加载成功后的回调
	OnReload(fn func())
}

// ConfigurationSource 配置源，后添加的源覆盖先添加的
type ConfigurationSource interface {
	Load() (map[string]any, error)
	Name() string
}

// ConfigurationBuilder 配置构建器
type ConfigurationBuilder struct {
	sources []ConfigurationSource
	mu      sync.RWMutex
}

func NewConfigurationBuilder() *ConfigurationBuilder {
	return &ConfigurationBuilder{}
}

// Add 添加配置源
func (b *ConfigurationBuilder) Add(source ConfigurationSource) *ConfigurationBuilder {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sources = append(b.sources, source)
	return b
}

// AddJsonFile 添加 JSON 文件配置源
func (b *ConfigurationBuilder) AddJsonFile(path string, optional ...bool) *ConfigurationBuilder {
	return b.Add(&JsonFileSource{Path: path, Optional: len(optional) > 0 && optional[0]})
}

// AddYamlFile 添加 YAML 文件配置源
func (b *ConfigurationBuilder) AddYamlFile(path string, optional ...bool) *ConfigurationBuilder {
	return b.Add(&YamlFileSource{Path: path, Optional: len(optional) > 0 && optional[0]})
}

// AddEnvironmentVariables 添加环境变量配置源，变量名中的 "_" 表示层级
func (b *ConfigurationBuilder) AddEnvironmentVariables(prefix string) *ConfigurationBuilder {
	return b.Add(&EnvironmentVariableSource{Prefix: prefix})
}

// AddInMemory 添加内存配置源
func (b *ConfigurationBuilder) AddInMemory(data map[string]any) *ConfigurationBuilder {
	return b.Add(&InMemorySource{Data: data})
}

// AddEtcd 添加 etcd 配置源
func (b *ConfigurationBuilder) AddEtcd(opts EtcdOptions) *ConfigurationBuilder {
	return b.Add(NewEtcdSource(opts))
}

func (b *ConfigurationBuilder) snapshotSources() []ConfigurationSource {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]ConfigurationSource(nil), b.sources...)
}

// Build 按顺序加载全部配置源
func (b *ConfigurationBuilder) Build() (Configuration, error) {
	return b.BuildReloadable()
}

// BuildReloadable 构建可以 Reload 的配置
func (b *ConfigurationBuilder) BuildReloadable() (Reloadable, error) {
	c := &configuration{sources: b.snapshotSources()}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

func loadSources(sources []ConfigurationSource) (map[string]any, error) {
	data := make(map[string]any)
	for _, source := range sources {
		loaded, err := source.Load()
		if err != nil {
			return nil, fmt.Errorf("config: failed to load source %s: %w", source.Name(), err)
		}
		if m, ok := normalize(loaded).(map[string]any); ok {
			mergeMaps(data, m)
		}
	}
	return data, nil
}

// configuration 读取无锁，Reload 整体替换数据快照
type configuration struct {
	sources []ConfigurationSource
	data    atomic.Pointer[map[string]any]

	mu        sync.Mutex
	callbacks []func()
}

func newStatic(data map[string]any) *configuration {
	c := &configuration{}
	c.data.Store(&data)
	return c
}

func (c *configuration) snapshot() map[string]any {
	if p := c.data.Load(); p != nil {
		return *p
	}
	return nil
}

func (c *configuration) Reload() error {
	data, err := loadSources(c.sources)
	if err != nil {
		return err
	}
	c.data.Store(&data)

	c.mu.Lock()
	callbacks := append([]func(){}, c.callbacks...)
	c.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
	return nil
}

func (c *configuration) OnReload(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, fn)
}

func (c *configuration) Get(key string) string {
	value := c.lookup(key)
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (c *configuration) GetWithDefault(key, defaultValue string) string {
	if v := c.Get(key); v != "" {
		return v
	}
	return defaultValue
}

func (c *configuration) GetInt(key string) (int, error) {
	value := c.lookup(key)
	if value == nil {
		return 0, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	var out int
	if err := mapstructure.WeakDecode(value, &out); err != nil {
		return 0, fmt.Errorf("config: %s is not an int: %w", key, err)
	}
	return out, nil
}

func (c *configuration) GetBool(key string) (bool, error) {
	value := c.lookup(key)
	if value == nil {
		return false, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if s, ok := value.(string); ok {
		return strconv.ParseBool(s)
	}
	var out bool
	if err := mapstructure.WeakDecode(value, &out); err != nil {
		return false, fmt.Errorf("config: %s is not a bool: %w", key, err)
	}
	return out, nil
}

func (c *configuration) Has(key string) bool {
	return c.lookup(key) != nil
}

func (c *configuration) GetSection(key string) Configuration {
	if m, ok := c.lookup(key).(map[string]any); ok {
		return newStatic(m)
	}
	return newStatic(make(map[string]any))
}

func (c *configuration) Bind(key string, target any) error {
	data := c.lookup(key)
	if data == nil {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return decode(data, target)
}

func (c *configuration) GetAll() map[string]any {
	out := make(map[string]any)
	mergeMaps(out, c.snapshot())
	return out
}

// lookup 按路径取值，键名不区分大小写
func (c *configuration) lookup(path string) any {
	current := any(c.snapshot())
	if path == "" {
		return current
	}
	for _, part := range segments(path) {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		v, found := m[part]
		if !found {
			for k, candidate := range m {
				if strings.EqualFold(k, part) {
					v, found = candidate, true
					break
				}
			}
		}
		if !found {
			return nil
		}
		current = v
	}
	return current
}

var segmentCache sync.Map

// segments 把 "a:b.c" 拆成 [a b c]，结果会被缓存
func segments(path string) []string {
	if v, ok := segmentCache.Load(path); ok {
		return v.([]string)
	}
	parts := strings.FieldsFunc(path, func(r rune) bool { return r == ':' || r == '.' })
	segmentCache.Store(path, parts)
	return parts
}

// decode 使用 yaml 标签，弱类型转换，支持 time.Duration 与逗号分隔的切片
func decode(data, target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "yaml",
		WeaklyTypedInput: true,
		Result:           target,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := dec.Decode(data); err != nil {
		return fmt.Errorf("config: failed to bind: %w", err)
	}
	return nil
}

// normalize 把 yaml 解出的 map[any]any 统一成 map[string]any
func normalize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = normalize(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}

// mergeMaps 深度合并，src 覆盖 dst。键名不区分大小写，保留 dst 中已有的写法
func mergeMaps(dst, src map[string]any) {
	for k, v := range src {
		if _, exists := dst[k]; !exists {
			for existing := range dst {
				if strings.EqualFold(existing, k) {
					k = existing
					break
				}
			}
		}
		if srcMap, ok := v.(map[string]any); ok {
			dstMap, ok := dst[k].(map[string]any)
			if !ok {
				dstMap = make(map[string]any, len(srcMap))
				dst[k] = dstMap
			}
			mergeMaps(dstMap, srcMap)
			continue
		}
		dst[k] = v
	}
}
