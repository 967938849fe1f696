package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"gopkg.in/yaml.v3"
)

// JsonFileSource JSON 文件配置源
type JsonFileSource struct {
	Path     string
	Optional bool
}

func (s *JsonFileSource) Name() string { return fmt.Sprintf("JsonFile(%s)", s.Path) }

func (s *JsonFileSource) Load() (map[string]any, error) {
	data, err := readOptional(s.Path, s.Optional)
	if err != nil || data == nil {
		return nil, err
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return result, nil
}

// YamlFileSource YAML 文件配置源
type YamlFileSource struct {
	Path     string
	Optional bool
}

func (s *YamlFileSource) Name() string { return fmt.Sprintf("YamlFile(%s)", s.Path) }

func (s *YamlFileSource) Load() (map[string]any, error) {
	data, err := readOptional(s.Path, s.Optional)
	if err != nil || data == nil {
		return nil, err
	}
	var result map[string]any
	if err := yaml.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return result, nil
}

func readOptional(path string, optional bool) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// EnvironmentVariableSource 环境变量配置源。
//
// 只读取带前缀的变量，去掉前缀后转为小写，"_" 转为层级分隔符：
// IOC_TRANSACTION_TIMEOUT=5s 对应 transaction:timeout。
type EnvironmentVariableSource struct {
	Prefix string
	// Environ 为空时使用 os.Environ
	Environ func() []string
}

func (s *EnvironmentVariableSource) Name() string {
	return fmt.Sprintf("EnvironmentVariables(%s)", s.Prefix)
}

func (s *EnvironmentVariableSource) Load() (map[string]any, error) {
	environ := s.Environ
	if environ == nil {
		environ = os.Environ
	}
	result := make(map[string]any)
	for _, env := range environ() {
		key, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(key, s.Prefix) {
			continue
		}
		key = strings.Trim(strings.ToLower(strings.TrimPrefix(key, s.Prefix)), "_")
		if key == "" {
			continue
		}
		setNestedValue(result, strings.Split(key, "_"), parseScalar(value))
	}
	return result, nil
}

// InMemorySource 内存配置源
type InMemorySource struct {
	Data map[string]any
}

func (s *InMemorySource) Name() string { return "InMemory" }

func (s *InMemorySource) Load() (map[string]any, error) {
	result := make(map[string]any)
	mergeMaps(result, s.Data)
	return result, nil
}

// EtcdOptions etcd 配置源选项
type EtcdOptions struct {
	Endpoints   []string
	Username    string
	Password    string
	// Prefix 只读取该前缀下的键，键中的 "/" 表示层级
	Prefix      string
	Timeout     time.Duration
	DialTimeout time.Duration
	// Client 非空时直接使用，不再创建和关闭客户端
	Client *clientv3.Client
}

// EtcdSource etcd 配置源。值会依次尝试按 JSON、YAML 解析，都失败时作为字符串
type EtcdSource struct {
	Options EtcdOptions
}

func NewEtcdSource(opts EtcdOptions) *EtcdSource {
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	return &EtcdSource{Options: opts}
}

func (s *EtcdSource) Name() string {
	return fmt.Sprintf("Etcd(%v)", s.Options.Endpoints)
}

func (s *EtcdSource) Load() (map[string]any, error) {
	cli := s.Options.Client
	if cli == nil {
		created, err := clientv3.New(clientv3.Config{
			Endpoints:   s.Options.Endpoints,
			Username:    s.Options.Username,
			Password:    s.Options.Password,
			DialTimeout: s.Options.DialTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create etcd client: %w", err)
		}
		defer created.Close()
		cli = created
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.Options.Timeout)
	defer cancel()

	prefix := s.Options.Prefix
	if prefix == "" {
		prefix = "/"
	}
	resp, err := cli.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to get config from etcd: %w", err)
	}

	result := make(map[string]any)
	for _, kv := range resp.Kvs {
		key := strings.Trim(strings.TrimPrefix(string(kv.Key), s.Options.Prefix), "/")
		if key == "" {
			continue
		}
		setNestedValue(result, strings.Split(key, "/"), parseDocument(kv.Value))
	}
	return result, nil
}

// parseDocument JSON 优先，其次 YAML，最后原样作为字符串
func parseDocument(raw []byte) any {
	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		return v
	}
	if err := yaml.Unmarshal(raw, &v); err == nil && v != nil {
		if _, scalar := v.(string); !scalar {
			return normalize(v)
		}
	}
	return string(raw)
}

// parseScalar 把环境变量值转换为 int、float 或 bool，失败时保持字符串
func parseScalar(s string) any {
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

func setNestedValue(data map[string]any, parts []string, value any) {
	current := data
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			if _, exists := current[part]; exists {
				return
			}
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}
