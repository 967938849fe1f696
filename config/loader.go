package config

import (
	"path/filepath"
	"strings"
)

// AddFile 按扩展名添加 JSON 或 YAML 文件源，其余扩展名按 YAML 读取
func (b *ConfigurationBuilder) AddFile(path string, optional ...bool) *ConfigurationBuilder {
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		return b.AddJsonFile(path, optional...)
	}
	return b.AddYamlFile(path, optional...)
}

// FromFile 加载配置文件，再以 envPrefix 开头的环境变量覆盖。
// 文件不存在时只读取环境变量。
func FromFile(path, envPrefix string) (Reloadable, error) {
	b := NewConfigurationBuilder()
	if path != "" {
		b.AddFile(path, true)
	}
	if envPrefix != "" {
		b.AddEnvironmentVariables(envPrefix)
	}
	return b.BuildReloadable()
}
