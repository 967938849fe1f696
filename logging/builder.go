package logging

import (
	"fmt"
	"io"
	"os"
)

// 可按名称选择的日志提供者
const (
	ProviderConsole = "console"
	ProviderZap     = "zap"
	ProviderNone    = "none"
)

// LoggingBuilder 日志构建器，不支持并发使用
type LoggingBuilder struct {
	providers    []LoggerProvider
	minimumLevel LogLevel
	output       io.Writer
}

// NewLoggingBuilder 创建日志构建器，默认级别 Info，输出到标准输出
func NewLoggingBuilder() *LoggingBuilder {
	return &LoggingBuilder{minimumLevel: LogLevelInfo, output: os.Stdout}
}

// SetMinimumLevel 设置最小日志级别
func (b *LoggingBuilder) SetMinimumLevel(level LogLevel) *LoggingBuilder {
	b.minimumLevel = level
	return b
}

// SetOutput 之后添加的内置提供者写入 w，nil 表示标准输出
func (b *LoggingBuilder) SetOutput(w io.Writer) *LoggingBuilder {
	if w == nil {
		w = os.Stdout
	}
	b.output = w
	return b
}

// AddProvider 添加日志提供者
func (b *LoggingBuilder) AddProvider(provider LoggerProvider) *LoggingBuilder {
	b.providers = append(b.providers, provider)
	return b
}

// AddConsole 添加控制台日志，未传选项时带时间戳和颜色
func (b *LoggingBuilder) AddConsole(options ...ConsoleLoggerOptions) *LoggingBuilder {
	opts := ConsoleLoggerOptions{
		IncludeTimestamp: true,
		TimestampFormat:  "2006-01-02 15:04:05",
		ColorOutput:      true,
		Output:           b.output,
	}
	if len(options) > 0 {
		opts = options[0]
	}
	return b.AddProvider(NewConsoleLoggerProvider(opts))
}

// AddZap 添加 zap 日志
func (b *LoggingBuilder) AddZap(json bool, output io.Writer) *LoggingBuilder {
	if output == nil {
		output = b.output
	}
	return b.AddProvider(NewZapLoggerProvider(ZapLoggerOptions{JSON: json, Output: output}))
}

// AddNamed 按名称添加内置提供者，空名称等同 console
func (b *LoggingBuilder) AddNamed(name string, json bool) error {
	switch name {
	case "", ProviderConsole:
		b.AddConsole(ConsoleLoggerOptions{
			IncludeTimestamp: true,
			TimestampFormat:  "2006-01-02 15:04:05",
			Output:           b.output,
		})
	case ProviderZap:
		b.AddZap(json, nil)
	case ProviderNone:
	default:
		return fmt.Errorf("logging: unknown provider %q", name)
	}
	return nil
}

// Build 构建日志工厂
func (b *LoggingBuilder) Build() LoggerFactory {
	factory := &loggerFactory{
		providers:    make([]LoggerProvider, 0, len(b.providers)),
		minimumLevel: b.minimumLevel,
	}
	for _, provider := range b.providers {
		factory.AddProvider(provider)
	}
	return factory
}
