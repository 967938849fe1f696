package logging

import (
	"io"
	"os"
	"sync"
	"time"
)

// ConsoleLoggerOptions 控制台日志选项
type ConsoleLoggerOptions struct {
	IncludeTimestamp bool
	TimestampFormat  string
	ColorOutput      bool
	Output           io.Writer
}

// ConsoleLoggerProvider 控制台日志提供者
type ConsoleLoggerProvider struct {
	formatter    *TextFormatter
	output       io.Writer
	writeMu      *sync.Mutex
	minimumLevel LogLevel
	mu           sync.RWMutex
}

// NewConsoleLoggerProvider 创建控制台日志提供者
func NewConsoleLoggerProvider(options ConsoleLoggerOptions) *ConsoleLoggerProvider {
	if options.Output == nil {
		options.Output = os.Stdout
	}
	return &ConsoleLoggerProvider{
		formatter: &TextFormatter{
			IncludeTimestamp: options.IncludeTimestamp,
			TimestampFormat:  options.TimestampFormat,
			ColorOutput:      options.ColorOutput,
		},
		output:       options.Output,
		writeMu:      &sync.Mutex{},
		minimumLevel: LogLevelInfo,
	}
}

func (p *ConsoleLoggerProvider) CreateLogger(category string) Logger {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return &consoleLogger{provider: p, category: category}
}

func (p *ConsoleLoggerProvider) SetMinimumLevel(level LogLevel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.minimumLevel = level
}

func (p *ConsoleLoggerProvider) level() LogLevel {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.minimumLevel
}

// consoleLogger 控制台日志实现，所有派生 logger 共享提供者的输出锁
type consoleLogger struct {
	provider *ConsoleLoggerProvider
	category string
	fields   []Field
}

func (l *consoleLogger) Trace(msg string, fields ...Field) { l.Log(LogLevelTrace, msg, fields...) }
func (l *consoleLogger) Debug(msg string, fields ...Field) { l.Log(LogLevelDebug, msg, fields...) }
func (l *consoleLogger) Info(msg string, fields ...Field)  { l.Log(LogLevelInfo, msg, fields...) }
func (l *consoleLogger) Warn(msg string, fields ...Field)  { l.Log(LogLevelWarn, msg, fields...) }
func (l *consoleLogger) Error(msg string, fields ...Field) { l.Log(LogLevelError, msg, fields...) }

func (l *consoleLogger) Fatal(msg string, fields ...Field) {
	l.Log(LogLevelFatal, msg, fields...)
	os.Exit(1)
}

func (l *consoleLogger) Log(level LogLevel, msg string, fields ...Field) {
	if level < l.provider.level() {
		return
	}

	out, err := l.provider.formatter.Format(&LogEntry{
		Time:     time.Now(),
		Level:    level,
		Category: l.category,
		Message:  msg,
		Fields:   mergeFields(l.fields, fields),
	})
	if err != nil {
		return
	}

	l.provider.writeMu.Lock()
	defer l.provider.writeMu.Unlock()
	_, _ = l.provider.output.Write(out)
}

func (l *consoleLogger) WithFields(fields ...Field) Logger {
	return &consoleLogger{provider: l.provider, category: l.category, fields: mergeFields(l.fields, fields)}
}

func (l *consoleLogger) WithCategory(category string) Logger {
	return &consoleLogger{provider: l.provider, category: category, fields: l.fields}
}
