package logging

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLoggerOptions zap 日志选项
type ZapLoggerOptions struct {
	// JSON 为 true 时使用 JSON 编码，否则使用 console 编码
	JSON   bool
	Output io.Writer
}

// ZapLoggerProvider 基于 go.uber.org/zap 的日志提供者
type ZapLoggerProvider struct {
	base  *zap.Logger
	level zap.AtomicLevel
}

// NewZapLoggerProvider 创建 zap 日志提供者
func NewZapLoggerProvider(options ZapLoggerOptions) *ZapLoggerProvider {
	if options.Output == nil {
		options.Output = os.Stdout
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if options.JSON {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	core := zapcore.NewCore(encoder, zapcore.AddSync(options.Output), level)

	return &ZapLoggerProvider{base: zap.New(core), level: level}
}

// NewZapLoggerProviderFrom 包装一个已有的 *zap.Logger
func NewZapLoggerProviderFrom(base *zap.Logger) *ZapLoggerProvider {
	return &ZapLoggerProvider{base: base, level: zap.NewAtomicLevelAt(zapcore.DebugLevel)}
}

func (p *ZapLoggerProvider) CreateLogger(category string) Logger {
	return &zapLogger{provider: p, z: p.base.Named(category), category: category}
}

func (p *ZapLoggerProvider) SetMinimumLevel(level LogLevel) {
	p.level.SetLevel(toZapLevel(level))
}

// Sync 刷新底层缓冲
func (p *ZapLoggerProvider) Sync() error {
	return p.base.Sync()
}

func toZapLevel(level LogLevel) zapcore.Level {
	switch level {
	case LogLevelTrace, LogLevelDebug:
		return zapcore.DebugLevel
	case LogLevelInfo:
		return zapcore.InfoLevel
	case LogLevelWarn:
		return zapcore.WarnLevel
	case LogLevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.FatalLevel
	}
}

type zapLogger struct {
	provider *ZapLoggerProvider
	z        *zap.Logger
	category string
}

func (l *zapLogger) Trace(msg string, fields ...Field) { l.Log(LogLevelTrace, msg, fields...) }
func (l *zapLogger) Debug(msg string, fields ...Field) { l.Log(LogLevelDebug, msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...Field)  { l.Log(LogLevelInfo, msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...Field)  { l.Log(LogLevelWarn, msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...Field) { l.Log(LogLevelError, msg, fields...) }

func (l *zapLogger) Fatal(msg string, fields ...Field) {
	l.Log(LogLevelFatal, msg, fields...)
	_ = l.z.Sync()
	os.Exit(1)
}

func (l *zapLogger) Log(level LogLevel, msg string, fields ...Field) {
	zl := toZapLevel(level)
	// Fatal 由本包自己退出，zap 只负责写出
	if zl == zapcore.FatalLevel {
		zl = zapcore.ErrorLevel
	}
	if ce := l.z.Check(zl, msg); ce != nil {
		ce.Write(toZapFields(fields)...)
	}
}

func (l *zapLogger) WithFields(fields ...Field) Logger {
	return &zapLogger{provider: l.provider, z: l.z.With(toZapFields(fields)...), category: l.category}
}

func (l *zapLogger) WithCategory(category string) Logger {
	return &zapLogger{provider: l.provider, z: l.provider.base.Named(category), category: category}
}

func toZapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}
