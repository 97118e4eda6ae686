package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel 日志级别
type LogLevel int

const (
	LogError LogLevel = iota
	LogWarn
	LogInfo
	LogDebug
)

// String 返回日志级别字符串
func (l LogLevel) String() string {
	switch l {
	case LogError:
		return "ERROR"
	case LogWarn:
		return "WARN"
	case LogInfo:
		return "INFO"
	case LogDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel 解析日志级别字符串，大小写不敏感
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR":
		return LogError, nil
	case "WARN", "WARNING":
		return LogWarn, nil
	case "INFO", "":
		return LogInfo, nil
	case "DEBUG":
		return LogDebug, nil
	}
	return LogInfo, fmt.Errorf("unknown log level: %s", s)
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LogError:
		return zapcore.ErrorLevel
	case LogWarn:
		return zapcore.WarnLevel
	case LogDebug:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger 日志接口
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	// With 返回附带键值对字段的子日志
	With(keysAndValues ...interface{}) Logger
	SetLevel(level LogLevel)
	GetLevel() LogLevel
}

// ZapLogger 基于 zap SugaredLogger 的日志实现
type ZapLogger struct {
	sugar *zap.SugaredLogger
	level zap.AtomicLevel
}

// NewZapLogger 创建输出到 w 的控制台格式日志
func NewZapLogger(level LogLevel, w io.Writer) *ZapLogger {
	atom := zap.NewAtomicLevelAt(level.zapLevel())
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), atom)
	return &ZapLogger{sugar: zap.New(core).Sugar(), level: atom}
}

// NewDefaultLogger 创建输出到 stdout 的日志
func NewDefaultLogger(level LogLevel) *ZapLogger {
	return NewZapLogger(level, os.Stdout)
}

// NewProductionLogger 创建 JSON 格式的生产日志
func NewProductionLogger(level LogLevel) (*ZapLogger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level.zapLevel())
	z, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return &ZapLogger{sugar: z.Sugar(), level: cfg.Level}, nil
}

// FromZap 包装已有的 zap.Logger
func FromZap(z *zap.Logger, level LogLevel) *ZapLogger {
	atom := zap.NewAtomicLevelAt(level.zapLevel())
	return &ZapLogger{sugar: z.WithOptions(zap.IncreaseLevel(atom)).Sugar(), level: atom}
}

func (l *ZapLogger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *ZapLogger) Info(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *ZapLogger) Warn(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *ZapLogger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

func (l *ZapLogger) With(keysAndValues ...interface{}) Logger {
	return &ZapLogger{sugar: l.sugar.With(keysAndValues...), level: l.level}
}

// SetLevel 设置日志级别，子日志共享级别
func (l *ZapLogger) SetLevel(level LogLevel) {
	l.level.SetLevel(level.zapLevel())
}

// GetLevel 获取日志级别
func (l *ZapLogger) GetLevel() LogLevel {
	switch l.level.Level() {
	case zapcore.DebugLevel:
		return LogDebug
	case zapcore.InfoLevel:
		return LogInfo
	case zapcore.WarnLevel:
		return LogWarn
	default:
		return LogError
	}
}

// Sync 刷新缓冲
func (l *ZapLogger) Sync() error {
	return l.sugar.Sync()
}

// NoOpLogger 空日志实现（用于禁用日志）
type NoOpLogger struct{}

// NewNoOpLogger 创建空日志
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (l *NoOpLogger) Debug(format string, args ...interface{}) {}
func (l *NoOpLogger) Info(format string, args ...interface{})  {}
func (l *NoOpLogger) Warn(format string, args ...interface{})  {}
func (l *NoOpLogger) Error(format string, args ...interface{}) {}
func (l *NoOpLogger) With(keysAndValues ...interface{}) Logger { return l }
func (l *NoOpLogger) SetLevel(level LogLevel)                  {}
func (l *NoOpLogger) GetLevel() LogLevel                       { return LogInfo }

var (
	defaultMu     sync.RWMutex
	defaultLogger Logger = NewNoOpLogger()
)

// SetDefault 替换包级默认日志，nil 恢复为空日志
func SetDefault(l Logger) {
	if l == nil {
		l = NewNoOpLogger()
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// Default 返回包级默认日志
func Default() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// Named 返回带 component 字段的默认日志
func Named(component string) Logger {
	return Default().With("component", component)
}
