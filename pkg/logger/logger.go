package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel constants
const (
	LogLevelError = "error"
	LogLevelWarn  = "warn"
	LogLevelInfo  = "info"
	LogLevelDebug = "debug"
	LogLevelTrace = "trace" // mapped onto zap's Debug level; zap has no Trace
)

// LoggingConfig represents the logging configuration.
type LoggingConfig struct {
	Level string `json:"level"`
	File  string `json:"file"`
}

// Global logging configuration, set by the most recent NewLogger call.
var GlobalLogging *LoggingConfig
var global *zap.SugaredLogger

// Logger wraps a zap.SugaredLogger with the level-gated, emoji-prefixed
// call shape used throughout this codebase.
type Logger struct {
	sugar *zap.SugaredLogger
	level string
}

func zapLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case LogLevelError:
		return zapcore.ErrorLevel
	case LogLevelWarn:
		return zapcore.WarnLevel
	case LogLevelDebug, LogLevelTrace:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewLogger creates a new logger with the given verbosity and output target.
func NewLogger(config *LoggingConfig) *Logger {
	level := strings.ToLower(config.Level)
	if level == "" {
		level = LogLevelInfo
	}

	cfg := zap.NewProductionConfig()
	// zap's own level never filters out Info, so LogStartup stays visible;
	// every other helper is gated by shouldLog against the configured level.
	zl := zapLevel(level)
	if zl > zapcore.InfoLevel {
		zl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(zl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if config.File != "" {
		cfg.OutputPaths = []string{config.File}
	} else {
		cfg.OutputPaths = []string{"stdout"}
	}

	zl, err := cfg.Build()
	if err != nil {
		zl = zap.NewExample()
	}

	l := &Logger{sugar: zl.Sugar(), level: level}
	GlobalLogging = config
	global = l.sugar
	return l
}

func shouldLog(currentLevel, messageLevel string) bool {
	levels := []string{LogLevelError, LogLevelWarn, LogLevelInfo, LogLevelDebug, LogLevelTrace}

	currentIndex, messageIndex := -1, -1
	for i, lv := range levels {
		if lv == currentLevel {
			currentIndex = i
		}
		if lv == messageLevel {
			messageIndex = i
		}
	}
	if currentIndex == -1 || messageIndex == -1 {
		return true
	}
	return messageIndex <= currentIndex
}

func (l *Logger) Error(format string, args ...interface{}) {
	if shouldLog(l.level, LogLevelError) {
		l.sugar.Errorf("❌ "+format, args...)
	}
}

func (l *Logger) Warn(format string, args ...interface{}) {
	if shouldLog(l.level, LogLevelWarn) {
		l.sugar.Warnf("⚠️ "+format, args...)
	}
}

func (l *Logger) Info(format string, args ...interface{}) {
	if shouldLog(l.level, LogLevelInfo) {
		l.sugar.Infof("ℹ️ "+format, args...)
	}
}

func (l *Logger) Debug(format string, args ...interface{}) {
	if shouldLog(l.level, LogLevelDebug) {
		l.sugar.Debugf("🔧 "+format, args...)
	}
}

func (l *Logger) Trace(format string, args ...interface{}) {
	if shouldLog(l.level, LogLevelTrace) {
		l.sugar.Debugf("🔍 "+format, args...)
	}
}

func (l *Logger) Sync() {
	_ = l.sugar.Sync()
}

// LogStartup logs a message that should always be visible regardless of level.
func LogStartup(format string, args ...interface{}) {
	if global != nil {
		global.Infof("🔧 "+format, args...)
	}
}

func LogError(format string, args ...interface{}) {
	if GlobalLogging != nil && global != nil && shouldLog(strings.ToLower(GlobalLogging.Level), LogLevelError) {
		global.Errorf("❌ "+format, args...)
	}
}

func LogWarn(format string, args ...interface{}) {
	if GlobalLogging != nil && global != nil && shouldLog(strings.ToLower(GlobalLogging.Level), LogLevelWarn) {
		global.Warnf("⚠️ "+format, args...)
	}
}

func LogInfo(format string, args ...interface{}) {
	if GlobalLogging != nil && global != nil && shouldLog(strings.ToLower(GlobalLogging.Level), LogLevelInfo) {
		global.Infof("ℹ️ "+format, args...)
	}
}

func LogDebug(format string, args ...interface{}) {
	if GlobalLogging != nil && global != nil && shouldLog(strings.ToLower(GlobalLogging.Level), LogLevelDebug) {
		global.Debugf("🔧 "+format, args...)
	}
}

func LogTrace(format string, args ...interface{}) {
	if GlobalLogging != nil && global != nil && shouldLog(strings.ToLower(GlobalLogging.Level), LogLevelTrace) {
		global.Debugf("🔍 "+format, args...)
	}
}

// IsDebugEnabled checks if debug logging is enabled.
func IsDebugEnabled() bool {
	return GlobalLogging != nil && shouldLog(strings.ToLower(GlobalLogging.Level), LogLevelDebug)
}

// IsTraceEnabled checks if trace logging is enabled.
func IsTraceEnabled() bool {
	return GlobalLogging != nil && shouldLog(strings.ToLower(GlobalLogging.Level), LogLevelTrace)
}
