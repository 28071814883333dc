package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// LogLevel represents an enumeration of log levels
type LogLevel int

const (
	Critical LogLevel = 50
	Fatal    LogLevel = Critical
	Error    LogLevel = 40
	Warning  LogLevel = 30
	Info     LogLevel = 20
	Debug    LogLevel = 10
	NotSet   LogLevel = 0
)

var defaultLogLevel atomic.Int64

func init() {
	defaultLogLevel.Store(int64(Warning))
}

// SetDefaultLogLevel sets the level of loggers created without an explicit one
func SetDefaultLogLevel(level LogLevel) {
	defaultLogLevel.Store(int64(level))
}

// ParseLogLevel maps a level name to a LogLevel. Unknown names yield Info.
func ParseLogLevel(name string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return Debug
	case "warn", "warning":
		return Warning
	case "error":
		return Error
	case "critical", "fatal":
		return Critical
	default:
		return Info
	}
}

// Logger provides key/value logging with a component prefix
type Logger struct {
	prefix   string
	logger   *log.Logger
	mu       sync.Mutex
	logLevel LogLevel
}

// NewLogger creates a logger writing to stdout with a given prefix
func NewLogger(prefix string, logLevel ...LogLevel) *Logger {
	return NewLoggerWithWriter(os.Stdout, prefix, logLevel...)
}

// NewLoggerWithWriter creates a logger writing to w
func NewLoggerWithWriter(w io.Writer, prefix string, logLevel ...LogLevel) *Logger {
	level := LogLevel(defaultLogLevel.Load())
	if len(logLevel) > 0 {
		level = logLevel[0]
	}
	return &Logger{
		prefix:   prefix,
		logger:   log.New(w, fmt.Sprintf("[%s] ", prefix), log.LstdFlags),
		logLevel: level,
	}
}

// SetLogLevel sets the logging level
func (l *Logger) SetLogLevel(logLevel LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logLevel = logLevel
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.log(Debug, "DEBUG", msg, keyvals)
}

// Info logs an informational message
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.log(Info, "INFO", msg, keyvals)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.log(Warning, "WARN", msg, keyvals)
}

// Error logs an error message
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.log(Error, "ERROR", msg, keyvals)
}

func (l *Logger) log(level LogLevel, label, msg string, keyvals []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.logLevel {
		return
	}
	l.logger.Println(formatMessage(label, msg, keyvals))
}

// formatMessage renders "[LEVEL] msg k=v ...". A trailing key without a
// value is dropped.
func formatMessage(label, msg string, keyvals []interface{}) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", label, msg)
	for i := 0; i+1 < len(keyvals); i += 2 {
		fmt.Fprintf(&b, " %v=%v", keyvals[i], keyvals[i+1])
	}
	return b.String()
}
