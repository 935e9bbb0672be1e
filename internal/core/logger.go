package core

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the severity of a log message.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelOff
)

// LogConfig holds logging configuration, populated from the external CLI
// boundary (--log-level, passed through as given; ParseLevel accepts the
// aliases warn→warning and err→error) plus optional per-component overrides.
type LogConfig struct {
	Level      string            `yaml:"level,omitempty"`
	Components map[string]string `yaml:"components,omitempty"`
}

// LogHook is a callback invoked for every log message that passes level filtering.
type LogHook func(level LogLevel, tag, message string)

// Logger provides per-component log level filtering. It is safe for
// concurrent use; the verdict loop and the signal-handling goroutine both
// log through the same instance.
type Logger struct {
	globalLevel LogLevel
	components  map[string]LogLevel // lowercase component name → level (immutable after init)
	levelCache  sync.Map            // tag → LogLevel (lock-free cache)
	hook        atomic.Pointer[LogHook]
	fileSink    *lumberjack.Logger // non-nil once EnableFileSink has been called (daemon mode)
}

// ParseLevel converts a string level name to LogLevel.
// Returns LevelInfo for unrecognized values. Accepts the CLI aliases
// warn/warning and err/error interchangeably.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info", "":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "err", "error":
		return LevelError
	case "off", "none":
		return LevelOff
	default:
		return LevelInfo
	}
}

// NewLogger creates a Logger from config. File logging is off by default;
// call EnableFileSink to turn on the daemon log file.
func NewLogger(cfg LogConfig) *Logger {
	l := &Logger{
		globalLevel: ParseLevel(cfg.Level),
		components:  make(map[string]LogLevel, len(cfg.Components)),
	}
	for name, level := range cfg.Components {
		l.components[strings.ToLower(name)] = ParseLevel(level)
	}
	return l
}

// EnableFileSink redirects log output to path (append, size/age/backup
// bounded) in addition to stderr. Used by Supervisor when entering daemon
// mode (-D on Linux); the spec's append-only/no-truncate invariant for
// /var/log/dpibreak.log is preserved by lumberjack rotating rather than
// truncating on open.
func (l *Logger) EnableFileSink(path string, maxSizeMB, maxAgeDays, maxBackups int) {
	l.fileSink = &lumberjack.Logger{
		Filename: path,
		MaxSize:  maxSizeMB,
		MaxAge:   maxAgeDays,
		MaxBackups: maxBackups,
		Compress: false,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, l.fileSink))
}

// Close flushes and closes the file sink (if any).
func (l *Logger) Close() {
	if l.fileSink != nil {
		l.fileSink.Close()
		l.fileSink = nil
	}
}

// levelFor returns the effective log level for a component tag.
// Results are cached lock-free after the first lookup per tag.
func (l *Logger) levelFor(tag string) LogLevel {
	if v, ok := l.levelCache.Load(tag); ok {
		return v.(LogLevel)
	}
	lvl := l.globalLevel
	if cl, ok := l.components[strings.ToLower(tag)]; ok {
		lvl = cl
	}
	l.levelCache.Store(tag, lvl)
	return lvl
}

// SetHook installs a callback that receives every log message passing level
// filtering. Pass nil to remove the hook.
func (l *Logger) SetHook(h LogHook) {
	if h == nil {
		l.hook.Store(nil)
	} else {
		l.hook.Store(&h)
	}
}

func (l *Logger) emit(level LogLevel, tag, msg string) {
	if hp := l.hook.Load(); hp != nil {
		(*hp)(level, tag, msg)
	}
}

// Debugf logs at debug level.
func (l *Logger) Debugf(tag, format string, args ...any) {
	if l.levelFor(tag) <= LevelDebug {
		msg := fmt.Sprintf(format, args...)
		log.Printf("[%s] %s", tag, msg)
		l.emit(LevelDebug, tag, msg)
	}
}

// Infof logs at info level.
func (l *Logger) Infof(tag, format string, args ...any) {
	if l.levelFor(tag) <= LevelInfo {
		msg := fmt.Sprintf(format, args...)
		log.Printf("[%s] %s", tag, msg)
		l.emit(LevelInfo, tag, msg)
	}
}

// Warnf logs at warn level.
func (l *Logger) Warnf(tag, format string, args ...any) {
	if l.levelFor(tag) <= LevelWarn {
		msg := fmt.Sprintf(format, args...)
		log.Printf("[%s] %s", tag, msg)
		l.emit(LevelWarn, tag, msg)
	}
}

// Errorf logs at error level.
func (l *Logger) Errorf(tag, format string, args ...any) {
	if l.levelFor(tag) <= LevelError {
		msg := fmt.Sprintf(format, args...)
		log.Printf("[%s] %s", tag, msg)
		l.emit(LevelError, tag, msg)
	}
}

// Fatalf always logs and calls os.Exit(1). Reserved for StartupFatal paths
// after Supervisor cleanup has run.
func (l *Logger) Fatalf(tag, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("[%s] %s", tag, msg)
	l.emit(LevelError, tag, msg)
	os.Exit(1)
}

// Log is the global logger instance. Initialized with default (info level);
// cmd/dpibreak reconfigures it from parsed flags before anything else runs.
var Log = NewLogger(LogConfig{})
