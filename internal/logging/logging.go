// Package logging provides structured logging with zap.
//
// The terminal belongs to the UI, so by default logs are written to a file
// rather than stderr.
package logging

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu           sync.Mutex
	globalLogger *zap.Logger
	globalLevel  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	OutputPath string // stdout, stderr, or file path; empty uses DefaultPath
}

// DefaultPath is where logs go when no output is configured.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), "s4.log")
}

// Init initializes the global logger.
func Init(cfg Config) error {
	var config zap.Config
	if cfg.Format == "json" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.Development = false
	}

	globalLevel.SetLevel(zapcore.InfoLevel)
	setLevel(cfg.Level)
	config.Level = globalLevel

	out := cfg.OutputPath
	if out == "" {
		out = DefaultPath()
	}
	config.OutputPaths = []string{out}
	config.ErrorOutputPaths = []string{out}

	logger, err := config.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return err
	}

	mu.Lock()
	globalLogger = logger
	mu.Unlock()
	return nil
}

// Sync flushes any buffered log entries.
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	if globalLogger != nil {
		return globalLogger.Sync()
	}
	return nil
}

// setLevel changes the level shared by every logger built by Init. Unknown
// names are ignored.
func setLevel(level string) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return
	}
	globalLevel.SetLevel(l)
}

// L returns the global logger. Before Init it is a no-op logger.
func L() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if globalLogger == nil {
		return zap.NewNop()
	}
	return globalLogger
}

// Named returns a child of the global logger for a component.
func Named(component string) *zap.Logger {
	return L().Named(component)
}
