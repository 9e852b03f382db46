// Package logger provides structured logging for the recognition pipeline using zap.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.SugaredLogger so pipeline stages can attach batch, document,
// page and engine context to their log lines.
type Logger struct {
	*zap.SugaredLogger
	config *Config
}

// Config holds logger configuration options
type Config struct {
	// Level is the minimum log level (debug, info, warn, error)
	Level string

	// Format is "console" for humans or "json" for workers feeding a log collector
	Format string

	// OutputPath mirrors log output into a file when set
	OutputPath string

	EnableCaller     bool
	EnableStacktrace bool
}

var defaultLogger *Logger

// New creates a logger from cfg. A nil cfg yields an info-level console logger.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = &Config{
			Level:            "info",
			Format:           "console",
			EnableStacktrace: true,
		}
	}

	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var encoder zapcore.Encoder
	switch cfg.Format {
	case "json":
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encCfg)
	case "console", "":
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	sinks := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	if cfg.OutputPath != "" {
		file, err := os.OpenFile(cfg.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.OutputPath, err)
		}
		sinks = append(sinks, zapcore.AddSync(file))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), level)

	var opts []zap.Option
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	return &Logger{
		SugaredLogger: zap.New(core, opts...).Sugar(),
		config:        cfg,
	}, nil
}

// Nop returns a logger that discards everything. Handy in tests.
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar(), config: &Config{Level: "info"}}
}

// Init installs the global logger
func Init(cfg *Config) error {
	l, err := New(cfg)
	if err != nil {
		return err
	}
	defaultLogger = l
	return nil
}

// Get returns the global logger, creating a default one on first use
func Get() *Logger {
	if defaultLogger == nil {
		l, _ := New(nil)
		defaultLogger = l
	}
	return defaultLogger
}

// WithFields returns a child logger with key/value pairs attached
func (l *Logger) WithFields(fields ...interface{}) *Logger {
	return &Logger{
		SugaredLogger: l.With(fields...),
		config:        l.config,
	}
}

func (l *Logger) WithBatchID(batchID string) *Logger {
	return l.WithFields("batch_id", batchID)
}

func (l *Logger) WithDocumentID(docID string) *Logger {
	return l.WithFields("document_id", docID)
}

// WithPage attaches the 1-based page number
func (l *Logger) WithPage(number int) *Logger {
	return l.WithFields("page", number)
}

func (l *Logger) WithEngine(name string) *Logger {
	return l.WithFields("engine", name)
}

func (l *Logger) WithOperation(operation string) *Logger {
	return l.WithFields("operation", operation)
}

func (l *Logger) WithError(err error) *Logger {
	return l.WithFields("error", err)
}

// Level reports the configured minimum level
func (l *Logger) Level() string {
	return l.config.Level
}

func parseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q", level)
	}
}

// Sync flushes buffered entries
func (l *Logger) Sync() error {
	return l.SugaredLogger.Sync()
}

// Package-level shortcuts on the global logger

func Debugf(template string, args ...interface{}) { Get().Debugf(template, args...) }
func Infof(template string, args ...interface{})  { Get().Infof(template, args...) }
func Warnf(template string, args ...interface{})  { Get().Warnf(template, args...) }
func Errorf(template string, args ...interface{}) { Get().Errorf(template, args...) }

func Info(args ...interface{})  { Get().Info(args...) }
func Warn(args ...interface{})  { Get().Warn(args...) }
func Error(args ...interface{}) { Get().Error(args...) }

func WithFields(fields ...interface{}) *Logger { return Get().WithFields(fields...) }
func WithError(err error) *Logger              { return Get().WithError(err) }

// Sync flushes the global logger
func Sync() error {
	return Get().Sync()
}
