package logger

import (
	"os"
	"sync"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.RWMutex
	log *zap.Logger
)

// Options configures the process-wide logger
type Options struct {
	Debug   bool
	LogFile string // Rotating JSON log file; empty disables file output
	RunID   string // Attached to every entry when set
}

// Init initializes the global logger with console output only
func Init(debug bool) {
	Setup(Options{Debug: debug})
}

// InitWithFile initializes the global logger with console and file output
func InitWithFile(debug bool, logFile string) {
	Setup(Options{Debug: debug, LogFile: logFile})
}

// Setup replaces the global logger
func Setup(opts Options) *zap.Logger {
	l := build(opts)
	mu.Lock()
	log = l
	mu.Unlock()
	return l
}

func build(opts Options) *zap.Logger {
	level := zapcore.InfoLevel
	encoderConfig := zap.NewProductionEncoderConfig()
	if opts.Debug {
		level = zapcore.DebugLevel
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(os.Stdout), level),
	}

	if opts.LogFile != "" {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(&lumberjack.Logger{
				Filename:   opts.LogFile,
				MaxSize:    50, // MB
				MaxBackups: 5,
				MaxAge:     30, // days
			}),
			level,
		))
	}

	l := zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zapcore.ErrorLevel))
	if opts.RunID != "" {
		l = l.With(zap.String("run_id", opts.RunID))
	}
	return l
}

// Get returns the global logger, creating a console logger on first use
func Get() *zap.Logger {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if log == nil {
		log = build(Options{})
	}
	return log
}

// Sync flushes any buffered log entries
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if log != nil {
		_ = log.Sync()
	}
}
