// Package util provides low-level helpers shared by all other packages.
package util

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// LogLevel controls output verbosity.
type LogLevel int

const (
	LogQuiet   LogLevel = 0
	LogNormal  LogLevel = 1
	LogVerbose LogLevel = 2
	LogDebug   LogLevel = 3
)

// LogOptions configures a Logger beyond its verbosity.
type LogOptions struct {
	Output     io.Writer // default os.Stderr
	JSON       bool      // JSON encoder instead of console
	Timestamps bool
	Color      bool // colour level names (console only)
}

// Logger is a verbosity-gated front end over a zap logger. Verbose and
// Debug both map to zap's debug level; the gate decides which of them
// is emitted.
type Logger struct {
	level LogLevel
	z     *zap.Logger
	s     *zap.SugaredLogger
}

// NewLogger returns a console Logger on stderr that prints messages at or
// below the given verbosity (0 = quiet, 1 = normal, 2 = verbose,
// 3 = debug). Level names are coloured when stderr is a terminal.
func NewLogger(verbosity int) *Logger {
	return NewLoggerWith(verbosity, LogOptions{
		Timestamps: verbosity >= int(LogDebug),
		Color:      term.IsTerminal(int(os.Stderr.Fd())),
	})
}

// NewLoggerWith builds a Logger from explicit options.
func NewLoggerWith(verbosity int, opts LogOptions) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	enc := zap.NewProductionEncoderConfig()
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	if opts.Color && !opts.JSON {
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	enc.CallerKey = ""
	enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	if !opts.Timestamps {
		enc.TimeKey = ""
	}

	var encoder zapcore.Encoder
	if opts.JSON {
		encoder = zapcore.NewJSONEncoder(enc)
	} else {
		encoder = zapcore.NewConsoleEncoder(enc)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(out), zapLevel(LogLevel(verbosity)))
	z := zap.New(core)
	return &Logger{level: LogLevel(verbosity), z: z, s: z.Sugar()}
}

// NopLogger discards everything.
func NopLogger() *Logger {
	z := zap.NewNop()
	return &Logger{level: LogQuiet, z: z, s: z.Sugar()}
}

func zapLevel(l LogLevel) zapcore.Level {
	switch {
	case l >= LogVerbose:
		return zapcore.DebugLevel
	case l >= LogNormal:
		return zapcore.InfoLevel
	default:
		return zapcore.ErrorLevel
	}
}

// Level returns the current log level.
func (l *Logger) Level() LogLevel { return l.level }

// With returns a child Logger that adds fields to every entry.
func (l *Logger) With(fields ...zap.Field) *Logger {
	z := l.z.With(fields...)
	return &Logger{level: l.level, z: z, s: z.Sugar()}
}

// Info prints when verbosity ≥ 1.
func (l *Logger) Info(format string, args ...interface{}) {
	if l.level >= LogNormal {
		l.s.Infof(format, args...)
	}
}

// Warn prints when verbosity ≥ 1.
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.level >= LogNormal {
		l.s.Warnf(format, args...)
	}
}

// Verbose prints when verbosity ≥ 2.
func (l *Logger) Verbose(format string, args ...interface{}) {
	if l.level >= LogVerbose {
		l.s.Debugf(format, args...)
	}
}

// Debug prints when verbosity ≥ 3.
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.level >= LogDebug {
		l.s.Debugf(format, args...)
	}
}

// Error always prints regardless of verbosity.
func (l *Logger) Error(format string, args ...interface{}) {
	l.s.Errorf(format, args...)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() {
	_ = l.z.Sync()
}
