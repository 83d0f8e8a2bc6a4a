// Package util provides low-level helpers shared by all other packages.
package util

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel controls output verbosity.
type LogLevel int

const (
	LogQuiet   LogLevel = 0
	LogNormal  LogLevel = 1
	LogVerbose LogLevel = 2
	LogDebug   LogLevel = 3
)

// zap has no level between Debug and Info, so Verbose rides on zap's
// DebugLevel and Debug sits one step below it.
const (
	zapVerbose = zapcore.DebugLevel
	zapDebug   = zapcore.DebugLevel - 1
)

// Logger writes levelled messages through zap.  Messages are printf
// style; structured fields are attached with [Logger.With].  A nil
// *Logger discards everything.
type Logger struct {
	level      LogLevel
	format     string // "console" or "json"
	output     io.Writer
	timestamps bool
	fields     []zap.Field
	z          *zap.Logger
}

// NewLogger returns a console Logger on stderr that prints messages at or
// below the given verbosity (0 = quiet, 1 = normal, 2 = verbose,
// 3 = debug).
func NewLogger(verbosity int) *Logger {
	return NewLoggerFormat(verbosity, "console")
}

// NewLoggerFormat is NewLogger with an explicit encoding, "console" or
// "json".
func NewLoggerFormat(verbosity int, format string) *Logger {
	if format != "json" {
		format = "console"
	}
	l := &Logger{
		level:      LogLevel(verbosity),
		format:     format,
		output:     os.Stderr,
		timestamps: verbosity >= 3 || format == "json",
	}
	l.rebuild()
	return l
}

// SetTimestamps enables or disables timestamps.
func (l *Logger) SetTimestamps(on bool) {
	l.timestamps = on
	l.rebuild()
}

// SetOutput overrides the output writer (default: os.Stderr).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
	l.rebuild()
}

// Level returns the current log level.
func (l *Logger) Level() LogLevel {
	if l == nil {
		return LogQuiet
	}
	return l.level
}

// With returns a child logger that attaches fields to every message.
// The child of a nil Logger is nil.
func (l *Logger) With(fields ...zap.Field) *Logger {
	if l == nil {
		return nil
	}
	child := *l
	child.fields = append(append([]zap.Field(nil), l.fields...), fields...)
	child.z = l.z.With(fields...)
	return &child
}

// Zap exposes the underlying logger.
func (l *Logger) Zap() *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l.z
}

// Sync flushes buffered output.
func (l *Logger) Sync() error {
	if l == nil {
		return nil
	}
	return l.z.Sync()
}

// Info prints when verbosity ≥ 1.
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(zapcore.InfoLevel, format, args...)
}

// Warn prints when verbosity ≥ 1.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(zapcore.WarnLevel, format, args...)
}

// Verbose prints when verbosity ≥ 2.
func (l *Logger) Verbose(format string, args ...interface{}) {
	l.log(zapVerbose, format, args...)
}

// Debug prints when verbosity ≥ 3.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(zapDebug, format, args...)
}

// Error always prints regardless of verbosity.
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(zapcore.ErrorLevel, format, args...)
}

func (l *Logger) log(lvl zapcore.Level, format string, args ...interface{}) {
	if l == nil || !l.enabled(lvl) {
		return
	}
	if ce := l.z.Check(lvl, fmt.Sprintf(format, args...)); ce != nil {
		ce.Write()
	}
}

func (l *Logger) enabled(lvl zapcore.Level) bool {
	switch {
	case lvl >= zapcore.ErrorLevel:
		return true
	case lvl >= zapcore.InfoLevel:
		return l.level >= LogNormal
	case lvl == zapVerbose:
		return l.level >= LogVerbose
	default:
		return l.level >= LogDebug
	}
}

func (l *Logger) rebuild() {
	enc := zapcore.EncoderConfig{
		MessageKey:     "message",
		LevelKey:       "level",
		NameKey:        "logger",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    encodeLevel(l.format),
		EncodeTime:     zapcore.TimeEncoderOfLayout("15:04:05.000"),
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	if l.timestamps {
		enc.TimeKey = "time"
	}
	if l.format == "json" {
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	var encoder zapcore.Encoder
	if l.format == "json" {
		encoder = zapcore.NewJSONEncoder(enc)
	} else {
		encoder = zapcore.NewConsoleEncoder(enc)
	}

	sink := zapcore.Lock(zapcore.AddSync(l.output))
	core := zapcore.NewCore(encoder, sink, zap.LevelEnablerFunc(func(zapcore.Level) bool { return true }))
	l.z = zap.New(core).With(l.fields...)
}

var (
	consoleLevels = map[zapcore.Level]string{
		zapDebug:           "[DBG]",
		zapVerbose:         "[VRB]",
		zapcore.InfoLevel:  "[INF]",
		zapcore.WarnLevel:  "[WRN]",
		zapcore.ErrorLevel: "[ERR]",
	}
	jsonLevels = map[zapcore.Level]string{
		zapDebug:   "debug",
		zapVerbose: "verbose",
	}
)

func encodeLevel(format string) zapcore.LevelEncoder {
	return func(lvl zapcore.Level, pae zapcore.PrimitiveArrayEncoder) {
		if format == "json" {
			if s, ok := jsonLevels[lvl]; ok {
				pae.AppendString(s)
				return
			}
			zapcore.LowercaseLevelEncoder(lvl, pae)
			return
		}
		if s, ok := consoleLevels[lvl]; ok {
			pae.AppendString(s)
			return
		}
		pae.AppendString("[" + lvl.CapitalString() + "]")
	}
}
