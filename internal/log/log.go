// Package log provides the process-wide structured logger.
//
// All packages log through the package-level functions so the backend can be
// swapped or reconfigured in one place. Arguments after the message are
// alternating key/value pairs.
package log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var sugar = newLogger(zapcore.InfoLevel, "console", "")

// Configure rebuilds the logger. Level is one of debug, info, warn, error;
// format is "console" or "json"; file, when non-empty, adds a rotating log
// file alongside stderr.
func Configure(level, format, file string) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	sugar = newLogger(lvl, format, file)
}

func newLogger(lvl zapcore.Level, format, file string) *zap.SugaredLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.StringDurationEncoder

	var encoder zapcore.Encoder
	switch format {
	case "json":
		encoder = zapcore.NewJSONEncoder(encCfg)
	default:
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	sink := zapcore.AddSync(os.Stderr)
	if file != "" {
		rotated := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
			LocalTime:  true,
		}
		sink = zapcore.NewMultiWriteSyncer(zapcore.AddSync(os.Stderr), zapcore.AddSync(rotated))
	}

	core := zapcore.NewCore(encoder, sink, lvl)
	return zap.New(core).Sugar()
}

func Debug(msg string, args ...any) { sugar.Debugw(msg, args...) }

func Info(msg string, args ...any) { sugar.Infow(msg, args...) }

func Warn(msg string, args ...any) { sugar.Warnw(msg, args...) }

func Error(msg string, args ...any) { sugar.Errorw(msg, args...) }

// Fatal logs the message and exits the process.
func Fatal(msg string, args ...any) { sugar.Fatalw(msg, args...) }
