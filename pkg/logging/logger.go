package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/DeBrosOfficial/subchannel/pkg/config"
)

// ANSI color codes
const (
	Reset = "\033[0m"
	Bold  = "\033[1m"
	Dim   = "\033[2m"

	Red     = "\033[31m"
	Green   = "\033[32m"
	Yellow  = "\033[33m"
	Blue    = "\033[34m"
	Magenta = "\033[35m"
	Cyan    = "\033[36m"
	White   = "\033[37m"
	Gray    = "\033[90m"

	BrightRed     = "\033[91m"
	BrightGreen   = "\033[92m"
	BrightYellow  = "\033[93m"
	BrightBlue    = "\033[94m"
	BrightMagenta = "\033[95m"
	BrightCyan    = "\033[96m"
	BrightWhite   = "\033[97m"
)

// ColoredLogger wraps zap.Logger with colored output
type ColoredLogger struct {
	*zap.Logger
	enableColors bool
}

// Component represents different parts of the system for color coding
type Component string

const (
	ComponentNode      Component = "NODE"
	ComponentRegistry  Component = "REGISTRY"
	ComponentTransport Component = "TRANSPORT"
	ComponentDelivery  Component = "DELIVERY"
	ComponentStore     Component = "STORE"
	ComponentGateway   Component = "GATEWAY"
	ComponentLibP2P    Component = "LIBP2P"
	ComponentGeneral   Component = "GENERAL"
)

func getComponentColor(component Component) string {
	switch component {
	case ComponentNode:
		return BrightBlue
	case ComponentRegistry:
		return BrightMagenta
	case ComponentTransport:
		return Cyan
	case ComponentDelivery:
		return Green
	case ComponentStore:
		return BrightYellow
	case ComponentGateway:
		return BrightGreen
	case ComponentLibP2P:
		return BrightCyan
	case ComponentGeneral:
		return Yellow
	default:
		return White
	}
}

func getLevelColor(level zapcore.Level) string {
	switch level {
	case zapcore.DebugLevel:
		return Gray
	case zapcore.InfoLevel:
		return BrightWhite
	case zapcore.WarnLevel:
		return BrightYellow
	case zapcore.ErrorLevel:
		return BrightRed
	case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		return Red
	default:
		return White
	}
}

// coloredConsoleEncoder creates a compact console encoder: HH:MM:SS, single
// letter level, bare file name as caller.
func coloredConsoleEncoder(enableColors bool) zapcore.Encoder {
	cfg := zap.NewDevelopmentEncoderConfig()

	cfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		timeStr := t.Format("15:04:05")
		if enableColors {
			enc.AppendString(fmt.Sprintf("%s%s%s", Dim, timeStr, Reset))
		} else {
			enc.AppendString(timeStr)
		}
	}

	cfg.EncodeLevel = func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		levelMap := map[zapcore.Level]string{
			zapcore.DebugLevel: "D",
			zapcore.InfoLevel:  "I",
			zapcore.WarnLevel:  "W",
			zapcore.ErrorLevel: "E",
		}
		levelStr := levelMap[level]
		if levelStr == "" {
			levelStr = "?"
		}
		if enableColors {
			enc.AppendString(fmt.Sprintf("%s%s%s%s", getLevelColor(level), Bold, levelStr, Reset))
		} else {
			enc.AppendString(levelStr)
		}
	}

	cfg.EncodeCaller = func(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		file := caller.File
		if idx := strings.LastIndex(file, "/"); idx >= 0 {
			file = file[idx+1:]
		}
		file = strings.TrimSuffix(file, ".go")
		if enableColors {
			enc.AppendString(fmt.Sprintf("%s%s%s", Dim, file, Reset))
		} else {
			enc.AppendString(file)
		}
	}

	return zapcore.NewConsoleEncoder(cfg)
}

func newLogger(encoder zapcore.Encoder, sink zapcore.WriteSyncer, level zapcore.LevelEnabler, enableColors bool) *ColoredLogger {
	core := zapcore.NewCore(encoder, sink, level)
	return &ColoredLogger{
		Logger:       zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)),
		enableColors: enableColors,
	}
}

// NewColoredLogger creates a new colored logger writing to stdout
func NewColoredLogger(component Component, enableColors bool) (*ColoredLogger, error) {
	return newLogger(coloredConsoleEncoder(enableColors), zapcore.AddSync(os.Stdout), zapcore.DebugLevel, enableColors), nil
}

// NewDefaultLogger creates a logger with default settings
func NewDefaultLogger(component Component) (*ColoredLogger, error) {
	return NewColoredLogger(component, true)
}

// NewFileLogger creates a logger that writes to a file
func NewFileLogger(component Component, filePath string, enableColors bool) (*ColoredLogger, error) {
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", filePath, err)
	}
	return newLogger(coloredConsoleEncoder(enableColors), zapcore.AddSync(file), zapcore.DebugLevel, enableColors), nil
}

// NewWriterLogger creates an uncolored console logger writing to w at the
// given level.
func NewWriterLogger(w io.Writer, level zapcore.Level) *ColoredLogger {
	return newLogger(coloredConsoleEncoder(false), zapcore.AddSync(w), level, false)
}

// NewFromConfig builds a logger from the logging section of the node config.
// Colors are only used for console output to stdout.
func NewFromConfig(cfg config.LoggingConfig) (*ColoredLogger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	sink := zapcore.AddSync(os.Stdout)
	if cfg.OutputFile != "" {
		file, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.OutputFile, err)
		}
		sink = zapcore.AddSync(file)
	}

	if cfg.Format == "json" {
		return newLogger(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), sink, level, false), nil
	}
	colors := cfg.OutputFile == ""
	return newLogger(coloredConsoleEncoder(colors), sink, level, colors), nil
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *ColoredLogger {
	return &ColoredLogger{Logger: zap.NewNop()}
}

func (l *ColoredLogger) prefix(component Component, msg string) string {
	if l.enableColors {
		return fmt.Sprintf("%s[%s]%s %s", getComponentColor(component), component, Reset, msg)
	}
	return fmt.Sprintf("[%s] %s", component, msg)
}

// Component-specific logging methods
func (l *ColoredLogger) ComponentInfo(component Component, msg string, fields ...zap.Field) {
	l.Info(l.prefix(component, msg), fields...)
}

func (l *ColoredLogger) ComponentWarn(component Component, msg string, fields ...zap.Field) {
	l.Warn(l.prefix(component, msg), fields...)
}

func (l *ColoredLogger) ComponentError(component Component, msg string, fields ...zap.Field) {
	l.Error(l.prefix(component, msg), fields...)
}

func (l *ColoredLogger) ComponentDebug(component Component, msg string, fields ...zap.Field) {
	l.Debug(l.prefix(component, msg), fields...)
}
