package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level = zapcore.Level

const (
	LevelDebug = zapcore.DebugLevel
	LevelInfo  = zapcore.InfoLevel
	LevelWarn  = zapcore.WarnLevel
	LevelError = zapcore.ErrorLevel
	LevelFatal = zapcore.FatalLevel
)

type Logger struct {
	sugar *zap.SugaredLogger
}

// New writes every level to filePath and, when includeStdout is set, Info and
// above to stdout so debug output does not break the CLI progress bar.
func New(filePath string, level Level, includeStdout bool) (*Logger, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(f), level),
	}

	if includeStdout {
		stdoutLevel := level
		if stdoutLevel < LevelInfo {
			stdoutLevel = LevelInfo
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stdout), stdoutLevel))
	}

	return &Logger{sugar: zap.New(zapcore.NewTee(cores...)).Sugar()}, nil
}

// Nop discards everything. Used by tests and by callers that do not care.
func Nop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

func ParseLevel(lvl string) Level {
	switch strings.ToLower(lvl) {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l *Logger) Debug(f string, v ...any) { l.sugar.Debugf(f, v...) }
func (l *Logger) Info(f string, v ...any)  { l.sugar.Infof(f, v...) }
func (l *Logger) Warn(f string, v ...any)  { l.sugar.Warnf(f, v...) }
func (l *Logger) Error(f string, v ...any) { l.sugar.Errorf(f, v...) }
func (l *Logger) Fatal(f string, v ...any) { l.sugar.Fatalf(f, v...) }

// Sync flushes buffered entries. Errors from syncing stdout are ignored.
func (l *Logger) Sync() {
	_ = l.sugar.Sync()
}

func (l *Logger) Write(p []byte) (n int, err error) {
	// Echo and other libraries often include a newline at the end
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		l.Info("%s", msg)
	}
	return len(p), nil
}
