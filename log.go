package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type logger struct {
	logger *zap.SugaredLogger
	file   *lumberjack.Logger
}

var log logger

func (l *logger) sugar() *zap.SugaredLogger {
	if l.logger == nil {
		l.logger = zap.NewNop().Sugar()
	}
	return l.logger
}

// returns the source file name of the caller, used as a prefix for debug lines
func (l *logger) getCallerFileName(withLine bool) string {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return "?"
	}
	file = strings.TrimSuffix(filepath.Base(file), ".go")
	if withLine {
		return fmt.Sprint(file, ":", line)
	}
	return file
}

// write a log line without tearing the status bar apart
func (l *logger) write(f func()) {
	if statusLog.isRealtime() {
		statusLog.mutex.Lock()
		statusLog.clearStatusLine()
		f()
		statusLog.mutex.Unlock()
		statusLog.print()
		return
	}
	f()
}

func (l *logger) Print(a ...interface{}) {
	prefix := l.getCallerFileName(false) + ": "
	l.write(func() { l.sugar().Info(prefix + fmt.Sprint(a...)) })
}

func (l *logger) Printf(format string, a ...interface{}) {
	prefix := l.getCallerFileName(false) + ": "
	l.write(func() { l.sugar().Info(prefix + fmt.Sprintf(format, a...)) })
}

func (l *logger) PrintStatusLog(a ...interface{}) {
	l.sugar().Info(a...)
}

func (l *logger) Debug(a ...interface{}) {
	prefix := l.getCallerFileName(true) + ": "
	l.write(func() { l.sugar().Debug(prefix + fmt.Sprint(a...)) })
}

func (l *logger) Warn(a ...interface{}) {
	prefix := l.getCallerFileName(false) + ": "
	l.write(func() { l.sugar().Warn(prefix + fmt.Sprint(a...)) })
}

func (l *logger) Error(a ...interface{}) {
	prefix := l.getCallerFileName(true) + ": "
	l.write(func() { l.sugar().Error(prefix + fmt.Sprint(a...)) })
}

func (l *logger) Fatal(a ...interface{}) {
	prefix := l.getCallerFileName(true) + ": "
	statusLog.stopPeriodicPrint()
	l.sugar().Fatal(prefix + fmt.Sprint(a...))
}

func (l *logger) Sync() {
	_ = l.sugar().Sync()
	if l.file != nil {
		_ = l.file.Close()
	}
}

func (l *logger) Init(cfg logConfig) {
	level := zapcore.InfoLevel
	if verboseLog {
		level = zapcore.DebugLevel
	} else if quietLog {
		level = zapcore.ErrorLevel
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z0700")
	encCfg.EncodeCaller = nil

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stdout), level),
	}

	if cfg.File != "" {
		l.file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		fileEnc := zap.NewProductionEncoderConfig()
		fileEnc.EncodeTime = zapcore.ISO8601TimeEncoder
		// The file always gets debug lines, the console follows -v/-q.
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileEnc), zapcore.AddSync(l.file), zapcore.DebugLevel))
	}

	l.logger = zap.New(zapcore.NewTee(cores...)).Sugar()
}
