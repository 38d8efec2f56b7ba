// Copyright (c) 2026, The fleetman Authors

package fmlog

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a sugared zap logger whose level can be changed after
// construction.
type Logger struct {
	*zap.SugaredLogger
	level zap.AtomicLevel
}

// GetLogger builds the human readable stderr logger used by fleetctl, at
// debug level until SetLevel says otherwise.
func GetLogger() *Logger {
	level := zap.NewAtomicLevelAt(zapcore.DebugLevel)
	config := zap.Config{
		Level:       level,
		Development: false, // DPanic logs, it does not panic
		// caller on, stacktraces off
		DisableCaller:     false,
		DisableStacktrace: true,
		Encoding:          "console",
		EncoderConfig:     zap.NewDevelopmentEncoderConfig(),
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
	}

	zlogger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("cannot build logger: %v", err))
	}
	return &Logger{SugaredLogger: zlogger.Sugar(), level: level}
}

// NewNopLogger returns a logger discarding everything; handy in tests and
// for library callers which don't care.
func NewNopLogger() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar(), level: zap.NewAtomicLevel()}
}

// NewLoggerFromZap wraps an existing zap logger.
func NewLoggerFromZap(l *zap.Logger, level zap.AtomicLevel) *Logger {
	return &Logger{SugaredLogger: l.Sugar(), level: level}
}

func ParseLevel(level string) (zapcore.Level, error) {
	switch level {
	case "error":
		return zap.ErrorLevel, nil
	case "warn":
		return zap.WarnLevel, nil
	case "info":
		return zap.InfoLevel, nil
	case "debug":
		return zap.DebugLevel, nil
	}
	return zap.InfoLevel, fmt.Errorf("invalid log level: %v", level)
}

func (l *Logger) SetLevel(level string) {
	lvl, err := ParseLevel(level)
	if err != nil {
		l.Fatalf("%v", err)
	}
	l.level.SetLevel(lvl)
}

func (l *Logger) Level() zapcore.Level {
	return l.level.Level()
}

func GetLoggerWithLevel(level string) *Logger {
	l := GetLogger()
	l.SetLevel(level)
	return l
}
