// Copyright 2023 Kami
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging is the side-effect sink the reactor core logs through:
// a formatted string plus a severity, nothing more. It is backed by zap,
// with optional file rotation via lumberjack.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the contract every reactor component logs through. Debugf and
// Infof are routine traffic; Errorf marks a recovered fault; Fatalf is for
// startup failures the process cannot run without (socket/poller/wakeup
// creation); the zap-backed Logger terminates the process after logging
// it, while Noop discards it and returns.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// Config controls how NewLogger builds its zap core.
type Config struct {
	// Debug enables debug-level output; otherwise Debugf is a no-op.
	Debug bool

	// FilePath, when non-empty, routes output through a rotating
	// lumberjack.Logger instead of stderr.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

type zapLogger struct {
	sugar *zap.SugaredLogger
	exit  func()
}

// NewLogger builds a Logger from cfg. A zero Config logs human-readable
// output to stderr at info level and above.
func NewLogger(cfg Config) Logger {
	level := zapcore.InfoLevel
	if cfg.Debug {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewConsoleEncoder(encCfg)

	var sink zapcore.WriteSyncer
	if cfg.FilePath != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: cfg.MaxBackups,
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
			Compress:   cfg.Compress,
		})
	} else {
		sink = zapcore.AddSync(os.Stderr)
	}

	core := zapcore.NewCore(encoder, sink, level)
	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))

	return &zapLogger{sugar: logger.Sugar(), exit: func() { os.Exit(1) }}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func (l *zapLogger) Debugf(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *zapLogger) Infof(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *zapLogger) Errorf(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }
func (l *zapLogger) Fatalf(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
	l.exit()
}

type noop struct{}

func (noop) Debugf(string, ...interface{}) {}
func (noop) Infof(string, ...interface{})  {}
func (noop) Errorf(string, ...interface{}) {}
func (noop) Fatalf(string, ...interface{}) {}

// Noop is a Logger that discards everything, Fatalf included (it does not
// exit); components fall back to it when constructed with a nil Logger.
var Noop Logger = noop{}

// OrNoop returns l, or Noop if l is nil, so callers never need a nil check.
func OrNoop(l Logger) Logger {
	if l == nil {
		return Noop
	}
	return l
}
