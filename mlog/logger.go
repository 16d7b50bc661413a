// Package mlog builds the process loggers.
package mlog

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogConfig struct {
	// Level, See also zapcore.ParseLevel.
	Level string `yaml:"level"`

	// File that logger will be writen into.
	// Default is stderr.
	File string `yaml:"file"`

	// Production enables json output.
	Production bool `yaml:"production"`
}

var (
	stderr = zapcore.Lock(os.Stderr)
	lvl    = zap.NewAtomicLevelAt(zap.InfoLevel)
	l      = zap.New(zapcore.NewCore(zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()), stderr, lvl))
	s      = l.Sugar()
	nop    = zap.NewNop()
)

// NewLogger builds a logger from lc. An empty lc logs info and above to
// stderr.
func NewLogger(lc *LogConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if len(lc.Level) > 0 {
		var err error
		if level, err = zapcore.ParseLevel(lc.Level); err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
	}

	out := zapcore.WriteSyncer(stderr)
	if len(lc.File) > 0 {
		f, _, err := zap.Open(lc.File)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = zapcore.Lock(f)
	}

	var encoder zapcore.Encoder
	if lc.Production {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}
	return zap.New(zapcore.NewCore(encoder, out, level)), nil
}

// L is a logger that can be used before the config is loaded.
func L() *zap.Logger {
	return l
}

// SetLevel changes the level of L.
func SetLevel(level zapcore.Level) {
	lvl.SetLevel(level)
}

// S is L as a sugared logger.
func S() *zap.SugaredLogger {
	return s
}

func Nop() *zap.Logger {
	return nop
}
