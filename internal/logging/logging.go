// Package logging builds the process logger.
package logging

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options logger settings.
type Options struct {
	// Level one of debug, info, warn, error. Empty means info.
	Level string
	// File optional path of a rotated JSON log file, written in addition to stderr.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New creates a production JSON logger.
func New(opts Options) (*zap.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level),
	}
	if opts.File != "" {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotated(opts)), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

func rotated(opts Options) *lumberjack.Logger {
	w := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}
	if w.MaxSize == 0 {
		w.MaxSize = 50
	}
	if w.MaxBackups == 0 {
		w.MaxBackups = 5
	}
	return w
}

// ParseLevel maps a level name to a zap level.
func ParseLevel(name string) (zap.AtomicLevel, error) {
	if strings.TrimSpace(name) == "" {
		return zap.NewAtomicLevelAt(zapcore.InfoLevel), nil
	}
	level, err := zap.ParseAtomicLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		return zap.AtomicLevel{}, errors.Wrapf(err, "parse log level %q", name)
	}
	return level, nil
}
