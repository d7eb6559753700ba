// Package logging builds the zap logger used by the CLI. Library packages
// never reach for a global logger; they receive one explicitly.
package logging

import (
	"fmt"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config represents logger configuration.
type Config struct {
	Level       string
	Encoding    string // json or console
	Development bool
	// OutputPaths default to stderr so stdout stays free for reports.
	OutputPaths []string
}

func encoderConfig(dev bool) zapcore.EncoderConfig {
	ec := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if dev {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return ec
}

func parse(cfg Config) (zapcore.Level, string, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return level, "", fmt.Errorf("invalid log level: %w", err)
	}
	enc := cfg.Encoding
	if enc == "" {
		enc = "console"
	}
	if enc != "json" && enc != "console" {
		return level, "", fmt.Errorf("invalid log encoding %q (want json or console)", cfg.Encoding)
	}
	return level, enc, nil
}

// New builds a logger writing to cfg.OutputPaths.
func New(cfg Config) (*zap.Logger, error) {
	level, enc, err := parse(cfg)
	if err != nil {
		return nil, err
	}
	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zcfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Development,
		Encoding:         enc,
		EncoderConfig:    encoderConfig(cfg.Development),
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	if cfg.Development {
		logger = logger.WithOptions(zap.AddStacktrace(zapcore.ErrorLevel))
	}
	return logger, nil
}

// NewTo builds a logger writing to w.
func NewTo(cfg Config, w io.Writer) (*zap.Logger, error) {
	level, enc, err := parse(cfg)
	if err != nil {
		return nil, err
	}
	var encoder zapcore.Encoder
	if enc == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig(cfg.Development))
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig(cfg.Development))
	}
	return zap.New(zapcore.NewCore(encoder, zapcore.AddSync(w), level)), nil
}
