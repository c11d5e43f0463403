package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

type Logger struct {
	zerolog zerolog.Logger
}

// NewLogger builds a zerolog logger writing to stderr.
func NewLogger(ctx context.Context, config *Config) (*Logger, error) {
	return NewLoggerTo(ctx, config, os.Stderr)
}

// NewLoggerTo is NewLogger with an explicit destination.
func NewLoggerTo(_ context.Context, config *Config, out io.Writer) (*Logger, error) {
	config.SetDefault()
	level, err := zerolog.ParseLevel(strings.ToLower(config.Level))
	if err != nil {
		return nil, errors.Wrap(err, "parse level")
	}

	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	lctx := zerolog.New(buildLoggerOutput(out, config.HumanFriendly, config.NoColoredOutput)).
		Level(level).
		With().
		Timestamp()
	if config.Component != "" {
		lctx = lctx.Str("component", config.Component)
	}

	return &Logger{zerolog: lctx.Logger()}, nil
}

func (l *Logger) Zerolog() *zerolog.Logger {
	return &l.zerolog
}

// Named returns a child logger tagged with a subsystem name.
func (l *Logger) Named(name string) *zerolog.Logger {
	child := l.zerolog.With().Str("subsystem", name).Logger()
	return &child
}

func buildLoggerOutput(out io.Writer, isHumanFriendly, isNoColoredOutput bool) io.Writer {
	if !isHumanFriendly {
		return out
	}

	output := zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    isNoColoredOutput,
		TimeFormat: time.RFC3339,
	}
	output.FormatLevel = func(i interface{}) string {
		s, _ := i.(string)
		return fmt.Sprintf("| %-5s |", strings.ToUpper(s))
	}

	return output
}
