package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// zeroLogger binds a zerolog.Logger to one service component.
type zeroLogger struct {
	zl zerolog.Logger
}

// NewZerologLogger builds a component-scoped logger. APP_ENV=dev switches to
// the human-readable console writer; LOG_LEVEL narrows the emitted levels
// (debug, info, warn, error) and defaults to info.
func NewZerologLogger(component string) Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(os.Getenv("APP_ENV"), "dev") {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	zl := zerolog.New(out).
		Level(levelFromEnv()).
		With().
		Timestamp().
		Str("component", component).
		Logger()
	return &zeroLogger{zl: zl}
}

func levelFromEnv() zerolog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *zeroLogger) Debugf(format string, args ...any) { l.zl.Debug().Msgf(format, args...) }

func (l *zeroLogger) Debugw(msg string, fields map[string]any) {
	l.zl.Debug().Fields(fields).Msg(msg)
}

func (l *zeroLogger) Infof(format string, args ...any)  { l.zl.Info().Msgf(format, args...) }
func (l *zeroLogger) Warnf(format string, args ...any)  { l.zl.Warn().Msgf(format, args...) }
func (l *zeroLogger) Errorf(format string, args ...any) { l.zl.Error().Msgf(format, args...) }
