package logger

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestZerologLoggerMethods(t *testing.T) {
	l := NewZerologLogger("test")
	l.Debugf("debug %d", 1)
	l.Debugw("debug", map[string]any{"k": "v"})
	l.Infof("info %s", "x")
	l.Warnf("warn")
	l.Errorf("error: %v", nil)
}

func TestLevelFromEnv(t *testing.T) {
	cases := []struct {
		env  string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, c := range cases {
		t.Setenv("LOG_LEVEL", c.env)
		if got := levelFromEnv(); got != c.want {
			t.Errorf("LOG_LEVEL=%q: got %s, want %s", c.env, got, c.want)
		}
	}
}
