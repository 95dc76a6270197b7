package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Redacted replaces the value of any attribute whose key names a credential.
const Redacted = "[REDACTED]"

var sensitiveKeys = map[string]struct{}{
	"secret":           {},
	"github_secret":    {},
	"webhook_secret":   {},
	"signature":        {},
	"x-hub-signature":  {},
	"ssh_key":          {},
	"ssh_key_password": {},
}

// Setup initializes the global JSON logger on stdout. Only the first call
// takes effect; unknown levels fall back to INFO.
func Setup(level string) {
	once.Do(func() {
		logger = slog.New(NewHandler(os.Stdout, ParseLevel(level)))
		slog.SetDefault(logger)
	})
}

// NewHandler returns the JSON handler used by Setup, writing to w.
func NewHandler(w io.Writer, level slog.Leveler) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redact,
	})
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if IsSensitive(a.Key) {
		return slog.String(a.Key, Redacted)
	}
	return a
}

// IsSensitive reports whether an attribute key names a credential.
func IsSensitive(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(key)]
	return ok
}

// ParseLevel maps a config log level onto slog levels.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get returns the configured logger, or a default one if Setup hasn't been called.
func Get() *slog.Logger {
	if logger == nil {
		Setup("INFO")
	}
	return logger
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}
