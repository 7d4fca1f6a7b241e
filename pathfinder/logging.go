package pathfinder

import "log/slog"

// SlogLogger adapts a *slog.Logger to the Logger interface, for callers
// that want structured leveled logging without writing their own adapter.
type SlogLogger struct {
	L *slog.Logger
}

// NewSlogLogger wraps l, or slog.Default() if l is nil.
func NewSlogLogger(l *slog.Logger) SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return SlogLogger{L: l}
}

func (s SlogLogger) Info(msg string, args ...any) { s.L.Info(msg, args...) }
func (s SlogLogger) Warn(msg string, args ...any) { s.L.Warn(msg, args...) }
