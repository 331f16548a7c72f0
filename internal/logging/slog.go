package logging

import (
	"context"
	"log/slog"
)

// LevelPII sits below slog.LevelDebug so that PII records never pass a
// handler configured for normal levels.
const LevelPII = slog.LevelDebug - 4

type SlogLogger struct {
	l          *slog.Logger
	piiEnabled bool
}

func NewSlogLogger(l *slog.Logger) *SlogLogger {
	return &SlogLogger{l: l}
}

// NewSlogLoggerWithPII returns a logger that forwards PII records. Only wire
// this in development setups; the default drops them.
func NewSlogLoggerWithPII(l *slog.Logger) *SlogLogger {
	return &SlogLogger{l: l, piiEnabled: true}
}

func (s *SlogLogger) Debug(ctx context.Context, msg string, args ...any) {
	s.l.DebugContext(ctx, msg, args...)
}

func (s *SlogLogger) Info(ctx context.Context, msg string, args ...any) {
	s.l.InfoContext(ctx, msg, args...)
}

func (s *SlogLogger) Warn(ctx context.Context, msg string, args ...any) {
	s.l.WarnContext(ctx, msg, args...)
}

func (s *SlogLogger) Error(ctx context.Context, msg string, args ...any) {
	s.l.ErrorContext(ctx, msg, args...)
}

func (s *SlogLogger) PII(ctx context.Context, msg string, args ...any) {
	if !s.piiEnabled {
		return
	}
	s.l.Log(ctx, LevelPII, msg, args...)
}

func (s *SlogLogger) With(args ...any) Logger {
	return &SlogLogger{l: s.l.With(args...), piiEnabled: s.piiEnabled}
}
