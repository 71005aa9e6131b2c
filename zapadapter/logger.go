// Package zapadapter implements the eventstore.Logger interface on
// go.uber.org/zap, for applications already carrying a zap logger.
package zapadapter

import (
	"go.uber.org/zap"

	"github.com/proteanhq/eventengine-go/eventstore"
)

// Logger wraps a zap logger behind the eventstore.Logger interface.
// Args are interpreted as loosely-typed key-value pairs, like slog.
type Logger struct {
	sugar *zap.SugaredLogger
}

// NewLogger creates a Logger on the given zap logger.
func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{sugar: logger.Sugar()}
}

func (l *Logger) Debug(msg string, args ...any) {
	l.sugar.Debugw(msg, args...)
}

func (l *Logger) Info(msg string, args ...any) {
	l.sugar.Infow(msg, args...)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.sugar.Warnw(msg, args...)
}

func (l *Logger) Error(msg string, args ...any) {
	l.sugar.Errorw(msg, args...)
}

var _ eventstore.Logger = (*Logger)(nil)
