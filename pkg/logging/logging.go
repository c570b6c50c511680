// Package logging wraps zap behind the small structured-logging interface
// the rest of the engine depends on, so call sites never import zap
// directly.
package logging

import (
	"go.uber.org/zap"
)

// Logger is the structured logging contract every component depends on.
// args are alternating key/value pairs (e.g. Warn("tts abort failed",
// "sessionID", id, "error", err)).
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// NoOp discards everything; used as the default when no logger is supplied.
type NoOp struct{}

func (NoOp) Debug(msg string, args ...interface{}) {}
func (NoOp) Info(msg string, args ...interface{})  {}
func (NoOp) Warn(msg string, args ...interface{})  {}
func (NoOp) Error(msg string, args ...interface{}) {}

// zapLogger adapts *zap.SugaredLogger to Logger.
type zapLogger struct {
	s *zap.SugaredLogger
}

// New builds a production zap logger (JSON encoding, info level) wrapped as
// a Logger.
func New() Logger {
	l, err := zap.NewProduction()
	if err != nil {
		return NoOp{}
	}
	return &zapLogger{s: l.Sugar()}
}

// NewDevelopment builds a human-readable console logger, useful for the demo
// entrypoint.
func NewDevelopment() Logger {
	l, err := zap.NewDevelopment()
	if err != nil {
		return NoOp{}
	}
	return &zapLogger{s: l.Sugar()}
}

func (z *zapLogger) Debug(msg string, args ...interface{}) { z.s.Debugw(msg, args...) }
func (z *zapLogger) Info(msg string, args ...interface{})  { z.s.Infow(msg, args...) }
func (z *zapLogger) Warn(msg string, args ...interface{})  { z.s.Warnw(msg, args...) }
func (z *zapLogger) Error(msg string, args ...interface{}) { z.s.Errorw(msg, args...) }
