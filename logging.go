package amqpcore

import "go.uber.org/zap"

// Logger is a thin wrapper around zap's SugaredLogger, the same shape
// packetd-packetd/logger exposes, so the reader loop, writer loop, and
// channel API can log without every caller having to know about zap's
// field API. The zero value logs nowhere.
type Logger struct {
	s *zap.SugaredLogger
}

// NewNopLogger returns a Logger that discards everything, the package
// default so library consumers never have to configure logging just to
// open a connection.
func NewNopLogger() Logger {
	return Logger{s: zap.NewNop().Sugar()}
}

// NewLogger wraps an existing zap logger.
func NewLogger(base *zap.Logger) Logger {
	return Logger{s: base.Sugar()}
}

func (l Logger) Debugf(template string, args ...any) {
	if l.s != nil {
		l.s.Debugf(template, args...)
	}
}

func (l Logger) Infof(template string, args ...any) {
	if l.s != nil {
		l.s.Infof(template, args...)
	}
}

func (l Logger) Warnf(template string, args ...any) {
	if l.s != nil {
		l.s.Warnf(template, args...)
	}
}

func (l Logger) Errorf(template string, args ...any) {
	if l.s != nil {
		l.s.Errorf(template, args...)
	}
}
