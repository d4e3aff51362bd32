package maintenance

import (
	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// zapLogger adapts zap to the Temporal SDK logger.
type zapLogger struct {
	s *zap.SugaredLogger
}

var _ log.Logger = (*zapLogger)(nil)

func newLogger(l *zap.Logger) *zapLogger {
	return &zapLogger{s: l.With(zap.String("component", "temporal")).Sugar()}
}

func (z *zapLogger) Debug(msg string, keyvals ...any) { z.s.Debugw(msg, keyvals...) }
func (z *zapLogger) Info(msg string, keyvals ...any)  { z.s.Infow(msg, keyvals...) }
func (z *zapLogger) Warn(msg string, keyvals ...any)  { z.s.Warnw(msg, keyvals...) }
func (z *zapLogger) Error(msg string, keyvals ...any) { z.s.Errorw(msg, keyvals...) }
