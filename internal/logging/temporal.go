package logging

import (
	"fmt"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/log"
)

// TemporalLogger adapts zerolog to the Temporal SDK logger so worker,
// workflow and activity logs share one sink.
type TemporalLogger struct {
	logger zerolog.Logger
}

var (
	_ log.Logger     = (*TemporalLogger)(nil)
	_ log.WithLogger = (*TemporalLogger)(nil)
)

func NewTemporalLogger(logger zerolog.Logger) *TemporalLogger {
	return &TemporalLogger{logger: logger}
}

func (l *TemporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.emit(l.logger.Debug(), msg, keyvals)
}

func (l *TemporalLogger) Info(msg string, keyvals ...interface{}) {
	l.emit(l.logger.Info(), msg, keyvals)
}

func (l *TemporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.emit(l.logger.Warn(), msg, keyvals)
}

func (l *TemporalLogger) Error(msg string, keyvals ...interface{}) {
	l.emit(l.logger.Error(), msg, keyvals)
}

func (l *TemporalLogger) With(keyvals ...interface{}) log.Logger {
	ctx := l.logger.With()
	for i := 0; i < len(keyvals); i += 2 {
		key, val := pair(keyvals, i)
		ctx = withField(ctx, key, val)
	}
	return &TemporalLogger{logger: ctx.Logger()}
}

func (l *TemporalLogger) emit(ev *zerolog.Event, msg string, keyvals []interface{}) {
	for i := 0; i < len(keyvals); i += 2 {
		key, val := pair(keyvals, i)
		if err, ok := val.(error); ok {
			ev = ev.AnErr(key, err)
			continue
		}
		ev = ev.Interface(key, val)
	}
	ev.Msg(msg)
}

func withField(ctx zerolog.Context, key string, val interface{}) zerolog.Context {
	if err, ok := val.(error); ok {
		return ctx.AnErr(key, err)
	}
	return ctx.Interface(key, val)
}

// pair returns the key/value at i. An odd trailing value is logged under
// "extra".
func pair(keyvals []interface{}, i int) (string, interface{}) {
	if i+1 >= len(keyvals) {
		return "extra", keyvals[i]
	}
	key, ok := keyvals[i].(string)
	if !ok {
		key = fmt.Sprint(keyvals[i])
	}
	return key, keyvals[i+1]
}
