package gologger

import (
	"context"
	"io"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/rs/zerolog"
)

// ZerologLogger backs glog.Logger with a zerolog logger. Variadic args are
// read as key/value pairs.
type ZerologLogger struct {
	logger zerolog.Logger
}

func NewZerologLogger(logger zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{logger: logger}
}

// NewJSONLogger writes JSON lines to w at the given level ("debug", "info"...).
// Unknown levels fall back to info.
func NewJSONLogger(w io.Writer, level string) *ZerologLogger {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	return NewZerologLogger(zerolog.New(w).Level(parsed).With().Timestamp().Logger())
}

func (l *ZerologLogger) Trace(msg string, args ...any) { l.emit(l.logger.Trace(), msg, args) }
func (l *ZerologLogger) Debug(msg string, args ...any) { l.emit(l.logger.Debug(), msg, args) }
func (l *ZerologLogger) Info(msg string, args ...any)  { l.emit(l.logger.Info(), msg, args) }
func (l *ZerologLogger) Warn(msg string, args ...any)  { l.emit(l.logger.Warn(), msg, args) }
func (l *ZerologLogger) Error(msg string, args ...any) { l.emit(l.logger.Error(), msg, args) }

// Fatal logs at fatal level without exiting; callers decide how to stop.
func (l *ZerologLogger) Fatal(msg string, args ...any) {
	l.emit(l.logger.WithLevel(zerolog.FatalLevel), msg, args)
}

func (l *ZerologLogger) WithContext(ctx context.Context) glog.Logger {
	return &ZerologLogger{logger: l.logger.With().Ctx(ctx).Logger()}
}

func (l *ZerologLogger) WithFields(fields map[string]any) glog.Logger {
	if len(fields) == 0 {
		return l
	}
	return &ZerologLogger{logger: l.logger.With().Fields(fields).Logger()}
}

// GetLogger returns a child logger tagged with the component name.
func (l *ZerologLogger) GetLogger(name string) glog.Logger {
	if name == "" {
		return l
	}
	return &ZerologLogger{logger: l.logger.With().Str("logger", name).Logger()}
}

func (l *ZerologLogger) emit(event *zerolog.Event, msg string, args []any) {
	if event == nil {
		return
	}
	if len(args) > 0 {
		event = event.Fields(pairs(args))
	}
	event.Msg(msg)
}

func pairs(args []any) []any {
	if len(args)%2 == 0 {
		return args
	}
	out := append([]any(nil), args...)
	return append(out, nil)
}

var (
	_ glog.Logger         = (*ZerologLogger)(nil)
	_ glog.FieldsLogger   = (*ZerologLogger)(nil)
	_ glog.LoggerProvider = (*ZerologLogger)(nil)
)
