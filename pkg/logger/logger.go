package logger

import (
	"context"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/angelmondragon/library-catalog/pkg/env"
)

// Options configures the structured logger. Format is "json" or "console";
// when empty it comes from CATALOG_LOG_FORMAT.
type Options struct {
	ServiceName string
	Instance    string
	Level       zerolog.Level
	WarnStack   bool
	Format      string
	Output      io.Writer
}

// Logger writes zerolog entries enriched with whatever fields were attached
// to the context through the With* helpers.
type Logger struct {
	root      zerolog.Logger
	warnStack bool
}

func New(opts Options) *Logger {
	level := opts.Level
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if resolveFormat(opts.Format) == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05", NoColor: env.Bool("NO_COLOR", false)}
	}

	zctx := zerolog.New(out).Level(level).With().Timestamp().Str("service", opts.ServiceName)
	if opts.Instance != "" {
		zctx = zctx.Str("instance", opts.Instance)
	}
	return &Logger{root: zctx.Logger(), warnStack: opts.WarnStack}
}

func resolveFormat(format string) string {
	if format == "" {
		format = env.Get("CATALOG_LOG_FORMAT", "json")
	}
	return strings.ToLower(format)
}

// ParseLevel maps a level name to zerolog, defaulting to info.
func ParseLevel(value string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// from returns the logger carried by ctx, or the root logger.
func (l *Logger) from(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if carried := zerolog.Ctx(ctx); carried.GetLevel() != zerolog.Disabled {
			return carried
		}
	}
	return &l.root
}

func (l *Logger) WithField(ctx context.Context, key string, value any) context.Context {
	return l.from(ctx).With().Interface(key, value).Logger().WithContext(ctx)
}

func (l *Logger) WithFields(ctx context.Context, fields map[string]any) context.Context {
	return l.from(ctx).With().Fields(fields).Logger().WithContext(ctx)
}

func (l *Logger) WithRequestID(ctx context.Context, requestID string) context.Context {
	return l.WithField(ctx, "request_id", requestID)
}

// WithSagaID tags every entry written with ctx with the saga instance id.
func (l *Logger) WithSagaID(ctx context.Context, sagaID string) context.Context {
	return l.WithField(ctx, "saga_id", sagaID)
}

func (l *Logger) WithComponent(ctx context.Context, component string) context.Context {
	return l.WithField(ctx, "component", component)
}

func (l *Logger) Debug(ctx context.Context, msg string) {
	l.from(ctx).Debug().Msg(msg)
}

func (l *Logger) Info(ctx context.Context, msg string) {
	l.from(ctx).Info().Msg(msg)
}

// Warn adds a stack trace only when WarnStack was enabled.
func (l *Logger) Warn(ctx context.Context, msg string) {
	ev := l.from(ctx).Warn()
	if l.warnStack {
		ev = ev.Str("stack", stackTrace())
	}
	ev.Msg(msg)
}

func (l *Logger) Error(ctx context.Context, msg string, err error) {
	l.from(ctx).Error().Err(err).Str("stack", stackTrace()).Msg(msg)
}

func stackTrace() string {
	return strings.TrimSpace(string(debug.Stack()))
}
