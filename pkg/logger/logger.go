package logger

import (
	"context"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/angelmondragon/inspectbid-backend/pkg/env"
	"github.com/rs/zerolog"
)

const redacted = "[redacted]"

// Field names ending in one of these are logged as redacted.
var sensitiveSuffixes = []string{
	"secret",
	"signature",
	"authorization",
	"token",
	"api_key",
}

type Options struct {
	ServiceName string
	Level       zerolog.Level
	// WarnStack adds a stack to Warn lines; Error lines always carry one.
	WarnStack bool
	Output    io.Writer
}

// Logger writes structured lines enriched with fields stored on the context.
// Services log through the context they were handed so request, job and
// actor ids follow the call.
type Logger struct {
	root       zerolog.Logger
	stackWarns bool
}

func New(opts Options) *Logger {
	if opts.Level == zerolog.NoLevel {
		opts.Level = zerolog.InfoLevel
	}
	var out io.Writer = os.Stdout
	if opts.Output != nil {
		out = opts.Output
	}
	if strings.EqualFold(env.Get("json", "INSPECTBID_LOG_FORMAT", "LOG_FORMAT"), "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	return &Logger{
		root:       zerolog.New(out).Level(opts.Level).With().Timestamp().Str("service", opts.ServiceName).Logger(),
		stackWarns: opts.WarnStack,
	}
}

// ParseLevel falls back to info for empty or unknown input.
func ParseLevel(value string) zerolog.Level {
	switch lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(value))); {
	case err != nil, lvl == zerolog.NoLevel:
		return zerolog.InfoLevel
	default:
		return lvl
	}
}

// entry returns the logger stored on ctx by WithFields, or the root logger.
// zerolog.Ctx hands back a disabled logger when nothing is stored.
func (l *Logger) entry(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if stored := zerolog.Ctx(ctx); stored.GetLevel() != zerolog.Disabled {
			return stored
		}
	}
	return &l.root
}

func (l *Logger) WithField(ctx context.Context, key string, value any) context.Context {
	return l.WithFields(ctx, map[string]any{key: value})
}

func (l *Logger) WithFields(ctx context.Context, fields map[string]any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	clean := make(map[string]any, len(fields))
	for k, v := range fields {
		if sensitive(k) {
			v = redacted
		}
		clean[k] = v
	}
	return l.entry(ctx).With().Fields(clean).Logger().WithContext(ctx)
}

func sensitive(key string) bool {
	key = strings.ToLower(key)
	for _, suffix := range sensitiveSuffixes {
		if strings.HasSuffix(key, suffix) {
			return true
		}
	}
	return false
}

func (l *Logger) WithRequestID(ctx context.Context, requestID string) context.Context {
	return l.WithField(ctx, "request_id", requestID)
}

func (l *Logger) WithUserID(ctx context.Context, userID string) context.Context {
	return l.WithField(ctx, "user_id", userID)
}

func (l *Logger) WithActorRole(ctx context.Context, role string) context.Context {
	return l.WithField(ctx, "actor_role", role)
}

func (l *Logger) WithJobID(ctx context.Context, jobID string) context.Context {
	return l.WithField(ctx, "job_id", jobID)
}

func (l *Logger) Debug(ctx context.Context, msg string) { l.entry(ctx).Debug().Msg(msg) }

func (l *Logger) Info(ctx context.Context, msg string) { l.entry(ctx).Info().Msg(msg) }

func (l *Logger) Warn(ctx context.Context, msg string) {
	ev := l.entry(ctx).Warn()
	if l.stackWarns {
		ev = withStack(ev)
	}
	ev.Msg(msg)
}

func (l *Logger) Error(ctx context.Context, msg string, err error) {
	withStack(l.entry(ctx).Error().Err(err)).Msg(msg)
}

// Alert marks money that needs an operator to reconcile it by hand, such as
// a captured payment with no job or a refund the provider keeps rejecting.
// Dashboards page on alert=true.
func (l *Logger) Alert(ctx context.Context, msg string, err error) {
	l.entry(ctx).Error().Bool("alert", true).Err(err).Msg(msg)
}

func withStack(ev *zerolog.Event) *zerolog.Event {
	return ev.Str("stack", strings.TrimSpace(string(debug.Stack())))
}
