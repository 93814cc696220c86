package logging

import (
	"context"
	"log/slog"
	"time"
)

type Attr = slog.Attr

func Any(key string, value any) Attr { return slog.Any(key, value) }

func Bool(key string, value bool) Attr { return slog.Bool(key, value) }

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func Int64(key string, value int64) Attr { return slog.Int64(key, value) }

func Uint64(key string, value uint64) Attr { return slog.Uint64(key, value) }

func String(key string, value string) Attr { return slog.String(key, value) }

func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

// Page tags a zero-based page index.
func Page(index int) Attr { return slog.Int(FieldPage, index) }

// Worker tags a render worker slot.
func Worker(slot int) Attr { return slog.Int(FieldWorker, slot) }

// ImageID tags a terminal graphics image id.
func ImageID(id uint32) Attr { return slog.Uint64(FieldImageID, uint64(id)) }

// Document tags the short form of a document fingerprint.
func Document(short string) Attr { return slog.String(FieldDocument, short) }

// Hint is the next step the reader of a warning should take.
func Hint(text string) Attr { return slog.String(FieldErrorHint, text) }

// Impact is what the user sees because of a warning.
func Impact(text string) Attr { return slog.String(FieldImpact, text) }

func Args(attrs ...Attr) []any {
	return attrsToArgs(attrs)
}

func attrsToArgs(attrs []Attr) []any {
	args := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		args = append(args, attr)
	}
	return args
}

func NewNop() *slog.Logger {
	return slog.New(discard{})
}

// NewComponentLogger tags logger with a component name, falling back to a
// no-op logger when logger is nil.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(String(FieldComponent, component))
}

const (
	defaultHint   = "check logs for details"
	defaultImpact = "rendering continues in a degraded mode"
)

// WarnWithContext logs a warning carrying event_type, error_hint and impact,
// filling in defaults for whichever the caller left out.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	logger.Warn(msg, Args(withDiagnostics(attrs, eventType, true)...)...)
}

// ErrorWithContext is WarnWithContext at error level, without an impact default.
func ErrorWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	logger.Error(msg, Args(withDiagnostics(attrs, eventType, false)...)...)
}

func withDiagnostics(attrs []Attr, eventType string, impact bool) []Attr {
	var haveEvent, haveHint, haveImpact bool
	for _, a := range attrs {
		switch a.Key {
		case FieldEventType:
			haveEvent = true
		case FieldErrorHint:
			haveHint = true
		case FieldImpact:
			haveImpact = true
		}
	}
	if !haveEvent {
		attrs = append(attrs, String(FieldEventType, eventType))
	}
	if !haveHint {
		attrs = append(attrs, Hint(defaultHint))
	}
	if impact && !haveImpact {
		attrs = append(attrs, Impact(defaultImpact))
	}
	return attrs
}

type discard struct{}

func (discard) Enabled(context.Context, slog.Level) bool { return false }

func (discard) Handle(context.Context, slog.Record) error { return nil }

func (discard) WithAttrs([]slog.Attr) slog.Handler { return discard{} }

func (discard) WithGroup(string) slog.Handler { return discard{} }
