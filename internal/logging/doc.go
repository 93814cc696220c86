// Package logging assembles structured slog loggers and formatting helpers used
// across the rendering engine.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so worker and service code can
// tag log lines with document, page, worker, and request ids. Because the
// terminal is busy displaying page images, loggers built from config write to
// a file unless stdout or stderr is requested explicitly.
//
// The package also provides a no-op logger for tests and wiring code that
// cannot fail.
package logging
