// Package config loads, normalizes, and validates folio configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment overrides such as
// FOLIO_CONFIG, FOLIO_TRANSFER, and FOLIO_LOG_LEVEL. The Config type
// centralizes every knob the render service, worker pool, and terminal
// transport need, so they are built from one explicit value instead of
// process-wide globals.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, derived worker counts, and clear validation errors.
package config
