// Package faults defines the error markers and context helpers shared by the
// rendering pipeline.
//
// Key responsibilities:
//   - Sentinel markers (decode, timeout, cancelled, resource, protocol, ...)
//     plus the Wrap helper that keeps component and operation context in the
//     message while staying matchable with errors.Is.
//   - Recoverable, which tells a layer whether it should absorb a failure
//     (retry, fall back, draw a placeholder) or hand it upward.
//   - Context helpers that stamp document, page, worker, and request ids so
//     log lines from deep inside a render carry the same correlation fields.
package faults
