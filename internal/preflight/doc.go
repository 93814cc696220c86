// Package preflight checks the environment folio needs before it takes over
// the terminal.
//
// The CLI "folio doctor" command prints every result. "folio show" runs
// the same checks and logs failures, since most of them only degrade the
// session (no shared memory means direct transfer, a locked page store
// means no second-tier cache).
package preflight
