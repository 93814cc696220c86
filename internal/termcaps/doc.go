// Package termcaps decides how page images reach the terminal.
//
// Detect applies cheap environment heuristics. Probe asks the terminal
// directly with Kitty graphics queries followed by a primary device
// attributes request: every terminal answers the latter, so an answer that
// arrives without a graphics reply first means no graphics support. The
// result is folded into a transport variant once at startup.
package termcaps
