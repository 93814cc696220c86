// Package imageconv turns rendered pages into terminal-ready tiles.
//
// Convert is a pure function of its inputs and may run on any goroutine. A
// page is cut into horizontal strips TileRows cells tall; only strips that
// intersect the visible window are produced, each padded to exact cell
// bounds and tagged with its row offset inside the window, so scrolling
// only retransmits the strips that moved. The target protocol and pixel
// format are chosen once at startup and passed in; nothing here probes the
// terminal.
package imageconv
