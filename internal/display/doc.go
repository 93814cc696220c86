// Package display turns ready pages into terminal frames.
//
// The UI hands the pipeline the latest frame it wants on screen; older
// frames still waiting are discarded. A single goroutine converts the
// visible tiles, reusing tiles it already converted for the same page
// while the user scrolls, hands the result to the transport, and removes
// images that are no longer part of the frame. Tile caches for pages
// beyond the prefetch radius of the focused page are dropped.
package display
