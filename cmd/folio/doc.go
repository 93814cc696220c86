// Package main hosts the folio CLI entrypoint and command graph.
//
// The Cobra command tree wires the render service, the display pipeline and
// the Kitty transport together for interactive viewing, and exposes the same
// engine headlessly for rendering pages to PNG, benchmarking, inspecting
// documents, probing the terminal and maintaining the persistent page store.
// Configuration resolution and logger setup live in commandContext so
// subcommands only describe what they do.
package main
