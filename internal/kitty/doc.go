// Package kitty encodes Kitty graphics protocol commands and parses the
// terminal's replies.
//
// Commands are APC sequences of the form ESC _ G <keys> ; <payload> ESC \.
// When running under tmux every sequence is wrapped in a DCS passthrough
// with inner ESC bytes doubled. Encoders append to a byte slice so callers
// can hand a whole frame to the terminal in a single write.
//
// Replies arrive interleaved with keyboard input. Scanner separates them
// so the transport sees acknowledgements and the UI sees keystrokes.
package kitty
