package termcaps

import (
	"strings"

	"github.com/mattn/go-isatty"

	"folio/internal/config"
	"folio/internal/transport"
)

// Capabilities describes the terminal folio is attached to.
type Capabilities struct {
	TTY   bool   `json:"tty"`
	Term  string `json:"term"`
	Kitty bool   `json:"kitty"`
	Tmux  bool   `json:"tmux"`
	// Remote sessions cannot share memory with the terminal.
	Remote   bool   `json:"remote"`
	Graphics bool   `json:"graphics"`
	Shared   bool   `json:"shared_memory"`
	Probed   bool   `json:"probed"`
	Cells    Cells  `json:"cells"`
	Reason   string `json:"reason,omitempty"`
}

// Env looks up an environment variable; os.Getenv satisfies it.
type Env func(string) string

// kittyPrograms are TERM_PROGRAM values of terminals implementing the
// graphics protocol.
var kittyPrograms = map[string]bool{
	"wezterm": true,
	"ghostty": true,
	"kitty":   true,
}

// Detect guesses capabilities from the environment and whether fd is a
// terminal. Probe refines Graphics and Shared.
func Detect(env Env, fd uintptr) Capabilities {
	caps := Capabilities{
		TTY:  isatty.IsTerminal(fd),
		Term: env("TERM"),
	}
	caps.Tmux = env("TMUX") != "" || strings.HasPrefix(caps.Term, "tmux")
	caps.Remote = env("SSH_CONNECTION") != "" || env("SSH_TTY") != ""

	program := strings.ToLower(env("TERM_PROGRAM"))
	caps.Kitty = strings.Contains(caps.Term, "kitty") ||
		env("KITTY_WINDOW_ID") != "" ||
		kittyPrograms[program]

	switch {
	case !caps.TTY:
		caps.Reason = "output is not a terminal"
	case !caps.Kitty:
		caps.Reason = "terminal does not advertise kitty graphics"
	default:
		caps.Graphics = true
		caps.Shared = !caps.Remote
		if caps.Remote {
			caps.Reason = "remote session; shared memory unavailable"
		}
	}
	return caps
}

// UseTmux applies the terminal.tmux setting to the detected state.
func UseTmux(mode string, caps Capabilities) bool {
	switch mode {
	case config.TmuxOn:
		return true
	case config.TmuxOff:
		return false
	default:
		return caps.Tmux
	}
}

// Choose maps the terminal.transfer setting and capabilities to a
// transport variant. Explicit settings win over detection.
func Choose(transfer string, caps Capabilities) transport.Variant {
	switch transfer {
	case config.TransferNone:
		return transport.VariantDisabled
	case config.TransferShm:
		return transport.VariantSharedMemory
	case config.TransferDirect:
		return transport.VariantDirect
	}
	switch {
	case !caps.Graphics:
		return transport.VariantDisabled
	case caps.Shared:
		return transport.VariantSharedMemory
	default:
		return transport.VariantDirect
	}
}
