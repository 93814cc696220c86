package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"folio/internal/config"
	"folio/internal/termcaps"
)

type probeView struct {
	Capabilities termcaps.Capabilities `json:"capabilities"`
	UseTmux      bool                  `json:"use_tmux"`
	Transfer     string                `json:"transfer"`
	ProbeError   string                `json:"probe_error,omitempty"`
}

func newProbeCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	var skipQuery bool

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Detect terminal graphics capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			view := detectTerminal(cmd, cfg, !skipQuery)
			if jsonOut {
				return writeJSON(cmd, view)
			}
			printProbe(cmd.OutOrStdout(), view)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&skipQuery, "no-query", false, "Only inspect the environment; do not query the terminal")
	return cmd
}

// detectTerminal combines environment detection with an optional in-band
// query on the controlling terminal.
func detectTerminal(cmd *cobra.Command, cfg *config.Config, query bool) probeView {
	caps := termcaps.Detect(os.Getenv, os.Stdout.Fd())
	tmux := termcaps.UseTmux(cfg.Terminal.Tmux, caps)
	view := probeView{UseTmux: tmux}

	if caps.TTY {
		if cells, err := termcaps.CellSize(int(os.Stdout.Fd())); err == nil {
			caps.Cells = cells
		}
	}
	if query && caps.TTY {
		tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
		if err != nil {
			view.ProbeError = err.Error()
		} else {
			result, err := termcaps.Probe(cmd.Context(), tty, cfg.ProbeTimeout(), tmux)
			tty.Close()
			if err != nil {
				view.ProbeError = err.Error()
			} else {
				caps = caps.Apply(result)
			}
		}
	}

	view.Capabilities = caps
	view.Transfer = termcaps.Choose(cfg.Terminal.Transfer, caps).String()
	return view
}

func printProbe(out io.Writer, view probeView) {
	caps := view.Capabilities
	rows := [][]string{
		{"TTY", yesNo(caps.TTY)},
		{"TERM", caps.Term},
		{"Kitty graphics", yesNo(caps.Graphics)},
		{"Shared memory", yesNo(caps.Shared)},
		{"Queried", yesNo(caps.Probed)},
		{"tmux passthrough", yesNo(view.UseTmux)},
		{"Remote session", yesNo(caps.Remote)},
		{"Transfer", view.Transfer},
	}
	if caps.Cells.Cols > 0 {
		size := fmt.Sprintf("%dx%d cells of %dx%d px", caps.Cells.Cols, caps.Cells.Rows, caps.Cells.Width, caps.Cells.Height)
		if caps.Cells.Estimated {
			size += " (estimated)"
		}
		rows = append(rows, []string{"Window", size})
	}
	if caps.Reason != "" {
		rows = append(rows, []string{"Note", caps.Reason})
	}
	if view.ProbeError != "" {
		rows = append(rows, []string{"Query error", view.ProbeError})
	}
	fmt.Fprintln(out, renderTable([]string{"Terminal", "Value"}, rows, nil))
}
