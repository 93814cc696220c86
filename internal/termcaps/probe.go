package termcaps

import (
	"bytes"
	"context"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"folio/internal/faults"
	"folio/internal/kitty"
	"folio/internal/shm"
)

const (
	directQueryID uint32 = 31
	sharedQueryID uint32 = 32
)

// deviceAttributes requests the primary device attributes (DA1).
var deviceAttributes = []byte("\x1b[c")

// ProbeResult is the terminal's answer to the graphics queries.
type ProbeResult struct {
	Graphics bool   `json:"graphics"`
	Shared   bool   `json:"shared_memory"`
	Message  string `json:"message,omitempty"`
	// Answered is false when the terminal sent nothing before the timeout.
	Answered bool `json:"answered"`
}

// Probe puts the terminal in raw mode, sends a direct and a shared memory
// query plus DA1, and reads replies until DA1 arrives or timeout passes.
func Probe(ctx context.Context, f *os.File, timeout time.Duration, tmux bool) (ProbeResult, error) {
	fd := int(f.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		return ProbeResult{}, faults.Wrap(faults.ErrUnsupported, "termcaps", "probe", "raw mode", err)
	}
	defer func() { _ = term.Restore(fd, state) }()

	enc := kitty.Encoder{Tmux: tmux}
	query := enc.QueryDirect(nil, directQueryID)

	region, err := shm.Create("folio-probe-"+uuid.NewString()[:8], 3)
	if err == nil {
		defer func() { _ = region.Close() }()
		if _, err := region.Write([]byte{0, 0, 0}); err == nil {
			query = enc.QueryShared(query, sharedQueryID, region.Name())
		}
	}
	query = append(query, deviceAttributes...)
	if _, err := f.Write(query); err != nil {
		return ProbeResult{}, faults.Wrap(faults.ErrProtocol, "termcaps", "probe", "write query", err)
	}

	var p prober
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 1024)
	for !p.done {
		if err := ctx.Err(); err != nil {
			return p.result, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, int(remaining.Milliseconds())+1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return p.result, faults.Wrap(faults.ErrProtocol, "termcaps", "probe", "poll", err)
		}
		if n == 0 {
			break
		}
		read, err := unix.Read(fd, buf)
		if err != nil {
			return p.result, faults.Wrap(faults.ErrProtocol, "termcaps", "probe", "read", err)
		}
		p.feed(buf[:read])
	}
	return p.result, nil
}

// prober accumulates replies until the DA1 answer.
type prober struct {
	scanner kitty.Scanner
	other   []byte
	result  ProbeResult
	done    bool
}

func (p *prober) feed(data []byte) {
	if len(data) > 0 {
		p.result.Answered = true
	}
	responses, other := p.scanner.Feed(data)
	for _, resp := range responses {
		switch resp.ImageID {
		case directQueryID:
			p.result.Graphics = resp.OK()
			if !resp.OK() {
				p.result.Message = resp.Message
			}
		case sharedQueryID:
			p.result.Shared = resp.OK()
			if !resp.OK() && p.result.Message == "" {
				p.result.Message = resp.Message
			}
		}
	}
	p.other = append(p.other, other...)
	if start := bytes.Index(p.other, []byte("\x1b[?")); start >= 0 {
		if bytes.IndexByte(p.other[start:], 'c') >= 0 {
			p.done = true
		}
	}
}

// Apply folds a probe result into detected capabilities. A terminal that
// answered DA1 without a graphics reply has no graphics support whatever
// the environment claims.
func (c Capabilities) Apply(r ProbeResult) Capabilities {
	if !r.Answered {
		return c
	}
	c.Probed = true
	c.Graphics = r.Graphics
	c.Shared = r.Graphics && r.Shared && !c.Remote
	switch {
	case !r.Graphics:
		c.Reason = "terminal did not answer the graphics query"
	case !c.Shared && r.Message != "":
		c.Reason = "shared memory rejected: " + r.Message
	default:
		c.Reason = ""
	}
	return c
}
