package kitty

import (
	"encoding/base64"
	"strconv"
)

// ChunkSize is the maximum base64 payload carried by one escape sequence.
const ChunkSize = 4096

const esc = 0x1b

var (
	apcStart      = []byte("\x1b_G")
	apcEnd        = []byte("\x1b\\")
	tmuxStart     = []byte("\x1bPtmux;\x1b\x1b_G")
	tmuxEnd       = []byte("\x1b\x1b\\\x1b\\")
	saveCursor    = []byte("\x1b7")
	restoreCursor = []byte("\x1b8")
)

// Format is the pixel format code sent in the f key.
type Format int

const (
	FormatRGB  Format = 24
	FormatRGBA Format = 32
)

// Quiet controls which replies the terminal sends (q key).
type Quiet int

const (
	QuietNone   Quiet = 0
	QuietErrors Quiet = 1
	QuietAll    Quiet = 2
)

// Transmit describes an a=T command: transmit image data and place it at
// the cursor.
type Transmit struct {
	ImageID     uint32
	PlacementID uint32
	Width       int
	Height      int
	Format      Format
	// Cols and Rows scale the placement to a cell rectangle when non-zero.
	Cols       int
	Rows       int
	Compressed bool
	Quiet      Quiet
}

// Placement describes an a=p command for an image the terminal already holds.
type Placement struct {
	ImageID     uint32
	PlacementID uint32
	Cols        int
	Rows        int
	Quiet       Quiet
}

// DeleteTarget selects what an a=d command removes.
type DeleteTarget byte

const (
	// DeleteVisible removes every placement, keeping image data.
	DeleteVisible DeleteTarget = 'a'
	// DeleteAll removes every placement and frees image data.
	DeleteAll DeleteTarget = 'A'
	// DeletePlacements removes placements of one image id.
	DeletePlacements DeleteTarget = 'i'
	// DeleteImage removes placements of one image id and frees its data.
	DeleteImage DeleteTarget = 'I'
)

// Encoder appends commands to a buffer. The zero value writes plain APC
// sequences.
type Encoder struct {
	// Tmux wraps every command in a DCS passthrough.
	Tmux bool
}

// TransmitShared appends a shared memory transmission (t=s) of the object
// called name.
func (e Encoder) TransmitShared(buf []byte, t Transmit, name string, size int) []byte {
	keys := t.keys(nil, 's')
	keys = appendKey(keys, 'S', size)
	payload := base64.StdEncoding.EncodeToString([]byte(name))
	return e.command(buf, keys, []byte(payload))
}

// TransmitDirect appends an inline transmission (t=d). data is base64
// encoded and split into ChunkSize pieces with m=1 on all but the last.
func (e Encoder) TransmitDirect(buf []byte, t Transmit, data []byte) []byte {
	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(data)))
	base64.StdEncoding.Encode(encoded, data)

	first := t.keys(nil, 'd')
	if len(encoded) <= ChunkSize {
		return e.command(buf, first, encoded)
	}
	for off := 0; off < len(encoded); off += ChunkSize {
		end := min(off+ChunkSize, len(encoded))
		more := 0
		if end < len(encoded) {
			more = 1
		}
		var keys []byte
		if off == 0 {
			keys = append(first, ',')
		}
		keys = append(keys, "m="...)
		keys = strconv.AppendInt(keys, int64(more), 10)
		buf = e.command(buf, keys, encoded[off:end])
	}
	return buf
}

// Place appends an a=p command.
func (e Encoder) Place(buf []byte, p Placement) []byte {
	keys := []byte("a=p")
	keys = appendKey(keys, 'i', int(p.ImageID))
	if p.PlacementID != 0 {
		keys = appendKey(keys, 'p', int(p.PlacementID))
	}
	if p.Cols > 0 && p.Rows > 0 {
		keys = appendKey(keys, 'c', p.Cols)
		keys = appendKey(keys, 'r', p.Rows)
	}
	keys = append(keys, ",C=1"...)
	if p.Quiet != QuietNone {
		keys = appendKey(keys, 'q', int(p.Quiet))
	}
	return e.command(buf, keys, nil)
}

// Delete appends an a=d command. imageID is ignored for DeleteVisible and
// DeleteAll.
func (e Encoder) Delete(buf []byte, target DeleteTarget, imageID uint32, quiet Quiet) []byte {
	keys := []byte("a=d,d=")
	keys = append(keys, byte(target))
	if target == DeletePlacements || target == DeleteImage {
		keys = appendKey(keys, 'i', int(imageID))
	}
	if quiet != QuietNone {
		keys = appendKey(keys, 'q', int(quiet))
	}
	return e.command(buf, keys, nil)
}

// QueryShared appends an a=q probe asking whether the terminal can read a
// 1x1 RGB image from the shared memory object called name.
func (e Encoder) QueryShared(buf []byte, imageID uint32, name string) []byte {
	keys := []byte("a=q,t=s,f=24,s=1,v=1")
	keys = appendKey(keys, 'i', int(imageID))
	payload := base64.StdEncoding.EncodeToString([]byte(name))
	return e.command(buf, keys, []byte(payload))
}

// QueryDirect appends an a=q probe carrying a 1x1 RGB pixel inline.
func (e Encoder) QueryDirect(buf []byte, imageID uint32) []byte {
	keys := []byte("a=q,t=d,f=24,s=1,v=1")
	keys = appendKey(keys, 'i', int(imageID))
	return e.command(buf, keys, []byte("AAAA"))
}

// MoveTo appends a cursor save and a move to the zero-based cell (col, row).
// Pair it with Restore after the command that draws at the cursor.
func MoveTo(buf []byte, col, row int) []byte {
	buf = append(buf, saveCursor...)
	buf = append(buf, esc, '[')
	buf = strconv.AppendInt(buf, int64(row+1), 10)
	buf = append(buf, ';')
	buf = strconv.AppendInt(buf, int64(col+1), 10)
	return append(buf, 'H')
}

// Restore appends a cursor restore.
func Restore(buf []byte) []byte {
	return append(buf, restoreCursor...)
}

func (t Transmit) keys(buf []byte, medium byte) []byte {
	buf = append(buf, "a=T,t="...)
	buf = append(buf, medium)
	format := t.Format
	if format == 0 {
		format = FormatRGB
	}
	buf = appendKey(buf, 'f', int(format))
	buf = appendKey(buf, 's', t.Width)
	buf = appendKey(buf, 'v', t.Height)
	if t.Compressed {
		buf = append(buf, ",o=z"...)
	}
	if t.ImageID != 0 {
		buf = appendKey(buf, 'i', int(t.ImageID))
	}
	if t.PlacementID != 0 {
		buf = appendKey(buf, 'p', int(t.PlacementID))
	}
	if t.Cols > 0 && t.Rows > 0 {
		buf = appendKey(buf, 'c', t.Cols)
		buf = appendKey(buf, 'r', t.Rows)
	}
	buf = append(buf, ",C=1"...)
	if t.Quiet != QuietNone {
		buf = appendKey(buf, 'q', int(t.Quiet))
	}
	return buf
}

func appendKey(buf []byte, key byte, value int) []byte {
	buf = append(buf, ',', key, '=')
	return strconv.AppendInt(buf, int64(value), 10)
}

func (e Encoder) command(buf, keys, payload []byte) []byte {
	if e.Tmux {
		buf = append(buf, tmuxStart...)
	} else {
		buf = append(buf, apcStart...)
	}
	buf = append(buf, keys...)
	buf = append(buf, ';')
	buf = append(buf, payload...)
	if e.Tmux {
		return append(buf, tmuxEnd...)
	}
	return append(buf, apcEnd...)
}
