package main

// action is one viewer command decoded from terminal input.
type action int

const (
	actionNone action = iota
	actionNextPage
	actionPrevPage
	actionFirstPage
	actionLastPage
	actionZoomIn
	actionZoomOut
	actionZoomReset
	actionScrollDown
	actionScrollUp
	actionPageDown
	actionPageUp
	actionRotate
	actionRedraw
	actionQuit
)

var keyActions = map[byte]action{
	'n':  actionNextPage,
	' ':  actionNextPage,
	'l':  actionNextPage,
	'p':  actionPrevPage,
	'h':  actionPrevPage,
	'g':  actionFirstPage,
	'G':  actionLastPage,
	'+':  actionZoomIn,
	'=':  actionZoomIn,
	'-':  actionZoomOut,
	'0':  actionZoomReset,
	'j':  actionScrollDown,
	'k':  actionScrollUp,
	'd':  actionPageDown,
	'u':  actionPageUp,
	'r':  actionRotate,
	0x0c: actionRedraw, // ctrl-l
	'q':  actionQuit,
	0x03: actionQuit, // ctrl-c
}

// csiActions maps the final byte of cursor and paging keys.
var csiActions = map[string]action{
	"A": actionScrollUp,
	"B": actionScrollDown,
	"C": actionNextPage,
	"D": actionPrevPage,
	"5~": actionPageUp,
	"6~": actionPageDown,
	"H": actionFirstPage,
	"F": actionLastPage,
}

// parseKeys decodes input bytes left over after graphics replies were
// removed. Unknown sequences are skipped; a lone ESC quits.
func parseKeys(data []byte) []action {
	var out []action
	for i := 0; i < len(data); i++ {
		b := data[i]
		if b != 0x1b {
			if a, ok := keyActions[b]; ok {
				out = append(out, a)
			}
			continue
		}
		if i+1 >= len(data) {
			out = append(out, actionQuit)
			break
		}
		if data[i+1] != '[' && data[i+1] != 'O' {
			continue
		}
		j := i + 2
		for j < len(data) && (data[j] < 0x40 || data[j] > 0x7e) {
			j++
		}
		if j >= len(data) {
			break
		}
		if a, ok := csiActions[string(data[i+2:j+1])]; ok {
			out = append(out, a)
		}
		i = j
	}
	return out
}
