package kitty

import (
	"bytes"
	"strconv"
	"strings"
)

// maxPending bounds how much of an unterminated sequence the scanner holds.
const maxPending = 4096

// Response is a graphics reply such as ESC _ G i=7;OK ESC \.
type Response struct {
	ImageID     uint32
	PlacementID uint32
	Message     string
}

// OK reports a successful command.
func (r Response) OK() bool {
	return r.Message == "OK"
}

// AlreadyDisplayed reports the terminal refusing a duplicate because it
// already holds the image.
func (r Response) AlreadyDisplayed() bool {
	return r.Code() == "EEXIST"
}

// Code returns the error code prefix of the message, e.g. ENOENT. It is
// empty for OK replies.
func (r Response) Code() string {
	if r.OK() {
		return ""
	}
	code, _, _ := strings.Cut(r.Message, ":")
	return code
}

// ParseResponse decodes the first complete graphics reply in data.
func ParseResponse(data []byte) (Response, bool) {
	start := bytes.Index(data, apcStart)
	if start < 0 {
		return Response{}, false
	}
	body := data[start+len(apcStart):]
	end := bytes.Index(body, apcEnd)
	if end < 0 {
		return Response{}, false
	}
	return parseBody(body[:end])
}

func parseBody(body []byte) (Response, bool) {
	keys, message, found := bytes.Cut(body, []byte{';'})
	if !found {
		return Response{}, false
	}
	resp := Response{Message: string(message)}
	for _, part := range bytes.Split(keys, []byte{','}) {
		key, value, ok := bytes.Cut(part, []byte{'='})
		if !ok {
			continue
		}
		n, err := strconv.ParseUint(string(value), 10, 32)
		if err != nil {
			continue
		}
		switch string(key) {
		case "i":
			resp.ImageID = uint32(n)
		case "p":
			resp.PlacementID = uint32(n)
		}
	}
	return resp, true
}

// Scanner splits terminal input into graphics replies and everything else.
// Sequences split across reads are held until they complete.
type Scanner struct {
	pending []byte
}

// Feed consumes p and returns the replies it completed plus the remaining
// input bytes in order.
func (s *Scanner) Feed(p []byte) ([]Response, []byte) {
	data := append(s.pending, p...)
	s.pending = nil

	var (
		responses []Response
		other     []byte
	)
	for i := 0; i < len(data); {
		if data[i] != esc {
			other = append(other, data[i])
			i++
			continue
		}
		rest := data[i:]
		if len(rest) < len(apcStart) && bytes.HasPrefix(apcStart, rest) {
			s.pending = append(s.pending, rest...)
			break
		}
		if !bytes.HasPrefix(rest, apcStart) {
			other = append(other, esc)
			i++
			continue
		}
		end := bytes.Index(rest[len(apcStart):], apcEnd)
		if end < 0 {
			if len(rest) > maxPending {
				other = append(other, rest...)
			} else {
				s.pending = append(s.pending, rest...)
			}
			break
		}
		body := rest[len(apcStart) : len(apcStart)+end]
		if resp, ok := parseBody(body); ok {
			responses = append(responses, resp)
		}
		i += len(apcStart) + end + len(apcEnd)
	}
	return responses, other
}

// Pending reports whether a partial sequence is buffered.
func (s *Scanner) Pending() bool {
	return len(s.pending) > 0
}

// Flush returns buffered bytes as plain input. Call it when input goes idle
// so a lone ESC keypress is not held back.
func (s *Scanner) Flush() []byte {
	out := s.pending
	s.pending = nil
	return out
}
