// Package codec implements the two line-oriented framings used on the
// daemon control socket and the sandbox report socket.
package codec

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/pkg/errors"
)

// Frame is a decoded daemon-socket command: a keyword and its body.
type Frame struct {
	Keyword string
	Body    []byte
}

var errBadHeader = errors.New("malformed daemon frame header")

// ReadFrame reads one `<KEYWORD> <len>\n<body>` frame from r.
//
// On a malformed header the caller must reply with ERROR 0\n<partial>\n
// and close the connection; ReadFrame returns a *HeaderError carrying
// the partial bytes it already consumed so the caller can echo them.
func ReadFrame(r *bufio.Reader) (Frame, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if err == io.EOF && len(line) == 0 {
			return Frame{}, io.EOF
		}
		return Frame{}, &HeaderError{Partial: []byte(line)}
	}
	line = line[:len(line)-1] // drop trailing \n

	keyword, lenStr, ok := cutLastSpace(line)
	if !ok {
		return Frame{}, &HeaderError{Partial: []byte(line)}
	}
	if !isKeyword(keyword) {
		return Frame{}, &HeaderError{Partial: []byte(line)}
	}
	n, err := strconv.Atoi(lenStr)
	if err != nil || n < 0 {
		return Frame{}, &HeaderError{Partial: []byte(line)}
	}

	body := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return Frame{}, errors.Wrap(err, "short body read")
		}
	}
	return Frame{Keyword: keyword, Body: body}, nil
}

// WriteFrame writes a `<keyword> <len>\n<body>` frame to w.
func WriteFrame(w io.Writer, keyword string, body []byte) error {
	if _, err := fmt.Fprintf(w, "%s %d\n", keyword, len(body)); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// HeaderError is returned when a daemon frame header cannot be parsed.
// Partial holds whatever bytes were read before the parse failed, for
// the ERROR 0\n<partial-input>\n reply.
type HeaderError struct {
	Partial []byte
}

func (e *HeaderError) Error() string {
	return "bad daemon frame header: " + string(e.Partial)
}

// WriteHeaderError writes the peer's ERROR reply for a HeaderError.
func WriteHeaderError(w io.Writer, partial []byte) error {
	_, err := fmt.Fprintf(w, "ERROR 0\n%s\n", bytes.TrimRight(partial, "\n"))
	return err
}

func cutLastSpace(s string) (keyword, length string, ok bool) {
	i := bytes.LastIndexByte([]byte(s), ' ')
	if i < 0 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}

func isKeyword(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !(c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')) {
			return false
		}
	}
	return true
}
