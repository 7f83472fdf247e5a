package codec

import (
	"io"

	"github.com/pkg/errors"
)

// MaxReportDefault is the default overflow ceiling for a report body
// (max-stdout in spec terms).
const MaxReportDefault = 64 * 1024

// ErrReport is returned for an unparseable or zero-length size header.
var ErrReport = errors.New("Report error")

// ErrReportOverflow is returned when the declared size exceeds the
// configured maximum.
var ErrReportOverflow = errors.New("Report overflow")

// ReadReport reads the sandbox report framing: exactly 8 ASCII bytes
// "0x%06x" giving the body length, with no trailing newline, followed
// by that many bytes.
func ReadReport(r io.Reader, max int) ([]byte, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, errors.Wrap(ErrReport, err.Error())
	}
	n, err := parseHexLen(hdr[:])
	if err != nil || n == 0 {
		return nil, ErrReport
	}
	if n > max {
		return nil, ErrReportOverflow
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, errors.Wrap(ErrReport, err.Error())
	}
	return body, nil
}

// WriteReport writes the 8-byte size header followed by body.
func WriteReport(w io.Writer, body []byte) error {
	hdr := formatHexLen(len(body))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

func formatHexLen(n int) []byte {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 8)
	out[0] = '0'
	out[1] = 'x'
	for i := 5; i >= 0; i-- {
		out[2+i] = hexDigits[n&0xf]
		n >>= 4
	}
	return out
}

func parseHexLen(hdr []byte) (int, error) {
	if len(hdr) != 8 || hdr[0] != '0' || hdr[1] != 'x' {
		return 0, ErrReport
	}
	n := 0
	for _, c := range hdr[2:] {
		n <<= 4
		switch {
		case c >= '0' && c <= '9':
			n |= int(c - '0')
		case c >= 'a' && c <= 'f':
			n |= int(c-'a') + 10
		default:
			return 0, ErrReport
		}
	}
	return n, nil
}
