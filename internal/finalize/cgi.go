package finalize

import (
	"bufio"
	"net/textproto"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// CGIPreamble is the result of streaming-parsing an HTTP/CGI response
// preamble off the front of a staged channel file, per the design
// notes' "streaming header parser emitting (headers, byte-offset,
// body-length)" model.
type CGIPreamble struct {
	Headers map[string]string
	Offset  int64
	BodyLen int64
}

// ParseCGIPreamble reads an "HTTP/1.1 200 OK\r\n<headers>\r\n\r\n<body>"
// (or a bare CGI "<headers>\r\n\r\n<body>") preamble from path without
// reading the whole file into memory, returning the header map and the
// byte offset where the body begins.
func ParseCGIPreamble(path string) (CGIPreamble, error) {
	f, err := os.Open(path)
	if err != nil {
		return CGIPreamble{}, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return CGIPreamble{}, err
	}

	br := bufio.NewReader(f)
	tp := textproto.NewReader(br)

	first, err := tp.ReadLine()
	if err != nil {
		return CGIPreamble{}, errors.Wrap(err, "read status line")
	}

	var statusConsumed int
	if strings.HasPrefix(first, "HTTP/") {
		statusConsumed = len(first) + 2 // CRLF
	} else {
		// Bare CGI: the first line is already a header; textproto
		// buffers it, so re-open a fresh reader that includes it.
		f.Close()
		f, err = os.Open(path)
		if err != nil {
			return CGIPreamble{}, err
		}
		defer f.Close()
		br = bufio.NewReader(f)
		tp = textproto.NewReader(br)
	}

	hdr, err := tp.ReadMIMEHeader()
	if err != nil && hdr == nil {
		return CGIPreamble{}, errors.Wrap(err, "read headers")
	}

	headers := make(map[string]string, len(hdr))
	for k, v := range hdr {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	filePos, err := f.Seek(0, 1) // io.SeekCurrent
	if err != nil {
		return CGIPreamble{}, err
	}
	offset := filePos - int64(br.Buffered())
	_ = statusConsumed

	return CGIPreamble{
		Headers: headers,
		Offset:  offset,
		BodyLen: fi.Size() - offset,
	}, nil
}
