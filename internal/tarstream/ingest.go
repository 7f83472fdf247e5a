package tarstream

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// AcceptedContentTypes are the USTAR content-types this node accepts
// for an inbound request body.
var AcceptedContentTypes = map[string]bool{
	"application/x-tar":   true,
	"application/x-gtar":   true,
	"application/x-ustar":  true,
}

// StagedMember describes one non-sysmap tar member materialized to the
// scratch directory.
type StagedMember struct {
	Name string
	Path string
	Size int64
}

// IngestResult is the outcome of streaming an inbound request body.
type IngestResult struct {
	Members    []StagedMember
	SysmapJSON []byte // nil if no "sysmap" member was present
}

// Ingest streams a POSIX USTAR request body, writing each member
// (other than "sysmap") to a flat-named file under scratchDir. The
// "sysmap" member's bytes are captured instead of written to disk.
//
// contentLength is the caller-supplied Content-Length header, or -1 if
// absent. rbytesLimit bounds total payload bytes; maxUploadTime bounds
// wall-clock spent reading.
func Ingest(ctx context.Context, r io.Reader, contentType string, contentLength int64, scratchDir string, rbytesLimit int64, maxUploadTime time.Duration) (*IngestResult, error) {
	base, _, _ := strings.Cut(contentType, ";")
	base = strings.TrimSpace(base)
	if !AcceptedContentTypes[base] {
		return nil, errors.Wrapf(ErrBadRequest, "unsupported content-type %q", contentType)
	}

	deadline := time.Now().Add(maxUploadTime)
	cr := &countingReader{r: r, limit: rbytesLimit, deadline: deadline, ctx: ctx}

	tr := tar.NewReader(cr)
	result := &IngestResult{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if cerr := cr.checkErr(); cerr != nil {
				return nil, cerr
			}
			return nil, errors.Wrap(ErrBadRequest, err.Error())
		}
		name := flatName(hdr.Name)
		if name == "" {
			return nil, errors.Wrap(ErrBadRequest, "empty tar member name")
		}

		if name == "sysmap" {
			buf := make([]byte, hdr.Size)
			if _, err := io.ReadFull(tr, buf); err != nil {
				if cerr := cr.checkErr(); cerr != nil {
					return nil, cerr
				}
				return nil, errors.Wrap(ErrBadRequest, "short sysmap member")
			}
			result.SysmapJSON = buf
			continue
		}

		dst := filepath.Join(scratchDir, name)
		// 0700: the "boot" member, when present, is the sandbox
		// executable and must be runnable; non-executable staged
		// members tolerate the extra bit.
		f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o700)
		if err != nil {
			return nil, errors.Wrap(err, "create staged file")
		}
		n, err := io.Copy(f, tr)
		cerr := f.Close()
		if err != nil {
			if perr := cr.checkErr(); perr != nil {
				return nil, perr
			}
			return nil, errors.Wrap(ErrBadRequest, err.Error())
		}
		if cerr != nil {
			return nil, cerr
		}
		result.Members = append(result.Members, StagedMember{Name: name, Path: dst, Size: n})
	}

	if contentLength >= 0 && cr.total != contentLength {
		return nil, ErrClientDisconnect
	}
	return result, nil
}

// flatName rejects path separators and "..", keeping only the base
// component, per the "no path separators trusted" staging rule.
func flatName(name string) string {
	name = filepath.Base(name)
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return ""
	}
	return name
}

// countingReader enforces the rbytes and wall-clock ingest limits
// while the underlying tar reader pulls bytes through it.
type countingReader struct {
	r        io.Reader
	limit    int64
	total    int64
	deadline time.Time
	ctx      context.Context
	err      error
}

func (c *countingReader) Read(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	if c.ctx != nil {
		select {
		case <-c.ctx.Done():
			c.err = c.ctx.Err()
			return 0, c.err
		default:
		}
	}
	if time.Now().After(c.deadline) {
		c.err = ErrUploadTimeout
		return 0, c.err
	}
	n, err := c.r.Read(p)
	c.total += int64(n)
	if c.total > c.limit {
		c.err = ErrRequestTooLarge
		return n, c.err
	}
	if err != nil && err != io.EOF {
		c.err = err
	}
	return n, err
}

func (c *countingReader) checkErr() error {
	if c.err == ErrRequestTooLarge || c.err == ErrUploadTimeout {
		return c.err
	}
	return nil
}
