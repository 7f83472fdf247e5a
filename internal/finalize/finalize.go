// Package finalize implements the writable-channel finalizer of §4.9:
// etag selection, CGI/RANDOM rehashing, metadata assembly, and the
// atomic publish to the object store.
package finalize

import (
	"crypto/md5" //nolint:gosec // content hash, not a security primitive
	"encoding/hex"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/zvm/zvmcore/internal/objectstore"
	"github.com/zvm/zvmcore/internal/report"
	"github.com/zvm/zvmcore/internal/sysmap"
)

// ErrUnprocessable marks a missing or malformed etag, surfaced as 422.
var ErrUnprocessable = errors.New("unprocessable")

// Request bundles everything Finalize needs for the one WRITABLE
// channel that targets the current request's object.
type Request struct {
	Channel      *sysmap.ChannelSpec
	Handle       objectstore.Handle
	Store        objectstore.Store
	URL          string
	Timestamp    string
	Report       report.Tuple
	CGIHeaders   map[string]string // parsed from the stripped preamble, if IsCGI
}

// Finalize selects the etag, rewrites the staged file if needed,
// assembles metadata, and publishes. It returns the final etag.
func Finalize(req Request) (string, error) {
	etag, err := SelectEtag(req.Report.Etag, req.Channel.Device)
	if err != nil {
		return "", err
	}

	path := req.Channel.LPath
	switch {
	case req.Channel.IsCGI():
		newPath, newEtag, err := stripCGIPreamble(path, req.Channel.Offset)
		if err != nil {
			return "", errors.Wrap(err, "strip CGI preamble")
		}
		path = newPath
		etag = newEtag
	case req.Channel.Access.Has(sysmap.Random):
		newEtag, err := hashFile(path)
		if err != nil {
			return "", errors.Wrap(err, "rehash random-access channel")
		}
		etag = newEtag
	}

	fi, err := os.Stat(path)
	if err != nil {
		return "", errors.Wrap(err, "stat finalized channel")
	}

	meta := map[string]string{
		"X-Timestamp":   req.Timestamp,
		"Content-Type":  req.Channel.ContentType,
		"Content-Length": strconv.FormatInt(fi.Size(), 10),
		"ETag":          etag,
	}
	for k, v := range req.CGIHeaders {
		if strings.HasPrefix(strings.ToLower(k), "x-object-meta-") {
			meta[strings.ToLower(k)] = v
		}
	}

	if err := req.Store.Publish(req.URL, path, meta); err != nil {
		return "", errors.Wrap(err, "publish object")
	}
	return etag, nil
}

// SelectEtag parses the x-nexe-etag report segment for the channel
// named by device, per §4.9 step 1:
//   - if the first token starts with "/", the report is
//     "dev etag dev etag …"; find the dev matching "/dev/<device>".
//   - else the first token is a memory hash and the remaining tokens
//     are "dev etag" pairs.
func SelectEtag(etagLine, device string) (string, error) {
	fields := strings.Fields(etagLine)
	if len(fields) == 0 {
		return "", errors.Wrap(ErrUnprocessable, "empty etag line")
	}

	want := "/dev/" + device
	pairs := fields
	if !strings.HasPrefix(fields[0], "/") {
		pairs = fields[1:]
	}
	if len(pairs)%2 != 0 {
		return "", errors.Wrap(ErrUnprocessable, "odd number of dev/etag tokens")
	}
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i] == want {
			etag := pairs[i+1]
			if !isHex32(etag) {
				return "", errors.Wrapf(ErrUnprocessable, "malformed etag %q for %s", etag, want)
			}
			return etag, nil
		}
	}
	return "", errors.Wrapf(ErrUnprocessable, "no etag reported for %s", want)
}

func isHex32(s string) bool {
	if len(s) != 32 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// StripPreamble copies path[offset:] into a fresh file and returns its
// path and size, for response channels that carry an HTTP/CGI preamble
// but are streamed back in the response tar rather than published (the
// one local writable channel goes through Finalize instead, which also
// needs the resulting content hash).
func StripPreamble(path string, offset int64) (string, int64, error) {
	newPath, _, err := stripCGIPreamble(path, offset)
	if err != nil {
		return "", 0, err
	}
	fi, err := os.Stat(newPath)
	if err != nil {
		return "", 0, err
	}
	return newPath, fi.Size(), nil
}

// stripCGIPreamble copies path[offset:] into a fresh temp file while
// computing its content hash, returning the new file's path and hash.
func stripCGIPreamble(path string, offset int64) (string, string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer in.Close()
	if _, err := in.Seek(offset, io.SeekStart); err != nil {
		return "", "", err
	}

	outPath := path + ".body"
	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", "", err
	}
	defer out.Close()

	h := md5.New()
	if _, err := io.Copy(io.MultiWriter(out, h), in); err != nil {
		return "", "", err
	}
	return outPath, hex.EncodeToString(h.Sum(nil)), nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
