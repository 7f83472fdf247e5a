package finalize

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/zvm/zvmcore/internal/objectstore"
	"github.com/zvm/zvmcore/internal/report"
	"github.com/zvm/zvmcore/internal/sysmap"
)

func TestSelectEtagDevList(t *testing.T) {
	etag, err := SelectEtag("/dev/stdout e1b849f9631ffc1829b2e31402373e3c /dev/stderr "+
		"d41d8cd98f00b204e9800998ecf8427e", "stdout")
	assert.NilError(t, err)
	assert.Equal(t, etag, "e1b849f9631ffc1829b2e31402373e3c")
}

func TestSelectEtagMemHashForm(t *testing.T) {
	etag, err := SelectEtag("deadbeefdeadbeefdeadbeefdeadbeef /dev/stdout e1b849f9631ffc1829b2e31402373e3c", "stdout")
	assert.NilError(t, err)
	assert.Equal(t, etag, "e1b849f9631ffc1829b2e31402373e3c")
}

func TestSelectEtagMissing(t *testing.T) {
	_, err := SelectEtag("/dev/stderr d41d8cd98f00b204e9800998ecf8427e", "stdout")
	assert.ErrorContains(t, err, "no etag reported")
}

func TestSelectEtagMalformed(t *testing.T) {
	_, err := SelectEtag("/dev/stdout nothex", "stdout")
	assert.ErrorContains(t, err, "malformed etag")
}

type fakeHandle struct{}

func (fakeHandle) LocalPath() string                          { return "" }
func (fakeHandle) Stat() (map[string]string, int64, error)    { return nil, 0, nil }
func (fakeHandle) Timestamp() string                          { return "" }

type fakeStore struct {
	published  bool
	gotURL     string
	gotPath    string
	gotMeta    map[string]string
}

func (s *fakeStore) Open(url, ts string) (objectstore.Handle, error) { return fakeHandle{}, nil }
func (s *fakeStore) Publish(url, path string, meta map[string]string) error {
	s.published = true
	s.gotURL = url
	s.gotPath = path
	s.gotMeta = meta
	return nil
}

func TestFinalizePlainChannel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stdout")
	assert.NilError(t, os.WriteFile(path, []byte("hello\n"), 0o600))

	store := &fakeStore{}
	ch := &sysmap.ChannelSpec{Device: "stdout", LPath: path, ContentType: "text/plain", Access: sysmap.Writable}

	etag, err := Finalize(Request{
		Channel:   ch,
		Store:     store,
		URL:       "swift://a/c/o",
		Timestamp: "1700000000.000000",
		Report: report.Tuple{
			Etag: "/dev/stdout e1b849f9631ffc1829b2e31402373e3c",
		},
	})
	assert.NilError(t, err)
	assert.Equal(t, etag, "e1b849f9631ffc1829b2e31402373e3c")
	assert.Equal(t, store.published, true)
	assert.Equal(t, store.gotMeta["Content-Type"], "text/plain")
}

func TestFinalizeCGIStripsPreamble(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stdout")
	body := "HTTP/1.1 200 OK\r\nContent-Type: image/png\r\nX-Object-Meta-Author: me\r\n\r\nPNGDATA"
	assert.NilError(t, os.WriteFile(path, []byte(body), 0o600))

	pre, err := ParseCGIPreamble(path)
	assert.NilError(t, err)
	assert.Equal(t, pre.Headers["Content-Type"], "image/png")

	ch := &sysmap.ChannelSpec{Device: "stdout", LPath: path, ContentType: "message/http", Access: sysmap.Writable, Offset: pre.Offset}
	store := &fakeStore{}
	_, err = Finalize(Request{
		Channel:    ch,
		Store:      store,
		URL:        "swift://a/c/o",
		Timestamp:  "1700000000.000000",
		Report:     report.Tuple{Etag: "/dev/stdout " + "00000000000000000000000000000000"},
		CGIHeaders: pre.Headers,
	})
	assert.NilError(t, err)
	assert.Equal(t, store.gotMeta["x-object-meta-author"], "me")

	got, err := os.ReadFile(store.gotPath)
	assert.NilError(t, err)
	assert.Equal(t, string(got), "PNGDATA")
}
