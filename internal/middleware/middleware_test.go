package middleware

import (
	"archive/tar"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/zvm/zvmcore/internal/config"
	"github.com/zvm/zvmcore/internal/objectstore"
	"github.com/zvm/zvmcore/internal/pool"
)

const bootScript = "#!/bin/sh\nprintf '0\\n0\\n/dev/stdout deadbeefdeadbeefdeadbeefdeadbeef\\n0 0 0 0 0 0 0 0 0 0\\nok\\n'\n"

func buildRequestTar(t *testing.T, sysmapJSON []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	assert.NilError(t, tw.WriteHeader(&tar.Header{Name: "sysmap", Mode: 0o644, Size: int64(len(sysmapJSON))}))
	_, err := tw.Write(sysmapJSON)
	assert.NilError(t, err)

	assert.NilError(t, tw.WriteHeader(&tar.Header{Name: "boot", Mode: 0o755, Size: int64(len(bootScript))}))
	_, err = tw.Write([]byte(bootScript))
	assert.NilError(t, err)

	assert.NilError(t, tw.Close())
	return buf.Bytes()
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	dir := t.TempDir()
	store, err := objectstore.OpenLocalStore(filepath.Join(dir, "store"))
	assert.NilError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := &config.File{
		ManifestVersion:  "20130611",
		Timeout:          5,
		MaxNexeMem:       4 << 20,
		MaxIOPS:          1024,
		MaxInput:         1 << 20,
		MaxOutput:        1 << 20,
		MaxStdout:        64 * 1024,
		MaxStderr:        64 * 1024,
		MaxUploadSeconds: 10,
		KillTimeout:      1,
		DisableFallocate: true,
		SocketsDir:       filepath.Join(dir, "sockets"),
		StatsDir:         filepath.Join(dir, "stats"),
	}
	pools, err := pool.NewRegistry([]pool.PoolSpec{{Name: "default", Size: 2, Queue: 2}})
	assert.NilError(t, err)

	return New(cfg, pools, store)
}

func TestHandleExecuteSuccess(t *testing.T) {
	h := newTestHandler(t)

	sysmapJSON := []byte(`{"name":"test","exe":"image://nope/boot","channels":[{"device":"stdout","access":2}],"replicate":1}`)
	body := buildRequestTar(t, sysmapJSON)

	req := httptest.NewRequest(http.MethodPost, "/sda1/0/acct", bytes.NewReader(body))
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", "application/x-tar")
	req.Header.Set("x-zerovm-execute", "1")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, rec.Code, http.StatusOK)
	assert.Equal(t, rec.Header().Get("Content-Type"), "application/x-gtar")
	assert.Equal(t, rec.Header().Get("x-nexe-retcode"), "0")

	tr := tar.NewReader(rec.Body)
	var names []string
	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}
		names = append(names, hdr.Name)
	}
	assert.DeepEqual(t, names, []string{"sysmap", "stdout"})
}

func TestHandleExecuteSlotUnavailable(t *testing.T) {
	h := newTestHandler(t)
	// Saturate the default pool's size+queue so admission rejects at arrival.
	p := h.Pools.Get("")
	var releases []func()
	for i := 0; i < 2; i++ {
		rel, err := p.Admit(context.Background())
		assert.NilError(t, err)
		releases = append(releases, rel)
	}
	queueCtx, cancelQueued := context.WithCancel(context.Background())
	for i := 0; i < 2; i++ {
		go func() {
			if rel, err := p.Admit(queueCtx); err == nil {
				rel()
			}
		}()
	}
	for p.Waiting() < 2 {
		time.Sleep(time.Millisecond)
	}

	sysmapJSON := []byte(`{"name":"test","exe":"image://nope/boot","channels":[],"replicate":1}`)
	body := buildRequestTar(t, sysmapJSON)
	req := httptest.NewRequest(http.MethodPost, "/sda1/0/acct", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/x-tar")
	req.Header.Set("x-zerovm-execute", "1")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)
	assert.Equal(t, rec.Code, http.StatusServiceUnavailable)

	cancelQueued()
	for _, rel := range releases {
		rel()
	}
}

func TestValidCheckMissingObject(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/sda1/0/acct/cont/obj?x-zerovm-valid=true", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	// no such object has ever been published, so opening it errors out.
	assert.Equal(t, rec.Code, http.StatusInternalServerError)
}
