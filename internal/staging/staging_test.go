package staging

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/zvm/zvmcore/internal/objectstore"
	"github.com/zvm/zvmcore/internal/sysmap"
	"github.com/zvm/zvmcore/internal/tarstream"
)

// buildSystemImage writes a tar archive with the given named members,
// mirroring the on-disk shape of a real system image.
func buildSystemImage(t *testing.T, path string, members map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	assert.NilError(t, err)
	defer f.Close()
	tw := tar.NewWriter(f)
	for name, body := range members {
		assert.NilError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o755, Size: int64(len(body))}))
		_, err := tw.Write([]byte(body))
		assert.NilError(t, err)
	}
	assert.NilError(t, tw.Close())
}

func prealloc(path string, size int64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Truncate(size)
}

func TestStageResponseOnlyChannel(t *testing.T) {
	scratch := t.TempDir()
	m := &sysmap.SystemMap{
		Name: "j",
		Channels: []*sysmap.ChannelSpec{
			{Device: "stdout", Access: sysmap.Writable, ContentType: "text/plain"},
		},
	}
	staged := []tarstream.StagedMember{{Name: "boot", Path: filepath.Join(scratch, "boot")}}
	assert.NilError(t, os.WriteFile(staged[0].Path, []byte("nexe"), 0o600))

	res, err := Stage(m, staged, Inputs{
		ScratchDir:  scratch,
		MaxWBytes:   1024,
		Preallocate: prealloc,
		Open:        func(string, string) (objectstore.Handle, error) { return nil, nil },
	})
	assert.NilError(t, err)
	assert.Equal(t, res.Boot, staged[0].Path)
	assert.Equal(t, len(res.Response), 1)
	assert.Equal(t, res.Response[0].WriteOnly, true)
	assert.Assert(t, res.LocalWritable == nil)
}

func TestStageMissingReadableIsBadRequest(t *testing.T) {
	scratch := t.TempDir()
	m := &sysmap.SystemMap{
		Channels: []*sysmap.ChannelSpec{{Device: "input", Access: sysmap.Readable}},
	}
	staged := []tarstream.StagedMember{{Name: "boot", Path: filepath.Join(scratch, "boot")}}
	assert.NilError(t, os.WriteFile(staged[0].Path, []byte("x"), 0o600))

	_, err := Stage(m, staged, Inputs{
		ScratchDir:  scratch,
		Preallocate: prealloc,
		Open:        func(string, string) (objectstore.Handle, error) { return nil, nil },
	})
	assert.ErrorContains(t, err, "no source resolved")
}

func TestStageBootFromSystemImage(t *testing.T) {
	scratch := t.TempDir()
	imgPath := filepath.Join(scratch, "daemon-boot.tar")
	buildSystemImage(t, imgPath, map[string]string{"boot": "nexe-contents"})

	m := &sysmap.SystemMap{Name: "daemon", Channels: nil}
	res, err := Stage(m, nil, Inputs{
		ScratchDir:      scratch,
		Preallocate:     prealloc,
		SysImageDevices: map[string]string{"daemon": imgPath},
		ExeName:         "boot",
		Open:            func(string, string) (objectstore.Handle, error) { return nil, nil },
	})
	assert.NilError(t, err)
	assert.Assert(t, res.Boot != imgPath)
	assert.Equal(t, res.BootFromImage, true)
	got, err := os.ReadFile(res.Boot)
	assert.NilError(t, err)
	assert.Equal(t, string(got), "nexe-contents")
}

func TestStageBootFromCompressedSystemImage(t *testing.T) {
	scratch := t.TempDir()
	imgPath := filepath.Join(scratch, "daemon-boot.tar.gz")

	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	assert.NilError(t, tw.WriteHeader(&tar.Header{Name: "boot", Mode: 0o755, Size: int64(len("nexe-contents"))}))
	_, err := tw.Write([]byte("nexe-contents"))
	assert.NilError(t, err)
	assert.NilError(t, tw.Close())

	var gzBuf bytes.Buffer
	gw := gzip.NewWriter(&gzBuf)
	_, err = gw.Write(tarBuf.Bytes())
	assert.NilError(t, err)
	assert.NilError(t, gw.Close())
	assert.NilError(t, os.WriteFile(imgPath, gzBuf.Bytes(), 0o700))

	m := &sysmap.SystemMap{Name: "daemon", Channels: nil}
	res, err := Stage(m, nil, Inputs{
		ScratchDir:      scratch,
		Preallocate:     prealloc,
		SysImageDevices: map[string]string{"daemon": imgPath},
		ExeName:         "boot",
		Open:            func(string, string) (objectstore.Handle, error) { return nil, nil },
	})
	assert.NilError(t, err)
	assert.Assert(t, res.Boot != imgPath)
	got, err := os.ReadFile(res.Boot)
	assert.NilError(t, err)
	assert.Equal(t, string(got), "nexe-contents")
}

func TestStageBootFromImageComponentOfExe(t *testing.T) {
	scratch := t.TempDir()
	imgPath := filepath.Join(scratch, "python.tar")
	buildSystemImage(t, imgPath, map[string]string{
		"bin/interp": "interp-contents",
		"other":      "ignored",
	})

	m := &sysmap.SystemMap{Name: "job", Exe: "image://python/bin/interp", Channels: nil}
	res, err := Stage(m, nil, Inputs{
		ScratchDir:      scratch,
		Preallocate:     prealloc,
		SysImageDevices: map[string]string{"python": imgPath},
		ExeName:         "boot",
		Open:            func(string, string) (objectstore.Handle, error) { return nil, nil },
	})
	assert.NilError(t, err)
	assert.Equal(t, res.BootFromImage, true)
	got, err := os.ReadFile(res.Boot)
	assert.NilError(t, err)
	assert.Equal(t, string(got), "interp-contents")
}
