package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func writeManifest(t *testing.T, dir string) string {
	t.Helper()
	p := filepath.Join(dir, "manifest")
	assert.NilError(t, os.WriteFile(p, []byte("Version = 1\n"), 0o600))
	return p
}

func TestRunOneShotSuccess(t *testing.T) {
	dir := t.TempDir()
	res, err := RunOneShot(context.Background(), Options{
		ManifestPath: writeManifest(t, dir),
		CommandPath:  "/bin/echo",
		Timeout:      2 * time.Second,
		MaxStdout:    1024,
		MaxStderr:    1024,
	})
	assert.NilError(t, err)
	assert.Equal(t, res.RC, RCOk)
}

func TestRunOneShotOverflow(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "big.sh")
	assert.NilError(t, os.WriteFile(script, []byte("#!/bin/sh\nhead -c 131072 /dev/zero\n"), 0o700))

	res, err := RunOneShot(context.Background(), Options{
		ManifestPath: writeManifest(t, dir),
		CommandPath:  script,
		Timeout:      5 * time.Second,
		MaxStdout:    65536,
		MaxStderr:    65536,
	})
	assert.NilError(t, err)
	assert.Equal(t, res.RC, RCOverflow)
	assert.Assert(t, len(res.Stdout) <= 65536+readChunk)
}

func TestRunOneShotTimeout(t *testing.T) {
	dir := t.TempDir()
	res, err := RunOneShot(context.Background(), Options{
		ManifestPath: writeManifest(t, dir),
		CommandPath:  "/bin/sleep",
		Timeout:      200 * time.Millisecond,
		KillGrace:    100 * time.Millisecond,
		MaxStdout:    1024,
		MaxStderr:    1024,
	})
	assert.NilError(t, err)
	assert.Assert(t, res.RC == RCTimeout || res.RC == RCKilled)
}

func TestManifestUnlinkedOnExit(t *testing.T) {
	dir := t.TempDir()
	mpath := writeManifest(t, dir)
	_, err := RunOneShot(context.Background(), Options{
		ManifestPath: mpath,
		CommandPath:  "/bin/echo",
		Timeout:      time.Second,
		MaxStdout:    1024,
		MaxStderr:    1024,
	})
	assert.NilError(t, err)
	_, statErr := os.Stat(mpath)
	assert.Assert(t, os.IsNotExist(statErr))
}
