// Package validate implements the validation-mode path: running the
// sandbox in "validate-only" mode over a stored object and recording
// the resulting validation tag on that object's metadata.
package validate

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/zvm/zvmcore/internal/executor"
	"github.com/zvm/zvmcore/internal/manifest"
	"github.com/zvm/zvmcore/internal/objectstore"
)

// ValidatedMetaKey is the object metadata key recording the etag that
// was last successfully validated.
const ValidatedMetaKey = "Validated"

// Run attempts to execute the uploaded object itself as the sandbox
// program — the point of validation is finding out whether the nexe
// runs at all — then records handle's current ETag as the object's
// Validated tag on success.
func Run(ctx context.Context, store objectstore.Store, handle objectstore.Handle, url string, scratchDir string, timeout time.Duration) (executor.RC, error) {
	meta, _, err := handle.Stat()
	if err != nil {
		return executor.RCError, errors.Wrap(err, "stat object for validation")
	}

	m := &manifest.Manifest{
		Version: "20130611",
		Program: handle.LocalPath(),
		Timeout: int(timeout.Seconds()),
		Channels: []manifest.ChannelLine{
			{LPath: handle.LocalPath(), DevPath: "/dev/validate", Access: 1, Etag: 0},
		},
	}
	mpath := filepath.Join(scratchDir, "manifest")
	if err := writeManifest(m, mpath); err != nil {
		return executor.RCError, err
	}

	res, err := executor.RunOneShot(ctx, executor.Options{
		ManifestPath: mpath,
		CommandPath:  handle.LocalPath(),
		Timeout:      timeout + time.Second,
		MaxStdout:    64 * 1024,
		MaxStderr:    64 * 1024,
	})
	if err != nil {
		return executor.RCError, err
	}
	if res.RC != executor.RCOk {
		return res.RC, nil
	}

	newMeta := map[string]string{}
	for k, v := range meta {
		newMeta[k] = v
	}
	newMeta[ValidatedMetaKey] = meta["ETag"]
	if err := store.Publish(url, handle.LocalPath(), newMeta); err != nil {
		return executor.RCError, errors.Wrap(err, "record validation tag")
	}
	return executor.RCOk, nil
}

// IsValidated reports whether an object's stored Validated tag matches
// its current ETag, for the `GET ?x-zerovm-valid` pre-validation check
// of §6.
func IsValidated(meta map[string]string) bool {
	tag, ok := meta[ValidatedMetaKey]
	return ok && tag != "" && tag == meta["ETag"]
}

func writeManifest(m *manifest.Manifest, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return m.Encode(f)
}
