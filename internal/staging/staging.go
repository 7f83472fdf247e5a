// Package staging maps parsed ChannelSpec entries onto local files,
// following the resolution order of §4.3 of the execution-core design:
// inbound tar member, local ObjectHandle, system image, or a freshly
// allocated response-channel temp file.
package staging

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"

	"github.com/moby/go-archive/compression"
	"github.com/pkg/errors"

	"github.com/zvm/zvmcore/internal/objectstore"
	"github.com/zvm/zvmcore/internal/sysmap"
	"github.com/zvm/zvmcore/internal/tarstream"
)

// ResponseChannel pairs a staged channel with the ordering hint needed
// to assemble the outbound tar (§4.2): the local object, if present in
// the response, must come first; write-only response channels (no
// URL) come last.
type ResponseChannel struct {
	Channel    *sysmap.ChannelSpec
	IsLocal    bool
	WriteOnly  bool
}

// Inputs bundles everything Stage needs besides the SystemMap itself.
type Inputs struct {
	ScratchDir      string
	TargetURL       string // the request's own object URL, if any
	Timestamp       string // x-timestamp header value, required for a writable local object
	SysImageDevices map[string]string
	ExeName         string // default tar member name to boot when resolving from the system image itself
	MaxWBytes       int64
	Preallocate     func(path string, size int64) error
	Open            func(url string, ts string) (objectstore.Handle, error)
}

// StagedChannel tracks an opened ObjectHandle alongside its spec so the
// finalizer can later publish it.
type StagedChannel struct {
	Spec   *sysmap.ChannelSpec
	Handle objectstore.Handle // non-nil only for the local object channel
}

// Result is everything Stage produces.
type Result struct {
	Boot             string // resolved path to the sandbox executable
	BootFromImage    bool   // true if Boot came from a system image (implies "pre-validated")
	Response         []ResponseChannel
	LocalWritable    *StagedChannel // the at-most-one writable local-object channel, if any
}

// Stage resolves lpath/size/meta for every channel in m.Channels, per
// the six-step fallback chain of §4.3.
func Stage(m *sysmap.SystemMap, staged []tarstream.StagedMember, in Inputs) (*Result, error) {
	byDevice := make(map[string]tarstream.StagedMember, len(staged))
	for _, s := range staged {
		byDevice[s.Name] = s
	}

	res := &Result{}

	for _, c := range m.Channels {
		if err := stageOne(c, byDevice, in, res); err != nil {
			return nil, err
		}
	}

	boot, fromImage, err := resolveBoot(m, byDevice, in)
	if err != nil {
		return nil, err
	}
	res.Boot = boot
	res.BootFromImage = fromImage

	return res, nil
}

func stageOne(c *sysmap.ChannelSpec, byDevice map[string]tarstream.StagedMember, in Inputs, res *Result) error {
	// Step 1: inbound tar member with the same device name.
	if sm, ok := byDevice[c.Device]; ok {
		c.LPath = sm.Path
		c.Size = sm.Size
		return nil
	}

	// Step 2: the channel targets this request's object.
	if c.Path != "" && in.TargetURL != "" && c.Path == in.TargetURL {
		return stageLocalObject(c, in, res)
	}

	// Step 3: system-image device.
	if imgPath, ok := in.SysImageDevices[c.Device]; ok {
		c.LPath = imgPath
		return nil
	}

	// Step 4: readable/CDR without an lpath is a bad request.
	if (c.Access.Has(sysmap.Readable) || c.Access.Has(sysmap.CDR)) && c.LPath == "" {
		return errors.Wrapf(tarstream.ErrBadRequest, "channel %q: no source resolved", c.Device)
	}

	// Step 5: writable with no URL — a response channel.
	if c.Access.Has(sysmap.Writable) && c.Path == "" {
		return stageWritableResponse(c, in, res)
	}

	// Step 6: network channel — lpath is the URL's path, used verbatim.
	if c.Access.Has(sysmap.Network) {
		c.LPath = c.Path
		return nil
	}

	return errors.Wrapf(tarstream.ErrBadRequest, "channel %q: unresolvable", c.Device)
}

func stageLocalObject(c *sysmap.ChannelSpec, in Inputs, res *Result) error {
	h, err := in.Open(c.Path, in.Timestamp)
	if err != nil {
		return errors.Wrapf(err, "open local object channel %q", c.Device)
	}
	if c.Access.Has(sysmap.Writable) {
		if in.Timestamp == "" {
			return errors.Wrapf(tarstream.ErrBadRequest, "channel %q: writable local object requires x-timestamp", c.Device)
		}
		lpath := filepath.Join(in.ScratchDir, "w-"+c.Device)
		if err := in.Preallocate(lpath, in.MaxWBytes); err != nil {
			return errors.Wrapf(err, "preallocate writable channel %q", c.Device)
		}
		c.LPath = lpath
		res.LocalWritable = &StagedChannel{Spec: c, Handle: h}
		res.Response = append([]ResponseChannel{{Channel: c, IsLocal: true}}, res.Response...)
		return nil
	}
	meta, size, err := h.Stat()
	if err != nil {
		return errors.Wrapf(err, "stat local object channel %q", c.Device)
	}
	c.LPath = h.LocalPath()
	c.Size = size
	c.Meta = meta
	return nil
}

func stageWritableResponse(c *sysmap.ChannelSpec, in Inputs, res *Result) error {
	dir := filepath.Join(in.ScratchDir, "tmp")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrap(err, "create response tmp dir")
	}
	lpath := filepath.Join(dir, c.Device)
	if err := in.Preallocate(lpath, in.MaxWBytes); err != nil {
		return errors.Wrapf(err, "preallocate response channel %q", c.Device)
	}
	c.LPath = lpath
	res.Response = append(res.Response, ResponseChannel{Channel: c, WriteOnly: true})
	return nil
}

// resolveBoot finds the sandbox executable per §4.3's boot-source
// fallback chain: inbound tar member, a tar member named by the image
// component of exe, or the system image itself (which also implies
// "pre-validated").
func resolveBoot(m *sysmap.SystemMap, byDevice map[string]tarstream.StagedMember, in Inputs) (string, bool, error) {
	if sm, ok := byDevice["boot"]; ok {
		return sm.Path, false, nil
	}
	if device, member := imageComponent(m.Exe); device != "" {
		if imgPath, ok := in.SysImageDevices[device]; ok {
			p, err := extractBootMember(imgPath, member, in.ScratchDir)
			return p, true, err
		}
	}
	if len(in.SysImageDevices) > 0 {
		if imgPath, ok := in.SysImageDevices[m.Name]; ok {
			p, err := extractBootMember(imgPath, in.ExeName, in.ScratchDir)
			return p, true, err
		}
	}
	return "", false, errors.Wrap(tarstream.ErrBadRequest, "no sandbox executable source")
}

// extractBootMember opens a system image as a tar archive (transparently
// unwrapping gzip/bzip2/xz compression first, should the
// zerovm_sysimage_devices directive point at a compressed one) and
// copies the named member out to scratchDir, returning its local path.
func extractBootMember(imagePath, member, scratchDir string) (string, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return "", errors.Wrap(err, "open system image")
	}
	defer f.Close()

	sniff := make([]byte, 512)
	n, _ := io.ReadFull(f, sniff)
	sniff = sniff[:n]
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", errors.Wrap(err, "rewind system image")
	}

	var r io.Reader = f
	if compression.DetectCompression(sniff) != compression.Uncompressed {
		dr, err := compression.DecompressStream(f)
		if err != nil {
			return "", errors.Wrap(err, "decompress system image")
		}
		defer dr.Close()
		r = dr
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return "", errors.Wrapf(tarstream.ErrBadRequest, "system image %s: no member %q", imagePath, member)
		}
		if err != nil {
			return "", errors.Wrap(err, "read system image")
		}
		if hdr.Name != member {
			continue
		}
		dstPath := filepath.Join(scratchDir, "boot-image")
		dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o700)
		if err != nil {
			return "", errors.Wrap(err, "create extracted boot file")
		}
		if _, err := io.Copy(dst, tr); err != nil {
			dst.Close()
			return "", errors.Wrap(err, "extract boot file")
		}
		if err := dst.Close(); err != nil {
			return "", err
		}
		return dstPath, nil
	}
}

// imageComponent splits an `image://image-name/path-inside-image` exe
// location into its system-image device name and the member path to
// boot within it. Returns ("", "") if exe doesn't reference an image.
func imageComponent(exe string) (device, member string) {
	const prefix = "image://"
	if len(exe) <= len(prefix) || exe[:len(prefix)] != prefix {
		return "", ""
	}
	rest := exe[len(prefix):]
	for i, r := range rest {
		if r == '/' {
			return rest[:i], rest[i+1:]
		}
	}
	return rest, ""
}
