package tarstream

import (
	"archive/tar"
	"io"
	"os"
)

// ResponseMember is one outbound tar member: a device name and the
// local file backing its current contents.
type ResponseMember struct {
	Name string
	Path string
	Size int64
	Mode int64
}

// Build writes a tar stream: the "sysmap" member first if sysmapJSON
// is non-nil, followed by each member in members order. Callers are
// responsible for ordering members per spec (local object first,
// write-only-response channels last).
func Build(w io.Writer, sysmapJSON []byte, members []ResponseMember) error {
	tw := tar.NewWriter(w)
	if sysmapJSON != nil {
		hdr := &tar.Header{
			Name: "sysmap",
			Mode: 0o644,
			Size: int64(len(sysmapJSON)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := tw.Write(sysmapJSON); err != nil {
			return err
		}
	}
	for _, m := range members {
		mode := m.Mode
		if mode == 0 {
			mode = 0o644
		}
		hdr := &tar.Header{
			Name: m.Name,
			Mode: mode,
			Size: m.Size,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(m.Path)
		if err != nil {
			return err
		}
		_, err = io.CopyN(tw, f, m.Size)
		f.Close()
		if err != nil {
			return err
		}
	}
	return tw.Close()
}

// Size precomputes the exact Content-Length of a Build() invocation so
// callers can set the response header before streaming.
func Size(sysmapJSON []byte, members []ResponseMember) int64 {
	var total int64
	if sysmapJSON != nil {
		total += 512 + padded(int64(len(sysmapJSON)))
	}
	for _, m := range members {
		total += 512 + padded(m.Size)
	}
	total += 1024 // two trailing zero blocks
	return total
}

func padded(n int64) int64 {
	const block = 512
	if n%block == 0 {
		return n
	}
	return n + (block - n%block)
}
