// Package objectstore defines the ObjectHandle capability the
// execution core uses to read and publish objects, and a reference
// implementation backed by a local directory plus a bbolt metadata
// index, standing in for the real (out-of-scope) object store.
package objectstore

import "time"

// Handle is the per-object capability surface the core needs from the
// object store: the object's local content path, its metadata, and its
// timestamp. Creating a new version is Store.Publish.
type Handle interface {
	// LocalPath returns a path to the object's current content,
	// suitable for use as a channel's lpath.
	LocalPath() string

	// Stat returns the object's current metadata and content size.
	Stat() (meta map[string]string, size int64, err error)

	// Timestamp returns the new-version timestamp this handle was
	// opened for (for a writable channel) or its current timestamp.
	Timestamp() string
}

// Store is the object-store-wide capability: open a handle by URL, and
// atomically publish a new version from a local file.
type Store interface {
	// Open resolves a swift://account/container/object URL to a
	// Handle. ts, if non-empty, is the new-version timestamp a
	// subsequent Publish must use.
	Open(url string, ts string) (Handle, error)

	// Publish atomically creates a new object version from the
	// contents of localPath, with the given metadata, and returns once
	// the rename into place has completed. It also updates any
	// container index and cancels a prior delete-at, per §4.9 step 5.
	Publish(url string, localPath string, meta map[string]string) error
}

// NewTimestamp formats t as a timestamp string in the
// "seconds.microseconds" form used by x-timestamp headers.
func NewTimestamp(t time.Time) string {
	return formatTimestamp(t)
}

func formatTimestamp(t time.Time) string {
	sec := t.Unix()
	usec := t.Nanosecond() / 1000
	return padTimestamp(sec, usec)
}

func padTimestamp(sec int64, usec int) string {
	const digits = "0123456789"
	// sec.usec with usec zero-padded to 6 digits; avoids fmt to keep
	// this pure and Date/time-injection free for deterministic tests.
	us := make([]byte, 6)
	for i := 5; i >= 0; i-- {
		us[i] = digits[usec%10]
		usec /= 10
	}
	return itoa(sec) + "." + string(us)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
