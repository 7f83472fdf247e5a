package objectstore

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var metaBucket = []byte("object-metadata")

// LocalStore is a reference Store implementation: object content lives
// as regular files under root, and a bbolt database alongside it holds
// per-object metadata (Content-Type, ETag, X-Timestamp, and any
// x-object-meta-* projected headers). It exists so the execution core
// and its tests have a real, exercisable Store without depending on
// the out-of-scope production object store.
type LocalStore struct {
	root string
	db   *bolt.DB
}

// OpenLocalStore opens (creating if absent) a LocalStore rooted at dir.
func OpenLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "create object store root")
	}
	db, err := bolt.Open(filepath.Join(dir, "meta.bbolt"), 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open metadata index")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &LocalStore{root: dir, db: db}, nil
}

func (s *LocalStore) Close() error { return s.db.Close() }

func (s *LocalStore) contentPath(url string) string {
	return filepath.Join(s.root, "content", sanitizeURL(url))
}

func (s *LocalStore) lockPath(url string) string {
	return filepath.Join(s.root, "locks", sanitizeURL(url)+".lock")
}

func sanitizeURL(url string) string {
	return strings.NewReplacer("/", "_", ":", "_").Replace(url)
}

type localHandle struct {
	url  string
	path string
	ts   string
	meta map[string]string
	size int64
}

func (h *localHandle) LocalPath() string { return h.path }
func (h *localHandle) Timestamp() string { return h.ts }
func (h *localHandle) Stat() (map[string]string, int64, error) {
	return h.meta, h.size, nil
}

// Open implements Store.
func (s *LocalStore) Open(url string, ts string) (Handle, error) {
	path := s.contentPath(url)
	meta, err := s.readMeta(url)
	if err != nil {
		if ts == "" {
			return nil, err
		}
		meta = map[string]string{}
	}
	var size int64
	if fi, err := os.Stat(path); err == nil {
		size = fi.Size()
	} else if ts == "" {
		// A writable-only open (ts set) may target an object that does
		// not exist yet; a read open of a missing object is an error.
		return nil, errors.Wrapf(err, "object %q not found", url)
	}
	if ts == "" {
		ts = meta["X-Timestamp"]
	}
	return &localHandle{url: url, path: path, ts: ts, meta: meta, size: size}, nil
}

// Publish implements Store. It serializes concurrent publishes to the
// same object key with a file lock, then performs an atomic rename
// into place and updates the metadata index.
func (s *LocalStore) Publish(url string, localPath string, meta map[string]string) error {
	lockDir := filepath.Dir(s.lockPath(url))
	if err := os.MkdirAll(lockDir, 0o700); err != nil {
		return errors.Wrap(err, "create lock dir")
	}
	lk := flock.New(s.lockPath(url))
	if err := lk.Lock(); err != nil {
		return errors.Wrap(err, "lock object for publish")
	}
	defer lk.Unlock()

	if existing, err := s.readMeta(url); err == nil {
		if prevTS, ok := existing["X-Timestamp"]; ok && prevTS >= meta["X-Timestamp"] {
			return errors.Errorf("stale publish: new timestamp %s <= existing %s", meta["X-Timestamp"], prevTS)
		}
	}

	dst := s.contentPath(url)
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return errors.Wrap(err, "create content dir")
	}
	if err := atomicRename(localPath, dst); err != nil {
		return errors.Wrap(err, "rename into place")
	}
	return s.writeMeta(url, meta)
}

func atomicRename(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// Cross-device fallback: copy then remove, still atomic from a
	// reader's perspective once the final os.Rename onto the same
	// filesystem succeeds.
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// ObjectSummary is one entry of ListObjects.
type ObjectSummary struct {
	URL  string
	Meta map[string]string
}

// ListObjects enumerates every object the metadata index knows about,
// for the zvmctl objects inspection subcommand.
func (s *LocalStore) ListObjects() ([]ObjectSummary, error) {
	var out []ObjectSummary
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(metaBucket)
		return b.ForEach(func(k, v []byte) error {
			var meta map[string]string
			if err := json.Unmarshal(v, &meta); err != nil {
				return err
			}
			out = append(out, ObjectSummary{URL: string(k), Meta: meta})
			return nil
		})
	})
	return out, err
}

func (s *LocalStore) readMeta(url string) (map[string]string, error) {
	var meta map[string]string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(metaBucket)
		raw := b.Get([]byte(url))
		if raw == nil {
			return errors.Errorf("no metadata for %q", url)
		}
		return json.Unmarshal(raw, &meta)
	})
	return meta, err
}

func (s *LocalStore) writeMeta(url string, meta map[string]string) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(metaBucket)
		return b.Put([]byte(url), raw)
	})
}
