// Package daemon implements the resident sandbox daemon of §4.7: a
// Unix-socket server dispatching SPAWN/RUN/STOP/PAUSE/STATUS by
// keyword, owning a registry of live ExecutorRecords.
package daemon

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/zvm/zvmcore/internal/executor"
	"github.com/zvm/zvmcore/internal/manifest"
)

// Key identifies one executor by (job, node).
type Key struct {
	Job  string
	Node string
}

// Record is the in-memory ExecutorRecord of §3: mutated only by the
// goroutine that owns its lifecycle (handleSpawn/handleRun in
// server.go); other
// goroutines read a snapshot through Registry's accessors, matching
// the "per-process global sandbox state... modeled as an owned
// registry guarded by a single serialization point" design note.
type Record struct {
	Key       Key
	mu        sync.Mutex
	stats     []byte // last flushed five-line group
	rc        *executor.RC
	statsPath string
	cancel    func()
}

func (r *Record) snapshotStats() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.stats...)
}

func (r *Record) setStats(b []byte) {
	r.mu.Lock()
	r.stats = append([]byte(nil), b...)
	r.mu.Unlock()
}

func (r *Record) setRC(rc executor.RC) {
	r.mu.Lock()
	r.rc = &rc
	r.mu.Unlock()
}

func (r *Record) isDone() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rc != nil
}

// Registry is the single-serialization-point owner of all live
// Records. Add/Remove/lookups are all taken under one mutex, matching
// the teacher's "in-memory executor set in the daemon: add/remove are
// serialized by the daemon's acceptor" resource-model rule.
type Registry struct {
	statsDir string

	mu      sync.Mutex
	records map[Key]*Record
}

func NewRegistry(statsDir string) *Registry {
	return &Registry{statsDir: statsDir, records: make(map[Key]*Record)}
}

func (reg *Registry) add(rec *Record) {
	reg.mu.Lock()
	reg.records[rec.Key] = rec
	reg.mu.Unlock()
}

func (reg *Registry) remove(key Key) {
	reg.mu.Lock()
	delete(reg.records, key)
	reg.mu.Unlock()
}

// ByJob returns every record for job, and ByJobNode a single record.
func (reg *Registry) ByJob(job string) []*Record {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	var out []*Record
	for k, r := range reg.records {
		if k.Job == job {
			out = append(out, r)
		}
	}
	return out
}

func (reg *Registry) ByJobNode(job, node string) (*Record, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.records[Key{Job: job, Node: node}]
	return r, ok
}

// StatsPath returns the on-disk path a completed record's final stats
// are flushed to: <stats-dir>/<job>/<node>.
func (reg *Registry) StatsPath(job, node string) string {
	return filepath.Join(reg.statsDir, job, node)
}

// ReadFlushedStats reads a completed executor's on-disk stats file,
// for STATUS queries against executors no longer in the registry.
func (reg *Registry) ReadFlushedStats(job, node string) ([]byte, error) {
	return os.ReadFile(reg.StatsPath(job, node))
}

func flushStats(path string, stats []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, stats, 0o600)
}

// selectorFromManifest extracts Job/Node from manifest text.
func selectorFromManifest(body []byte) manifest.Selector {
	return manifest.ParseSelector(body)
}
