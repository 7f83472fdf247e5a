package daemon

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/apex/log"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/zvm/zvmcore/internal/codec"
	"github.com/zvm/zvmcore/internal/manifest"
)

// Server is the resident daemon's Unix-socket acceptor.
type Server struct {
	SocketPath string
	TmpDir     string
	KillGrace  time.Duration

	registry  *Registry
	accessLog *logrus.Logger
}

// NewServer builds a Server. statsDir backs the registry's on-disk
// stats flush; accessLog mirrors the teacher's use of logrus for a
// dedicated connection/command access log alongside apex-style
// structured application logging.
func NewServer(socketPath, tmpDir, statsDir string, killGrace time.Duration) *Server {
	return &Server{
		SocketPath: socketPath,
		TmpDir:     tmpDir,
		KillGrace:  killGrace,
		registry:   NewRegistry(statsDir),
		accessLog:  logrus.New(),
	}
}

// Serve accepts connections until ctx is canceled. The accept loop and
// its ctx-triggered listener close run as an errgroup pair, the same
// two-goroutine supervision shape the executor uses for its stdout/
// stderr pumps.
func (s *Server) Serve(ctx context.Context) error {
	_ = os.Remove(s.SocketPath)
	ln, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return err
	}
	defer os.Remove(s.SocketPath)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})

	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-gctx.Done():
					return nil
				default:
					log.WithError(err).Error("daemon accept failed")
					continue
				}
			}
			go s.handleConn(ctx, conn)
		}
	})

	return g.Wait()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	br := bufio.NewReader(conn)

	f, err := codec.ReadFrame(br)
	if err != nil {
		if he, ok := err.(*codec.HeaderError); ok {
			_ = codec.WriteHeaderError(conn, he.Partial)
		}
		return
	}
	s.accessLog.WithFields(logrus.Fields{"keyword": f.Keyword, "bytes": len(f.Body)}).Info("daemon command")

	reply := s.dispatch(ctx, f)
	if reply != nil {
		_, _ = conn.Write(reply)
	}
}

func (s *Server) dispatch(ctx context.Context, f codec.Frame) []byte {
	switch f.Keyword {
	case "SPAWN":
		return s.handleSpawn(ctx, f.Body)
	case "RUN":
		return s.handleRun(ctx, f.Body)
	case "STOP":
		s.handleStop(f.Body)
		return nil
	case "PAUSE":
		return s.handlePause(f.Body)
	case "STATUS":
		return s.handleStatus(f.Body)
	default:
		return []byte("255\nUnknown command\n")
	}
}

func (s *Server) handleSpawn(ctx context.Context, body []byte) []byte {
	sel := selectorFromManifest(body)
	if sel.Job == "" {
		return []byte("251\nNo job id in request\n")
	}
	if sel.Node == "" {
		return []byte(fmt.Sprintf("%s 0 250 No node id in request\n", sel.Job))
	}

	m, err := manifest.Decode(bytesReader(body))
	if err != nil {
		return []byte(fmt.Sprintf("%s %s 255 %s\n", sel.Job, sel.Node, err.Error()))
	}

	key := Key{Job: sel.Job, Node: sel.Node}
	recCtx, cancel := context.WithCancel(ctx)
	rec := &Record{Key: key, statsPath: s.registry.StatsPath(sel.Job, sel.Node), cancel: cancel}
	s.registry.add(rec)

	mpath, err := writeManifestTemp(s.TmpDir, body)
	if err != nil {
		s.registry.remove(key)
		return []byte(fmt.Sprintf("%s %s 255 %s\n", sel.Job, sel.Node, err.Error()))
	}

	go func() {
		defer s.registry.remove(key)
		defer os.Remove(mpath)
		res, _ := run(recCtx, m, mpath, s.KillGrace, rec.setStats)
		rec.setRC(res.RC)
		_ = flushStats(rec.statsPath, rec.snapshotStats())
	}()

	return []byte(fmt.Sprintf("%s %s 0\n", sel.Job, sel.Node))
}

func (s *Server) handleRun(ctx context.Context, body []byte) []byte {
	sel := selectorFromManifest(body)
	if sel.Job == "" {
		return []byte("251\nNo job id in request\n")
	}

	m, err := manifest.Decode(bytesReader(body))
	if err != nil {
		return []byte(fmt.Sprintf("%s %s 255 %s\n", sel.Job, sel.Node, err.Error()))
	}

	mpath, err := writeManifestTemp(s.TmpDir, body)
	if err != nil {
		return []byte(fmt.Sprintf("%s %s 255\n", sel.Job, sel.Node))
	}
	defer os.Remove(mpath)

	key := Key{Job: sel.Job, Node: sel.Node}
	rec := &Record{Key: key, statsPath: s.registry.StatsPath(sel.Job, sel.Node)}
	s.registry.add(rec)
	defer s.registry.remove(key)

	res, _ := run(ctx, m, mpath, s.KillGrace, rec.setStats)
	_ = flushStats(rec.statsPath, rec.snapshotStats())

	return []byte(fmt.Sprintf("%s %s %d\n%s", sel.Job, sel.Node, int(res.RC), res.Stdout))
}

func (s *Server) handleStop(body []byte) {
	sel := selectorFromManifest(body)
	if sel.Job == "" {
		return
	}
	var recs []*Record
	if sel.Node != "" {
		if r, ok := s.registry.ByJobNode(sel.Job, sel.Node); ok {
			recs = []*Record{r}
		}
	} else {
		recs = s.registry.ByJob(sel.Job)
	}
	for _, r := range recs {
		if r.cancel != nil {
			r.cancel()
		}
	}
}

func (s *Server) handlePause(body []byte) []byte {
	sel := selectorFromManifest(body)
	recs := s.matchingRecords(sel)
	if len(recs) == 0 {
		return notFoundReply(sel)
	}
	out := make([]byte, 0, len(recs)*16)
	for range recs {
		out = append(out, []byte("252\nUnsupported\n")...)
	}
	return out
}

func (s *Server) handleStatus(body []byte) []byte {
	sel := selectorFromManifest(body)
	if sel.Job == "" {
		return []byte("251\nNo job id in request\n")
	}

	var out []byte
	if sel.Node != "" {
		rec, ok := s.registry.ByJobNode(sel.Job, sel.Node)
		if !ok {
			stats, err := s.registry.ReadFlushedStats(sel.Job, sel.Node)
			if err != nil {
				return []byte(fmt.Sprintf("%s 253 Node not found\n", sel.Job))
			}
			return append([]byte(fmt.Sprintf("%s %s ", sel.Job, sel.Node)), stats...)
		}
		out = append(out, []byte(fmt.Sprintf("%s %s ", sel.Job, sel.Node))...)
		out = append(out, statsFor(s, rec)...)
		return out
	}

	recs := s.registry.ByJob(sel.Job)
	if len(recs) == 0 {
		return []byte("254\nJob not found\n")
	}
	for _, rec := range recs {
		out = append(out, []byte(fmt.Sprintf("%s %s ", rec.Key.Job, rec.Key.Node))...)
		out = append(out, statsFor(s, rec)...)
	}
	return out
}

func statsFor(s *Server, rec *Record) []byte {
	if rec.isDone() {
		if stats, err := s.registry.ReadFlushedStats(rec.Key.Job, rec.Key.Node); err == nil {
			return stats
		}
	}
	return rec.snapshotStats()
}

func (s *Server) matchingRecords(sel manifest.Selector) []*Record {
	if sel.Job == "" {
		return nil
	}
	if sel.Node != "" {
		if r, ok := s.registry.ByJobNode(sel.Job, sel.Node); ok {
			return []*Record{r}
		}
		return nil
	}
	return s.registry.ByJob(sel.Job)
}

func notFoundReply(sel manifest.Selector) []byte {
	if sel.Job == "" {
		return []byte("251\nNo job id in request\n")
	}
	if sel.Node == "" {
		return []byte(fmt.Sprintf("%s 254 Job not found\n", sel.Job))
	}
	return []byte(fmt.Sprintf("%s %s 253 Node not found\n", sel.Job, sel.Node))
}
