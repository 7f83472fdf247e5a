// Command zvmctl is the operator CLI for the compute node: it wraps
// the stale-socket cleanup sweep of §4.10, a STATUS query against a
// running daemon, and inspection of the reference object-store
// metadata index.
package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/apex/log"
	logcli "github.com/apex/log/handlers/cli"
	"github.com/spf13/cobra"

	"github.com/zvm/zvmcore/internal/cleanup"
	"github.com/zvm/zvmcore/internal/codec"
	"github.com/zvm/zvmcore/internal/objectstore"
)

func main() {
	log.SetHandler(logcli.Default)

	root := &cobra.Command{
		Use:   "zvmctl",
		Short: "operator tools for the zerovm execution core",
	}
	root.AddCommand(newCleanupCmd(), newStatsCmd(), newObjectsCmd())

	if err := root.Execute(); err != nil {
		log.WithError(err).Fatal("zvmctl")
	}
}

func newCleanupCmd() *cobra.Command {
	var socketsDir string
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "kill stale daemon processes and unlink their abandoned sockets",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := os.ReadDir(socketsDir)
			if err != nil {
				return err
			}
			enum := cleanup.ProcEnumerator{}
			ctx := cmd.Context()
			for _, e := range entries {
				if e.IsDir() {
					continue
				}
				path := filepath.Join(socketsDir, e.Name())
				if err := cleanup.Stale(ctx, path, enum); err != nil {
					log.WithError(err).WithField("socket", path).Error("cleanup failed")
					continue
				}
				log.WithField("socket", path).Info("checked")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&socketsDir, "sockets-dir", "/tmp/zvm-sockets", "daemon sockets directory to sweep")
	return cmd
}

func newStatsCmd() *cobra.Command {
	var socketsDir, socketName, job, node string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "query a running daemon's STATUS for a job",
		RunE: func(cmd *cobra.Command, args []string) error {
			if job == "" {
				return fmt.Errorf("--job is required")
			}
			path := filepath.Join(socketsDir, socketName)
			conn, err := net.DialTimeout("unix", path, 2*time.Second)
			if err != nil {
				return err
			}
			defer conn.Close()

			body := fmt.Sprintf("Job = %s\nNode = %s\n", job, node)
			if err := codec.WriteFrame(conn, "STATUS", []byte(body)); err != nil {
				return err
			}
			if uc, ok := conn.(*net.UnixConn); ok {
				_ = uc.CloseWrite()
			}
			buf := make([]byte, 0, 4096)
			tmp := make([]byte, 4096)
			for {
				n, err := conn.Read(tmp)
				buf = append(buf, tmp[:n]...)
				if err != nil {
					break
				}
			}
			fmt.Print(string(buf))
			return nil
		},
	}
	cmd.Flags().StringVar(&socketsDir, "sockets-dir", "/tmp/zvm-sockets", "daemon sockets directory")
	cmd.Flags().StringVar(&socketName, "socket", "daemon.sock", "daemon socket file name")
	cmd.Flags().StringVar(&job, "job", "", "job id to query (required)")
	cmd.Flags().StringVar(&node, "node", "", "node id to query (all nodes of job if empty)")
	return cmd
}

func newObjectsCmd() *cobra.Command {
	var storeDir string
	cmd := &cobra.Command{
		Use:   "objects",
		Short: "list objects known to the reference object store's metadata index",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := objectstore.OpenLocalStore(storeDir)
			if err != nil {
				return err
			}
			defer store.Close()

			summaries, err := store.ListObjects()
			if err != nil {
				return err
			}
			for _, s := range summaries {
				fmt.Printf("%s\tetag=%s\ttimestamp=%s\tcontent-type=%s\n",
					s.URL, s.Meta["ETag"], s.Meta["X-Timestamp"], s.Meta["Content-Type"])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&storeDir, "store", "/var/lib/zerovm/objects", "object store directory")
	return cmd
}
