// Command zvmdaemon is the resident sandbox daemon entrypoint: it
// accepts framed RUN/SPAWN/STOP/PAUSE/STATUS requests on a Unix socket
// and starts a fresh sandbox child process for each SPAWN or RUN
// manifest, per §4.7.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	logcli "github.com/apex/log/handlers/cli"
	"github.com/spf13/cobra"

	"github.com/zvm/zvmcore/internal/daemon"
)

var (
	socketPath string
	tmpDir     string
	statsDir   string
	killGrace  time.Duration
)

func main() {
	log.SetHandler(logcli.Default)

	root := &cobra.Command{
		Use:   "zvmdaemon",
		Short: "resident sandbox daemon",
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "accept daemon requests on a Unix socket",
		RunE:  runServe,
	}
	serve.Flags().StringVar(&socketPath, "socket", "/tmp/zvm-sockets/daemon.sock", "Unix socket path to listen on")
	serve.Flags().StringVar(&tmpDir, "tmp-dir", "/tmp/zvm-daemon", "scratch directory for received manifests")
	serve.Flags().StringVar(&statsDir, "stats-dir", "/tmp/zvm-stats", "directory flushed executor stats are written under")
	serve.Flags().DurationVar(&killGrace, "kill-grace", time.Second, "SIGTERM-to-SIGKILL grace period")
	root.AddCommand(serve)

	if err := root.Execute(); err != nil {
		log.WithError(err).Fatal("zvmdaemon")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(tmpDir, 0o700); err != nil {
		return err
	}
	if err := os.MkdirAll(statsDir, 0o700); err != nil {
		return err
	}

	srv := daemon.NewServer(socketPath, tmpDir, statsDir, killGrace)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithField("socket", socketPath).Info("zvmdaemon: listening")
	return srv.Serve(ctx)
}
