// Command zvmexec is the storage-node HTTP middleware entrypoint: it
// loads the zerovm_* node configuration, opens the object store, and
// serves the execute/validate/valid-check routes of §6.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	logcli "github.com/apex/log/handlers/cli"
	"github.com/spf13/cobra"

	"github.com/zvm/zvmcore/internal/config"
	"github.com/zvm/zvmcore/internal/middleware"
	"github.com/zvm/zvmcore/internal/objectstore"
	"github.com/zvm/zvmcore/internal/pool"
)

var (
	configPath string
	storeDir   string
	addr       string
)

func main() {
	log.SetHandler(logcli.Default)

	root := &cobra.Command{
		Use:   "zvmexec",
		Short: "storage-node execution middleware",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "/etc/zerovm/zerovm.conf", "node configuration file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "serve the execute/validate HTTP routes",
		RunE:  runServe,
	}
	serve.Flags().StringVar(&storeDir, "store", "/var/lib/zerovm/objects", "object store directory")
	serve.Flags().StringVar(&addr, "addr", ":8090", "listen address")
	root.AddCommand(serve)

	if err := root.Execute(); err != nil {
		log.WithError(err).Fatal("zvmexec")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	specs, err := cfg.Pools()
	if err != nil {
		return err
	}
	pools, err := pool.NewRegistry(specs)
	if err != nil {
		return err
	}

	store, err := objectstore.OpenLocalStore(storeDir)
	if err != nil {
		return err
	}
	defer store.Close()

	h := middleware.New(cfg, pools, store)
	srv := &http.Server{Addr: addr, Handler: h}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("zvmexec: listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		log.Info("zvmexec: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}
