package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/flock/internal/printer"
	"github.com/dyluth/flock/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the batch API over HTTP",
	Long: `Serve batch control and polling over HTTP.

Clients identify themselves with the X-Flock-Session header. The session that
starts a batch drives it by polling GET /batches/{id}; other sessions only
observe its progress.

Endpoints:
  GET  /healthz
  GET  /migrations
  POST /migrations/{id}/{action}   (import, rollback, rollback-and-import, refresh)
  POST /batches/all/import
  GET  /batches/{id}
  POST /batches/stop`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := a.Config.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	srv := &http.Server{
		Addr: addr,
		Handler: server.New(server.Config{
			Manager:    a.Manager,
			Repository: a.Repository,
			Store:      a.Store,
			Logger:     a.Log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	printer.Success("serving instance %s on http://%s\n", a.Config.Instance, addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return printer.Error("server failed", err.Error(), []string{"Pick another address with --addr"})
	}
	return nil
}
