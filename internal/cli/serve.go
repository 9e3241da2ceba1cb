package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scbrown/transcripts/internal/server"
	"github.com/spf13/cobra"
)

var (
	serveAddr string
	serveOut  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve converted documents and the knowledge bank over HTTP",
	Long: `Start a read-only HTTP server over the output directory written by
cct all and the knowledge bank.

The server provides a JSON API at /api/v1/ with endpoints for the master
session index, per-session indexes and pages, and the knowledge bank with
stats and similarity search. A health check is available at /api/v1/health.`,
	Example: `  # Start server on default port
  cct serve

  # Serve another output directory on a custom address
  cct serve --out ./transcripts --addr localhost:9090`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(cmd, "serve")
		if err != nil {
			return err
		}
		backend, err := openBackend()
		if err != nil {
			return err
		}
		defer backend.Close()

		dir := serveOut
		if dir == "" {
			dir = resolvedOutputDir()
		}
		srv := server.New(dir, backend, logger)

		// Listen first so we can report the actual address.
		ln, err := net.Listen("tcp", serveAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", serveAddr, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "cct serve listening on %s (serving %s)\n", ln.Addr(), dir)

		// Graceful shutdown on SIGINT/SIGTERM.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Serve(ln)
		}()

		select {
		case <-ctx.Done():
			fmt.Fprintln(cmd.ErrOrStderr(), "shutting down...")
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		case err := <-errCh:
			return err
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":7273", "address to listen on (host:port)")
	serveCmd.Flags().StringVarP(&serveOut, "out", "o", "", "output directory to serve (default from config, ./transcripts)")
	rootCmd.AddCommand(serveCmd)
}
