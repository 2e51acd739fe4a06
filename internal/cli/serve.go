package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/akx/pipimi/internal/server"
)

// serveCommand creates the serve command.
func (c *CLI) serveCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the resolver as an HTTP JSON API",
		Long: `Serve starts an HTTP server with two routes: POST /resolve runs a full
resolution for the requirements in the request body, GET /healthz reports
liveness. The configured cache backend is shared across requests.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			client, err := c.newRegistry(ctx, false)
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           server.New(client, c.Logger, c.cfg.Resolver.Workers).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
				BaseContext:       func(net.Listener) context.Context { return ctx },
			}

			errc := make(chan error, 1)
			go func() { errc <- srv.ListenAndServe() }()
			c.Logger.Info("listening", "addr", addr)

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
				return ctx.Err()
			case err := <-errc:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8047", "listen address")

	return cmd
}
