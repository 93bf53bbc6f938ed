package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
)

const (
	shutdownTimeout   = 30 * time.Second
	readHeaderTimeout = 10 * time.Second
	apiPrefix         = "/api"
)

func serveCmd(opts *globalOptions) *cobra.Command {
	var (
		addr     string
		inMemory bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			if addr != "" {
				app.cfg.HTTP.Addr = addr
			}

			printBanner(cmd.OutOrStdout())

			if err := app.Start(cmd.Context(), !inMemory); err != nil {
				app.Shutdown()
				return err
			}
			defer app.Shutdown()

			ln, err := net.Listen("tcp", app.cfg.HTTP.Addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", app.cfg.HTTP.Addr, err)
			}
			return serve(cmd.Context(), app, ln)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides http.addr)")
	cmd.Flags().BoolVar(&inMemory, "in-memory", false, "Keep diagrams and history in memory instead of NATS")

	return cmd
}

// serve runs the API on ln until ctx is done, then shuts down gracefully.
func serve(ctx context.Context, app *App, ln net.Listener) error {
	comp, err := app.Component()
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("create generation-api: %w", err)
	}
	if err := comp.Start(ctx); err != nil {
		_ = ln.Close()
		return fmt.Errorf("start generation-api: %w", err)
	}

	mux := http.NewServeMux()
	comp.RegisterHTTPHandlers(apiPrefix, mux)
	mux.Handle("/metrics", promhttp.HandlerFor(app.metrics, promhttp.HandlerOpts{}))

	if n := app.cfg.HTTP.MaxConnections; n > 0 {
		ln = netutil.LimitListener(ln, n)
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	app.logger.Info("Mermaidgen ready",
		"version", Version,
		"addr", ln.Addr().String(),
		"default_model", app.models.Default())

	select {
	case <-ctx.Done():
		app.logger.Info("Received shutdown signal")
	case err := <-errCh:
		_ = comp.Stop(shutdownTimeout)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := comp.Stop(shutdownTimeout); err != nil {
		app.logger.Error("Error stopping generation-api", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("Error stopping HTTP server", "error", err)
	}

	app.logger.Info("Mermaidgen shutdown complete")
	return nil
}
