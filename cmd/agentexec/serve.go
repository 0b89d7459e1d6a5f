package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hupe1980/agentexec"
	"github.com/hupe1980/agentexec/config"
	"github.com/hupe1980/agentexec/metrics"
	"github.com/hupe1980/agentexec/transport/httpapi"
)

func newServeCmd(load func() (*config.Config, error)) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, the WebSocket event stream and /metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			m := metrics.New(reg)

			ax, cfg, err := build(load, func(o *agentexec.Options) { o.Metrics = m })
			if err != nil {
				return err
			}
			defer ax.Close()

			if addr == "" {
				addr = cfg.Server.Addr
			}
			logger, err := agentexec.NewLogger(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			logger = logger.WithComponent("server")

			handler := httpapi.NewHandler(ax, func(o *httpapi.Options) {
				o.Logger = logger
				o.Mount = func(mux *http.ServeMux) {
					mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
				}
			})
			server := &http.Server{
				Addr:              addr,
				Handler:           handler,
				ReadHeaderTimeout: 5 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("starting http server", "addr", addr)
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http server shutdown error", "error", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	return cmd
}
