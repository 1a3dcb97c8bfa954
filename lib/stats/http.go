package stats

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Handler returns an http.Handler serving the Prometheus metrics
func (c *Collector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		c.WritePrometheus(w)
	})
}

// ServeMetrics serves /metrics on the endpoint until the context is cancelled.
// The listener is bound before ServeMetrics returns, errors binding it are returned directly.
func (c *Collector) ServeMetrics(ctx context.Context, endpoint string) (net.Addr, <-chan error, error) {
	listener, err := net.Listen("tcp", endpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on metrics endpoint %s: %w", endpoint, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	done := make(chan error, 1)
	go func() {
		Logger.Infof("Serving metrics on http://%s/metrics", listener.Addr())
		err := srv.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		done <- err
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			Logger.Warningf("Failed to shut down metrics server: %v", err)
		}
	}()

	return listener.Addr(), done, nil
}
