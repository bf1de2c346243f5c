// SPDX-License-Identifier: MIT

package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ListenAndServeReady serves the scrape endpoint on the configured bind.
// It binds synchronously before returning so a port-in-use error surfaces
// immediately rather than being discovered later on ctx.Done(), and
// signals readiness on the ready channel once bound.
func (c *Collector) ListenAndServeReady(ctx context.Context, bindHost string, bindPort int, path string, ready chan<- struct{}) error {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf("%s:%d", bindHost, bindPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics: bind %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	if ready != nil {
		close(ready)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	return <-errCh
}

// ScrapeService adapts ListenAndServeReady onto the supervisor.Service
// interface (Run(ctx) error, Name() string) so the scrape endpoint is one
// more task in the same supervision tree as the tick and the probes.
type ScrapeService struct {
	collector *Collector
	bindHost  string
	bindPort  int
	path      string
}

// NewScrapeService builds a ScrapeService bound to the given host/port/path.
func NewScrapeService(collector *Collector, bindHost string, bindPort int, path string) *ScrapeService {
	return &ScrapeService{collector: collector, bindHost: bindHost, bindPort: bindPort, path: path}
}

// Name identifies this task to the supervision tree.
func (s *ScrapeService) Name() string { return "scrape-server" }

// Run serves the scrape endpoint until ctx is cancelled.
func (s *ScrapeService) Run(ctx context.Context) error {
	return s.collector.ListenAndServeReady(ctx, s.bindHost, s.bindPort, s.path, nil)
}
