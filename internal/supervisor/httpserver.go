// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/eklind/artgrid/internal/config"
	"github.com/eklind/artgrid/internal/logging"
)

// HTTPServerService runs the HTTP server as a suture service. Serve
// blocks until the listener fails or the supervision context is
// canceled, in which case the server drains in-flight requests.
type HTTPServerService struct {
	cfg     config.ServerConfig
	handler http.Handler
}

// NewHTTPServerService wraps handler for supervision.
func NewHTTPServerService(cfg config.ServerConfig, handler http.Handler) *HTTPServerService {
	return &HTTPServerService{cfg: cfg, handler: handler}
}

// Serve implements suture.Service.
func (s *HTTPServerService) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.Timeout,
		// Builds and exports can legitimately outlive the read timeout.
		WriteTimeout: 0,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("HTTP server shutdown incomplete, closing")
			_ = srv.Close()
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *HTTPServerService) String() string {
	return fmt.Sprintf("http-server(%s:%d)", s.cfg.Host, s.cfg.Port)
}
