package server

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// serve runs the HTTP control surface and blocks until ctx is cancelled.
// Handlers are short; long-running work happens in the background loops.
func (o *Orchestrator) serve(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", o.cfg.Orchestrator.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           o.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		o.log.Info("shutting down control surface")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			o.log.Warn("shutdown error", "error", err)
		}
	}()

	o.log.Info("control surface listening", "addr", addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("control surface: %w", err)
	}
	return nil
}
