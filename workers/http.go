package workers

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"mabridge/logger"
	"mabridge/workers/handlers"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

type HTTPConfig struct {
	Listen   string
	UseSSL   bool
	CertFile string
	KeyFile  string
}

func NewRouter(h *handlers.Handlers) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsPreflight)

	// prev. bridge implementation compatibility
	r.Get("/state", h.State)
	r.Get("/health", h.HealthCheck)

	r.Get("/chains", h.Chains)
	r.Route("/chains/{chainId}", func(r chi.Router) {
		r.Get("/", h.Chain)
		r.Get("/swaps/{nonce}", h.Swap)
		r.Get("/redemptions/{nonce}", h.Redemption)
		r.Get("/balance/{side}/{address}", h.Balance)
		r.Post("/redeem", h.Redeem)
	})

	r.Get("/operations/{chainId}/{nonce}", h.Operation)
	r.Get("/stats/{status}", h.OperationsByStatus)

	return r
}

// ServeHTTP serves handler until ctx is cancelled, then shuts down gracefully
func ServeHTTP(ctx context.Context, cfg HTTPConfig, handler http.Handler, lg logger.Logger) error {
	server := &http.Server{
		Addr:    cfg.Listen,
		Handler: handler,
	}

	if cfg.UseSSL {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return fmt.Errorf("error loading certificate: %w", err)
		}
		server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	return serve(ctx, server, cfg.UseSSL, lg)
}

// ServeMetrics exposes gatherer on /metrics of a separate listener
func ServeMetrics(ctx context.Context, listen string, gatherer prometheus.Gatherer, lg logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return serve(ctx, &http.Server{Addr: listen, Handler: mux}, false, lg)
}

func serve(ctx context.Context, server *http.Server, useSSL bool, lg logger.Logger) error {
	errc := make(chan error, 1)
	go func() {
		var err error
		if useSSL {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errc <- fmt.Errorf("error listening to %s: %w", server.Addr, err)
		}
		close(errc)
	}()
	lg.Info("HTTP service started", "addr", server.Addr, "ssl", useSSL)

	select {
	case err, ok := <-errc:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	lg.Info("HTTP service stopped", "addr", server.Addr)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP service shutdown error: %w", err)
	}
	lg.Info("HTTP service shutdown normal", "addr", server.Addr)
	return nil
}

// corsPreflight answers every OPTIONS request, mounted routes included
func corsPreflight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			CORSHeaders(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func CORSHeaders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
	w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, Origin, X-Requested-With")
}
