// Spool is a print dispatch service for networked receipt printers.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"spool/internal/api"
	"spool/internal/audit"
	"spool/internal/config"
	"spool/internal/logging"
	"spool/internal/metrics"
	"spool/internal/middleware"
	"spool/internal/presence"
	"spool/internal/queue"
	"spool/internal/registry"
	"spool/internal/render"
	"spool/pkg/auth"
)

// shutdownBudget bounds the post-signal drain of in-flight requests.
const shutdownBudget = 20 * time.Second

// newMux assembles the routing table. The rate limiter guards only the
// intake endpoint; printer polls are background fleet load and pass
// untouched.
func newMux(ap *api.API, limiter *middleware.RateLimiter) http.Handler {
	mux := http.NewServeMux()
	ap.Register(mux)
	mux.Handle("/metrics", metrics.Handler())

	if limiter == nil {
		return mux
	}
	limited := limiter.Middleware(mux)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/print" {
			limited.ServeHTTP(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})
}

// redirectToHTTPS answers every request with a 308 to the HTTPS listener.
// 308 keeps the method, so a printer POST stays a POST after the hop.
func redirectToHTTPS(httpsPort string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if httpsPort != "443" {
			host = net.JoinHostPort(host, httpsPort)
		}
		target := "https://" + host + r.URL.RequestURI()
		http.Redirect(w, r, target, http.StatusPermanentRedirect)
	})
}

// tlsAvailable reports whether both certificate and key exist on disk.
func tlsAvailable(cert, key string) bool {
	if cert == "" || key == "" {
		return false
	}
	if _, err := os.Stat(cert); err != nil {
		return false
	}
	if _, err := os.Stat(key); err != nil {
		return false
	}
	return true
}

func newServer(port string, handler http.Handler) *http.Server {
	if !strings.Contains(port, ":") {
		port = ":" + port
	}
	return &http.Server{
		Addr:              port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	logger := logging.New(cfg.LogLevel)
	slog.SetDefault(logger)
	cfg.Log(logger)

	// Context governing the background workers: sweeper, mapping loader,
	// audit writer.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	// Device-to-tenant mapping and its refresh loop.
	reg := registry.New()
	loader := registry.NewLoader(reg, registry.LoaderConfig{
		URL:      cfg.ConfigURL,
		Refresh:  cfg.ConfigRefresh,
		Throttle: cfg.ConfigThrottle,
	}, logger)
	if cfg.MappingFile != "" {
		bindings, err := registry.LoadMappingFile(cfg.MappingFile)
		if err != nil {
			logger.Error("failed to load mapping file", "path", cfg.MappingFile, "error", err)
			os.Exit(1)
		}
		loader.SeedFallback(bindings)
	}

	// Queue, presence, history.
	store := queue.NewStore(reg)
	history := queue.NewHistory()
	tracker := presence.New(cfg.PollWindow)

	// Audit sink: SQLite when a path is configured, otherwise a no-op.
	var sink audit.Sink = audit.NopSink{}
	var sqliteSink *audit.SQLiteSink
	if cfg.AuditDB != "" {
		sqliteSink, err = audit.OpenSQLite(workerCtx, cfg.AuditDB, logger)
		if err != nil {
			logger.Error("failed to open audit database", "path", cfg.AuditDB, "error", err)
			os.Exit(1)
		}
		sink = sqliteSink
	}

	// Background recovery of stalled deliveries.
	sweeper := queue.NewSweeper(store, history, sink, logger, queue.SweeperConfig{
		Interval:     cfg.SweepInterval,
		OfferTimeout: cfg.OfferTimeout,
		SentTimeout:  cfg.SentTimeout,
	})
	go sweeper.Run(workerCtx)
	go loader.Run(workerCtx)

	// Receipt rendering pool.
	broker := render.NewBroker(render.TicketRenderer{}, logger, render.Config{
		Workers: cfg.RenderWorkers,
		Timeout: cfg.RenderTimeout,
	})

	deps := api.Deps{
		Registry: reg,
		Store:    store,
		History:  history,
		Presence: tracker,
		Sweeper:  sweeper,
		Broker:   broker,
		Loader:   loader,
		Sink:     sink,
	}
	if sqliteSink != nil {
		deps.Trail = sqliteSink
	}

	// Operators sometimes put the plaintext token in ADMIN_TOKEN_HASH;
	// accept it but never hold it unhashed.
	adminHash := cfg.AdminTokenHash
	if adminHash != "" && !auth.IsHashed(adminHash) {
		logger.Warn("ADMIN_TOKEN_HASH is not a bcrypt hash, hashing it in memory")
		adminHash, err = auth.HashToken(adminHash)
		if err != nil {
			logger.Error("failed to hash admin token", "error", err)
			os.Exit(1)
		}
	}
	ap := api.New(deps, adminHash, logger)

	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{Logger: logger})
	root := newMux(ap, limiter)

	httpHandler := middleware.Chain(root,
		middleware.RequestLog(logger),
		middleware.SecurityHeaders(middleware.DefaultSecurityHeadersConfig()),
	)

	errCh := make(chan error, 2)

	// HTTPS serves when the certificate pair exists; HSTS only there.
	var httpsSrv *http.Server
	if tlsAvailable(cfg.TLSCert, cfg.TLSKey) {
		hstsCfg := middleware.DefaultSecurityHeadersConfig()
		hstsCfg.EnableHSTS = true
		httpsHandler := middleware.Chain(root,
			middleware.RequestLog(logger),
			middleware.SecurityHeaders(hstsCfg),
		)
		httpsSrv = newServer(cfg.HTTPSPort, httpsHandler)
		go func() {
			logger.Info("HTTPS server listening", "port", cfg.HTTPSPort)
			if err := httpsSrv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("https server error: %w", err)
			}
		}()
	} else if cfg.ForceHTTPToHTTPS {
		logger.Warn("FORCE_HTTP_TO_HTTPS set but TLS certificate pair is missing, serving plain HTTP",
			"tls_cert", cfg.TLSCert, "tls_key", cfg.TLSKey)
	}

	// Plain HTTP always listens; with HTTPS up and redirect forced it only
	// bounces callers across.
	if cfg.ForceHTTPToHTTPS && httpsSrv != nil {
		httpHandler = middleware.Chain(redirectToHTTPS(cfg.HTTPSPort),
			middleware.RequestLog(logger),
		)
	}
	httpSrv := newServer(cfg.Port, httpHandler)
	go func() {
		logger.Info("HTTP server listening", "port", cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-errCh:
		logger.Error("server error", "error", err)
	}

	// Stop accepting and drain in-flight requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownBudget)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if httpsSrv != nil {
		if err := httpsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("https shutdown failed", "error", err)
		}
	}

	// Stop the sweeper, loader, and audit writer, then flush what remains.
	workerCancel()
	limiter.Stop()
	broker.Close()
	if sqliteSink != nil {
		if err := sqliteSink.Close(); err != nil {
			logger.Error("audit sink close failed", "error", err)
		}
	}

	logger.Info("server exited")
}
