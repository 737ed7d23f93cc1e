// Package app wires the qrtrack server runtime: config, logging, metrics,
// stores, the QR session lifecycle, HTTP routes, and the realtime gateway.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"qrtrack/cmd/internal/directory"
	"qrtrack/cmd/internal/httpapi"
	"qrtrack/cmd/internal/qr"
	"qrtrack/cmd/internal/realtime"
	"qrtrack/cmd/internal/scan"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the qrtrack server runtime.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	lifecycle *qr.Service
	api       *httpapi.Handler
	ws        *realtime.WSGateway
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	qrCfg, err := qr.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	apiCfg, err := httpapi.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if qrCfg.AllowMultiScan {
		log.Warn("qr.multi_scan_enabled", "note", "single-use gate bypassed; test/demo only")
	}

	st, dbPool, dbEnabled, backends, err := newStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	codec, err := qr.NewPasetoV4LocalCodec(qrCfg)
	if err != nil {
		return nil, err
	}
	if qrCfg.KeyHex == "" {
		log.Warn("qr.key.ephemeral", "note", "tokens will not survive a restart; set QRTRACK_QR_KEY_HEX")
	}

	hub := realtime.NewHub(log)
	ws := realtime.NewWSGateway(log, hub, apiCfg.RoleTokens())

	metrics := NewMetrics(prometheus.DefaultRegisterer, hub.ClientCount)

	lifecycle := qr.NewService(qrCfg, log, backends.sessions, codec, backends.ledger, backends.companies, hub, metrics)

	api, err := httpapi.NewHandler(log, apiCfg, lifecycle, backends.ledger, backends.companies, backends.displays)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:       cfg,
		log:       log,
		store:     st,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		lifecycle: lifecycle,
		api:       api,
		ws:        ws,
	}, nil
}

// Run starts the sweep loop and the HTTP server, and blocks until context
// cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go a.lifecycle.RunSweeper(sweepCtx)

	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.api, a.ws)

	var handler http.Handler = mux
	handler = WithCORS(handler, a.cfg, a.log)
	handler = WithSecurityHeaders(handler)
	handler = WithRequestLogging(handler, a.log)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 60*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 60*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 120*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"base_url", base,
		"ws_url", wsBaseURL(base)+"/ws",
		"db_enabled", a.dbEnabled,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL derives a human-usable base URL from a bind address.
// Wildcard binds map to loopback for local tooling.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return "http://" + host + ":" + port
}

// wsBaseURL converts an http(s) base URL to its ws(s) counterpart.
func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}

// backends groups the domain stores behind one wiring decision.
type backends struct {
	sessions  qr.Store
	ledger    scan.Ledger
	companies directory.CompanyStore
	displays  directory.DisplayStore
}

// newStore decides between Postgres-backed persistence and in-memory dev
// stores.
func newStore(ctx context.Context, cfg Config, log Logger) (Store, *pgxpool.Pool, bool, backends, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")

		dir := directory.NewInMemoryStore()
		b := backends{
			sessions:  qr.NewInMemoryStore(),
			ledger:    scan.NewInMemoryLedger(),
			companies: dir,
			displays:  dir.Displays(),
		}
		return nopStore{}, nil, false, b, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, backends{}, err
	}

	log.Info("db.enabled.postgres_store")

	dir := directory.NewPostgresStore(pool)
	b := backends{
		sessions:  qr.NewPostgresStore(pool),
		ledger:    scan.NewPostgresLedger(pool),
		companies: dir,
		displays:  dir.Displays(),
	}

	// Ownership model: app owns the pool lifecycle; the stores hold it
	// without closing it.
	return dbStore{pool: pool}, pool, true, b, nil
}

type dbStore struct {
	pool *pgxpool.Pool
}

func (s dbStore) Close(_ context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
