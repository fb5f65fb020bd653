// Package main boots the catalog store HTTP server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cortega26/elrincondeebano-sub000/internal/config"
	"github.com/cortega26/elrincondeebano-sub000/internal/gate"
	httpapi "github.com/cortega26/elrincondeebano-sub000/internal/http"
	"github.com/cortega26/elrincondeebano-sub000/internal/obs"
	"github.com/cortega26/elrincondeebano-sub000/internal/store"
)

func main() {
	cfg := config.Load()
	obs.InitLogger(cfg.LogFormat)
	obs.Logger.Info("service_starting")

	g := gate.New(cfg.GateQueueCap)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g.Start(ctx)

	st := store.New(store.Options{
		CatalogPath:  cfg.CatalogPath,
		LedgerPath:   cfg.LedgerPath,
		LedgerMax:    cfg.LedgerMax,
		ChangesetMax: cfg.ChangesetCacheMax,
	}, g)

	app := httpapi.NewApp(cfg, st, g)
	mux := httpapi.NewRouter(app)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		obs.Logger.Info("http_listen", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			obs.Logger.Error("http_server_error", "error", err)
			os.Exit(1)
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigc
	obs.Logger.Info("shutdown_signal", "signal", s.String())

	app.StartShutdown()
	obs.Logger.Info("shutdown_drain_begin", "gate_depth", g.Depth())

	ctxDrain, cancelDrain := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelDrain()
	if drained := g.DrainUntil(ctxDrain); !drained {
		obs.Logger.Warn("shutdown_drain_timeout")
	} else {
		obs.Logger.Info("shutdown_drain_complete")
	}

	ctxSrv, cancelSrv := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelSrv()
	if err := srv.Shutdown(ctxSrv); err != nil {
		obs.Logger.Error("http_shutdown_error", "error", err)
	}
	obs.Logger.Info("service_stopped")
}
