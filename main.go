package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"fsim_map/overlay"
	"fsim_map/web"
)

func main() {
	// === Configuration ===

	// The config file is read before the real logger exists, so start-up
	// warnings go to the default logger.
	path := os.Getenv("FSIM_CONFIG")
	if path == "" {
		path = DefaultConfigPath
	}
	cfg, err := loadConfig(path)
	if err != nil {
		slog.Error("Loading configuration failed", slog.Any("error", err))
		os.Exit(1)
	}
	applyEnv(&cfg, slog.Default())
	if err := cfg.validate(); err != nil {
		slog.Error("Invalid configuration", slog.String("path", path), slog.Any("error", err))
		os.Exit(1)
	}

	logger := newLogger(cfg.Log.Level, cfg.Log.Dir)
	slog.SetDefault(logger)
	gin.SetMode(gin.ReleaseMode)

	logger.Info("Starting moving map service...", slog.String("config", path), slog.String("store", cfg.Store))

	// === Graceful Shutdown Setup ===

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// === Position Store ===

	store, err := openStore(cfg.Store, DefaultPosition)
	if err != nil {
		logger.Error("Opening position store failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	if cfg.Snapshot.Path != "" {
		restoreSnapshot(ctx, cfg.Snapshot.Path, store, logger)
	}

	// === Overlay ===

	hub := newFrameHub(logger)
	ctrl := overlay.NewController(cfg.overlayConfig(), hub, logger)

	fetcher := overlay.NewHTTPFetcher(cfg.positionURL(), &http.Client{Timeout: 2 * time.Second})
	poller := overlay.NewPoller(fetcher, logger)
	poller.AddConsumer("MAP", ctrl.Update)

	layers := buildLayers(cfg.Tiles)
	srv := &server{
		cfg:    cfg,
		store:  store,
		ctrl:   ctrl,
		hub:    hub,
		tiles:  newTileProxy(layers, cfg.Tiles.CacheSize, cfg.Tiles.CacheTTL, nil, logger),
		layers: layers,
		static: web.Static(),
		logger: logger,
	}

	// === Run ===

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runAPI(gctx, cfg.HTTPAddr, srv.routes(), logger)
	})
	g.Go(func() error {
		poller.Start(gctx, cfg.UpdateRateHz)
		logger.Info("Position poller started", slog.String("url", fetcher.URL), slog.Float64("rate_hz", cfg.UpdateRateHz))
		<-gctx.Done()
		poller.Stop()
		hub.Close()
		return nil
	})
	if cfg.Snapshot.Path != "" {
		g.Go(func() error {
			return runSnapshotter(gctx, cfg.Snapshot.Path, cfg.Snapshot.Interval, store, logger)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Service stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Service stopped.")
}
