package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mapsync/internal/cache"
	"mapsync/internal/config"
	"mapsync/internal/handler"
	"mapsync/internal/hub"
	"mapsync/internal/overlay"
	"mapsync/internal/positions"
	"mapsync/internal/routestore"
	"mapsync/internal/surface"
	"mapsync/pkg/routing"
	"mapsync/pkg/routing/offline"
	"mapsync/pkg/routing/osrm"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	if envErr != nil {
		logger.Debug("no .env file found, using environment")
	}

	logger.Info("starting mapsync server",
		"log_level", cfg.LogLevel.String(),
		"http_addr", cfg.HTTPAddr,
		"characteristics", cfg.InitialCharacteristics.String(),
		"routing_backend", cfg.RoutingBackend,
		"travel_mode", cfg.TravelMode,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var redisCache *cache.RedisCache
	if cfg.RedisEnabled {
		redisCache, err = cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
		if err != nil {
			logger.Warn("redis unavailable, route cache disabled", "addr", cfg.RedisAddr, "error", err)
			redisCache = nil
		} else {
			defer redisCache.Close()
			logger.Info("route cache enabled", "addr", cfg.RedisAddr, "ttl", cfg.RouteCacheTTL)
		}
	}

	backends := buildBackends(ctx, cfg, redisCache, logger)
	sw := routing.NewSwitch(backends[cfg.RoutingBackend], cfg.TravelMode)

	var store *routestore.Store
	if cfg.PostgresURL != "" {
		pool, err := routestore.ConnectPostgres(ctx, cfg.PostgresURL)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		store = routestore.New(pool, logger)
		if err := store.EnsureSchema(ctx); err != nil {
			logger.Error("failed to prepare route store", "error", err)
			os.Exit(1)
		}
	}

	wsHub := hub.NewHub(logger)
	notifier := hub.NewNotifier(wsHub, logger)
	layers := surface.New(cfg.TileZoomLevel, wsHub)
	loop := overlay.NewLoop(logger)
	list := positions.New()

	engine, err := overlay.NewEngine(ctx, list, layers, sw, loop, notifier, overlay.Options{
		Characteristics:              cfg.InitialCharacteristics,
		ShowAllPositionsAfterLoading: cfg.ShowAllPositionsAfterLoading,
		Route: overlay.RouteOptions{
			InitPoll:    cfg.RoutingInitPoll,
			InitTimeout: cfg.RoutingInitTimeout,
		},
	}, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	go wsHub.Run(ctx)
	go loop.Run(ctx)

	var startErr error
	if err := loop.Do(ctx, func() { startErr = engine.Start() }); err != nil || startErr != nil {
		logger.Error("failed to start engine", "error", err, "start_error", startErr)
		os.Exit(1)
	}

	var flusher handler.CacheFlusher
	if redisCache != nil {
		flusher = redisCache
	}

	positionsHandler := handler.NewPositionsHandler(loop, engine, notifier, cfg.PositionSearchRadius, logger)
	overlayHandler := handler.NewOverlayHandler(loop, engine, layers)
	routingHandler := handler.NewRoutingHandler(loop, engine, sw, backends, flusher, logger)
	statsHandler := handler.NewStatsHandler(loop, engine, layers, wsHub, sw)
	healthHandler := handler.NewHealthHandler(list, sw)
	wsHandler := handler.NewWSHandler(wsHub, layers, cfg.CORSOrigins, logger)

	api := http.NewServeMux()

	api.HandleFunc("GET /v1/positions", positionsHandler.ListPositions)
	api.HandleFunc("POST /v1/positions", positionsHandler.AddPosition)
	api.HandleFunc("PUT /v1/positions", positionsHandler.ReplacePositions)
	api.HandleFunc("DELETE /v1/positions", positionsHandler.DeleteClosest)
	api.HandleFunc("PATCH /v1/positions/{row}", positionsHandler.EditPosition)
	api.HandleFunc("DELETE /v1/positions/{row}", positionsHandler.DeletePosition)
	api.HandleFunc("PUT /v1/selection", positionsHandler.SetSelection)
	api.HandleFunc("GET /v1/characteristics", positionsHandler.GetCharacteristics)
	api.HandleFunc("PUT /v1/characteristics", positionsHandler.SetCharacteristics)

	api.HandleFunc("GET /v1/overlay", overlayHandler.GetOverlay)
	api.HandleFunc("GET /v1/overlay/bounds", overlayHandler.GetBounds)
	api.HandleFunc("GET /v1/metrics", overlayHandler.GetMetrics)

	api.HandleFunc("GET /v1/routing", routingHandler.GetRouting)
	api.HandleFunc("PUT /v1/routing", routingHandler.SetRouting)

	if store != nil {
		routesHandler := handler.NewRoutesHandler(loop, engine, store, logger)
		api.HandleFunc("GET /v1/routes", routesHandler.ListRoutes)
		api.HandleFunc("POST /v1/routes/{name}", routesHandler.SaveRoute)
		api.HandleFunc("PUT /v1/routes/{name}", routesHandler.LoadRoute)
		api.HandleFunc("DELETE /v1/routes/{name}", routesHandler.DeleteRoute)
	}

	api.HandleFunc("GET /v1/stats", statsHandler.GetStats)
	api.HandleFunc("GET /healthz", healthHandler.Healthz)
	api.HandleFunc("GET /readyz", healthHandler.Readyz)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", wsHandler.ServeWS)
	mux.Handle("/", handler.GzipMiddleware(api))

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler.CountRequests(handler.CORSMiddleware(cfg.CORSOrigins)(mux)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	cancel()
	logger.Info("shutdown complete")
}

// buildBackends creates every routing backend the server can switch between
func buildBackends(ctx context.Context, cfg *config.Config, redisCache *cache.RedisCache, logger *slog.Logger) map[string]routing.Service {
	backends := map[string]routing.Service{
		config.BackendBeeline: routing.NewBeeline(),
	}

	osrmClient := osrm.New(cfg.OSRMURL, cfg.OSRMTimeout, logger)
	go osrmClient.WaitReady(ctx, 10*time.Second)
	backends[config.BackendOSRM] = osrmClient

	if cfg.OfflineDataURL != "" || cfg.RoutingBackend == config.BackendOffline {
		offlineService := offline.New(offline.Config{
			BaseURL: cfg.OfflineDataURL,
			DataDir: cfg.OfflineDataDir,
			Zoom:    cfg.OfflineTileZoom,
		}, logger)
		go func() {
			if err := offlineService.Start(ctx); err != nil {
				logger.Error("offline routing failed to start", "error", err)
			}
		}()
		backends[config.BackendOffline] = offlineService
	}

	if redisCache != nil {
		for name, svc := range backends {
			if name == config.BackendBeeline {
				continue
			}
			backends[name] = routing.NewCachedService(svc, redisCache, cfg.RouteCacheTTL, logger)
		}
	}
	return backends
}
