package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chordcast/ChordCast/backend/go/internal/v1/assets"
	"github.com/chordcast/ChordCast/backend/go/internal/v1/auth"
	"github.com/chordcast/ChordCast/backend/go/internal/v1/cache"
	"github.com/chordcast/ChordCast/backend/go/internal/v1/config"
	"github.com/chordcast/ChordCast/backend/go/internal/v1/health"
	"github.com/chordcast/ChordCast/backend/go/internal/v1/httpapi"
	"github.com/chordcast/ChordCast/backend/go/internal/v1/hub"
	"github.com/chordcast/ChordCast/backend/go/internal/v1/logging"
	"github.com/chordcast/ChordCast/backend/go/internal/v1/middleware"
	"github.com/chordcast/ChordCast/backend/go/internal/v1/ratelimit"
	"github.com/chordcast/ChordCast/backend/go/internal/v1/store"
	"github.com/chordcast/ChordCast/backend/go/internal/v1/tracing"
)

func main() {
	// Load .env for local development; in deployments the environment is
	// injected directly.
	if err := godotenv.Load(); err == nil {
		fmt.Println("loaded environment from .env")
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logger:", err)
		os.Exit(1)
	}
	ctx := context.Background()
	logging.Info(ctx, "configuration validated",
		zap.String("port", cfg.Port),
		zap.Int("websocket_port", cfg.WebSocketPort),
		zap.Bool("redis_enabled", cfg.RedisEnabled),
		zap.String("drop_policy", cfg.DropPolicy),
		zap.Int("send_queue_max", cfg.SendQueueMax))

	if !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}

	// --- Tracing ---
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chordcast-backend", cfg.OTelCollectorAddr)
		if err != nil {
			logging.Error(ctx, "failed to initialize tracing, continuing without", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	// --- Identity verifier ---
	var verifier auth.Verifier
	if cfg.SkipAuth {
		logging.Warn(ctx, "authentication DISABLED for development - DO NOT USE IN PRODUCTION")
		verifier = &auth.MockVerifier{}
	} else {
		v, err := auth.NewValidator(ctx, cfg.AuthDomain, cfg.AuthAudience)
		if err != nil {
			logging.Fatal(ctx, "failed to create auth validator", zap.Error(err))
		}
		verifier = v
		logging.Info(ctx, "auth validator initialized", zap.String("domain", cfg.AuthDomain))
	}

	// --- Store ---
	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		logging.Fatal(ctx, "failed to open store", zap.Error(err))
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		logging.Fatal(ctx, "failed to migrate store", zap.Error(err))
	}

	// --- Cache (optional) ---
	var redisCache *cache.Cache
	if cfg.RedisEnabled {
		redisCache, err = cache.New(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logging.Fatal(ctx, "failed to connect to redis", zap.Error(err))
		}
		defer redisCache.Close()
	}

	// --- Rate limiting ---
	limiter, err := ratelimit.NewRateLimiter(cfg, redisCache.Client())
	if err != nil {
		logging.Fatal(ctx, "failed to build rate limiter", zap.Error(err))
	}

	allowedOrigins := auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})

	// --- Broadcast fabric ---
	broadcastHub := hub.NewHub(verifier, hub.Options{
		RequestIDHeader:                cfg.RequestIDHeader,
		SendQueueMax:                   cfg.SendQueueMax,
		CoalesceWindow:                 cfg.CoalesceWindow,
		DropPolicy:                     hub.DropPolicy(cfg.DropPolicy),
		AutoFragmentSize:               cfg.AutoFragmentSize,
		MaxMessageBytes:                cfg.MaxMessageBytes,
		YieldThresholdBytes:            cfg.YieldThresholdBytes,
		SlowClientDisconnectAfterDrops: cfg.SlowClientDisconnectAfterDrops,
		CoalesceTypes:                  cfg.CoalesceTypes,
		ReadIdleTimeout:                cfg.ReadIdleTimeout,
		AllowedOrigins:                 allowedOrigins,
		ConnectLimit:                   limiter.CheckWebSocketUser,
	})

	// --- Control plane ---
	healthHandler := health.NewHandler(map[string]health.Pinger{
		"database": db,
		"redis":    redisCache,
	})

	apiRouter := httpapi.NewRouter(httpapi.Deps{
		Rooms:           db,
		Songs:           db,
		Playlists:       db,
		Hub:             broadcastHub,
		Verifier:        verifier,
		Assets:          assets.NewLibrary(cfg.SongsImgDir, cfg.SongsPDFDir),
		Cache:           redisCache,
		Limiter:         limiter,
		Health:          healthHandler,
		RequestIDHeader: cfg.RequestIDHeader,
		AllowedOrigins:  allowedOrigins,
	})

	// --- WebSocket listener ---
	wsRouter := gin.New()
	wsRouter.Use(gin.Recovery())
	wsRouter.Use(middleware.RequestID(cfg.RequestIDHeader))
	wsRouter.GET("/", func(c *gin.Context) {
		if !limiter.CheckWebSocketIP(c) {
			return
		}
		broadcastHub.ServeWs(c)
	})

	apiSrv := &http.Server{Addr: ":" + cfg.Port, Handler: apiRouter}
	wsSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.WebSocketPort), Handler: wsRouter}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Info(gctx, "API server starting", zap.String("addr", apiSrv.Addr))
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logging.Info(gctx, "WebSocket server starting", zap.String("addr", wsSrv.Addr))
		if err := wsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("websocket server: %w", err)
		}
		return nil
	})

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		logging.Info(ctx, "shutdown signal received")
	case <-gctx.Done():
		logging.Error(ctx, "server exited early")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	broadcastHub.Close()
	if err := wsSrv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "websocket server forced to shutdown", zap.Error(err))
	}
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "api server forced to shutdown", zap.Error(err))
	}

	if err := g.Wait(); err != nil {
		logging.Error(ctx, "server error", zap.Error(err))
	}
	logging.Info(ctx, "server exiting")
}
