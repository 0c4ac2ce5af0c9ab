package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"bookreview/internal/auth"
	"bookreview/internal/books"
	"bookreview/internal/grpcserver"
	"bookreview/internal/ratelimit"
	"bookreview/internal/reconcile"
	"bookreview/internal/reviews"
	"bookreview/internal/storage"
	synchub "bookreview/internal/sync"
	"bookreview/pkg/utils"
)

const serviceName = "bookreview-api"

func main() {
	configPath := flag.String("config", "", "path to config.yaml (defaults to BOOKREVIEW_CONFIG or ./config.yaml)")
	flag.Parse()

	cfg, err := utils.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	utils.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	openCtx, cancelOpen := context.WithTimeout(ctx, 15*time.Second)
	stores, err := storage.Open(openCtx, cfg)
	cancelOpen()
	if err != nil {
		slog.Error("store open failed", "store", cfg.Store, "err", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := stores.Close(closeCtx); err != nil {
			slog.Warn("store close failed", "err", err)
		}
	}()

	if cfg.ReconcileCron != "" {
		sched, err := reconcile.Start(cfg.ReconcileCron, stores.Reviews)
		if err != nil {
			slog.Error("reconcile init failed", "err", err)
			os.Exit(1)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			sched.Stop(stopCtx)
		}()
	}

	hub := synchub.NewHub()

	var guard gin.HandlerFunc
	var limiter *ratelimit.FixedWindowLimiter
	if cfg.RedisAddr != "" && cfg.AuthRateLimit > 0 {
		limiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "bookreview:auth", cfg.AuthRateLimit, cfg.AuthRateWindow())
		if err != nil {
			slog.Error("rate limiter init failed", "err", err)
			os.Exit(1)
		}
		defer limiter.Close()
		guard = ratelimit.Middleware(limiter)
		slog.Info("auth rate limiting enabled", "limit", cfg.AuthRateLimit, "window", cfg.AuthRateWindow())
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), utils.RequestID(), utils.RequestLog(serviceName), utils.CORS(cfg.AllowedOrigins))
	_ = router.SetTrustedProxies([]string{"127.0.0.1"})

	router.GET("/ws", synchub.WSHandler(hub, cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "store": stores.Kind})
	})

	router.GET("/ready", func(c *gin.Context) {
		stats := hub.Stats()
		pingCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := stores.Ping(pingCtx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":      "not_ready",
				"store_error": err.Error(),
				"tcp_clients": stats.TCPClients,
				"ws_clients":  stats.WSClients,
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":      "ready",
			"store":       stores.Kind,
			"tcp_clients": stats.TCPClients,
			"ws_clients":  stats.WSClients,
		})
	})

	authCfg := cfg.Auth()
	tokens := auth.TokenService{
		Secret:   []byte(authCfg.JWTSecret),
		Issuer:   authCfg.JWTIssuer,
		Duration: authCfg.JWTDuration,
	}
	authMW := auth.AuthMiddleware(tokens, stores.Users)

	api := router.Group("/api")

	userHandler := auth.NewHandler(stores.Users, tokens)
	userHandler.Guard = guard
	userHandler.IsAdmin = cfg.IsAdminEmail
	userHandler.RegisterRoutes(api.Group("/users"))

	books.NewHandler(stores.Books, hub).RegisterRoutes(api.Group("/books"), authMW)
	reviews.NewHandler(stores.Reviews, hub).RegisterRoutes(api.Group("/reviews"), authMW)

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 3)
	var wg sync.WaitGroup

	var tcpSrv *synchub.Server
	if cfg.FeedTCPAddr != "" {
		tcpSrv = synchub.NewServer(cfg.FeedTCPAddr, hub)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tcpSrv.Run(); err != nil {
				errCh <- err
			}
		}()
	}

	grpcCtx, stopGRPC := context.WithCancel(context.Background())
	defer stopGRPC()
	if cfg.GRPCAddr != "" {
		checks := map[string]grpcserver.Check{"store": stores.Ping}
		if limiter != nil {
			checks["redis"] = limiter.Ping
		}
		healthSrv := grpcserver.New(checks)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := healthSrv.Run(grpcCtx, cfg.GRPCAddr); err != nil {
				errCh <- err
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("http api listening", "addr", httpSrv.Addr, "store", stores.Kind)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		slog.Error("server error", "err", err)
	}

	slog.Info("shutting down servers")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	if tcpSrv != nil {
		if err := tcpSrv.Close(); err != nil {
			slog.Warn("tcp shutdown error", "err", err)
		}
	}
	stopGRPC()

	wg.Wait()
	slog.Info("servers stopped")
}
