package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"script-desk/internal/config"
	"script-desk/internal/db"
	"script-desk/internal/lease"
	"script-desk/internal/logger"
	"script-desk/internal/metrics"
	"script-desk/internal/middleware"
	"script-desk/internal/script"
	"script-desk/internal/worker"
	"script-desk/redis"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	// Load configuration
	config.LoadConfig()

	zl, err := logger.New(config.AppConfig.Environment, config.AppConfig.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync()

	// Connect to database
	if err := db.ConnectDb(zl); err != nil {
		zl.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.CloseDb(zl)

	// Migrate database schema
	if err := db.Migrate(zl); err != nil {
		zl.Fatal("failed to migrate database", zap.Error(err))
	}

	// Seed database with initial data (for development)
	if config.AppConfig.Environment == "development" {
		db.SeedData(zl)
	}

	// Redis backs the version list cache and, optionally, leases
	redisClient, err := redis.NewClient(config.AppConfig.RedisAddress)
	if err != nil {
		if config.AppConfig.LeaseBackend == "redis" {
			zl.Fatal("redis lease backend selected but redis is unreachable", zap.Error(err))
		}
		zl.Warn("redis unavailable, version list cache disabled", zap.Error(err))
	} else {
		defer redisClient.Close()
	}

	leases, err := newLeaseManager(config.AppConfig, db.AppDb, redisClient)
	if err != nil {
		zl.Fatal("failed to set up leases", zap.Error(err))
	}
	zl.Info("lease backend ready",
		zap.String("backend", config.AppConfig.LeaseBackend),
		zap.Duration("ttl", config.AppConfig.LeaseTTL))

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	pool := worker.NewWorkerPool(config.AppConfig.WorkerPoolSize, 100, 5*time.Second, zl)
	defer pool.Shutdown()

	// Initialize repository
	scriptRepo := script.NewRepository(db.AppDb)
	// Initialize service
	scriptService := script.NewService(
		scriptRepo,
		leases,
		redis.NewCache(redisClient),
		pool,
		m,
		zl,
		script.Options{
			CommitMaxAttempts: config.AppConfig.CommitMaxAttempts,
			VersionCacheTTL:   config.AppConfig.VersionCacheTTL,
		},
	)
	// Initialize handler
	scriptHandler := script.NewHandler(scriptService)

	if config.AppConfig.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(zl, m))
	router.Use(middleware.ErrorHandler(zl))

	// cors setting
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}

	if config.AppConfig.Environment == "development" {
		// Allow all origins in development
		corsConfig.AllowAllOrigins = true
	} else {
		// Restrict origins in production
		corsConfig.AllowOrigins = []string{config.AppConfig.FrontendAddress}
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", healthHandler(db.AppDb))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authMiddleware := &middleware.Auth{Secret: []byte(config.AppConfig.JWTSecret)}
	api := router.Group("/api", authMiddleware.AuthMiddleWare())
	scriptHandler.RegisterRoutes(api)

	// Server configuration
	serverPort := config.AppConfig.ServerPort
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", serverPort),
		Handler: router.Handler(),
	}

	// Start server
	go func() {
		zl.Info("server listening", zap.String("port", serverPort))
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			zl.Fatal("server failed to start", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zl.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		zl.Error("server shutdown error", zap.Error(err))
	}
	zl.Info("server shutdown complete")
}

func newLeaseManager(cfg config.Config, conn *gorm.DB, rc *goredis.Client) (lease.Manager, error) {
	switch cfg.LeaseBackend {
	case "postgres", "":
		return lease.NewGormManager(conn, cfg.LeaseTTL, nil), nil
	case "redis":
		return lease.NewRedisManager(rc, cfg.LeaseTTL, nil), nil
	}
	return nil, fmt.Errorf("unknown LEASE_BACKEND %q", cfg.LeaseBackend)
}

func healthHandler(conn *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := conn.DB()
		if err == nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
