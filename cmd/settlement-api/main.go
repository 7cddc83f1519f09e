package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"carbon-scribe/settlement-backend/internal/auth"
	"carbon-scribe/settlement-backend/internal/config"
	"carbon-scribe/settlement-backend/internal/deploy"
	"carbon-scribe/settlement-backend/internal/finality"
	"carbon-scribe/settlement-backend/internal/mirror"
	"carbon-scribe/settlement-backend/internal/notifications/websocket"
	"carbon-scribe/settlement-backend/internal/settlement"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON config file")
	flag.Parse()

	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		boot, _ := zap.NewDevelopment()
		boot.Fatal("Failed to load config", zap.Error(err))
	}

	logger := newLogger(cfg.Logging)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start the ledger and deploy the contracts
	network, err := deploy.StartNetwork(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to start ledger network", zap.Error(err))
	}
	d := network.Deployment
	logger.Info("Contracts deployed",
		zap.String("network", d.Network),
		zap.String("registry", d.RegistryID.String()),
		zap.String("escrow", d.EscrowID.String()),
		zap.String("marketplace", d.MarketplaceID.String()),
		zap.String("token", d.TokenID.String()))

	// Connect to database
	var repo mirror.Repository
	var resolverOpts []finality.Option
	if cfg.Database.Enabled {
		logger.Info("Connecting to database",
			zap.String("host", cfg.Database.Host),
			zap.String("db", cfg.Database.DBName))
		db, err := sqlx.Connect("postgres", cfg.Database.GetDatabaseURL())
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		db.SetMaxOpenConns(cfg.Database.MaxConnections)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.MaxLifetime.Duration)

		audit := finality.NewPostgresAuditStore(db)
		if err := audit.EnsureSchema(ctx); err != nil {
			logger.Fatal("Failed to prepare audit table", zap.Error(err))
		}
		resolverOpts = append(resolverOpts, finality.WithAuditStore(audit))

		gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{})
		if err != nil {
			logger.Fatal("Failed to open mirror", zap.Error(err))
		}
		gormRepo := mirror.NewGormRepository(gdb)
		if err := gormRepo.Migrate(); err != nil {
			logger.Fatal("Failed to migrate mirror", zap.Error(err))
		}
		repo = gormRepo
	} else {
		logger.Warn("Database disabled, dashboards read contract state and submissions are not reconciled")
	}

	resolver := finality.NewResolver(d.Ledger, finality.Config{
		MaxAttempts: cfg.Resolver.MaxAttempts,
		Delay:       cfg.Resolver.Delay.Duration,
		Timeout:     cfg.Resolver.Timeout.Duration,
	}, logger, resolverOpts...)

	hub := websocket.NewManager(logger)
	defer hub.Close()

	service := settlement.NewService(d, resolver, repo, hub, logger)

	if repo != nil && cfg.Reconciler.Enabled {
		reconciler := settlement.NewReconciler(service, repo, cfg.Reconciler.Schedule, logger)
		if err := reconciler.Start(ctx); err != nil {
			logger.Fatal("Failed to start reconciler", zap.Error(err))
		}
		defer reconciler.Stop()
	}

	issuer, err := auth.NewTokenIssuer(cfg.Security.JWTSecret, cfg.Security.TokenIssuer, cfg.Security.TokenTTL.Duration)
	if err != nil {
		logger.Fatal("Failed to create token issuer", zap.Error(err))
	}
	if cfg.Security.DevTokens {
		logger.Warn("Development token endpoint enabled")
	}

	// Setup Router
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger), cors())

	api := router.Group("/api/v1")
	{
		auth.RegisterRoutes(api, auth.NewHandler(issuer, d.Ledger, cfg.Security.DevTokens, logger))
		settlement.NewHandler(service, hub, logger).RegisterRoutes(api, issuer)
	}

	// Health Check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"network":     d.Network,
			"token_id":    d.TokenID,
			"mirror":      repo != nil,
			"connections": hub.GetConnectionCount(),
			"timestamp":   time.Now(),
		})
	})
	router.GET("/deployment", func(c *gin.Context) {
		c.JSON(http.StatusOK, d)
	})

	// Start Server
	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", srv.Addr))

	// Graceful Shutdown
	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exiting")
}

func newLogger(cfg config.LoggingConfig) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if level, err := zapcore.ParseLevel(cfg.Level); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	logger, err := zcfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("Request handled",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// CORS Middleware
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
