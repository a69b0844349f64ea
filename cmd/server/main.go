package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coupon-registration/internal/handler"
	"coupon-registration/internal/repository"
	"coupon-registration/internal/service"
	"coupon-registration/pkg/config"
	"coupon-registration/pkg/database"
	"coupon-registration/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.AdminToken == "" {
		zl.Warn("ADMIN_TOKEN is empty; admin routes will reject every request")
	}

	// Connect to MongoDB
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mongoDB, err := database.Connect(ctx, cfg.MongoURI, cfg.MongoDB, database.IndexOptions{
		GlobalRegistrationUniqueness: cfg.DuplicateScope == config.ScopeGlobal,
	})
	if err != nil {
		zl.Fatal("Failed to connect to MongoDB", zap.Error(err))
	}
	defer func() {
		if err := mongoDB.Disconnect(context.Background()); err != nil {
			zl.Error("Error disconnecting from MongoDB", zap.Error(err))
		}
	}()

	zl.Info("Connected to MongoDB", zap.String("db", cfg.MongoDB), zap.String("duplicate_scope", cfg.DuplicateScope))

	// Initialize repositories
	couponRepo := repository.NewCouponRepository(mongoDB.Database)
	registrationRepo := repository.NewRegistrationRepository(mongoDB.Database)
	formRepo := repository.NewFormRepository(mongoDB.Database)
	uploadRepo := repository.NewUploadRepository(mongoDB.Database)
	copyEventRepo := repository.NewCopyEventRepository(mongoDB.Database)

	// Initialize services; allocation itself is a single atomic update and needs no transaction
	allocator := service.NewCouponAllocator(couponRepo,
		service.WithRedemptionURL(cfg.RedemptionURLTemplate),
		service.WithAllocatorLogger(zl),
	)
	tracker := service.NewUsageTracker(couponRepo, copyEventRepo, zl)
	registrations := service.NewRegistrationService(registrationRepo, formRepo, allocator, tracker, cfg.DuplicateScope, zl)
	var tx database.Transactor = database.NoTransaction{}
	if cfg.MongoTransactions {
		tx = database.NewUnitOfWork(mongoDB.Client)
	}
	coupons := service.NewCouponService(couponRepo, uploadRepo, formRepo, allocator, tracker, tx, zl)

	router := handler.NewRouter(handler.Services{
		Registrations: registrations,
		Coupons:       coupons,
		Tracker:       tracker,
	}, handler.Options{
		AdminToken:     cfg.AdminToken,
		UploadMaxBytes: cfg.UploadMaxBytes,
	}, zl)

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		zl.Info("Server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zl.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zl.Error("Server forced to shutdown", zap.Error(err))
	}

	zl.Info("Server exited")
}
