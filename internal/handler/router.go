package handler

import (
	"net/http"

	"coupon-registration/internal/service"
	"coupon-registration/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Services are the application services the HTTP layer exposes
type Services struct {
	Registrations *service.RegistrationService
	Coupons       *service.CouponService
	Tracker       *service.UsageTracker
}

// Options configures the router
type Options struct {
	AdminToken     string
	UploadMaxBytes int64
}

// NewRouter builds the gin engine with every public and admin route
func NewRouter(svc Services, opts Options, l *zap.Logger) *gin.Engine {
	log := logger.OrNop(l)
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		service.UseJSONFieldNames(v)
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(log))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		api.POST("/registrations/submit", submitRegistrationHandler(svc.Registrations, log))
		api.POST("/registrations/check-email", checkEmailHandler(svc.Registrations, log))
		api.POST("/registrations/check-mobile", checkMobileHandler(svc.Registrations, log))
		api.POST("/registrations/track-coupon", trackCouponUsageHandler(svc.Registrations, log))
		api.GET("/forms/:id/stats", formStatsHandler(svc.Registrations, log))

		api.POST("/coupons/validate", validateCouponHandler(svc.Coupons, log))
		api.POST("/coupons/track-copy", trackCopyHandler(svc.Tracker))
		api.POST("/coupons/track-bulk-copy", trackBulkCopyHandler(svc.Tracker))
	}

	admin := api.Group("", AdminOnly(opts.AdminToken))
	{
		admin.POST("/coupons/upload", uploadCouponsHandler(svc.Coupons, opts.UploadMaxBytes, log))
		admin.GET("/coupons/stats", couponStatsHandler(svc.Coupons, log))
		admin.GET("/coupons/:code", couponDetailsHandler(svc.Coupons, log))
		admin.PATCH("/coupons/:code/status", setCouponStatusHandler(svc.Coupons, log))
		admin.GET("/forms/:id/coupons/available", availableCouponsHandler(svc.Coupons, log))
		admin.GET("/uploads", listUploadsHandler(svc.Coupons, log))
		admin.DELETE("/uploads/:id", purgeUploadHandler(svc.Coupons, log))
	}

	return router
}
