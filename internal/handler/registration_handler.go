package handler

import (
	"net/http"

	"coupon-registration/internal/model"
	"coupon-registration/internal/service"
	apperrors "coupon-registration/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// submitRegistrationHandler handles POST /api/registrations/submit
func submitRegistrationHandler(svc *service.RegistrationService, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req model.SubmitRegistrationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}

		res, err := svc.Submit(c.Request.Context(), &req)
		if err != nil {
			respondError(c, log, err)
			return
		}

		if res.Status == service.SubmitDuplicate {
			c.JSON(http.StatusOK, gin.H{
				"success":      true,
				"exists":       true,
				"message":      "already registered",
				"registration": registrationSummary(res.Registration),
			})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"success":        true,
			"message":        "registration successful",
			"registrationId": res.Registration.ID.Hex(),
			"couponCode":     nullable(res.CouponCode),
			"linkedInUrl":    nullable(res.LinkedInURL),
			"formStats":      res.FormStats,
		})
	}
}

// checkEmailHandler handles POST /api/registrations/check-email
func checkEmailHandler(svc *service.RegistrationService, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req model.CheckEmailRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}

		registration, err := svc.CheckEmail(c.Request.Context(), &req)
		if err != nil {
			respondError(c, log, err)
			return
		}
		respondExists(c, registration)
	}
}

// checkMobileHandler handles POST /api/registrations/check-mobile
func checkMobileHandler(svc *service.RegistrationService, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req model.CheckMobileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}

		registration, err := svc.CheckMobile(c.Request.Context(), &req)
		if err != nil {
			respondError(c, log, err)
			return
		}
		respondExists(c, registration)
	}
}

// trackCouponUsageHandler handles POST /api/registrations/track-coupon
func trackCouponUsageHandler(svc *service.RegistrationService, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req model.TrackUsageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}

		res, err := svc.TrackCouponUsage(c.Request.Context(), &req)
		if err != nil {
			respondError(c, log, err)
			return
		}

		message := "coupon usage recorded"
		if !res.FirstUse {
			message = "coupon usage already recorded"
		}
		c.JSON(http.StatusOK, gin.H{
			"success":      true,
			"message":      message,
			"alreadyUsed":  !res.FirstUse,
			"couponUsedAt": res.Registration.CouponUsedAt,
		})
	}
}

// formStatsHandler handles GET /api/forms/:id/stats
func formStatsHandler(svc *service.RegistrationService, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		formID, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			respondError(c, log, apperrors.ValidationError{Field: "id", Message: "must be a valid form id"})
			return
		}

		stats, err := svc.FormStats(c.Request.Context(), formID)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
	}
}

func respondExists(c *gin.Context, registration *model.Registration) {
	if registration == nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "exists": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"exists":       true,
		"registration": registrationSummary(registration),
	})
}

func registrationSummary(r *model.Registration) gin.H {
	return gin.H{
		"id":          r.ID.Hex(),
		"couponCode":  nullable(r.CouponCode),
		"linkedInUrl": nullable(r.LinkedInURL),
		"couponUsed":  r.CouponUsed,
		"createdAt":   r.CreatedAt,
	}
}

// nullable renders an empty string as JSON null
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
