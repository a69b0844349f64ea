package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"coupon-registration/internal/model"
	"coupon-registration/internal/service"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// multipartOverhead is the slack allowed on top of the file size limit for
// the multipart envelope and the formId field
const multipartOverhead = 64 << 10

// validateCouponHandler handles POST /api/coupons/validate
func validateCouponHandler(svc *service.CouponService, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req model.ValidateCouponRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}

		coupon, err := svc.Validate(c.Request.Context(), &req)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "valid": true, "coupon": coupon})
	}
}

// trackCopyHandler handles POST /api/coupons/track-copy.
// Telemetry never fails the client once the body is well formed.
func trackCopyHandler(tracker *service.UsageTracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req model.TrackCopyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}

		tracked := tracker.RecordCopyEvent(c.Request.Context(), req.Code, copyEvent(c, req.CopyEventFields))
		c.JSON(http.StatusOK, gin.H{"success": true, "tracked": tracked})
	}
}

// trackBulkCopyHandler handles POST /api/coupons/track-bulk-copy
func trackBulkCopyHandler(tracker *service.UsageTracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req model.TrackBulkCopyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}

		tracked := tracker.RecordBulkCopyEvents(c.Request.Context(), req.Codes, copyEvent(c, req.CopyEventFields))
		c.JSON(http.StatusOK, gin.H{"success": true, "tracked": tracked})
	}
}

// uploadCouponsHandler handles POST /api/coupons/upload (multipart "file", optional "formId")
func uploadCouponsHandler(svc *service.CouponService, maxBytes int64, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 {
			if c.Request.ContentLength > maxBytes+multipartOverhead {
				respondTooLarge(c, maxBytes)
				return
			}
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+multipartOverhead)
		}

		header, err := c.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				respondTooLarge(c, maxBytes)
				return
			}
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "message": "file is required"})
			return
		}
		if maxBytes > 0 && header.Size > maxBytes {
			respondTooLarge(c, maxBytes)
			return
		}

		file, err := header.Open()
		if err != nil {
			respondError(c, log, fmt.Errorf("open upload: %w", err))
			return
		}
		defer file.Close()

		res, err := svc.Upload(c.Request.Context(), &service.UploadRequest{
			FileName:   header.Filename,
			MimeType:   header.Header.Get("Content-Type"),
			Size:       header.Size,
			Content:    file,
			FormID:     c.PostForm("formId"),
			UploadedBy: c.GetString(userIDKey),
		})
		if err != nil {
			respondError(c, log, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"success":    true,
			"message":    fmt.Sprintf("%d coupons added", res.Added),
			"uploadId":   res.UploadID,
			"added":      res.Added,
			"duplicates": res.Duplicates,
			"errors":     res.Errors,
		})
	}
}

// couponStatsHandler handles GET /api/coupons/stats
func couponStatsHandler(svc *service.CouponService, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := svc.Stats(c.Request.Context())
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
	}
}

// couponDetailsHandler handles GET /api/coupons/:code
func couponDetailsHandler(svc *service.CouponService, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		details, err := svc.Details(c.Request.Context(), c.Param("code"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "details": details})
	}
}

// setCouponStatusHandler handles PATCH /api/coupons/:code/status
func setCouponStatusHandler(svc *service.CouponService, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req model.SetStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}

		coupon, err := svc.SetStatus(c.Request.Context(), c.Param("code"), *req.IsActive)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "coupon": coupon})
	}
}

// availableCouponsHandler handles GET /api/forms/:id/coupons/available
func availableCouponsHandler(svc *service.CouponService, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		available, err := svc.AvailableForForm(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "available": available})
	}
}

// listUploadsHandler handles GET /api/uploads?limit=
func listUploadsHandler(svc *service.CouponService, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var limit int64
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || n < 0 {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "message": "limit must be a non-negative integer"})
				return
			}
			limit = n
		}

		uploads, err := svc.ListUploads(c.Request.Context(), limit)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "uploads": uploads})
	}
}

// purgeUploadHandler handles DELETE /api/uploads/:id?force=true
func purgeUploadHandler(svc *service.CouponService, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		force, _ := strconv.ParseBool(c.DefaultQuery("force", "false"))

		res, err := svc.PurgeUpload(c.Request.Context(), c.Param("id"), force)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "purge": res})
	}
}

func respondTooLarge(c *gin.Context, maxBytes int64) {
	c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
		"success": false,
		"message": fmt.Sprintf("file exceeds the %d byte limit", maxBytes),
	})
}

// copyEvent builds the telemetry record from the request body and the caller
func copyEvent(c *gin.Context, fields model.CopyEventFields) model.CopyEvent {
	event := model.CopyEvent{
		Source:            fields.Source,
		IPAddress:         c.ClientIP(),
		UserAgent:         c.Request.UserAgent(),
		FormSlug:          strings.TrimSpace(fields.FormSlug),
		LinkedInURL:       fields.LinkedInURL,
		ViewTime:          fields.ViewTime,
		FromSuccessBanner: fields.FromSuccessBanner,
	}
	if id, err := primitive.ObjectIDFromHex(strings.TrimSpace(fields.FormID)); err == nil {
		event.FormID = &id
	}
	return event
}
