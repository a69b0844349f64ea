package handler

import (
	"errors"
	"net/http"

	"coupon-registration/internal/service"
	apperrors "coupon-registration/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// statusFor maps a service error onto an HTTP status
func statusFor(err error) int {
	switch {
	case apperrors.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperrors.ErrForbidden):
		return http.StatusForbidden
	case apperrors.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrFormInactive),
		errors.Is(err, apperrors.ErrCouponInactive),
		errors.Is(err, apperrors.ErrCouponExpired),
		errors.Is(err, apperrors.ErrCouponExhausted),
		errors.Is(err, apperrors.ErrCouponWrongForm),
		errors.Is(err, apperrors.ErrCouponLimitExceeded),
		errors.Is(err, apperrors.ErrEmptyUpload),
		errors.Is(err, apperrors.ErrUnsupportedFile):
		return http.StatusBadRequest
	case apperrors.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes {success:false, message}. Store failures are 500 and
// flagged retryable; their cause stays in the log.
func respondError(c *gin.Context, log *zap.Logger, err error) {
	status := statusFor(err)
	body := gin.H{"success": false, "message": err.Error()}

	var ve apperrors.ValidationError
	if errors.As(err, &ve) {
		body["field"] = ve.Field
	}
	switch {
	case apperrors.IsRetryable(err):
		body["message"] = "temporarily unavailable, please retry"
		body["retryable"] = true
	case status == http.StatusInternalServerError:
		body["message"] = "internal server error"
	}
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.Error(err),
		)
	}

	c.AbortWithStatusJSON(status, body)
}

// respondBindError reports a malformed or invalid request body
func respondBindError(c *gin.Context, err error) {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		ve := service.ValidationErrorFrom(fieldErrs[0])
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": ve.Error(),
			"field":   ve.Field,
		})
		return
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request body"})
}
