package model

import "time"

// SubmitRegistrationRequest represents a registration form submission
type SubmitRegistrationRequest struct {
	Email          string                 `json:"email" binding:"required,email"`
	Mobile         string                 `json:"mobile" binding:"required,len=10,number"`
	FormSlug       string                 `json:"formSlug" binding:"required"`
	Name           string                 `json:"name" binding:"max=200"`
	College        string                 `json:"college"`
	RegisterNumber string                 `json:"register_number"`
	YOP            string                 `json:"yop"`
	Location       *Location              `json:"location"`
	DynamicFields  map[string]interface{} `json:"dynamicFields"`
}

// CheckEmailRequest asks whether an email already registered
type CheckEmailRequest struct {
	Email string `json:"email" binding:"required,email"`
	Slug  string `json:"slug" binding:"required"`
}

// CheckMobileRequest asks whether a mobile number already registered
type CheckMobileRequest struct {
	Mobile string `json:"mobile" binding:"required,len=10,number"`
	Slug   string `json:"slug" binding:"required"`
}

// TrackUsageRequest marks a registration's coupon as redeemed
type TrackUsageRequest struct {
	Email           string   `json:"email" binding:"required,email"`
	CouponCode      string   `json:"couponCode" binding:"required"`
	Slug            string   `json:"slug" binding:"required"`
	DiscountApplied *float64 `json:"discountApplied" binding:"omitempty,gte=0"`
}

// ValidateCouponRequest represents the request to validate a coupon code
type ValidateCouponRequest struct {
	Code   string `json:"code" binding:"required"`
	FormID string `json:"formId"`
}

// CopyEventFields are the telemetry fields shared by single and bulk copy tracking.
type CopyEventFields struct {
	Source            string     `json:"source"`
	FormID            string     `json:"formId"`
	FormSlug          string     `json:"formSlug"`
	LinkedInURL       string     `json:"linkedInUrl"`
	ViewTime          *time.Time `json:"viewTime"`
	FromSuccessBanner bool       `json:"fromSuccessBanner"`
}

// TrackCopyRequest records a copy of a single coupon code
type TrackCopyRequest struct {
	Code string `json:"code" binding:"required"`
	CopyEventFields
}

// TrackBulkCopyRequest records a copy of several coupon codes at once
type TrackBulkCopyRequest struct {
	Codes []string `json:"codes" binding:"required,min=1,max=500,dive,required"`
	CopyEventFields
}

// SetStatusRequest toggles a coupon's active flag
type SetStatusRequest struct {
	IsActive *bool `json:"isActive" binding:"required"`
}

// ValidateCouponResponse represents the public metadata of a valid coupon
type ValidateCouponResponse struct {
	Code          string     `json:"code"`
	Description   string     `json:"description,omitempty"`
	Discount      float64    `json:"discount"`
	IsPercentage  bool       `json:"isPercentage"`
	RemainingUses int32      `json:"remainingUses"`
	ExpiryDate    *time.Time `json:"expiryDate,omitempty"`
	LinkedInURL   string     `json:"linkedInUrl,omitempty"`
	FormID        *string    `json:"formId"`
}

// CouponDetailsResponse represents the admin view of a coupon including its history
type CouponDetailsResponse struct {
	Coupon     *Coupon `json:"coupon"`
	Remaining  int32   `json:"remaining"`
	CopyEvents int64   `json:"copyEvents"`
}
