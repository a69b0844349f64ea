package model

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Coupon represents a redeemable code in the system
type Coupon struct {
	ID           primitive.ObjectID  `bson:"_id,omitempty" json:"id,omitempty"`
	Code         string              `bson:"code" json:"code"`
	Description  string              `bson:"description,omitempty" json:"description,omitempty"`
	Discount     float64             `bson:"discount" json:"discount"`
	IsPercentage bool                `bson:"is_percentage" json:"isPercentage"`
	MaxUses      int32               `bson:"max_uses" json:"maxUses"`
	UsedCount    int32               `bson:"used_count" json:"usedCount"`
	IsActive     bool                `bson:"is_active" json:"isActive"`
	ExpiryDate   *time.Time          `bson:"expiry_date,omitempty" json:"expiryDate,omitempty"`
	LinkedInURL  string              `bson:"linkedin_url,omitempty" json:"linkedInUrl,omitempty"`
	FormID       *primitive.ObjectID `bson:"form_id" json:"formId"` // nil = general pool
	UploadID     *primitive.ObjectID `bson:"upload_id,omitempty" json:"uploadId,omitempty"`
	UsedBy       []CouponUsage       `bson:"used_by" json:"usedBy"`
	Metadata     map[string]string   `bson:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedBy    string              `bson:"created_by,omitempty" json:"createdBy,omitempty"`
	CreatedAt    time.Time           `bson:"created_at" json:"createdAt"`
	UpdatedAt    time.Time           `bson:"updated_at" json:"updatedAt"`
}

// CouponUsage is one entry of a coupon's append-only usage trail.
type CouponUsage struct {
	RegistrationID  primitive.ObjectID  `bson:"registration_id" json:"registrationId"`
	UsedAt          time.Time           `bson:"used_at" json:"usedAt"`
	RedeemedAt      *time.Time          `bson:"redeemed_at,omitempty" json:"redeemedAt,omitempty"`
	DiscountApplied *float64            `bson:"discount_applied,omitempty" json:"discountApplied,omitempty"`
	UserDetails     *UserDetails        `bson:"user_details,omitempty" json:"userDetails,omitempty"`
	FormID          *primitive.ObjectID `bson:"form_id,omitempty" json:"formId,omitempty"`
	Source          UsageSource         `bson:"source" json:"source"`
	Metadata        map[string]string   `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

// UsageSource records how a usage entry came to exist.
type UsageSource string

const (
	UsageAllocated  UsageSource = "allocation"
	UsageGenerated  UsageSource = "generated"
	UsageRedemption UsageSource = "redemption"
)

// UserDetails is the minimal registrant identity copied into a usage entry.
type UserDetails struct {
	Name   string `bson:"name,omitempty" json:"name,omitempty"`
	Email  string `bson:"email,omitempty" json:"email,omitempty"`
	Mobile string `bson:"mobile,omitempty" json:"mobile,omitempty"`
}

// Redemption carries the optional details recorded when a coupon is actually used.
type Redemption struct {
	DiscountApplied *float64
	UserDetails     *UserDetails
	Metadata        map[string]string
}

// RedeemOutcome tells the caller what MarkRedeemed did.
type RedeemOutcome int

const (
	RedeemMarked RedeemOutcome = iota + 1
	RedeemAppended
	RedeemAlreadyRecorded
)

// NormalizeCode trims and upper-cases a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Remaining returns how many uses are still available.
func (c *Coupon) Remaining() int32 {
	if c.UsedCount >= c.MaxUses {
		return 0
	}
	return c.MaxUses - c.UsedCount
}

// ExpiredAt reports whether the coupon is past its expiry at t.
func (c *Coupon) ExpiredAt(t time.Time) bool {
	return c.ExpiryDate != nil && !c.ExpiryDate.After(t)
}

// UsageFor returns the usage entry for a registration, if any.
func (c *Coupon) UsageFor(registrationID primitive.ObjectID) (*CouponUsage, bool) {
	for i := range c.UsedBy {
		if c.UsedBy[i].RegistrationID == registrationID {
			return &c.UsedBy[i], true
		}
	}
	return nil, false
}

// CouponFilter narrows the coupons a reservation may pick.
type CouponFilter struct {
	// FormID restricts to coupons bound to that form.
	FormID *primitive.ObjectID
	// GeneralPool restricts to coupons without a form.
	GeneralPool bool
	// RequireRedemptionURL restricts to externally supplied codes carrying their own URL.
	RequireRedemptionURL bool
	// At is the instant used for the expiry check.
	At time.Time
}

// Matches applies the filter, plus the usage predicate, to a coupon.
func (f CouponFilter) Matches(c *Coupon) bool {
	if !c.IsActive || c.ExpiredAt(f.At) || c.UsedCount >= c.MaxUses {
		return false
	}
	switch {
	case f.FormID != nil:
		if c.FormID == nil || *c.FormID != *f.FormID {
			return false
		}
	case f.GeneralPool:
		if c.FormID != nil {
			return false
		}
	}
	if f.RequireRedemptionURL && c.LinkedInURL == "" {
		return false
	}
	return true
}

// CouponCandidate is a normalized row produced by the ingestion adapter.
type CouponCandidate struct {
	Line         int
	Code         string
	Description  string
	Discount     float64
	IsPercentage bool
	MaxUses      int32
	ExpiryDate   *time.Time
	LinkedInURL  string
	FormID       *primitive.ObjectID
	Metadata     map[string]string
}

// ToCoupon builds a fresh, unused coupon from the candidate.
func (c CouponCandidate) ToCoupon(uploadID *primitive.ObjectID, createdBy string, now time.Time) *Coupon {
	maxUses := c.MaxUses
	if maxUses < 1 {
		maxUses = 1
	}
	return &Coupon{
		ID:           primitive.NewObjectID(),
		Code:         NormalizeCode(c.Code),
		Description:  c.Description,
		Discount:     c.Discount,
		IsPercentage: c.IsPercentage,
		MaxUses:      maxUses,
		UsedCount:    0,
		IsActive:     true,
		ExpiryDate:   c.ExpiryDate,
		LinkedInURL:  strings.TrimSpace(c.LinkedInURL),
		FormID:       c.FormID,
		UploadID:     uploadID,
		UsedBy:       []CouponUsage{},
		Metadata:     c.Metadata,
		CreatedBy:    createdBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// LineError describes a problem with one row of an upload.
type LineError struct {
	Line    int    `bson:"line" json:"line"`
	Message string `bson:"message" json:"message"`
}

// BulkInsertResult reports the outcome of a bulk insert.
type BulkInsertResult struct {
	Added      int         `json:"added"`
	Duplicates int         `json:"duplicates"`
	Errors     []LineError `json:"errors"`
}

// CouponStats aggregates the coupon collection for the admin dashboard.
type CouponStats struct {
	Total     int64            `json:"total"`
	Active    int64            `json:"active"`
	Used      int64            `json:"used"`
	Available int64            `json:"available"`
	TotalUses int64            `json:"totalUses"`
	ByForm    []FormCouponStat `json:"byForm"`
}

// FormCouponStat is the per-form slice of CouponStats; FormID nil is the general pool.
type FormCouponStat struct {
	FormID    *primitive.ObjectID `bson:"_id" json:"formId"`
	Total     int64               `bson:"total" json:"total"`
	Used      int64               `bson:"used" json:"used"`
	Available int64               `bson:"available" json:"available"`
}
