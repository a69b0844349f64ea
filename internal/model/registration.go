package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Registration represents one registrant's submission for a form
type Registration struct {
	ID             primitive.ObjectID     `bson:"_id,omitempty" json:"id,omitempty"`
	Name           string                 `bson:"name" json:"name"`
	Email          string                 `bson:"email" json:"email"`
	Mobile         string                 `bson:"mobile" json:"mobile"`
	College        string                 `bson:"college" json:"college"`
	RegisterNumber string                 `bson:"register_number" json:"registerNumber"`
	YOP            string                 `bson:"yop" json:"yop"`
	FormID         primitive.ObjectID     `bson:"form_id" json:"formId"`
	DynamicFields  map[string]interface{} `bson:"dynamic_fields,omitempty" json:"dynamicFields,omitempty"`
	Location       *Location              `bson:"location,omitempty" json:"location,omitempty"`
	IsActive       bool                   `bson:"is_active" json:"isActive"`
	CouponCode     string                 `bson:"coupon_code,omitempty" json:"couponCode,omitempty"` // set once at creation
	LinkedInURL    string                 `bson:"linkedin_url,omitempty" json:"linkedInUrl,omitempty"`
	CouponUsed     bool                   `bson:"coupon_used" json:"couponUsed"`
	CouponUsedAt   *time.Time             `bson:"coupon_used_at,omitempty" json:"couponUsedAt,omitempty"`
	CreatedAt      time.Time              `bson:"created_at" json:"createdAt"`
	UpdatedAt      time.Time              `bson:"updated_at" json:"updatedAt"`
}

// Location is the optional geo position captured at submission.
type Location struct {
	Latitude  float64 `bson:"latitude" json:"latitude"`
	Longitude float64 `bson:"longitude" json:"longitude"`
}

// Identity returns the usage-entry view of the registrant.
func (r *Registration) Identity() *UserDetails {
	return &UserDetails{Name: r.Name, Email: r.Email, Mobile: r.Mobile}
}

// FormStats summarises registrations for a single form.
type FormStats struct {
	RegistrationsCount int64 `json:"registrationsCount"`
	CouponIssuedCount  int64 `json:"couponUsedCount"`
	CouponLimit        int32 `json:"couponLimit"`
}
