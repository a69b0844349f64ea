package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Form is the registration form a submission targets. Owned by the form registry;
// the coupon core only reads it.
type Form struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	Slug         string             `bson:"slug" json:"slug"`
	Title        string             `bson:"title,omitempty" json:"title,omitempty"`
	College      string             `bson:"college" json:"college"`
	Activation   time.Time          `bson:"activation" json:"activation"`
	Deactivation time.Time          `bson:"deactivation" json:"deactivation"`
	IsActive     bool               `bson:"is_active" json:"isActive"`

	// CouponLimit caps how many coupons may be uploaded against the form; 0 means no cap.
	CouponLimit int32 `bson:"coupon_limit" json:"couponLimit"`

	// CouponRequired fails a registration when no coupon can be allocated.
	CouponRequired bool `bson:"coupon_required" json:"couponRequired"`

	// GenerateOnExhaustion mints a fresh code when the pools are empty.
	GenerateOnExhaustion bool `bson:"generate_on_exhaustion" json:"generateOnExhaustion"`

	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
}

// AcceptsAt reports whether submissions are open at t.
func (f *Form) AcceptsAt(t time.Time) bool {
	return f.IsActive && !t.Before(f.Activation) && !t.After(f.Deactivation)
}
