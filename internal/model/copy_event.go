package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CopyEvent is one copy/view telemetry record for a coupon code. Stored in its own
// collection so a popular code does not grow its coupon document without bound.
type CopyEvent struct {
	ID                primitive.ObjectID  `bson:"_id,omitempty" json:"id,omitempty"`
	Code              string              `bson:"code" json:"code"`
	Source            string              `bson:"source,omitempty" json:"source,omitempty"`
	IPAddress         string              `bson:"ip_address,omitempty" json:"ipAddress,omitempty"`
	UserAgent         string              `bson:"user_agent,omitempty" json:"userAgent,omitempty"`
	FormID            *primitive.ObjectID `bson:"form_id,omitempty" json:"formId,omitempty"`
	FormSlug          string              `bson:"form_slug,omitempty" json:"formSlug,omitempty"`
	LinkedInURL       string              `bson:"linkedin_url,omitempty" json:"linkedInUrl,omitempty"`
	ViewTime          *time.Time          `bson:"view_time,omitempty" json:"viewTime,omitempty"`
	FromSuccessBanner bool                `bson:"from_success_banner" json:"fromSuccessBanner"`
	CreatedAt         time.Time           `bson:"created_at" json:"createdAt"`
}
