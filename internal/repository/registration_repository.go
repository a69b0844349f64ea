package repository

import (
	"context"
	"time"

	"coupon-registration/internal/model"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RegistrationLookup selects registrations by email or mobile. Empty fields are
// ignored; a nil FormID searches across all forms.
type RegistrationLookup struct {
	Email  string
	Mobile string
	FormID *primitive.ObjectID
}

// RegistrationRepository defines the interface for registration data operations
type RegistrationRepository interface {
	// CreateRegistration inserts a registration. A unique index violation on
	// email or mobile returns ErrRegistrationExists.
	CreateRegistration(ctx context.Context, registration *model.Registration) error

	// FindExisting returns the first registration matching lookup
	FindExisting(ctx context.Context, lookup RegistrationLookup) (*model.Registration, error)

	// GetRegistration retrieves a registration by id
	GetRegistration(ctx context.Context, id primitive.ObjectID) (*model.Registration, error)

	// MarkCouponUsed flags the registration's coupon as redeemed once.
	// Returns false when it was already flagged.
	MarkCouponUsed(ctx context.Context, id primitive.ObjectID, at time.Time) (bool, error)

	// CountByForm counts registrations of a form
	CountByForm(ctx context.Context, formID primitive.ObjectID) (int64, error)

	// CountWithCouponByForm counts registrations of a form holding a coupon code
	CountWithCouponByForm(ctx context.Context, formID primitive.ObjectID) (int64, error)
}
