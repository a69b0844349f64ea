package repository

import (
	"context"
	"time"

	"coupon-registration/internal/model"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CouponRepository defines the interface for coupon data operations
type CouponRepository interface {
	// CreateCoupon creates a new coupon
	CreateCoupon(ctx context.Context, coupon *model.Coupon) error

	// GetCouponByCode retrieves a coupon by its normalized code
	GetCouponByCode(ctx context.Context, code string) (*model.Coupon, error)

	// BulkInsert inserts candidates as unused coupons of one upload batch.
	// Codes that already exist are counted as duplicates, not errors.
	BulkInsert(ctx context.Context, candidates []model.CouponCandidate, uploadID *primitive.ObjectID, createdBy string) (*model.BulkInsertResult, error)

	// ReserveOne atomically picks the oldest coupon matching filter with a free use,
	// increments its used count and appends usage, in a single conditional update.
	// Coupons already holding a use for usage.RegistrationID are skipped.
	// Returns ErrNoEligibleCoupon when nothing matches.
	ReserveOne(ctx context.Context, filter model.CouponFilter, usage model.CouponUsage) (*model.Coupon, error)

	// ReleaseUsage reverses a reservation made for registrationID.
	// Returns false when there was nothing to release.
	ReleaseUsage(ctx context.Context, code string, registrationID primitive.ObjectID) (bool, error)

	// MarkRedeemed records a redemption once per (code, registrationID)
	MarkRedeemed(ctx context.Context, code string, registrationID primitive.ObjectID, redemption model.Redemption, at time.Time) (model.RedeemOutcome, error)

	// SetActive toggles whether a coupon may be allocated
	SetActive(ctx context.Context, code string, active bool) error

	// CountAvailable counts coupons that a reservation with filter could still pick
	CountAvailable(ctx context.Context, filter model.CouponFilter) (int64, error)

	// Stats aggregates the whole collection
	Stats(ctx context.Context, at time.Time) (*model.CouponStats, error)

	// CountUsedInUpload counts coupons of an upload batch with at least one use
	CountUsedInUpload(ctx context.Context, uploadID primitive.ObjectID) (int64, error)

	// DeleteByUpload removes the coupons of an upload batch; unusedOnly keeps
	// every coupon with at least one use
	DeleteByUpload(ctx context.Context, uploadID primitive.ObjectID, unusedOnly bool) (int64, error)

	// ExistingCodes returns the subset of codes that exist
	ExistingCodes(ctx context.Context, codes []string) ([]string, error)
}
