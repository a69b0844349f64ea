package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"coupon-registration/internal/model"
	"coupon-registration/internal/repository"
	apperrors "coupon-registration/pkg/errors"
	"coupon-registration/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const maxGenerateAttempts = 5

// AllocationStatus is the outcome of an allocation attempt
type AllocationStatus int

const (
	Allocated AllocationStatus = iota + 1
	Exhausted
)

func (s AllocationStatus) String() string {
	switch s {
	case Allocated:
		return "allocated"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// AllocationResult describes the coupon reserved for a registration.
// Exhausted is a business outcome, not an error.
type AllocationResult struct {
	Status      AllocationStatus
	Code        string
	LinkedInURL string
	Tier        string
	Generated   bool
}

// Tier is one eligibility predicate in the allocator's preference order.
// Filter returns false when the tier does not apply to the request.
type Tier struct {
	Name   string
	Filter func(formID *primitive.ObjectID, now time.Time) (model.CouponFilter, bool)
}

// FormTier matches coupons bound to the requesting form
func FormTier() Tier {
	return Tier{
		Name: "form",
		Filter: func(formID *primitive.ObjectID, now time.Time) (model.CouponFilter, bool) {
			if formID == nil {
				return model.CouponFilter{}, false
			}
			return model.CouponFilter{FormID: formID, At: now}, true
		},
	}
}

// GeneralTier matches coupons of the general pool
func GeneralTier() Tier {
	return Tier{
		Name: "general",
		Filter: func(_ *primitive.ObjectID, now time.Time) (model.CouponFilter, bool) {
			return model.CouponFilter{GeneralPool: true, At: now}, true
		},
	}
}

// ExternalTier matches externally supplied codes carrying their own redemption URL,
// first from the form and then from the general pool.
func ExternalTier() Tier {
	return Tier{
		Name: "external",
		Filter: func(formID *primitive.ObjectID, now time.Time) (model.CouponFilter, bool) {
			if formID == nil {
				return model.CouponFilter{GeneralPool: true, RequireRedemptionURL: true, At: now}, true
			}
			return model.CouponFilter{FormID: formID, RequireRedemptionURL: true, At: now}, true
		},
	}
}

// DefaultTiers is form-bound coupons first, then the general pool
func DefaultTiers() []Tier {
	return []Tier{FormTier(), GeneralTier()}
}

// AllocatorOption configures a CouponAllocator
type AllocatorOption func(*CouponAllocator)

// WithTiers replaces the eligibility tiers
func WithTiers(tiers ...Tier) AllocatorOption {
	return func(a *CouponAllocator) {
		a.tiers = tiers
	}
}

// WithRedemptionURL sets the fmt template used for codes without their own URL.
// An empty template disables generated URLs.
func WithRedemptionURL(template string) AllocatorOption {
	return func(a *CouponAllocator) {
		a.urlTemplate = template
	}
}

// WithAllocatorLogger sets the logger
func WithAllocatorLogger(l *zap.Logger) AllocatorOption {
	return func(a *CouponAllocator) {
		a.logger = logger.OrNop(l)
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) AllocatorOption {
	return func(a *CouponAllocator) {
		a.now = now
	}
}

// WithCodeGenerator overrides GenerateCode
func WithCodeGenerator(gen func() (string, error)) AllocatorOption {
	return func(a *CouponAllocator) {
		a.newCode = gen
	}
}

// CouponAllocator reserves exactly one eligible coupon per registration
type CouponAllocator struct {
	coupons     repository.CouponRepository
	tiers       []Tier
	urlTemplate string
	logger      *zap.Logger
	now         func() time.Time
	newCode     func() (string, error)
}

// NewCouponAllocator creates an allocator over the coupon store
func NewCouponAllocator(coupons repository.CouponRepository, opts ...AllocatorOption) *CouponAllocator {
	a := &CouponAllocator{
		coupons: coupons,
		tiers:   DefaultTiers(),
		logger:  zap.NewNop(),
		now:     func() time.Time { return time.Now().UTC() },
		newCode: GenerateCode,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allocate walks the tiers and reserves the first coupon any of them yields.
// Each reservation is a single conditional update in the store, so concurrent
// callers never share a use of the same coupon.
func (a *CouponAllocator) Allocate(ctx context.Context, formID *primitive.ObjectID, requester *model.UserDetails, registrationID primitive.ObjectID) (*AllocationResult, error) {
	now := a.now()
	usage := model.CouponUsage{
		RegistrationID: registrationID,
		UsedAt:         now,
		UserDetails:    requester,
		FormID:         formID,
		Source:         model.UsageAllocated,
	}

	for _, tier := range a.tiers {
		filter, ok := tier.Filter(formID, now)
		if !ok {
			continue
		}

		coupon, err := a.coupons.ReserveOne(ctx, filter, usage)
		if errors.Is(err, apperrors.ErrNoEligibleCoupon) {
			continue
		}
		if err != nil {
			return nil, err
		}

		a.logger.Info("coupon allocated",
			zap.String("code", coupon.Code),
			zap.String("tier", tier.Name),
			zap.String("registration_id", registrationID.Hex()),
		)
		return &AllocationResult{
			Status:      Allocated,
			Code:        coupon.Code,
			LinkedInURL: a.RedemptionURL(coupon),
			Tier:        tier.Name,
		}, nil
	}

	a.logger.Info("coupon pools exhausted", formIDField(formID))
	return &AllocationResult{Status: Exhausted}, nil
}

// Generate mints a fresh single-use code already reserved for the registration.
// The insert carries used_count=1 and the usage entry, so it is one write.
func (a *CouponAllocator) Generate(ctx context.Context, formID *primitive.ObjectID, requester *model.UserDetails, registrationID primitive.ObjectID) (*AllocationResult, error) {
	now := a.now()

	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		code, err := a.newCode()
		if err != nil {
			return nil, fmt.Errorf("generate coupon code: %w", err)
		}

		coupon := &model.Coupon{
			Code:        code,
			Description: "Generated on registration",
			MaxUses:     1,
			UsedCount:   1,
			IsActive:    true,
			FormID:      formID,
			UsedBy: []model.CouponUsage{{
				RegistrationID: registrationID,
				UsedAt:         now,
				UserDetails:    requester,
				FormID:         formID,
				Source:         model.UsageGenerated,
			}},
			CreatedBy: "system",
			CreatedAt: now,
			UpdatedAt: now,
		}
		err = a.coupons.CreateCoupon(ctx, coupon)
		if errors.Is(err, apperrors.ErrCouponAlreadyExists) {
			a.logger.Warn("generated code collided, retrying", zap.String("code", code))
			continue
		}
		if err != nil {
			return nil, err
		}

		a.logger.Info("coupon generated",
			zap.String("code", coupon.Code),
			zap.String("registration_id", registrationID.Hex()),
		)
		return &AllocationResult{
			Status:      Allocated,
			Code:        coupon.Code,
			LinkedInURL: a.RedemptionURL(coupon),
			Tier:        "generated",
			Generated:   true,
		}, nil
	}

	return nil, fmt.Errorf("generate coupon code: %d attempts collided", maxGenerateAttempts)
}

// Release gives back the use reserved for registrationID. Releasing twice, or a
// code that was never allocated, is a no-op.
func (a *CouponAllocator) Release(ctx context.Context, code string, registrationID primitive.ObjectID) error {
	if model.NormalizeCode(code) == "" {
		return nil
	}

	released, err := a.coupons.ReleaseUsage(ctx, code, registrationID)
	if err != nil {
		return err
	}
	if released {
		a.logger.Info("coupon released",
			zap.String("code", model.NormalizeCode(code)),
			zap.String("registration_id", registrationID.Hex()),
		)
	}
	return nil
}

// RedemptionURL prefers the coupon's own URL, then the configured template
func (a *CouponAllocator) RedemptionURL(coupon *model.Coupon) string {
	if coupon.LinkedInURL != "" {
		return coupon.LinkedInURL
	}
	return redemptionURL(a.urlTemplate, coupon.Code)
}

func redemptionURL(template, code string) string {
	if template == "" || code == "" {
		return ""
	}
	clean := code
	if strings.HasPrefix(strings.ToUpper(clean), GeneratedCodePrefix) {
		clean = clean[len(GeneratedCodePrefix):]
	}
	return fmt.Sprintf(template, url.QueryEscape(clean))
}

func formIDField(formID *primitive.ObjectID) zap.Field {
	if formID == nil {
		return zap.String("form_id", "general")
	}
	return zap.String("form_id", formID.Hex())
}
