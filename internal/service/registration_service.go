package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"coupon-registration/internal/model"
	"coupon-registration/internal/repository"
	"coupon-registration/pkg/config"
	apperrors "coupon-registration/pkg/errors"
	"coupon-registration/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// SubmitStatus is the terminal state of a registration attempt
type SubmitStatus int

const (
	SubmitCompleted SubmitStatus = iota + 1
	SubmitDuplicate
)

// SubmitResult is returned for both a new registration and a duplicate one.
// For a duplicate, Registration is the existing record.
type SubmitResult struct {
	Status       SubmitStatus
	Registration *model.Registration
	CouponCode   string
	LinkedInURL  string
	FormStats    *model.FormStats
}

// TrackUsageResult reports the redemption recorded for a registration
type TrackUsageResult struct {
	Registration *model.Registration
	Outcome      model.RedeemOutcome
	FirstUse     bool
}

// RegistrationService orchestrates a submission: validate, detect duplicates,
// allocate a coupon, persist, and release the coupon if persisting fails.
type RegistrationService struct {
	registrations repository.RegistrationRepository
	forms         repository.FormRepository
	allocator     *CouponAllocator
	tracker       *UsageTracker
	globalScope   bool
	logger        *zap.Logger
	now           func() time.Time
}

// NewRegistrationService creates a new registration service. duplicateScope is
// config.ScopeForm or config.ScopeGlobal.
func NewRegistrationService(
	registrations repository.RegistrationRepository,
	forms repository.FormRepository,
	allocator *CouponAllocator,
	tracker *UsageTracker,
	duplicateScope string,
	l *zap.Logger,
) *RegistrationService {
	return &RegistrationService{
		registrations: registrations,
		forms:         forms,
		allocator:     allocator,
		tracker:       tracker,
		globalScope:   duplicateScope == config.ScopeGlobal,
		logger:        logger.OrNop(l),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Submit registers a person for a form and allocates their coupon
func (s *RegistrationService) Submit(ctx context.Context, req *model.SubmitRegistrationRequest) (*SubmitResult, error) {
	normalizeSubmission(req)
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	now := s.now()
	form, err := s.forms.GetFormBySlug(ctx, req.FormSlug)
	if err != nil {
		return nil, err
	}
	if !form.AcceptsAt(now) {
		return nil, apperrors.ErrFormInactive
	}

	existing, err := s.findExisting(ctx, req.Email, req.Mobile, form.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.logger.Info("duplicate registration",
			zap.String("form_id", form.ID.Hex()),
			zap.String("registration_id", existing.ID.Hex()),
		)
		return duplicateResult(existing), nil
	}
	if err := s.checkRegistrationLimit(ctx, form); err != nil {
		return nil, err
	}

	// The id exists before allocation so the usage entry can reference it
	registration := &model.Registration{
		ID:             primitive.NewObjectID(),
		Name:           req.Name,
		Email:          req.Email,
		Mobile:         req.Mobile,
		College:        req.College,
		RegisterNumber: req.RegisterNumber,
		YOP:            req.YOP,
		FormID:         form.ID,
		DynamicFields:  req.DynamicFields,
		Location:       req.Location,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	alloc, err := s.allocate(ctx, form, registration)
	if err != nil {
		return nil, err
	}
	if alloc.Status == Allocated {
		registration.CouponCode = alloc.Code
		registration.LinkedInURL = alloc.LinkedInURL
	}

	if err := s.registrations.CreateRegistration(ctx, registration); err != nil {
		s.release(ctx, registration)

		if errors.Is(err, apperrors.ErrRegistrationExists) {
			// Lost the race to a concurrent submission; report the winner
			winner, findErr := s.findExisting(ctx, req.Email, req.Mobile, form.ID)
			if findErr == nil && winner != nil {
				return duplicateResult(winner), nil
			}
			return nil, err
		}
		return nil, apperrors.Store("create registration", err)
	}

	s.logger.Info("registration completed",
		zap.String("form_id", form.ID.Hex()),
		zap.String("registration_id", registration.ID.Hex()),
		zap.String("coupon_code", registration.CouponCode),
		zap.String("allocation", alloc.Status.String()),
	)

	result := &SubmitResult{
		Status:       SubmitCompleted,
		Registration: registration,
		CouponCode:   registration.CouponCode,
		LinkedInURL:  registration.LinkedInURL,
	}
	if stats, err := s.FormStats(ctx, form.ID); err == nil {
		result.FormStats = stats
	} else {
		s.logger.Warn("form stats unavailable", zap.String("form_id", form.ID.Hex()), zap.Error(err))
	}
	return result, nil
}

// checkRegistrationLimit refuses new registrants once a form holds couponLimit
// registrations. Duplicates are answered before this, so they keep their coupon.
func (s *RegistrationService) checkRegistrationLimit(ctx context.Context, form *model.Form) error {
	if form.CouponLimit <= 0 {
		return nil
	}
	count, err := s.registrations.CountByForm(ctx, form.ID)
	if err != nil {
		return err
	}
	if count >= int64(form.CouponLimit) {
		return apperrors.ErrRegistrationLimitReached
	}
	return nil
}

// allocate applies the form's exhaustion policy around the allocator
func (s *RegistrationService) allocate(ctx context.Context, form *model.Form, registration *model.Registration) (*AllocationResult, error) {
	formID := form.ID
	alloc, err := s.allocator.Allocate(ctx, &formID, registration.Identity(), registration.ID)
	if err != nil {
		return nil, err
	}
	if alloc.Status == Allocated {
		return alloc, nil
	}

	switch {
	case form.GenerateOnExhaustion:
		return s.allocator.Generate(ctx, &formID, registration.Identity(), registration.ID)
	case form.CouponRequired:
		return nil, apperrors.ErrRegistrationLimitReached
	default:
		return alloc, nil
	}
}

// release undoes the reservation of a registration that was never stored
func (s *RegistrationService) release(ctx context.Context, registration *model.Registration) {
	if registration.CouponCode == "" {
		return
	}
	// The request context may already be cancelled; the compensation must still run
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.allocator.Release(releaseCtx, registration.CouponCode, registration.ID); err != nil {
		s.logger.Error("coupon release failed",
			zap.String("code", registration.CouponCode),
			zap.String("registration_id", registration.ID.Hex()),
			zap.Error(err),
		)
	}
}

// CheckEmail returns the registration holding email for the form, or nil
func (s *RegistrationService) CheckEmail(ctx context.Context, req *model.CheckEmailRequest) (*model.Registration, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	form, err := s.forms.GetFormBySlug(ctx, req.Slug)
	if err != nil {
		return nil, err
	}
	return s.findExisting(ctx, req.Email, "", form.ID)
}

// CheckMobile returns the registration holding mobile for the form, or nil
func (s *RegistrationService) CheckMobile(ctx context.Context, req *model.CheckMobileRequest) (*model.Registration, error) {
	req.Mobile = strings.TrimSpace(req.Mobile)
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	form, err := s.forms.GetFormBySlug(ctx, req.Slug)
	if err != nil {
		return nil, err
	}
	return s.findExisting(ctx, "", req.Mobile, form.ID)
}

// TrackCouponUsage records that a registrant redeemed their coupon
func (s *RegistrationService) TrackCouponUsage(ctx context.Context, req *model.TrackUsageRequest) (*TrackUsageResult, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.CouponCode = model.NormalizeCode(req.CouponCode)
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	form, err := s.forms.GetFormBySlug(ctx, req.Slug)
	if err != nil {
		return nil, err
	}
	formID := form.ID
	registration, err := s.registrations.FindExisting(ctx, repository.RegistrationLookup{Email: req.Email, FormID: &formID})
	if err != nil {
		return nil, err
	}
	if registration.CouponCode != req.CouponCode {
		return nil, apperrors.ValidationError{Field: "couponCode", Message: "does not match the registration"}
	}

	outcome, err := s.tracker.RecordRedemption(ctx, req.CouponCode, registration.ID, model.Redemption{
		DiscountApplied: req.DiscountApplied,
		UserDetails:     registration.Identity(),
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	first, err := s.registrations.MarkCouponUsed(ctx, registration.ID, now)
	if err != nil {
		return nil, err
	}
	if first {
		registration.CouponUsed = true
		registration.CouponUsedAt = &now
	}

	return &TrackUsageResult{
		Registration: registration,
		Outcome:      outcome,
		FirstUse:     first,
	}, nil
}

// FormStats summarises registrations and coupons issued for a form
func (s *RegistrationService) FormStats(ctx context.Context, formID primitive.ObjectID) (*model.FormStats, error) {
	form, err := s.forms.GetForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	registrations, err := s.registrations.CountByForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	issued, err := s.registrations.CountWithCouponByForm(ctx, formID)
	if err != nil {
		return nil, err
	}

	return &model.FormStats{
		RegistrationsCount: registrations,
		CouponIssuedCount:  issued,
		CouponLimit:        form.CouponLimit,
	}, nil
}

// findExisting applies the duplicate scope; a miss is (nil, nil)
func (s *RegistrationService) findExisting(ctx context.Context, email, mobile string, formID primitive.ObjectID) (*model.Registration, error) {
	lookup := repository.RegistrationLookup{Email: email, Mobile: mobile}
	if !s.globalScope {
		lookup.FormID = &formID
	}

	registration, err := s.registrations.FindExisting(ctx, lookup)
	if errors.Is(err, apperrors.ErrRegistrationNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return registration, nil
}

func duplicateResult(existing *model.Registration) *SubmitResult {
	return &SubmitResult{
		Status:       SubmitDuplicate,
		Registration: existing,
		CouponCode:   existing.CouponCode,
		LinkedInURL:  existing.LinkedInURL,
	}
}

func normalizeSubmission(req *model.SubmitRegistrationRequest) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Mobile = strings.TrimSpace(req.Mobile)
	req.FormSlug = strings.TrimSpace(req.FormSlug)
	req.Name = strings.TrimSpace(req.Name)
}
