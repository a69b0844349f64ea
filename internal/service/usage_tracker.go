package service

import (
	"context"
	"time"

	"coupon-registration/internal/model"
	"coupon-registration/internal/repository"
	"coupon-registration/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// UsageTracker records what happens to a coupon after allocation: redemptions,
// which are counted, and copy/view telemetry, which is best-effort.
type UsageTracker struct {
	coupons repository.CouponRepository
	events  repository.CopyEventRepository
	logger  *zap.Logger
	now     func() time.Time
}

// NewUsageTracker creates a new usage tracker
func NewUsageTracker(coupons repository.CouponRepository, events repository.CopyEventRepository, l *zap.Logger) *UsageTracker {
	return &UsageTracker{
		coupons: coupons,
		events:  events,
		logger:  logger.OrNop(l),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RecordRedemption marks code as redeemed by registrationID once. A repeat call is
// RedeemAlreadyRecorded and leaves the usage trail untouched.
func (t *UsageTracker) RecordRedemption(ctx context.Context, code string, registrationID primitive.ObjectID, redemption model.Redemption) (model.RedeemOutcome, error) {
	outcome, err := t.coupons.MarkRedeemed(ctx, code, registrationID, redemption, t.now())
	if err != nil {
		return 0, err
	}

	switch outcome {
	case model.RedeemAlreadyRecorded:
		t.logger.Debug("redemption already recorded",
			zap.String("code", model.NormalizeCode(code)),
			zap.String("registration_id", registrationID.Hex()),
		)
	default:
		t.logger.Info("coupon redeemed",
			zap.String("code", model.NormalizeCode(code)),
			zap.String("registration_id", registrationID.Hex()),
			zap.Bool("appended", outcome == model.RedeemAppended),
		)
	}
	return outcome, nil
}

// RecordCopyEvent logs a copy of one code. Failures are logged and swallowed.
func (t *UsageTracker) RecordCopyEvent(ctx context.Context, code string, event model.CopyEvent) bool {
	return t.RecordBulkCopyEvents(ctx, []string{code}, event) == 1
}

// RecordBulkCopyEvents logs one event per known code and returns how many were
// stored. Unknown codes are skipped; store failures are logged and swallowed.
func (t *UsageTracker) RecordBulkCopyEvents(ctx context.Context, codes []string, event model.CopyEvent) int {
	existing, err := t.coupons.ExistingCodes(ctx, codes)
	if err != nil {
		t.logger.Warn("copy tracking: code lookup failed", zap.Int("codes", len(codes)), zap.Error(err))
		return 0
	}
	if len(existing) == 0 {
		return 0
	}

	now := t.now()
	events := make([]*model.CopyEvent, 0, len(existing))
	for _, code := range existing {
		e := event
		e.ID = primitive.NilObjectID
		e.Code = code
		e.CreatedAt = now
		events = append(events, &e)
	}

	if err := t.events.InsertEvents(ctx, events); err != nil {
		t.logger.Warn("copy tracking: insert failed", zap.Int("events", len(events)), zap.Error(err))
		return 0
	}
	return len(events)
}

// CopyEventCount returns how many copy events a code has
func (t *UsageTracker) CopyEventCount(ctx context.Context, code string) (int64, error) {
	return t.events.CountByCode(ctx, code)
}
