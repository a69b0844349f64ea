package service

import (
	"context"
	"testing"
	"time"

	"coupon-registration/internal/model"
	apperrors "coupon-registration/pkg/errors"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap/zaptest"
)

func TestRecordRedemptionOnce(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()
	env.seedCoupons(t, nil, "A1")

	r1 := primitive.NewObjectID()
	res, err := env.allocator.Allocate(ctx, nil, &model.UserDetails{Email: "r1@example.com"}, r1)
	require.NoError(t, err)
	require.Equal(t, "A1", res.Code)

	discount := 15.0
	outcome, err := env.tracker.RecordRedemption(ctx, "A1", r1, model.Redemption{DiscountApplied: &discount})
	require.NoError(t, err)
	require.Equal(t, model.RedeemMarked, outcome)

	outcome, err = env.tracker.RecordRedemption(ctx, "a1", r1, model.Redemption{})
	require.NoError(t, err)
	require.Equal(t, model.RedeemAlreadyRecorded, outcome)

	c := env.coupon(t, "A1")
	require.EqualValues(t, 1, c.UsedCount)
	require.Len(t, c.UsedBy, 1)
	require.Equal(t, r1, c.UsedBy[0].RegistrationID)
	require.NotNil(t, c.UsedBy[0].RedeemedAt)
	require.NotNil(t, c.UsedBy[0].DiscountApplied)
	require.Equal(t, 15.0, *c.UsedBy[0].DiscountApplied)
}

func TestRecordRedemptionWithoutAllocation(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()
	require.NoError(t, env.store.CreateCoupon(ctx, &model.Coupon{Code: "WALKIN", MaxUses: 2, IsActive: true, CreatedAt: time.Now().UTC()}))

	rid := primitive.NewObjectID()
	outcome, err := env.tracker.RecordRedemption(ctx, "WALKIN", rid, model.Redemption{UserDetails: &model.UserDetails{Email: "w@example.com"}})
	require.NoError(t, err)
	require.Equal(t, model.RedeemAppended, outcome)

	outcome, err = env.tracker.RecordRedemption(ctx, "WALKIN", rid, model.Redemption{})
	require.NoError(t, err)
	require.Equal(t, model.RedeemAlreadyRecorded, outcome)

	c := env.coupon(t, "WALKIN")
	require.EqualValues(t, 1, c.UsedCount)
	require.Len(t, c.UsedBy, 1)
	require.Equal(t, model.UsageRedemption, c.UsedBy[0].Source)
}

func TestRecordRedemptionRefusesExhaustedAndUnknown(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()
	env.seedCoupons(t, nil, "ONCE")

	_, err := env.allocator.Allocate(ctx, nil, nil, primitive.NewObjectID())
	require.NoError(t, err)

	_, err = env.tracker.RecordRedemption(ctx, "ONCE", primitive.NewObjectID(), model.Redemption{})
	require.ErrorIs(t, err, apperrors.ErrCouponExhausted)
	require.EqualValues(t, 1, env.coupon(t, "ONCE").UsedCount)

	_, err = env.tracker.RecordRedemption(ctx, "NOPE", primitive.NewObjectID(), model.Redemption{})
	require.ErrorIs(t, err, apperrors.ErrCouponNotFound)
}

func TestRecordBulkCopyEvents(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()
	env.seedCoupons(t, nil, "C1", "C2")

	n := env.tracker.RecordBulkCopyEvents(ctx, []string{"c1", "C2", "UNKNOWN", "C1"}, model.CopyEvent{
		Source:    "success_page",
		IPAddress: "10.0.0.1",
	})
	require.Equal(t, 2, n)

	require.True(t, env.tracker.RecordCopyEvent(ctx, "C1", model.CopyEvent{Source: "banner"}))
	require.False(t, env.tracker.RecordCopyEvent(ctx, "UNKNOWN", model.CopyEvent{}))

	count, err := env.tracker.CopyEventCount(ctx, "c1")
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	// telemetry never touches allocation state
	c := env.coupon(t, "C1")
	require.EqualValues(t, 0, c.UsedCount)
	require.Empty(t, c.UsedBy)
}

func TestCopyEventFailuresAreSwallowed(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()
	env.seedCoupons(t, nil, "C1")

	tracker := NewUsageTracker(env.store, brokenEvents{}, zaptest.NewLogger(t))
	require.Equal(t, 0, tracker.RecordBulkCopyEvents(ctx, []string{"C1"}, model.CopyEvent{}))
	require.False(t, tracker.RecordCopyEvent(ctx, "C1", model.CopyEvent{}))
}

type brokenEvents struct{}

func (brokenEvents) InsertEvents(context.Context, []*model.CopyEvent) error {
	return apperrors.Store("insert copy events", errStoreDown)
}

func (brokenEvents) CountByCode(context.Context, string) (int64, error) {
	return 0, apperrors.Store("count copy events", errStoreDown)
}
