package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"coupon-registration/internal/model"
	"coupon-registration/pkg/config"
	"coupon-registration/pkg/database"
	apperrors "coupon-registration/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// setupMongo connects to MONGO_URI with a throwaway database that is dropped afterwards
func setupMongo(t *testing.T, opts database.IndexOptions) *mongo.Database {
	t.Helper()

	uri := config.GetEnv("MONGO_URI", "")
	if uri == "" {
		t.Skip("MONGO_URI not set, skipping MongoDB integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbName := "coupon_registration_test_" + primitive.NewObjectID().Hex()
	mongoDB, err := database.Connect(ctx, uri, dbName, opts)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mongoDB.Database.Drop(ctx)
		_ = mongoDB.Disconnect(ctx)
	})
	return mongoDB.Database
}

func seedMongoCoupons(t *testing.T, repo CouponRepository, maxUses int32, codes ...string) {
	t.Helper()
	base := time.Now().UTC().Add(-time.Hour)
	for i, code := range codes {
		require.NoError(t, repo.CreateCoupon(context.Background(), &model.Coupon{
			Code:      code,
			MaxUses:   maxUses,
			IsActive:  true,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			UpdatedAt: base,
		}))
	}
}

// 50 concurrent reservations against 5 single-use coupons
func TestMongoReserveOneFlashSale(t *testing.T) {
	repo := NewCouponRepository(setupMongo(t, database.IndexOptions{}))
	seedMongoCoupons(t, repo, 1, "FLASH1", "FLASH2", "FLASH3", "FLASH4", "FLASH5")

	var (
		reserved  int64
		exhausted int64
		wg        sync.WaitGroup
		seen      sync.Map
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rid := primitive.NewObjectID()
			c, err := repo.ReserveOne(context.Background(), model.CouponFilter{GeneralPool: true, At: time.Now().UTC()},
				model.CouponUsage{RegistrationID: rid, Source: model.UsageAllocated})
			switch {
			case err == nil:
				atomic.AddInt64(&reserved, 1)
				_, dup := seen.LoadOrStore(c.Code, rid)
				assert.False(t, dup, "coupon %s handed out twice", c.Code)
			case errors.Is(err, apperrors.ErrNoEligibleCoupon):
				atomic.AddInt64(&exhausted, 1)
			default:
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 5, reserved)
	require.EqualValues(t, 45, exhausted)
	for i := 1; i <= 5; i++ {
		c, err := repo.GetCouponByCode(context.Background(), fmt.Sprintf("FLASH%d", i))
		require.NoError(t, err)
		require.EqualValues(t, 1, c.UsedCount)
		require.Len(t, c.UsedBy, 1)
	}
}

func TestMongoReserveOneMultiUse(t *testing.T) {
	repo := NewCouponRepository(setupMongo(t, database.IndexOptions{}))
	seedMongoCoupons(t, repo, 3, "MULTI")

	var reserved int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.ReserveOne(context.Background(), model.CouponFilter{At: time.Now().UTC()},
				model.CouponUsage{RegistrationID: primitive.NewObjectID(), Source: model.UsageAllocated})
			if err == nil {
				atomic.AddInt64(&reserved, 1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 3, reserved)
	c, err := repo.GetCouponByCode(context.Background(), "multi")
	require.NoError(t, err)
	require.EqualValues(t, 3, c.UsedCount)
	require.Len(t, c.UsedBy, 3)
}

func TestMongoRedeemAndRelease(t *testing.T) {
	repo := NewCouponRepository(setupMongo(t, database.IndexOptions{}))
	ctx := context.Background()
	seedMongoCoupons(t, repo, 2, "TWICE")

	rid := primitive.NewObjectID()
	_, err := repo.ReserveOne(ctx, model.CouponFilter{At: time.Now().UTC()}, model.CouponUsage{RegistrationID: rid, Source: model.UsageAllocated})
	require.NoError(t, err)

	outcome, err := repo.MarkRedeemed(ctx, "TWICE", rid, model.Redemption{}, time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, model.RedeemMarked, outcome)
	outcome, err = repo.MarkRedeemed(ctx, "TWICE", rid, model.Redemption{}, time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, model.RedeemAlreadyRecorded, outcome)

	walkIn := primitive.NewObjectID()
	outcome, err = repo.MarkRedeemed(ctx, "TWICE", walkIn, model.Redemption{}, time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, model.RedeemAppended, outcome)

	_, err = repo.MarkRedeemed(ctx, "TWICE", primitive.NewObjectID(), model.Redemption{}, time.Now().UTC())
	require.ErrorIs(t, err, apperrors.ErrCouponExhausted)

	released, err := repo.ReleaseUsage(ctx, "TWICE", walkIn)
	require.NoError(t, err)
	require.True(t, released)
	released, err = repo.ReleaseUsage(ctx, "TWICE", walkIn)
	require.NoError(t, err)
	require.False(t, released)

	c, err := repo.GetCouponByCode(ctx, "TWICE")
	require.NoError(t, err)
	require.EqualValues(t, 1, c.UsedCount)
	require.Len(t, c.UsedBy, 1)
	require.Equal(t, rid, c.UsedBy[0].RegistrationID)
}

// 10 concurrent submissions by the same person to the same form
func TestMongoReserveOneOncePerRegistration(t *testing.T) {
	repo := NewCouponRepository(setupMongo(t, database.IndexOptions{}))
	ctx := context.Background()
	seedMongoCoupons(t, repo, 2, "M2")

	usage := model.CouponUsage{RegistrationID: primitive.NewObjectID(), Source: model.UsageAllocated}
	_, err := repo.ReserveOne(ctx, model.CouponFilter{At: time.Now().UTC()}, usage)
	require.NoError(t, err)
	_, err = repo.ReserveOne(ctx, model.CouponFilter{At: time.Now().UTC()}, usage)
	require.ErrorIs(t, err, apperrors.ErrNoEligibleCoupon)

	released, err := repo.ReleaseUsage(ctx, "M2", usage.RegistrationID)
	require.NoError(t, err)
	require.True(t, released)

	c, err := repo.GetCouponByCode(ctx, "M2")
	require.NoError(t, err)
	require.EqualValues(t, 0, c.UsedCount)
	require.Empty(t, c.UsedBy)
}

func TestMongoCreateRegistrationDoubleDip(t *testing.T) {
	repo := NewRegistrationRepository(setupMongo(t, database.IndexOptions{}))
	formID := primitive.NewObjectID()

	var created, conflicts int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.CreateRegistration(context.Background(), &model.Registration{
				ID:        primitive.NewObjectID(),
				Email:     "dip@example.com",
				Mobile:    "9876543210",
				FormID:    formID,
				IsActive:  true,
				CreatedAt: time.Now().UTC(),
			})
			switch {
			case err == nil:
				atomic.AddInt64(&created, 1)
			case errors.Is(err, apperrors.ErrRegistrationExists):
				atomic.AddInt64(&conflicts, 1)
			default:
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, created)
	require.EqualValues(t, 9, conflicts)

	// another form is a separate scope
	err := repo.CreateRegistration(context.Background(), &model.Registration{
		ID:     primitive.NewObjectID(),
		Email:  "dip@example.com",
		Mobile: "9876543210",
		FormID: primitive.NewObjectID(),
	})
	require.NoError(t, err)
}

func TestMongoGlobalRegistrationUniqueness(t *testing.T) {
	repo := NewRegistrationRepository(setupMongo(t, database.IndexOptions{GlobalRegistrationUniqueness: true}))
	ctx := context.Background()

	require.NoError(t, repo.CreateRegistration(ctx, &model.Registration{
		ID: primitive.NewObjectID(), Email: "g@example.com", Mobile: "9000000001", FormID: primitive.NewObjectID(),
	}))
	err := repo.CreateRegistration(ctx, &model.Registration{
		ID: primitive.NewObjectID(), Email: "other@example.com", Mobile: "9000000001", FormID: primitive.NewObjectID(),
	})
	require.ErrorIs(t, err, apperrors.ErrRegistrationExists)

	found, err := repo.FindExisting(ctx, RegistrationLookup{Email: "g@example.com"})
	require.NoError(t, err)
	require.Equal(t, "9000000001", found.Mobile)
}
