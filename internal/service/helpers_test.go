package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"coupon-registration/internal/model"
	"coupon-registration/internal/repository"
	"coupon-registration/internal/repository/memory"
	"coupon-registration/pkg/config"
	"coupon-registration/pkg/database"
	apperrors "coupon-registration/pkg/errors"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap/zaptest"
)

const testURLTemplate = "https://example.com/redeem?code=%s"

type testEnv struct {
	store         *memory.Store
	allocator     *CouponAllocator
	tracker       *UsageTracker
	registrations *RegistrationService
	coupons       *CouponService
}

type envOptions struct {
	scope         string
	allocatorOpts []AllocatorOption
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	if opts.scope == "" {
		opts.scope = config.ScopeForm
	}
	store := memory.New(memory.Options{GlobalRegistrationUniqueness: opts.scope == config.ScopeGlobal})
	log := zaptest.NewLogger(t)

	allocOpts := append([]AllocatorOption{
		WithRedemptionURL(testURLTemplate),
		WithAllocatorLogger(log),
	}, opts.allocatorOpts...)
	allocator := NewCouponAllocator(store, allocOpts...)
	tracker := NewUsageTracker(store, store, log)

	return &testEnv{
		store:         store,
		allocator:     allocator,
		tracker:       tracker,
		registrations: NewRegistrationService(store, store, allocator, tracker, opts.scope, log),
		coupons:       NewCouponService(store, store, store, allocator, tracker, database.NoTransaction{}, log),
	}
}

func (e *testEnv) seedForm(t *testing.T, slug string, mutate ...func(*model.Form)) *model.Form {
	t.Helper()

	now := time.Now().UTC()
	form := &model.Form{
		Slug:         slug,
		College:      "Test College",
		Activation:   now.Add(-time.Hour),
		Deactivation: now.Add(24 * time.Hour),
		IsActive:     true,
	}
	for _, m := range mutate {
		m(form)
	}
	require.NoError(t, e.store.CreateForm(context.Background(), form))
	return form
}

// seedCoupons inserts single-use coupons one second apart, oldest first
func (e *testEnv) seedCoupons(t *testing.T, formID *primitive.ObjectID, codes ...string) {
	t.Helper()

	base := time.Now().UTC().Add(-time.Hour)
	for i, code := range codes {
		require.NoError(t, e.store.CreateCoupon(context.Background(), &model.Coupon{
			Code:      code,
			MaxUses:   1,
			IsActive:  true,
			FormID:    formID,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			UpdatedAt: base,
		}))
	}
}

func (e *testEnv) coupon(t *testing.T, code string) *model.Coupon {
	t.Helper()

	c, err := e.store.GetCouponByCode(context.Background(), code)
	require.NoError(t, err)
	return c
}

func submission(slug, email, mobile string) *model.SubmitRegistrationRequest {
	return &model.SubmitRegistrationRequest{
		Email:    email,
		Mobile:   mobile,
		FormSlug: slug,
		Name:     "Test Registrant",
	}
}

func formPtr(f *model.Form) *primitive.ObjectID {
	id := f.ID
	return &id
}

// failingRegistrations stores nothing and fails every insert
type failingRegistrations struct {
	repository.RegistrationRepository
	err error
}

func (f failingRegistrations) CreateRegistration(context.Context, *model.Registration) error {
	return f.err
}

// missFirstLookup hides existing registrations from the first lookup, as a
// concurrent submission that has not committed yet would
type missFirstLookup struct {
	repository.RegistrationRepository
	calls int32
}

func (m *missFirstLookup) FindExisting(ctx context.Context, lookup repository.RegistrationLookup) (*model.Registration, error) {
	if atomic.AddInt32(&m.calls, 1) == 1 {
		return nil, apperrors.ErrRegistrationNotFound
	}
	return m.RegistrationRepository.FindExisting(ctx, lookup)
}

// brokenCoupons fails every reservation as a store outage would
type brokenCoupons struct {
	repository.CouponRepository
}

func (brokenCoupons) ReserveOne(context.Context, model.CouponFilter, model.CouponUsage) (*model.Coupon, error) {
	return nil, apperrors.Store("reserve coupon", errStoreDown)
}

var errStoreDown = errors.New("connection reset by peer")
