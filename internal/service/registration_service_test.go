package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"coupon-registration/internal/model"
	"coupon-registration/pkg/config"
	apperrors "coupon-registration/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Pool [A1, A2]: r1 gets A1, r1 again is a duplicate holding A1, r2 gets A2,
// and r3 meets the form's exhaustion policy.
func TestSubmitPoolScenario(t *testing.T) {
	tests := []struct {
		name   string
		policy func(*model.Form)
		check  func(t *testing.T, res *SubmitResult, err error)
	}{
		{
			name:   "coupon required",
			policy: func(f *model.Form) { f.CouponRequired = true },
			check: func(t *testing.T, res *SubmitResult, err error) {
				require.ErrorIs(t, err, apperrors.ErrRegistrationLimitReached)
				require.Nil(t, res)
			},
		},
		{
			name:   "coupon optional",
			policy: func(f *model.Form) {},
			check: func(t *testing.T, res *SubmitResult, err error) {
				require.NoError(t, err)
				require.Equal(t, SubmitCompleted, res.Status)
				require.Empty(t, res.CouponCode)
				require.Empty(t, res.LinkedInURL)
			},
		},
		{
			name:   "generate on exhaustion",
			policy: func(f *model.Form) { f.CouponRequired = true; f.GenerateOnExhaustion = true },
			check: func(t *testing.T, res *SubmitResult, err error) {
				require.NoError(t, err)
				require.Equal(t, SubmitCompleted, res.Status)
				require.Regexp(t, `^THANKS-[A-Z0-9]{8}$`, res.CouponCode)
				require.NotEmpty(t, res.LinkedInURL)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, envOptions{})
			ctx := context.Background()
			form := env.seedForm(t, "fest", tt.policy)
			env.seedCoupons(t, formPtr(form), "A1", "A2")

			res, err := env.registrations.Submit(ctx, submission("fest", "r1@example.com", "9000000001"))
			require.NoError(t, err)
			require.Equal(t, SubmitCompleted, res.Status)
			require.Equal(t, "A1", res.CouponCode)
			require.Equal(t, "https://example.com/redeem?code=A1", res.LinkedInURL)
			require.NotNil(t, res.FormStats)
			require.EqualValues(t, 1, res.FormStats.RegistrationsCount)
			r1 := res.Registration

			res, err = env.registrations.Submit(ctx, submission("fest", "R1@Example.com", "9000000001"))
			require.NoError(t, err)
			require.Equal(t, SubmitDuplicate, res.Status)
			require.Equal(t, "A1", res.CouponCode)
			require.Equal(t, r1.ID, res.Registration.ID)
			require.EqualValues(t, 0, env.coupon(t, "A2").UsedCount)

			res, err = env.registrations.Submit(ctx, submission("fest", "r2@example.com", "9000000002"))
			require.NoError(t, err)
			require.Equal(t, "A2", res.CouponCode)

			res, err = env.registrations.Submit(ctx, submission("fest", "r3@example.com", "9000000003"))
			tt.check(t, res, err)

			a1 := env.coupon(t, "A1")
			require.Len(t, a1.UsedBy, 1)
			require.Equal(t, r1.ID, a1.UsedBy[0].RegistrationID)
			require.Equal(t, "r1@example.com", a1.UsedBy[0].UserDetails.Email)
		})
	}
}

func TestSubmitDuplicateByMobile(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()
	form := env.seedForm(t, "fest")
	env.seedCoupons(t, formPtr(form), "M1", "M2")

	_, err := env.registrations.Submit(ctx, submission("fest", "first@example.com", "9000000001"))
	require.NoError(t, err)

	res, err := env.registrations.Submit(ctx, submission("fest", "second@example.com", "9000000001"))
	require.NoError(t, err)
	require.Equal(t, SubmitDuplicate, res.Status)
	require.Equal(t, "M1", res.CouponCode)
	require.EqualValues(t, 0, env.coupon(t, "M2").UsedCount)
}

// 10 concurrent submissions from the same person: one registration, one coupon used.
func TestSubmitDoubleDip(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()
	form := env.seedForm(t, "fest")

	codes := make([]string, 10)
	for i := range codes {
		codes[i] = fmt.Sprintf("DD%02d", i)
	}
	env.seedCoupons(t, formPtr(form), codes...)

	var (
		completed  int64
		duplicates int64
		wg         sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.registrations.Submit(ctx, submission("fest", "dip@example.com", "9000000009"))
			if !assert.NoError(t, err) {
				return
			}
			switch res.Status {
			case SubmitCompleted:
				atomic.AddInt64(&completed, 1)
			case SubmitDuplicate:
				atomic.AddInt64(&duplicates, 1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, completed)
	require.EqualValues(t, 9, duplicates)

	var used int32
	for _, code := range codes {
		used += env.coupon(t, code).UsedCount
	}
	require.EqualValues(t, 1, used)

	count, err := env.store.CountByForm(ctx, form.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestSubmitReleasesCouponWhenPersistFails(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()
	env.registrations.registrations = failingRegistrations{RegistrationRepository: env.store, err: errStoreDown}

	form := env.seedForm(t, "fest")
	env.seedCoupons(t, formPtr(form), "P1")

	res, err := env.registrations.Submit(ctx, submission("fest", "p@example.com", "9000000001"))
	require.Nil(t, res)
	require.ErrorIs(t, err, errStoreDown)
	require.True(t, apperrors.IsRetryable(err))

	c := env.coupon(t, "P1")
	require.EqualValues(t, 0, c.UsedCount)
	require.Empty(t, c.UsedBy)
}

func TestSubmitLostRaceReturnsWinner(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()
	form := env.seedForm(t, "fest")
	env.seedCoupons(t, formPtr(form), "W1", "L1")

	winner, err := env.registrations.Submit(ctx, submission("fest", "race@example.com", "9000000001"))
	require.NoError(t, err)

	// the duplicate check misses, so only the unique constraint catches the loser
	env.registrations.registrations = &missFirstLookup{RegistrationRepository: env.store}
	res, err := env.registrations.Submit(ctx, submission("fest", "race@example.com", "9000000001"))
	require.NoError(t, err)
	require.Equal(t, SubmitDuplicate, res.Status)
	require.Equal(t, winner.Registration.ID, res.Registration.ID)
	require.Equal(t, "W1", res.CouponCode)

	l1 := env.coupon(t, "L1")
	require.EqualValues(t, 0, l1.UsedCount)
	require.Empty(t, l1.UsedBy)
}

func TestSubmitValidationAndFormErrors(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()
	env.seedForm(t, "fest")
	env.seedForm(t, "closed", func(f *model.Form) { f.Deactivation = time.Now().UTC().Add(-time.Minute) })
	env.seedForm(t, "disabled", func(f *model.Form) { f.IsActive = false })

	_, err := env.registrations.Submit(ctx, submission("fest", "not-an-email", "9000000001"))
	require.True(t, apperrors.IsValidation(err))
	var ve apperrors.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "email", ve.Field)

	_, err = env.registrations.Submit(ctx, submission("fest", "ok@example.com", "12345"))
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "mobile", ve.Field)

	_, err = env.registrations.Submit(ctx, submission("", "ok@example.com", "9000000001"))
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "formSlug", ve.Field)

	_, err = env.registrations.Submit(ctx, submission("missing", "ok@example.com", "9000000001"))
	require.ErrorIs(t, err, apperrors.ErrFormNotFound)

	_, err = env.registrations.Submit(ctx, submission("closed", "ok@example.com", "9000000001"))
	require.ErrorIs(t, err, apperrors.ErrFormInactive)

	_, err = env.registrations.Submit(ctx, submission("disabled", "ok@example.com", "9000000001"))
	require.ErrorIs(t, err, apperrors.ErrFormInactive)
}

func TestSubmitDuplicateScope(t *testing.T) {
	t.Run("form", func(t *testing.T) {
		env := newTestEnv(t, envOptions{scope: config.ScopeForm})
		ctx := context.Background()
		env.seedForm(t, "day1")
		env.seedForm(t, "day2")

		_, err := env.registrations.Submit(ctx, submission("day1", "x@example.com", "9000000001"))
		require.NoError(t, err)
		res, err := env.registrations.Submit(ctx, submission("day2", "x@example.com", "9000000001"))
		require.NoError(t, err)
		require.Equal(t, SubmitCompleted, res.Status)
	})

	t.Run("global", func(t *testing.T) {
		env := newTestEnv(t, envOptions{scope: config.ScopeGlobal})
		ctx := context.Background()
		env.seedForm(t, "day1")
		env.seedForm(t, "day2")

		first, err := env.registrations.Submit(ctx, submission("day1", "x@example.com", "9000000001"))
		require.NoError(t, err)
		res, err := env.registrations.Submit(ctx, submission("day2", "x@example.com", "9000000002"))
		require.NoError(t, err)
		require.Equal(t, SubmitDuplicate, res.Status)
		require.Equal(t, first.Registration.ID, res.Registration.ID)
	})
}

func TestCheckEmailAndMobile(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()
	env.seedForm(t, "fest")

	reg, err := env.registrations.CheckEmail(ctx, &model.CheckEmailRequest{Email: "c@example.com", Slug: "fest"})
	require.NoError(t, err)
	require.Nil(t, reg)

	_, err = env.registrations.Submit(ctx, submission("fest", "c@example.com", "9000000001"))
	require.NoError(t, err)

	reg, err = env.registrations.CheckEmail(ctx, &model.CheckEmailRequest{Email: " C@example.com ", Slug: "fest"})
	require.NoError(t, err)
	require.NotNil(t, reg)

	reg, err = env.registrations.CheckMobile(ctx, &model.CheckMobileRequest{Mobile: "9000000001", Slug: "fest"})
	require.NoError(t, err)
	require.NotNil(t, reg)

	_, err = env.registrations.CheckMobile(ctx, &model.CheckMobileRequest{Mobile: "9000000001", Slug: "nope"})
	require.ErrorIs(t, err, apperrors.ErrFormNotFound)

	_, err = env.registrations.CheckEmail(ctx, &model.CheckEmailRequest{Email: "bad", Slug: "fest"})
	require.True(t, apperrors.IsValidation(err))
}

func TestTrackCouponUsage(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()
	form := env.seedForm(t, "fest")
	env.seedCoupons(t, formPtr(form), "T1")

	submitted, err := env.registrations.Submit(ctx, submission("fest", "t@example.com", "9000000001"))
	require.NoError(t, err)

	req := &model.TrackUsageRequest{Email: "t@example.com", CouponCode: "t1", Slug: "fest"}
	res, err := env.registrations.TrackCouponUsage(ctx, req)
	require.NoError(t, err)
	require.True(t, res.FirstUse)
	require.Equal(t, model.RedeemMarked, res.Outcome)
	require.True(t, res.Registration.CouponUsed)
	require.NotNil(t, res.Registration.CouponUsedAt)

	res, err = env.registrations.TrackCouponUsage(ctx, &model.TrackUsageRequest{Email: "t@example.com", CouponCode: "T1", Slug: "fest"})
	require.NoError(t, err)
	require.False(t, res.FirstUse)
	require.Equal(t, model.RedeemAlreadyRecorded, res.Outcome)

	c := env.coupon(t, "T1")
	require.Len(t, c.UsedBy, 1)
	require.Equal(t, submitted.Registration.ID, c.UsedBy[0].RegistrationID)
	require.NotNil(t, c.UsedBy[0].RedeemedAt)

	_, err = env.registrations.TrackCouponUsage(ctx, &model.TrackUsageRequest{Email: "t@example.com", CouponCode: "OTHER", Slug: "fest"})
	require.True(t, apperrors.IsValidation(err))

	_, err = env.registrations.TrackCouponUsage(ctx, &model.TrackUsageRequest{Email: "nobody@example.com", CouponCode: "T1", Slug: "fest"})
	require.ErrorIs(t, err, apperrors.ErrRegistrationNotFound)
}

func TestFormStats(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()
	form := env.seedForm(t, "fest", func(f *model.Form) { f.CouponLimit = 50 })
	env.seedCoupons(t, formPtr(form), "S1")

	_, err := env.registrations.Submit(ctx, submission("fest", "s1@example.com", "9000000001"))
	require.NoError(t, err)
	_, err = env.registrations.Submit(ctx, submission("fest", "s2@example.com", "9000000002"))
	require.NoError(t, err)

	stats, err := env.registrations.FormStats(ctx, form.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.RegistrationsCount)
	require.EqualValues(t, 1, stats.CouponIssuedCount)
	require.EqualValues(t, 50, stats.CouponLimit)
}

func TestMobileMustBeDigitsOnly(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()
	form := env.seedForm(t, "fest")

	for _, mobile := range []string{"12345.6789", "+123456789", "-123456789", "1e10000000"} {
		t.Run(mobile, func(t *testing.T) {
			_, err := env.registrations.Submit(ctx, submission("fest", "m@example.com", mobile))
			require.True(t, apperrors.IsValidation(err))
			var ve apperrors.ValidationError
			require.ErrorAs(t, err, &ve)
			require.Equal(t, "mobile", ve.Field)

			_, err = env.registrations.CheckMobile(ctx, &model.CheckMobileRequest{Mobile: mobile, Slug: "fest"})
			require.ErrorAs(t, err, &ve)
			require.Equal(t, "mobile", ve.Field)
		})
	}

	stats, err := env.registrations.FormStats(ctx, form.ID)
	require.NoError(t, err)
	require.Zero(t, stats.RegistrationsCount)
}

// A form's coupon limit caps its registrations even when codes can be generated.
func TestSubmitStopsAtCouponLimit(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()
	form := env.seedForm(t, "fest", func(f *model.Form) {
		f.CouponLimit = 1
		f.CouponRequired = true
		f.GenerateOnExhaustion = true
	})

	first, err := env.registrations.Submit(ctx, submission("fest", "one@example.com", "9000000001"))
	require.NoError(t, err)
	require.Equal(t, SubmitCompleted, first.Status)
	require.NotEmpty(t, first.CouponCode)

	for _, who := range []struct{ email, mobile string }{
		{"two@example.com", "9000000002"},
		{"three@example.com", "9000000003"},
	} {
		res, err := env.registrations.Submit(ctx, submission("fest", who.email, who.mobile))
		require.ErrorIs(t, err, apperrors.ErrRegistrationLimitReached)
		require.Nil(t, res)
	}

	// the registrant already in keeps their coupon
	res, err := env.registrations.Submit(ctx, submission("fest", "one@example.com", "9000000001"))
	require.NoError(t, err)
	require.Equal(t, SubmitDuplicate, res.Status)
	require.Equal(t, first.CouponCode, res.CouponCode)

	count, err := env.store.CountByForm(ctx, form.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	stats, err := env.coupons.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Total)
}
