// Package memory is an in-process implementation of every repository interface.
// A single mutex serialises all calls, which gives each method the same
// single-document atomicity the MongoDB store provides.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"coupon-registration/internal/model"
	"coupon-registration/internal/repository"
	apperrors "coupon-registration/pkg/errors"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	_ repository.CouponRepository       = (*Store)(nil)
	_ repository.RegistrationRepository = (*Store)(nil)
	_ repository.FormRepository         = (*Store)(nil)
	_ repository.UploadRepository       = (*Store)(nil)
	_ repository.CopyEventRepository    = (*Store)(nil)
)

// Options mirrors the index choices of the MongoDB store.
type Options struct {
	GlobalRegistrationUniqueness bool
}

// Store holds every collection in memory behind one lock.
type Store struct {
	mu   sync.RWMutex
	opts Options

	// Coupons in insertion order, indexed by code
	coupons []*model.Coupon
	byCode  map[string]*model.Coupon

	registrations []*model.Registration
	forms         map[primitive.ObjectID]*model.Form
	uploads       map[primitive.ObjectID]*model.CouponUpload
	copyEvents    []*model.CopyEvent
}

// New returns an empty store.
func New(opts Options) *Store {
	return &Store{
		opts:          opts,
		coupons:       make([]*model.Coupon, 0),
		byCode:        make(map[string]*model.Coupon),
		registrations: make([]*model.Registration, 0),
		forms:         make(map[primitive.ObjectID]*model.Form),
		uploads:       make(map[primitive.ObjectID]*model.CouponUpload),
		copyEvents:    make([]*model.CopyEvent, 0),
	}
}

// Coupon store implementation

func (s *Store) CreateCoupon(_ context.Context, c *model.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	c.Code = model.NormalizeCode(c.Code)
	if c.UsedBy == nil {
		c.UsedBy = []model.CouponUsage{}
	}
	if _, exists := s.byCode[c.Code]; exists {
		return apperrors.ErrCouponAlreadyExists
	}
	s.insertCoupon(cloneCoupon(c))
	return nil
}

func (s *Store) GetCouponByCode(_ context.Context, code string) (*model.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.byCode[model.NormalizeCode(code)]; ok {
		return cloneCoupon(c), nil
	}
	return nil, apperrors.ErrCouponNotFound
}

func (s *Store) BulkInsert(_ context.Context, candidates []model.CouponCandidate, uploadID *primitive.ObjectID, createdBy string) (*model.BulkInsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	result := &model.BulkInsertResult{Errors: []model.LineError{}}
	for _, cand := range candidates {
		if model.NormalizeCode(cand.Code) == "" {
			result.Errors = append(result.Errors, model.LineError{Line: cand.Line, Message: "missing coupon code"})
			continue
		}
		c := cand.ToCoupon(uploadID, createdBy, now)
		if _, exists := s.byCode[c.Code]; exists {
			result.Duplicates++
			continue
		}
		s.insertCoupon(c)
		result.Added++
	}
	return result, nil
}

func (s *Store) ReserveOne(_ context.Context, filter model.CouponFilter, usage model.CouponUsage) (*model.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if filter.At.IsZero() {
		filter.At = time.Now().UTC()
	}
	if usage.UsedAt.IsZero() {
		usage.UsedAt = time.Now().UTC()
	}

	var picked *model.Coupon
	for _, c := range s.coupons {
		if !filter.Matches(c) {
			continue
		}
		if _, held := c.UsageFor(usage.RegistrationID); held {
			continue
		}
		if picked == nil || c.CreatedAt.Before(picked.CreatedAt) {
			picked = c
		}
	}
	if picked == nil {
		return nil, apperrors.ErrNoEligibleCoupon
	}

	picked.UsedCount++
	picked.UsedBy = append(picked.UsedBy, usage)
	picked.UpdatedAt = usage.UsedAt
	return cloneCoupon(picked), nil
}

func (s *Store) ReleaseUsage(_ context.Context, code string, registrationID primitive.ObjectID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byCode[model.NormalizeCode(code)]
	if !ok || c.UsedCount == 0 {
		return false, nil
	}

	kept := c.UsedBy[:0]
	removed := false
	for _, u := range c.UsedBy {
		if u.RegistrationID == registrationID {
			removed = true
			continue
		}
		kept = append(kept, u)
	}
	if !removed {
		return false, nil
	}
	c.UsedBy = kept
	c.UsedCount--
	c.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *Store) MarkRedeemed(_ context.Context, code string, registrationID primitive.ObjectID, redemption model.Redemption, at time.Time) (model.RedeemOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byCode[model.NormalizeCode(code)]
	if !ok {
		return 0, apperrors.ErrCouponNotFound
	}

	if usage, found := c.UsageFor(registrationID); found {
		if usage.RedeemedAt != nil {
			return model.RedeemAlreadyRecorded, nil
		}
		redeemedAt := at
		usage.RedeemedAt = &redeemedAt
		if redemption.DiscountApplied != nil {
			usage.DiscountApplied = redemption.DiscountApplied
		}
		if len(redemption.Metadata) > 0 {
			usage.Metadata = redemption.Metadata
		}
		c.UpdatedAt = at
		return model.RedeemMarked, nil
	}

	switch {
	case !c.IsActive:
		return 0, apperrors.ErrCouponInactive
	case c.ExpiredAt(at):
		return 0, apperrors.ErrCouponExpired
	case c.UsedCount >= c.MaxUses:
		return 0, apperrors.ErrCouponExhausted
	}

	redeemedAt := at
	c.UsedBy = append(c.UsedBy, model.CouponUsage{
		RegistrationID:  registrationID,
		UsedAt:          at,
		RedeemedAt:      &redeemedAt,
		DiscountApplied: redemption.DiscountApplied,
		UserDetails:     redemption.UserDetails,
		Source:          model.UsageRedemption,
		Metadata:        redemption.Metadata,
	})
	c.UsedCount++
	c.UpdatedAt = at
	return model.RedeemAppended, nil
}

func (s *Store) SetActive(_ context.Context, code string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byCode[model.NormalizeCode(code)]
	if !ok {
		return apperrors.ErrCouponNotFound
	}
	c.IsActive = active
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) CountAvailable(_ context.Context, filter model.CouponFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if filter.At.IsZero() {
		filter.At = time.Now().UTC()
	}
	var n int64
	for _, c := range s.coupons {
		if filter.Matches(c) {
			n++
		}
	}
	return n, nil
}

func (s *Store) Stats(_ context.Context, at time.Time) (*model.CouponStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &model.CouponStats{ByForm: make([]model.FormCouponStat, 0)}
	groups := make(map[string]*model.FormCouponStat)
	eligible := model.CouponFilter{At: at}
	for _, c := range s.coupons {
		key := ""
		if c.FormID != nil {
			key = c.FormID.Hex()
		}
		g, ok := groups[key]
		if !ok {
			g = &model.FormCouponStat{FormID: c.FormID}
			groups[key] = g
		}

		g.Total++
		stats.Total++
		stats.TotalUses += int64(c.UsedCount)
		if c.IsActive {
			stats.Active++
		}
		if c.UsedCount > 0 {
			g.Used++
			stats.Used++
		}
		if eligible.Matches(c) {
			g.Available++
			stats.Available++
		}
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		stats.ByForm = append(stats.ByForm, *groups[k])
	}
	return stats, nil
}

func (s *Store) CountUsedInUpload(_ context.Context, uploadID primitive.ObjectID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, c := range s.coupons {
		if c.UploadID != nil && *c.UploadID == uploadID && c.UsedCount > 0 {
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteByUpload(_ context.Context, uploadID primitive.ObjectID, unusedOnly bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.coupons[:0]
	var deleted int64
	for _, c := range s.coupons {
		if c.UploadID != nil && *c.UploadID == uploadID && (!unusedOnly || c.UsedCount == 0) {
			delete(s.byCode, c.Code)
			deleted++
			continue
		}
		kept = append(kept, c)
	}
	s.coupons = kept
	return deleted, nil
}

func (s *Store) ExistingCodes(_ context.Context, codes []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(codes))
	seen := make(map[string]bool, len(codes))
	for _, code := range codes {
		code = model.NormalizeCode(code)
		if _, ok := s.byCode[code]; ok && !seen[code] {
			seen[code] = true
			out = append(out, code)
		}
	}
	return out, nil
}

func (s *Store) insertCoupon(c *model.Coupon) {
	s.coupons = append(s.coupons, c)
	s.byCode[c.Code] = c
}

// Registration store implementation

func (s *Store) CreateRegistration(_ context.Context, r *model.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.registrations {
		if !s.opts.GlobalRegistrationUniqueness && existing.FormID != r.FormID {
			continue
		}
		if existing.Email == r.Email || existing.Mobile == r.Mobile {
			return apperrors.ErrRegistrationExists
		}
	}

	if r.ID.IsZero() {
		r.ID = primitive.NewObjectID()
	}
	cp := *r
	s.registrations = append(s.registrations, &cp)
	return nil
}

func (s *Store) FindExisting(_ context.Context, lookup repository.RegistrationLookup) (*model.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if lookup.Email == "" && lookup.Mobile == "" {
		return nil, apperrors.ErrRegistrationNotFound
	}
	for _, r := range s.registrations {
		if lookup.FormID != nil && r.FormID != *lookup.FormID {
			continue
		}
		if (lookup.Email != "" && r.Email == lookup.Email) || (lookup.Mobile != "" && r.Mobile == lookup.Mobile) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, apperrors.ErrRegistrationNotFound
}

func (s *Store) GetRegistration(_ context.Context, id primitive.ObjectID) (*model.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.registrations {
		if r.ID == id {
			cp := *r
			return &cp, nil
		}
	}
	return nil, apperrors.ErrRegistrationNotFound
}

func (s *Store) MarkCouponUsed(_ context.Context, id primitive.ObjectID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.registrations {
		if r.ID != id {
			continue
		}
		if r.CouponUsed {
			return false, nil
		}
		usedAt := at
		r.CouponUsed = true
		r.CouponUsedAt = &usedAt
		r.UpdatedAt = at
		return true, nil
	}
	return false, nil
}

func (s *Store) CountByForm(_ context.Context, formID primitive.ObjectID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, r := range s.registrations {
		if r.FormID == formID {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountWithCouponByForm(_ context.Context, formID primitive.ObjectID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, r := range s.registrations {
		if r.FormID == formID && r.CouponCode != "" {
			n++
		}
	}
	return n, nil
}

// Form store implementation

func (s *Store) GetForm(_ context.Context, id primitive.ObjectID) (*model.Form, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if f, ok := s.forms[id]; ok {
		cp := *f
		return &cp, nil
	}
	return nil, apperrors.ErrFormNotFound
}

func (s *Store) GetFormBySlug(_ context.Context, slug string) (*model.Form, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slug = strings.TrimSpace(slug)
	for _, f := range s.forms {
		if f.Slug == slug {
			cp := *f
			return &cp, nil
		}
	}
	return nil, apperrors.ErrFormNotFound
}

func (s *Store) CreateForm(_ context.Context, f *model.Form) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.forms {
		if existing.Slug == f.Slug {
			return apperrors.ErrFormAlreadyExists
		}
	}
	if f.ID.IsZero() {
		f.ID = primitive.NewObjectID()
	}
	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	cp := *f
	s.forms[f.ID] = &cp
	return nil
}

// Upload store implementation

func (s *Store) CreateUpload(_ context.Context, u *model.CouponUpload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	if u.Errors == nil {
		u.Errors = []model.LineError{}
	}
	cp := *u
	s.uploads[u.ID] = &cp
	return nil
}

func (s *Store) FinalizeUpload(_ context.Context, id primitive.ObjectID, result *model.BulkInsertResult, status model.UploadStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.uploads[id]
	if !ok {
		return apperrors.ErrUploadNotFound
	}
	u.Status = status
	u.UpdatedAt = time.Now().UTC()
	if result != nil {
		u.CouponsAdded = result.Added
		u.DuplicatesSkipped = result.Duplicates
		u.Errors = append([]model.LineError{}, result.Errors...)
	}
	return nil
}

func (s *Store) GetUpload(_ context.Context, id primitive.ObjectID) (*model.CouponUpload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if u, ok := s.uploads[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, apperrors.ErrUploadNotFound
}

func (s *Store) ListUploads(_ context.Context, limit int64) ([]*model.CouponUpload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*model.CouponUpload, 0, len(s.uploads))
	for _, u := range s.uploads {
		cp := *u
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && int64(len(result)) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) DeleteUpload(_ context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.uploads[id]; !ok {
		return apperrors.ErrUploadNotFound
	}
	delete(s.uploads, id)
	return nil
}

// Copy event store implementation

func (s *Store) InsertEvents(_ context.Context, events []*model.CopyEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		if e.ID.IsZero() {
			e.ID = primitive.NewObjectID()
		}
		cp := *e
		cp.Code = model.NormalizeCode(cp.Code)
		s.copyEvents = append(s.copyEvents, &cp)
	}
	return nil
}

func (s *Store) CountByCode(_ context.Context, code string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	code = model.NormalizeCode(code)
	var n int64
	for _, e := range s.copyEvents {
		if e.Code == code {
			n++
		}
	}
	return n, nil
}

func cloneCoupon(c *model.Coupon) *model.Coupon {
	cp := *c
	cp.UsedBy = append([]model.CouponUsage{}, c.UsedBy...)
	return &cp
}
