package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"coupon-registration/internal/ingest"
	"coupon-registration/internal/model"
	"coupon-registration/internal/repository"
	"coupon-registration/pkg/database"
	apperrors "coupon-registration/pkg/errors"
	"coupon-registration/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const defaultUploadListLimit = 100

// UploadRequest is an admin file upload of coupon codes
type UploadRequest struct {
	FileName   string
	MimeType   string
	Size       int64
	Content    io.Reader
	FormID     string // empty uploads to the general pool
	UploadedBy string
}

// UploadResult reports what an upload added
type UploadResult struct {
	UploadID   string            `json:"uploadId"`
	Added      int               `json:"added"`
	Duplicates int               `json:"duplicates"`
	Errors     []model.LineError `json:"errors"`
}

// PurgeResult reports what purging an upload removed
type PurgeResult struct {
	UploadID       string `json:"uploadId"`
	CouponsDeleted int64  `json:"couponsDeleted"`
	UsedCoupons    int64  `json:"usedCoupons"`
}

// AvailableCoupons counts what a form could still be allocated
type AvailableCoupons struct {
	FormID       string `json:"formId"`
	FormSpecific int64  `json:"formSpecific"`
	General      int64  `json:"general"`
	Total        int64  `json:"total"`
}

// CouponService handles coupon validation and administration
type CouponService struct {
	coupons   repository.CouponRepository
	uploads   repository.UploadRepository
	forms     repository.FormRepository
	allocator *CouponAllocator
	tracker   *UsageTracker
	tx        database.Transactor
	logger    *zap.Logger
	now       func() time.Time
}

// NewCouponService creates a new coupon service
func NewCouponService(
	coupons repository.CouponRepository,
	uploads repository.UploadRepository,
	forms repository.FormRepository,
	allocator *CouponAllocator,
	tracker *UsageTracker,
	tx database.Transactor,
	l *zap.Logger,
) *CouponService {
	return &CouponService{
		coupons:   coupons,
		uploads:   uploads,
		forms:     forms,
		allocator: allocator,
		tracker:   tracker,
		tx:        tx,
		logger:    logger.OrNop(l),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Validate checks that a code could be used now, optionally for a given form
func (s *CouponService) Validate(ctx context.Context, req *model.ValidateCouponRequest) (*model.ValidateCouponResponse, error) {
	req.Code = model.NormalizeCode(req.Code)
	req.FormID = strings.TrimSpace(req.FormID)
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	var formID *primitive.ObjectID
	if req.FormID != "" {
		id, err := parseObjectID("formId", req.FormID)
		if err != nil {
			return nil, err
		}
		formID = &id
	}

	coupon, err := s.coupons.GetCouponByCode(ctx, req.Code)
	if err != nil {
		return nil, err
	}

	switch {
	case !coupon.IsActive:
		return nil, apperrors.ErrCouponInactive
	case coupon.ExpiredAt(s.now()):
		return nil, apperrors.ErrCouponExpired
	case coupon.Remaining() == 0:
		return nil, apperrors.ErrCouponExhausted
	case formID != nil && coupon.FormID != nil && *coupon.FormID != *formID:
		return nil, apperrors.ErrCouponWrongForm
	}

	resp := &model.ValidateCouponResponse{
		Code:          coupon.Code,
		Description:   coupon.Description,
		Discount:      coupon.Discount,
		IsPercentage:  coupon.IsPercentage,
		RemainingUses: coupon.Remaining(),
		ExpiryDate:    coupon.ExpiryDate,
		LinkedInURL:   s.allocator.RedemptionURL(coupon),
	}
	if coupon.FormID != nil {
		hex := coupon.FormID.Hex()
		resp.FormID = &hex
	}
	return resp, nil
}

// Upload parses a coupon file and inserts its codes as one batch
func (s *CouponService) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	var form *model.Form
	if id := strings.TrimSpace(req.FormID); id != "" {
		formID, err := parseObjectID("formId", id)
		if err != nil {
			return nil, err
		}
		if form, err = s.forms.GetForm(ctx, formID); err != nil {
			return nil, err
		}
	}

	candidates, lineErrors, err := ingest.Parse(req.FileName, req.Content)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, apperrors.ErrEmptyUpload
	}

	var formID *primitive.ObjectID
	if form != nil {
		formID = &form.ID
		if err := s.checkCouponLimit(ctx, form, len(candidates)); err != nil {
			return nil, err
		}
	}
	for i := range candidates {
		candidates[i].FormID = formID
	}

	now := s.now()
	upload := &model.CouponUpload{
		FileName:     req.FileName,
		OriginalName: req.FileName,
		MimeType:     req.MimeType,
		FileSize:     req.Size,
		UploadedBy:   req.UploadedBy,
		FormID:       formID,
		Status:       model.UploadProcessing,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.uploads.CreateUpload(ctx, upload); err != nil {
		return nil, err
	}

	result, err := s.coupons.BulkInsert(ctx, candidates, &upload.ID, req.UploadedBy)
	if err != nil {
		if finErr := s.uploads.FinalizeUpload(ctx, upload.ID, result, model.UploadFailed); finErr != nil {
			s.logger.Error("finalize failed upload", zap.String("upload_id", upload.ID.Hex()), zap.Error(finErr))
		}
		return nil, err
	}
	result.Errors = append(lineErrors, result.Errors...)
	if result.Errors == nil {
		result.Errors = []model.LineError{}
	}

	if err := s.uploads.FinalizeUpload(ctx, upload.ID, result, model.UploadCompleted); err != nil {
		return nil, err
	}

	s.logger.Info("coupon upload completed",
		zap.String("upload_id", upload.ID.Hex()),
		zap.String("file", req.FileName),
		zap.Int("added", result.Added),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("errors", len(result.Errors)),
	)
	return &UploadResult{
		UploadID:   upload.ID.Hex(),
		Added:      result.Added,
		Duplicates: result.Duplicates,
		Errors:     result.Errors,
	}, nil
}

// checkCouponLimit rejects an upload that would leave a form with more
// allocatable coupons than its limit. Used or expired codes do not count.
func (s *CouponService) checkCouponLimit(ctx context.Context, form *model.Form, incoming int) error {
	if form.CouponLimit <= 0 {
		return nil
	}
	formID := form.ID
	available, err := s.coupons.CountAvailable(ctx, model.CouponFilter{FormID: &formID, At: s.now()})
	if err != nil {
		return err
	}
	if available+int64(incoming) > int64(form.CouponLimit) {
		return fmt.Errorf("%w: %d available + %d new > limit %d",
			apperrors.ErrCouponLimitExceeded, available, incoming, form.CouponLimit)
	}
	return nil
}

// ListUploads returns recent uploads with the number of their coupons in use
func (s *CouponService) ListUploads(ctx context.Context, limit int64) ([]*model.CouponUpload, error) {
	if limit <= 0 {
		limit = defaultUploadListLimit
	}
	uploads, err := s.uploads.ListUploads(ctx, limit)
	if err != nil {
		return nil, err
	}
	for _, u := range uploads {
		used, err := s.coupons.CountUsedInUpload(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		u.CouponsUsed = used
	}
	return uploads, nil
}

// PurgeUpload deletes an upload and its coupons in one transaction. It is refused
// while any coupon of the batch has been used, unless force is set.
func (s *CouponService) PurgeUpload(ctx context.Context, uploadID string, force bool) (*PurgeResult, error) {
	id, err := parseObjectID("uploadId", uploadID)
	if err != nil {
		return nil, err
	}

	result := &PurgeResult{UploadID: id.Hex()}
	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.uploads.GetUpload(ctx, id); err != nil {
			return err
		}

		used, err := s.coupons.CountUsedInUpload(ctx, id)
		if err != nil {
			return err
		}
		result.UsedCoupons = used
		if used > 0 && !force {
			return fmt.Errorf("%w: %d used", apperrors.ErrUploadInUse, used)
		}

		deleted, err := s.coupons.DeleteByUpload(ctx, id, !force)
		if err != nil {
			return err
		}
		result.CouponsDeleted = deleted

		if !force {
			// A coupon allocated after the count survives the delete; keep the batch record
			if used, err = s.coupons.CountUsedInUpload(ctx, id); err != nil {
				return err
			}
			if used > 0 {
				result.UsedCoupons = used
				return fmt.Errorf("%w: %d used", apperrors.ErrUploadInUse, used)
			}
		}

		return s.uploads.DeleteUpload(ctx, id)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Warn("coupon upload purged",
		zap.String("upload_id", id.Hex()),
		zap.Int64("coupons_deleted", result.CouponsDeleted),
		zap.Int64("used_coupons", result.UsedCoupons),
		zap.Bool("forced", force),
	)
	return result, nil
}

// Details retrieves a coupon with its usage trail and copy count
func (s *CouponService) Details(ctx context.Context, code string) (*model.CouponDetailsResponse, error) {
	coupon, err := s.coupons.GetCouponByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	copies, err := s.tracker.CopyEventCount(ctx, coupon.Code)
	if err != nil {
		return nil, err
	}

	return &model.CouponDetailsResponse{
		Coupon:     coupon,
		Remaining:  coupon.Remaining(),
		CopyEvents: copies,
	}, nil
}

// SetStatus activates or deactivates a coupon
func (s *CouponService) SetStatus(ctx context.Context, code string, active bool) (*model.Coupon, error) {
	if err := s.coupons.SetActive(ctx, code, active); err != nil {
		return nil, err
	}
	s.logger.Info("coupon status changed", zap.String("code", model.NormalizeCode(code)), zap.Bool("active", active))
	return s.coupons.GetCouponByCode(ctx, code)
}

// Stats aggregates the coupon collection
func (s *CouponService) Stats(ctx context.Context) (*model.CouponStats, error) {
	return s.coupons.Stats(ctx, s.now())
}

// AvailableForForm counts coupons the default tiers could still allocate to a form
func (s *CouponService) AvailableForForm(ctx context.Context, formID string) (*AvailableCoupons, error) {
	id, err := parseObjectID("formId", formID)
	if err != nil {
		return nil, err
	}
	if _, err := s.forms.GetForm(ctx, id); err != nil {
		return nil, err
	}

	now := s.now()
	specific, err := s.coupons.CountAvailable(ctx, model.CouponFilter{FormID: &id, At: now})
	if err != nil {
		return nil, err
	}
	general, err := s.coupons.CountAvailable(ctx, model.CouponFilter{GeneralPool: true, At: now})
	if err != nil {
		return nil, err
	}

	return &AvailableCoupons{
		FormID:       id.Hex(),
		FormSpecific: specific,
		General:      general,
		Total:        specific + general,
	}, nil
}

func parseObjectID(field, hex string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(strings.TrimSpace(hex))
	if err != nil {
		return primitive.NilObjectID, apperrors.ValidationError{Field: field, Message: "must be a valid id"}
	}
	return id, nil
}
