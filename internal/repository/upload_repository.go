package repository

import (
	"context"

	"coupon-registration/internal/model"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UploadRepository stores coupon upload batch records
type UploadRepository interface {
	CreateUpload(ctx context.Context, upload *model.CouponUpload) error
	FinalizeUpload(ctx context.Context, id primitive.ObjectID, result *model.BulkInsertResult, status model.UploadStatus) error
	GetUpload(ctx context.Context, id primitive.ObjectID) (*model.CouponUpload, error)
	ListUploads(ctx context.Context, limit int64) ([]*model.CouponUpload, error)
	DeleteUpload(ctx context.Context, id primitive.ObjectID) error
}
