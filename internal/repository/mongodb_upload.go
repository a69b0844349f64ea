package repository

import (
	"context"
	"errors"
	"time"

	"coupon-registration/internal/model"
	"coupon-registration/pkg/database"
	apperrors "coupon-registration/pkg/errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongodbUploadRepository implements UploadRepository using MongoDB
type mongodbUploadRepository struct {
	collection *mongo.Collection
}

// NewUploadRepository creates a new MongoDB-based upload repository
func NewUploadRepository(db *mongo.Database) UploadRepository {
	return &mongodbUploadRepository{
		collection: db.Collection(database.CollUploads),
	}
}

// CreateUpload inserts the upload record in processing state
func (r *mongodbUploadRepository) CreateUpload(ctx context.Context, upload *model.CouponUpload) error {
	if upload.ID.IsZero() {
		upload.ID = primitive.NewObjectID()
	}
	if upload.Errors == nil {
		upload.Errors = []model.LineError{}
	}

	if _, err := r.collection.InsertOne(ctx, upload); err != nil {
		return apperrors.Store("create upload", err)
	}
	return nil
}

// FinalizeUpload writes the insert outcome and the final status
func (r *mongodbUploadRepository) FinalizeUpload(ctx context.Context, id primitive.ObjectID, result *model.BulkInsertResult, status model.UploadStatus) error {
	set := bson.M{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if result != nil {
		lineErrors := result.Errors
		if lineErrors == nil {
			lineErrors = []model.LineError{}
		}
		set["coupons_added"] = result.Added
		set["duplicates_skipped"] = result.Duplicates
		set["errors"] = lineErrors
	}

	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return apperrors.Store("finalize upload", err)
	}
	if res.MatchedCount == 0 {
		return apperrors.ErrUploadNotFound
	}
	return nil
}

// GetUpload retrieves an upload record by id
func (r *mongodbUploadRepository) GetUpload(ctx context.Context, id primitive.ObjectID) (*model.CouponUpload, error) {
	var upload model.CouponUpload
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&upload)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.ErrUploadNotFound
		}
		return nil, apperrors.Store("get upload", err)
	}
	return &upload, nil
}

// ListUploads returns the newest uploads first
func (r *mongodbUploadRepository) ListUploads(ctx context.Context, limit int64) ([]*model.CouponUpload, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, apperrors.Store("list uploads", err)
	}
	defer cursor.Close(ctx)

	uploads := []*model.CouponUpload{}
	if err := cursor.All(ctx, &uploads); err != nil {
		return nil, apperrors.Store("list uploads", err)
	}
	return uploads, nil
}

// DeleteUpload removes the upload record
func (r *mongodbUploadRepository) DeleteUpload(ctx context.Context, id primitive.ObjectID) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return apperrors.Store("delete upload", err)
	}
	if res.DeletedCount == 0 {
		return apperrors.ErrUploadNotFound
	}
	return nil
}
