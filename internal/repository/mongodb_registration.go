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

// mongodbRegistrationRepository implements RegistrationRepository using MongoDB
type mongodbRegistrationRepository struct {
	collection *mongo.Collection
}

// NewRegistrationRepository creates a new MongoDB-based registration repository
func NewRegistrationRepository(db *mongo.Database) RegistrationRepository {
	return &mongodbRegistrationRepository{
		collection: db.Collection(database.CollRegistrations),
	}
}

// CreateRegistration inserts a registration. The unique email/mobile indexes are the
// double-registration guard, so a duplicate key here means another submission won.
func (r *mongodbRegistrationRepository) CreateRegistration(ctx context.Context, registration *model.Registration) error {
	if registration.ID.IsZero() {
		registration.ID = primitive.NewObjectID()
	}

	_, err := r.collection.InsertOne(ctx, registration)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperrors.ErrRegistrationExists
		}
		return apperrors.Store("create registration", err)
	}

	return nil
}

// FindExisting returns the first registration matching lookup
func (r *mongodbRegistrationRepository) FindExisting(ctx context.Context, lookup RegistrationLookup) (*model.Registration, error) {
	filter, ok := lookupFilter(lookup)
	if !ok {
		return nil, apperrors.ErrRegistrationNotFound
	}

	var registration model.Registration
	err := r.collection.FindOne(
		ctx,
		filter,
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: 1}}),
	).Decode(&registration)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.ErrRegistrationNotFound
		}
		return nil, apperrors.Store("find registration", err)
	}

	return &registration, nil
}

// GetRegistration retrieves a registration by id
func (r *mongodbRegistrationRepository) GetRegistration(ctx context.Context, id primitive.ObjectID) (*model.Registration, error) {
	var registration model.Registration
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&registration)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.ErrRegistrationNotFound
		}
		return nil, apperrors.Store("get registration", err)
	}

	return &registration, nil
}

// MarkCouponUsed flips coupon_used once; the filter makes repeats a no-op
func (r *mongodbRegistrationRepository) MarkCouponUsed(ctx context.Context, id primitive.ObjectID, at time.Time) (bool, error) {
	res, err := r.collection.UpdateOne(
		ctx,
		bson.M{"_id": id, "coupon_used": bson.M{"$ne": true}},
		bson.M{"$set": bson.M{
			"coupon_used":    true,
			"coupon_used_at": at,
			"updated_at":     at,
		}},
	)
	if err != nil {
		return false, apperrors.Store("mark coupon used", err)
	}

	return res.ModifiedCount > 0, nil
}

// CountByForm counts registrations of a form
func (r *mongodbRegistrationRepository) CountByForm(ctx context.Context, formID primitive.ObjectID) (int64, error) {
	n, err := r.collection.CountDocuments(ctx, bson.M{"form_id": formID})
	if err != nil {
		return 0, apperrors.Store("count registrations", err)
	}
	return n, nil
}

// CountWithCouponByForm counts registrations of a form that hold a coupon code
func (r *mongodbRegistrationRepository) CountWithCouponByForm(ctx context.Context, formID primitive.ObjectID) (int64, error) {
	n, err := r.collection.CountDocuments(ctx, bson.M{
		"form_id":     formID,
		"coupon_code": bson.M{"$exists": true, "$ne": ""},
	})
	if err != nil {
		return 0, apperrors.Store("count registrations with coupon", err)
	}
	return n, nil
}

func lookupFilter(lookup RegistrationLookup) (bson.M, bool) {
	var or bson.A
	if lookup.Email != "" {
		or = append(or, bson.M{"email": lookup.Email})
	}
	if lookup.Mobile != "" {
		or = append(or, bson.M{"mobile": lookup.Mobile})
	}
	if len(or) == 0 {
		return nil, false
	}

	filter := bson.M{"$or": or}
	if lookup.FormID != nil {
		filter["form_id"] = *lookup.FormID
	}
	return filter, true
}
