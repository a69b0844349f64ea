package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"coupon-registration/internal/model"
	"coupon-registration/pkg/database"
	apperrors "coupon-registration/pkg/errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type mongodbFormRepository struct {
	collection *mongo.Collection
}

// NewFormRepository creates a new MongoDB-based form repository
func NewFormRepository(db *mongo.Database) FormRepository {
	return &mongodbFormRepository{
		collection: db.Collection(database.CollForms),
	}
}

func (r *mongodbFormRepository) GetForm(ctx context.Context, id primitive.ObjectID) (*model.Form, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *mongodbFormRepository) GetFormBySlug(ctx context.Context, slug string) (*model.Form, error) {
	return r.findOne(ctx, bson.M{"slug": strings.TrimSpace(slug)})
}

func (r *mongodbFormRepository) CreateForm(ctx context.Context, form *model.Form) error {
	if form.ID.IsZero() {
		form.ID = primitive.NewObjectID()
	}
	now := time.Now().UTC()
	if form.CreatedAt.IsZero() {
		form.CreatedAt = now
	}
	form.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, form); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperrors.ErrFormAlreadyExists
		}
		return apperrors.Store("create form", err)
	}
	return nil
}

func (r *mongodbFormRepository) findOne(ctx context.Context, filter bson.M) (*model.Form, error) {
	var form model.Form
	if err := r.collection.FindOne(ctx, filter).Decode(&form); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.ErrFormNotFound
		}
		return nil, apperrors.Store("get form", err)
	}
	return &form, nil
}
