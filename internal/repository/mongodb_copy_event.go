package repository

import (
	"context"

	"coupon-registration/internal/model"
	"coupon-registration/pkg/database"
	apperrors "coupon-registration/pkg/errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongodbCopyEventRepository struct {
	collection *mongo.Collection
}

// NewCopyEventRepository creates a new MongoDB-based copy event log
func NewCopyEventRepository(db *mongo.Database) CopyEventRepository {
	return &mongodbCopyEventRepository{
		collection: db.Collection(database.CollCopyEvents),
	}
}

func (r *mongodbCopyEventRepository) InsertEvents(ctx context.Context, events []*model.CopyEvent) error {
	if len(events) == 0 {
		return nil
	}

	docs := make([]interface{}, 0, len(events))
	for _, e := range events {
		if e.ID.IsZero() {
			e.ID = primitive.NewObjectID()
		}
		e.Code = model.NormalizeCode(e.Code)
		docs = append(docs, e)
	}

	if _, err := r.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false)); err != nil {
		return apperrors.Store("insert copy events", err)
	}
	return nil
}

func (r *mongodbCopyEventRepository) CountByCode(ctx context.Context, code string) (int64, error) {
	n, err := r.collection.CountDocuments(ctx, bson.M{"code": model.NormalizeCode(code)})
	if err != nil {
		return 0, apperrors.Store("count copy events", err)
	}
	return n, nil
}
