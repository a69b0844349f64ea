package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names.
const (
	CollCoupons       = "coupons"
	CollRegistrations = "registrations"
	CollForms         = "forms"
	CollUploads       = "coupon_uploads"
	CollCopyEvents    = "coupon_copy_events"
)

// MongoDB wraps the MongoDB client and database
type MongoDB struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// IndexOptions selects the registration uniqueness indexes to build.
type IndexOptions struct {
	// GlobalRegistrationUniqueness makes email and mobile unique across all forms
	// instead of per form.
	GlobalRegistrationUniqueness bool
}

// Connect establishes a connection to MongoDB
func Connect(ctx context.Context, uri, dbName string, opts IndexOptions) (*MongoDB, error) {
	clientOptions := options.Client().ApplyURI(uri)

	// Set connection timeout
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	mongoDB := &MongoDB{
		Client:   client,
		Database: client.Database(dbName),
	}

	if err := mongoDB.CreateIndexes(ctx, opts); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return mongoDB, nil
}

// CreateIndexes creates all necessary indexes for the application
func (m *MongoDB) CreateIndexes(ctx context.Context, opts IndexOptions) error {
	// Unique code is the guard against two coupons sharing a code
	coupons := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "code", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("coupon_code_unique"),
		},
		{
			// Serves the allocation query: pool filter then FIFO by insertion
			Keys: bson.D{
				{Key: "form_id", Value: 1},
				{Key: "is_active", Value: 1},
				{Key: "created_at", Value: 1},
			},
			Options: options.Index().SetName("coupon_pool_fifo"),
		},
		{
			Keys:    bson.D{{Key: "upload_id", Value: 1}},
			Options: options.Index().SetName("coupon_upload_id"),
		},
		{
			Keys:    bson.D{{Key: "used_by.registration_id", Value: 1}},
			Options: options.Index().SetName("coupon_used_by_registration"),
		},
	}
	if err := m.createIndexes(ctx, CollCoupons, coupons); err != nil {
		return err
	}

	// Registration uniqueness must live in the store; a check-then-insert in code
	// does not hold under concurrent submissions.
	var registrations []mongo.IndexModel
	if opts.GlobalRegistrationUniqueness {
		registrations = []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "email", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("registration_email_global_unique"),
			},
			{
				Keys:    bson.D{{Key: "mobile", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("registration_mobile_global_unique"),
			},
		}
	} else {
		registrations = []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "email", Value: 1}, {Key: "form_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("registration_email_form_unique"),
			},
			{
				Keys:    bson.D{{Key: "mobile", Value: 1}, {Key: "form_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("registration_mobile_form_unique"),
			},
		}
	}
	registrations = append(registrations,
		mongo.IndexModel{
			Keys:    bson.D{{Key: "form_id", Value: 1}},
			Options: options.Index().SetName("registration_form_id"),
		},
		mongo.IndexModel{
			Keys:    bson.D{{Key: "coupon_code", Value: 1}},
			Options: options.Index().SetName("registration_coupon_code"),
		},
	)
	if err := m.createIndexes(ctx, CollRegistrations, registrations); err != nil {
		return err
	}

	forms := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "slug", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("form_slug_unique"),
		},
	}
	if err := m.createIndexes(ctx, CollForms, forms); err != nil {
		return err
	}

	uploads := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "created_at", Value: -1}},
			Options: options.Index().SetName("upload_created_at"),
		},
	}
	if err := m.createIndexes(ctx, CollUploads, uploads); err != nil {
		return err
	}

	copyEvents := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "code", Value: 1}, {Key: "created_at", Value: 1}},
			Options: options.Index().SetName("copy_event_code_created_at"),
		},
	}
	return m.createIndexes(ctx, CollCopyEvents, copyEvents)
}

func (m *MongoDB) createIndexes(ctx context.Context, collection string, models []mongo.IndexModel) error {
	if _, err := m.Database.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("failed to create %s indexes: %w", collection, err)
	}
	return nil
}

// Disconnect closes the MongoDB connection
func (m *MongoDB) Disconnect(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}
