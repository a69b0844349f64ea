package repository

import (
	"context"

	"coupon-registration/internal/model"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FormRepository is the read side of the form registry the coupon core depends on
type FormRepository interface {
	GetForm(ctx context.Context, id primitive.ObjectID) (*model.Form, error)
	GetFormBySlug(ctx context.Context, slug string) (*model.Form, error)

	// CreateForm is used for seeding; form management lives elsewhere
	CreateForm(ctx context.Context, form *model.Form) error
}
