package repository

import (
	"context"

	"coupon-registration/internal/model"
)

// CopyEventRepository is the append-only log of coupon copy/view telemetry
type CopyEventRepository interface {
	InsertEvents(ctx context.Context, events []*model.CopyEvent) error
	CountByCode(ctx context.Context, code string) (int64, error)
}
