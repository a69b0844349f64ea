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

// FIFO by insertion; _id breaks ties inside one upload batch
var allocationOrder = bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}

// mongodbCouponRepository implements CouponRepository using MongoDB
type mongodbCouponRepository struct {
	collection *mongo.Collection
}

// NewCouponRepository creates a new MongoDB-based coupon repository
func NewCouponRepository(db *mongo.Database) CouponRepository {
	return &mongodbCouponRepository{
		collection: db.Collection(database.CollCoupons),
	}
}

// CreateCoupon creates a new coupon
func (r *mongodbCouponRepository) CreateCoupon(ctx context.Context, coupon *model.Coupon) error {
	if coupon.ID.IsZero() {
		coupon.ID = primitive.NewObjectID()
	}
	coupon.Code = model.NormalizeCode(coupon.Code)
	if coupon.UsedBy == nil {
		coupon.UsedBy = []model.CouponUsage{}
	}

	_, err := r.collection.InsertOne(ctx, coupon)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperrors.ErrCouponAlreadyExists
		}
		return apperrors.Store("create coupon", err)
	}

	return nil
}

// GetCouponByCode retrieves a coupon by its code
func (r *mongodbCouponRepository) GetCouponByCode(ctx context.Context, code string) (*model.Coupon, error) {
	var coupon model.Coupon
	err := r.collection.FindOne(ctx, bson.M{"code": model.NormalizeCode(code)}).Decode(&coupon)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.ErrCouponNotFound
		}
		return nil, apperrors.Store("get coupon", err)
	}

	return &coupon, nil
}

// BulkInsert inserts an upload batch with an unordered insert so one bad row does not
// stop the rest. The unique code index reports duplicates.
func (r *mongodbCouponRepository) BulkInsert(ctx context.Context, candidates []model.CouponCandidate, uploadID *primitive.ObjectID, createdBy string) (*model.BulkInsertResult, error) {
	now := time.Now().UTC()
	result := &model.BulkInsertResult{Errors: []model.LineError{}}

	docs := make([]interface{}, 0, len(candidates))
	lines := make([]int, 0, len(candidates))
	for _, c := range candidates {
		if model.NormalizeCode(c.Code) == "" {
			result.Errors = append(result.Errors, model.LineError{Line: c.Line, Message: "missing coupon code"})
			continue
		}
		docs = append(docs, c.ToCoupon(uploadID, createdBy, now))
		lines = append(lines, c.Line)
	}
	if len(docs) == 0 {
		return result, nil
	}

	result.Added = len(docs)
	_, err := r.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil {
		return result, nil
	}

	var bulkErr mongo.BulkWriteException
	if !errors.As(err, &bulkErr) {
		return nil, apperrors.Store("bulk insert coupons", err)
	}
	for _, we := range bulkErr.WriteErrors {
		result.Added--
		if isDuplicateKeyCode(we.Code) {
			result.Duplicates++
			continue
		}
		line := 0
		if we.Index >= 0 && we.Index < len(lines) {
			line = lines[we.Index]
		}
		result.Errors = append(result.Errors, model.LineError{Line: line, Message: we.Message})
	}
	if bulkErr.WriteConcernError != nil {
		return result, apperrors.Store("bulk insert coupons", bulkErr.WriteConcernError)
	}

	return result, nil
}

// ReserveOne atomically reserves one use of the oldest eligible coupon
func (r *mongodbCouponRepository) ReserveOne(ctx context.Context, filter model.CouponFilter, usage model.CouponUsage) (*model.Coupon, error) {
	if usage.UsedAt.IsZero() {
		usage.UsedAt = time.Now().UTC()
	}

	update := bson.M{
		"$inc":  bson.M{"used_count": 1}, // Atomic increment guarded by the $expr predicate
		"$push": bson.M{"used_by": usage},
		"$set":  bson.M{"updated_at": usage.UsedAt},
	}

	// A registration holds at most one use of a given coupon
	match := eligibleFilter(filter)
	match["used_by.registration_id"] = bson.M{"$ne": usage.RegistrationID}

	var coupon model.Coupon
	err := r.collection.FindOneAndUpdate(
		ctx,
		match,
		update,
		options.FindOneAndUpdate().
			SetSort(allocationOrder).
			SetReturnDocument(options.After).
			SetUpsert(false),
	).Decode(&coupon)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.ErrNoEligibleCoupon
		}
		return nil, apperrors.Store("reserve coupon", err)
	}

	return &coupon, nil
}

// ReleaseUsage removes the usage entry of registrationID and gives the use back
func (r *mongodbCouponRepository) ReleaseUsage(ctx context.Context, code string, registrationID primitive.ObjectID) (bool, error) {
	res, err := r.collection.UpdateOne(
		ctx,
		bson.M{
			"code":                    model.NormalizeCode(code),
			"used_by.registration_id": registrationID,
			"used_count":              bson.M{"$gt": 0},
		},
		bson.M{
			"$inc":  bson.M{"used_count": -1},
			"$pull": bson.M{"used_by": bson.M{"registration_id": registrationID}},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		},
	)
	if err != nil {
		return false, apperrors.Store("release coupon", err)
	}

	return res.MatchedCount > 0, nil
}

// MarkRedeemed stamps the registration's usage entry, or appends one under the
// usage predicate when the code was never allocated to it
func (r *mongodbCouponRepository) MarkRedeemed(ctx context.Context, code string, registrationID primitive.ObjectID, redemption model.Redemption, at time.Time) (model.RedeemOutcome, error) {
	code = model.NormalizeCode(code)

	set := bson.M{
		"used_by.$.redeemed_at": at,
		"updated_at":            at,
	}
	if redemption.DiscountApplied != nil {
		set["used_by.$.discount_applied"] = *redemption.DiscountApplied
	}
	if len(redemption.Metadata) > 0 {
		set["used_by.$.metadata"] = redemption.Metadata
	}
	res, err := r.collection.UpdateOne(
		ctx,
		bson.M{
			"code": code,
			"used_by": bson.M{"$elemMatch": bson.M{
				"registration_id": registrationID,
				"redeemed_at":     nil,
			}},
		},
		bson.M{"$set": set},
	)
	if err != nil {
		return 0, apperrors.Store("mark redeemed", err)
	}
	if res.MatchedCount > 0 {
		return model.RedeemMarked, nil
	}

	filter := eligibleFilter(model.CouponFilter{At: at})
	filter["code"] = code
	filter["used_by.registration_id"] = bson.M{"$ne": registrationID}
	entry := model.CouponUsage{
		RegistrationID:  registrationID,
		UsedAt:          at,
		RedeemedAt:      &at,
		DiscountApplied: redemption.DiscountApplied,
		UserDetails:     redemption.UserDetails,
		Source:          model.UsageRedemption,
		Metadata:        redemption.Metadata,
	}
	res, err = r.collection.UpdateOne(ctx, filter, bson.M{
		"$inc":  bson.M{"used_count": 1},
		"$push": bson.M{"used_by": entry},
		"$set":  bson.M{"updated_at": at},
	})
	if err != nil {
		return 0, apperrors.Store("append redemption", err)
	}
	if res.MatchedCount > 0 {
		return model.RedeemAppended, nil
	}

	coupon, err := r.GetCouponByCode(ctx, code)
	if err != nil {
		return 0, err
	}
	return classifyRedeemMiss(coupon, registrationID, at)
}

// SetActive toggles whether a coupon may be allocated
func (r *mongodbCouponRepository) SetActive(ctx context.Context, code string, active bool) error {
	res, err := r.collection.UpdateOne(
		ctx,
		bson.M{"code": model.NormalizeCode(code)},
		bson.M{"$set": bson.M{"is_active": active, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return apperrors.Store("set coupon status", err)
	}
	if res.MatchedCount == 0 {
		return apperrors.ErrCouponNotFound
	}
	return nil
}

// CountAvailable counts coupons a reservation with filter could still pick
func (r *mongodbCouponRepository) CountAvailable(ctx context.Context, filter model.CouponFilter) (int64, error) {
	n, err := r.collection.CountDocuments(ctx, eligibleFilter(filter))
	if err != nil {
		return 0, apperrors.Store("count available coupons", err)
	}
	return n, nil
}

type couponStatRow struct {
	FormID    *primitive.ObjectID `bson:"_id"`
	Total     int64               `bson:"total"`
	Active    int64               `bson:"active"`
	Used      int64               `bson:"used"`
	Uses      int64               `bson:"uses"`
	Available int64               `bson:"available"`
}

// Stats aggregates the coupon collection grouped by form
func (r *mongodbCouponRepository) Stats(ctx context.Context, at time.Time) (*model.CouponStats, error) {
	sumIf := func(cond interface{}) bson.D {
		return bson.D{{Key: "$sum", Value: bson.D{{Key: "$cond", Value: bson.A{cond, 1, 0}}}}}
	}
	notExpired := bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "$eq", Value: bson.A{bson.D{{Key: "$ifNull", Value: bson.A{"$expiry_date", nil}}}, nil}}},
		bson.D{{Key: "$gt", Value: bson.A{"$expiry_date", at}}},
	}}}
	available := bson.D{{Key: "$and", Value: bson.A{
		"$is_active",
		bson.D{{Key: "$lt", Value: bson.A{"$used_count", "$max_uses"}}},
		notExpired,
	}}}

	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$form_id"},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "active", Value: sumIf("$is_active")},
			{Key: "used", Value: sumIf(bson.D{{Key: "$gt", Value: bson.A{"$used_count", 0}}})},
			{Key: "uses", Value: bson.D{{Key: "$sum", Value: "$used_count"}}},
			{Key: "available", Value: sumIf(available)},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, apperrors.Store("coupon stats", err)
	}
	defer cursor.Close(ctx)

	var rows []couponStatRow
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, apperrors.Store("coupon stats", err)
	}

	stats := &model.CouponStats{ByForm: make([]model.FormCouponStat, 0, len(rows))}
	for _, row := range rows {
		stats.Total += row.Total
		stats.Active += row.Active
		stats.Used += row.Used
		stats.TotalUses += row.Uses
		stats.Available += row.Available
		stats.ByForm = append(stats.ByForm, model.FormCouponStat{
			FormID:    row.FormID,
			Total:     row.Total,
			Used:      row.Used,
			Available: row.Available,
		})
	}
	return stats, nil
}

// CountUsedInUpload counts coupons of a batch that have been used at least once
func (r *mongodbCouponRepository) CountUsedInUpload(ctx context.Context, uploadID primitive.ObjectID) (int64, error) {
	n, err := r.collection.CountDocuments(ctx, bson.M{
		"upload_id":  uploadID,
		"used_count": bson.M{"$gt": 0},
	})
	if err != nil {
		return 0, apperrors.Store("count used coupons in upload", err)
	}
	return n, nil
}

// DeleteByUpload removes the coupons of an upload batch. With unusedOnly the
// usage check is part of the delete filter.
func (r *mongodbCouponRepository) DeleteByUpload(ctx context.Context, uploadID primitive.ObjectID, unusedOnly bool) (int64, error) {
	filter := bson.M{"upload_id": uploadID}
	if unusedOnly {
		filter["used_count"] = 0
	}
	res, err := r.collection.DeleteMany(ctx, filter)
	if err != nil {
		return 0, apperrors.Store("delete upload coupons", err)
	}
	return res.DeletedCount, nil
}

// ExistingCodes returns which of codes exist in the collection
func (r *mongodbCouponRepository) ExistingCodes(ctx context.Context, codes []string) ([]string, error) {
	normalized := make([]string, 0, len(codes))
	for _, c := range codes {
		if n := model.NormalizeCode(c); n != "" {
			normalized = append(normalized, n)
		}
	}
	if len(normalized) == 0 {
		return nil, nil
	}

	cursor, err := r.collection.Find(
		ctx,
		bson.M{"code": bson.M{"$in": normalized}},
		options.Find().SetProjection(bson.M{"code": 1}),
	)
	if err != nil {
		return nil, apperrors.Store("existing codes", err)
	}
	defer cursor.Close(ctx)

	var found []struct {
		Code string `bson:"code"`
	}
	if err := cursor.All(ctx, &found); err != nil {
		return nil, apperrors.Store("existing codes", err)
	}

	out := make([]string, 0, len(found))
	for _, f := range found {
		out = append(out, f.Code)
	}
	return out, nil
}

// eligibleFilter translates a CouponFilter into the allocation match predicate.
// used_count < max_uses is part of the match so the update can never overshoot.
func eligibleFilter(f model.CouponFilter) bson.M {
	at := f.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	filter := bson.M{
		"is_active": true,
		"$expr":     bson.M{"$lt": bson.A{"$used_count", "$max_uses"}},
		"$or": bson.A{
			bson.M{"expiry_date": nil},
			bson.M{"expiry_date": bson.M{"$gt": at}},
		},
	}
	switch {
	case f.FormID != nil:
		filter["form_id"] = *f.FormID
	case f.GeneralPool:
		filter["form_id"] = nil
	}
	if f.RequireRedemptionURL {
		filter["linkedin_url"] = bson.M{"$nin": bson.A{nil, ""}}
	}
	return filter
}

// classifyRedeemMiss explains why neither redemption update matched
func classifyRedeemMiss(coupon *model.Coupon, registrationID primitive.ObjectID, at time.Time) (model.RedeemOutcome, error) {
	if usage, ok := coupon.UsageFor(registrationID); ok && usage.RedeemedAt != nil {
		return model.RedeemAlreadyRecorded, nil
	}
	switch {
	case !coupon.IsActive:
		return 0, apperrors.ErrCouponInactive
	case coupon.ExpiredAt(at):
		return 0, apperrors.ErrCouponExpired
	default:
		return 0, apperrors.ErrCouponExhausted
	}
}

func isDuplicateKeyCode(code int) bool {
	return code == 11000 || code == 11001 || code == 12582
}
