package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UploadStatus is the lifecycle of a coupon upload batch.
type UploadStatus string

const (
	UploadProcessing UploadStatus = "processing"
	UploadCompleted  UploadStatus = "completed"
	UploadFailed     UploadStatus = "error"
)

// CouponUpload records one admin file upload and the batch of coupons it created
type CouponUpload struct {
	ID                primitive.ObjectID  `bson:"_id,omitempty" json:"id,omitempty"`
	FileName          string              `bson:"file_name" json:"fileName"`
	OriginalName      string              `bson:"original_name,omitempty" json:"originalName,omitempty"`
	MimeType          string              `bson:"mime_type,omitempty" json:"mimeType,omitempty"`
	FileSize          int64               `bson:"file_size" json:"fileSize"`
	UploadedBy        string              `bson:"uploaded_by,omitempty" json:"uploadedBy,omitempty"`
	FormID            *primitive.ObjectID `bson:"form_id" json:"formId"`
	CouponsAdded      int                 `bson:"coupons_added" json:"couponsAdded"`
	CouponsUsed       int64               `bson:"-" json:"couponsUsed"`
	DuplicatesSkipped int                 `bson:"duplicates_skipped" json:"duplicatesSkipped"`
	Errors            []LineError         `bson:"errors" json:"errors"`
	Status            UploadStatus        `bson:"status" json:"status"`
	CreatedAt         time.Time           `bson:"created_at" json:"createdAt"`
	UpdatedAt         time.Time           `bson:"updated_at" json:"updatedAt"`
}
