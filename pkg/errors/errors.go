package errors

import (
	"errors"
	"fmt"
)

// Domain errors for the registration and coupon system
var (
	ErrCouponNotFound      = errors.New("coupon not found")
	ErrCouponAlreadyExists = errors.New("coupon already exists")
	ErrCouponInactive      = errors.New("coupon is not active")
	ErrCouponExpired       = errors.New("coupon has expired")
	ErrCouponExhausted     = errors.New("coupon has no remaining uses")
	ErrCouponWrongForm     = errors.New("coupon is not valid for this form")
	ErrNoEligibleCoupon    = errors.New("no eligible coupon available")

	ErrFormNotFound             = errors.New("form not found")
	ErrFormAlreadyExists        = errors.New("form slug already exists")
	ErrFormInactive             = errors.New("form is not currently active")
	ErrCouponLimitExceeded      = errors.New("upload exceeds the form coupon limit")
	ErrRegistrationNotFound     = errors.New("registration not found")
	ErrRegistrationExists       = errors.New("email or mobile already registered")
	ErrRegistrationLimitReached = errors.New("registration limit for this form has been reached")

	ErrUploadNotFound  = errors.New("coupon upload not found")
	ErrUploadInUse     = errors.New("coupon upload has used coupons")
	ErrEmptyUpload     = errors.New("no valid coupon codes found in file")
	ErrUnsupportedFile = errors.New("unsupported file type")

	ErrUnauthorized = errors.New("authentication required")
	ErrForbidden    = errors.New("admin role required")
)

// ValidationError represents a validation failure on a single input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// StoreError wraps a transient persistence failure. The whole request is safe to
// retry from the client.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Store wraps err as a StoreError unless it is nil or already a domain sentinel.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) || IsConflict(err) {
		return err
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCouponNotFound) ||
		errors.Is(err, ErrFormNotFound) ||
		errors.Is(err, ErrRegistrationNotFound) ||
		errors.Is(err, ErrUploadNotFound)
}

// IsConflict returns true for business outcomes that are terminal but expected.
func IsConflict(err error) bool {
	return errors.Is(err, ErrCouponAlreadyExists) ||
		errors.Is(err, ErrFormAlreadyExists) ||
		errors.Is(err, ErrRegistrationExists) ||
		errors.Is(err, ErrRegistrationLimitReached) ||
		errors.Is(err, ErrNoEligibleCoupon) ||
		errors.Is(err, ErrCouponExhausted) ||
		errors.Is(err, ErrUploadInUse)
}

// IsRetryable returns true if the operation failed on the store and can be retried.
func IsRetryable(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
