package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	apperrors "coupon-registration/pkg/errors"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// validatorInstance shares the "binding" tags gin uses at the HTTP edge, so
// services called directly enforce the same rules.
func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.SetTagName("binding")
		UseJSONFieldNames(validate)
	})
	return validate
}

// UseJSONFieldNames makes field errors report the json name of the field.
// The router applies it to gin's binding validator too.
func UseJSONFieldNames(v *validator.Validate) {
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
}

// validateRequest returns the first field failure as a ValidationError
func validateRequest(req interface{}) error {
	err := validatorInstance().Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return ValidationErrorFrom(fieldErrs[0])
	}
	return apperrors.ValidationError{Field: "request", Message: err.Error()}
}

// ValidationErrorFrom converts a validator field error into the domain error
func ValidationErrorFrom(fe validator.FieldError) apperrors.ValidationError {
	var msg string
	switch fe.Tag() {
	case "required":
		msg = "is required"
	case "email":
		msg = "must be a valid email address"
	case "numeric", "number":
		msg = "must contain digits only"
	case "len":
		msg = fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "max":
		msg = fmt.Sprintf("must be at most %s", fe.Param())
	case "min":
		msg = fmt.Sprintf("must be at least %s", fe.Param())
	case "gte":
		msg = fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	default:
		msg = fmt.Sprintf("failed %s validation", fe.Tag())
	}
	return apperrors.ValidationError{Field: fe.Field(), Message: msg}
}
