// Package validation checks form payloads before any remote call is made.
// Violations are reported per field so the view can render them inline.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	appErrors "snapgram/internal/errors"

	"github.com/go-playground/validator/v10"
)

// Validator validates domain form payloads using struct tags.
type Validator struct {
	validate *validator.Validate
}

var (
	instance *Validator
	once     sync.Once
)

// Default returns the shared validator instance.
func Default() *Validator {
	once.Do(func() {
		instance = New()
	})
	return instance
}

// New creates a validator that reports fields by their JSON names.
func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return strings.ToLower(fld.Name)
		}
		return name
	})
	return &Validator{validate: v}
}

// Validate checks form and returns a validation AppError carrying one message
// per failing field, or nil.
func (v *Validator) Validate(form any) error {
	err := v.validate.Struct(form)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return appErrors.Internal("VALIDATOR_FAILED", "Unable to validate form.").WithCause(err).Build()
	}

	b := appErrors.Validation("FORM_INVALID", "Please correct the highlighted fields.")
	for _, fe := range fieldErrs {
		b.WithField(fe.Field(), message(fe))
	}
	return b.Build()
}

// message mirrors the wording users see on the sign-up, sign-in, post and
// profile forms.
func message(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		if field == "file" {
			return "Photo must be uploaded."
		}
		return fmt.Sprintf("%s is required.", label(field))
	case "email":
		return "Invalid email."
	case "min":
		if field == "password" {
			return fmt.Sprintf("Password must be at least %s characters long.", fe.Param())
		}
		if fe.Param() == "2" {
			return "Please provide at least two characters."
		}
		return fmt.Sprintf("%s must contain at least %s characters.", label(field), fe.Param())
	case "max":
		return fmt.Sprintf("%s cannot be longer than %s characters.", label(field), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid.", label(field))
	}
}

func label(field string) string {
	if field == "" {
		return field
	}
	return strings.ToUpper(field[:1]) + field[1:]
}
