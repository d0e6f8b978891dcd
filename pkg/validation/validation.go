// Package validation checks request DTOs with go-playground/validator and
// reports the first failure as a domain validation error.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"bnpl/pkg/domain"
	dErrors "bnpl/pkg/domain-errors"
)

// MaxBodySize caps JSON request bodies (16 KB is plenty for every request shape here).
const MaxBodySize = 16 * 1024

var defaultValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report fields by their wire name
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	// money: positive decimal string with at most two fractional digits
	_ = v.RegisterValidation("money", func(fl validator.FieldLevel) bool {
		_, err := domain.ParseAmount(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate validates a struct using the default validator. The returned domain
// error carries the offending field and rule in its details.
func Validate(req any) error {
	err := defaultValidator.Struct(req)
	if err == nil {
		return nil
	}
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return dErrors.New(dErrors.CodeValidation, "invalid request body")
	}
	fe := validationErrs[0]
	return dErrors.WithDetails(dErrors.CodeValidation, ErrorMessage(fe), map[string]any{
		"field": fieldName(fe),
		"rule":  fe.ActualTag(),
	})
}

// TrimSpace trims every referenced string in place. DTO Normalize methods use it.
func TrimSpace(fields ...*string) {
	for _, f := range fields {
		*f = strings.TrimSpace(*f)
	}
}

// ErrorMessage renders one field failure as a human-readable message.
func ErrorMessage(fe validator.FieldError) string {
	field := fieldName(fe)
	switch fe.ActualTag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "uuid":
		return fmt.Sprintf("%s must be a valid uuid", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "money":
		return fmt.Sprintf("%s must be a positive amount with at most two decimals", field)
	case "notblank":
		return fmt.Sprintf("%s must not be blank", field)
	default:
		if field == "" {
			return "invalid request body"
		}
		return fmt.Sprintf("%s is invalid", field)
	}
}

func fieldName(fe validator.FieldError) string {
	if name := fe.Field(); name != "" {
		return name
	}
	return strings.ToLower(fe.StructField())
}
