// Package validate implements C8: structural validation of every inbound
// event payload against a declarative schema before a handler runs
// (spec.md §4.9). Schemas are expressed as Go struct tags consumed by
// github.com/go-playground/validator/v10 (named dependency of
// ppriyankuu-godkv in the retrieval pack) rather than a hand-rolled
// required/optional-field walker — unknown JSON fields are already ignored
// by encoding/json's default Unmarshal behavior, so nothing extra is
// needed for that half of spec.md's requirement.
package validate

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// FieldError is one field-level validation failure, matching the
// validation_error wire payload's "list of field-level messages"
// requirement (spec.md §4.9).
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

var instance = validator.New(validator.WithRequiredStructEnabled())

// Struct validates v against its `validate:"..."` tags and returns a
// field-level error list, empty when valid.
func Struct(v interface{}) []FieldError {
	err := instance.Struct(v)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []FieldError{{Field: "_", Message: err.Error()}}
	}

	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{
			Field:   fe.Field(),
			Message: describe(fe),
		})
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", fe.Field(), fe.Tag())
	}
}
