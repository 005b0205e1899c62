package core

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"dinerbell/internal/types"
)

// Validator wraps go-playground/validator with the notification tags:
//
//	notification_type - a known types.NotificationType
//	platform          - ios or android
type Validator struct {
	v *validator.Validate
}

// NewValidator creates a Validator reporting JSON field names.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	_ = v.RegisterValidation("notification_type", func(fl validator.FieldLevel) bool {
		return types.NotificationType(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("platform", func(fl validator.FieldLevel) bool {
		return types.Platform(fl.Field().String()).Valid()
	})

	return &Validator{v: v}
}

// ValidateStruct returns nil or an AppError whose code follows the first
// failing rule and whose details map each field to its failing tag.
func (v *Validator) ValidateStruct(s any) error {
	err := v.v.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation failed", err)
	}

	fields := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		fields[fieldPath(fe)] = fe.Tag()
	}

	first := verrs[0]
	return types.NewAppErrorWithDetails(codeForTag(first.Tag()),
		"invalid field: "+fieldPath(first), nil,
		map[string]any{"fields": fields})
}

func codeForTag(tag string) types.ErrorCode {
	if strings.HasPrefix(tag, "required") {
		return types.ErrCodeValidationMissingField
	}
	switch tag {
	case "notification_type":
		return types.ErrCodeValidationInvalidType
	case "platform":
		return types.ErrCodeValidationInvalidPlatform
	default:
		return types.ErrCodeValidationInvalidParameter
	}
}

// fieldPath drops the top-level struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}
