package validation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/sanumxxx/melsu-portal-sub000/internal/apperror"
	"github.com/sanumxxx/melsu-portal-sub000/internal/models"
)

type Validator struct {
	validate *validator.Validate
}

var enumValidations = map[string]func(string) bool{
	"department_type": func(v string) bool { return models.DepartmentType(v).Valid() },
	"access_type":     func(v string) bool { return models.AccessType(v).Valid() },
	"scope":           func(v string) bool { return models.Scope(v).Valid() },
	"assignment_type": func(v string) bool { return models.AssignmentType(v).Valid() },
	"assignment_kind": func(v string) bool { return models.AssignmentKind(v).Valid() },
}

// New panics if an enum validation cannot be registered.
func New() *Validator {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerEnums(validate, enumValidations); err != nil {
		panic(err)
	}
	return &Validator{validate: validate}
}

func registerEnums(validate *validator.Validate, enums map[string]func(string) bool) error {
	for tag, valid := range enums {
		if valid == nil {
			return fmt.Errorf("register %q validation: nil check", tag)
		}
		if err := validate.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return valid(fl.Field().String())
		}); err != nil {
			return fmt.Errorf("register %q validation: %w", tag, err)
		}
	}
	return nil
}

// Struct validates s and converts failures into one apperror validation
// error listing every offending field.
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return fmt.Errorf("validate input: %w", err)
	}

	messages := FormatValidationErrors(validationErrs)
	fields := make([]string, 0, len(messages))
	for field := range messages {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, messages[field])
	}
	return apperror.New(apperror.CodeValidation, strings.Join(parts, "; "))
}

func FormatValidationErrors(validationErrs validator.ValidationErrors) map[string]string {
	messages := make(map[string]string, len(validationErrs))

	for _, e := range validationErrs {
		field := toSnake(e.Field())
		switch e.Tag() {
		case "required":
			messages[field] = fmt.Sprintf("%s is required", field)
		case "min":
			messages[field] = fmt.Sprintf("%s must have at least %s items", field, e.Param())
		case "max":
			messages[field] = fmt.Sprintf("%s must be at most %s characters", field, e.Param())
		case "gt", "gte":
			messages[field] = fmt.Sprintf("%s must be greater than %s", field, e.Param())
		case "lte":
			messages[field] = fmt.Sprintf("%s must be less than or equal to %s", field, e.Param())
		case "department_type", "access_type", "scope", "assignment_type", "assignment_kind":
			messages[field] = fmt.Sprintf("%s has unknown value %q", field, fmt.Sprint(e.Value()))
		default:
			messages[field] = fmt.Sprintf("%s is invalid", field)
		}
	}

	return messages
}

func toSnake(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && unicode.IsLower(runes[i-1])
			nextLower := i > 0 && i+1 < len(runes) && unicode.IsLower(runes[i+1]) && runes[i+1] != 's'
			if prevLower || nextLower {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
