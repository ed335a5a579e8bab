package validation

import (
	"errors"
	"fmt"
	"path"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// MaxFingerprintLength bounds the opaque device fingerprint.
const MaxFingerprintLength = 120

// FieldError represents a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

var (
	once     sync.Once
	validate *validator.Validate
)

func instance() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		_ = validate.RegisterValidation("fingerprint", func(fl validator.FieldLevel) bool {
			return ValidFingerprint(fl.Field().String())
		})
		_ = validate.RegisterValidation("sitepath", func(fl validator.FieldLevel) bool {
			return validSitePath(fl.Field().String())
		})
	})
	return validate
}

// Struct validates v against its `validate` tags. Field names in the
// returned errors follow the json tags.
func Struct(v any) []FieldError {
	err := instance().Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Field: "", Message: err.Error()}}
	}

	errs := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		errs = append(errs, FieldError{Field: fieldName(fe), Message: message(fe)})
	}
	return errs
}

// Fingerprint checks a raw fingerprint taken from a header or path.
func Fingerprint(field, fp string) []FieldError {
	if !ValidFingerprint(fp) {
		return []FieldError{{Field: field, Message: fmt.Sprintf("%s must be 1-%d characters", field, MaxFingerprintLength)}}
	}
	return nil
}

// ValidFingerprint reports whether fp, once trimmed, is a usable fingerprint.
func ValidFingerprint(fp string) bool {
	fp = strings.TrimSpace(fp)
	return fp != "" && len(fp) <= MaxFingerprintLength
}

// validSitePath accepts relative, clean file paths such as "index.html" or
// "assets/app.css".
func validSitePath(p string) bool {
	if p == "" || len(p) > 200 || strings.HasPrefix(p, "/") || strings.Contains(p, `\`) {
		return false
	}
	return path.Clean(p) == p && !strings.HasPrefix(p, "..")
}

func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

func message(fe validator.FieldError) string {
	field := fieldName(fe)
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.Join(strings.Fields(fe.Param()), ", "))
	case "email":
		return field + " must be a valid email address"
	case "uuid", "uuid4":
		return field + " must be a valid UUID"
	case "fingerprint":
		return fmt.Sprintf("%s must be 1-%d characters", field, MaxFingerprintLength)
	case "sitepath":
		return field + " must be a relative file path"
	}
	return fmt.Sprintf("%s failed %q validation", field, fe.Tag())
}
