// internal/utils/validation.go
package utils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

var hexPattern = regexp.MustCompile(`^[0-9a-f]+$`)

// ValidateStruct runs the validator tags of a request DTO and flattens the
// failures into one field-level message.
func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, fmt.Sprintf("field %s failed on %s", e.Field(), e.Tag()))
	}
	return fmt.Errorf("%s", strings.Join(parts, "; "))
}

// IsLowerHex reports whether s is non-empty lowercase hex.
func IsLowerHex(s string) bool {
	return s != "" && hexPattern.MatchString(s)
}

// ValidInputHash enforces the input hash shape: lowercase hex, at least 56
// characters.
func ValidInputHash(s string) bool {
	return len(s) >= 56 && IsLowerHex(s)
}
