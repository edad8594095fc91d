// Package forms validates per-product claim form payloads against the
// declarative schema stored on each product.
//
// A payload is a field-name → value map decoded from JSON. Validate checks it
// against the product's []domain.FormField and returns a normalized document
// that only contains declared fields, ready to be stored as JSON.
package forms

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/tbourn/go-entitlements/internal/domain"
)

// Supported field types.
const (
	TypeText    = "text"
	TypeEmail   = "email"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeSelect  = "select"
	TypeURL     = "url"
)

var validate = validator.New()

// FieldError describes one invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors is the list of problems found in one payload. It implements error.
type Errors []FieldError

func (e Errors) Error() string {
	parts := make([]string, 0, len(e))
	for _, fe := range e {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return strings.Join(parts, "; ")
}

// ValidateSchema checks that a schema is itself well formed: named fields,
// known types, unique names and options for select fields.
func ValidateSchema(fields []domain.FormField) error {
	seen := make(map[string]bool, len(fields))
	for i, f := range fields {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			return fmt.Errorf("field %d: name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("field %q: duplicate name", name)
		}
		seen[name] = true
		switch f.Type {
		case TypeText, TypeEmail, TypeNumber, TypeBoolean, TypeURL:
		case TypeSelect:
			if len(f.Options) == 0 {
				return fmt.Errorf("field %q: select requires options", name)
			}
		default:
			return fmt.Errorf("field %q: unknown type %q", name, f.Type)
		}
	}
	return nil
}

// Validate checks data against fields and returns the normalized document.
// Unknown keys, missing required fields and type mismatches are reported
// together as Errors.
func Validate(fields []domain.FormField, data map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	var errs Errors

	declared := make(map[string]bool, len(fields))
	for _, f := range fields {
		declared[f.Name] = true

		raw, present := data[f.Name]
		if !present || isBlank(raw) {
			if f.Required {
				errs = append(errs, FieldError{Field: f.Name, Message: "is required"})
			}
			continue
		}

		v, err := coerce(f, raw)
		if err != nil {
			errs = append(errs, FieldError{Field: f.Name, Message: err.Error()})
			continue
		}
		out[f.Name] = v
	}

	unknown := make([]string, 0)
	for k := range data {
		if !declared[k] {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		errs = append(errs, FieldError{Field: k, Message: "is not part of the form"})
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return out, nil
}

// IsEmail reports whether s is a syntactically valid email address.
func IsEmail(s string) bool {
	return validate.Var(s, "required,email") == nil
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

func coerce(f domain.FormField, raw any) (any, error) {
	switch f.Type {
	case TypeText:
		s, ok := raw.(string)
		if !ok {
			return nil, errors.New("must be a string")
		}
		return strings.TrimSpace(s), nil

	case TypeEmail:
		s, ok := raw.(string)
		if !ok || validate.Var(strings.TrimSpace(s), "email") != nil {
			return nil, errors.New("must be a valid email")
		}
		return strings.TrimSpace(s), nil

	case TypeURL:
		s, ok := raw.(string)
		if !ok || validate.Var(strings.TrimSpace(s), "url") != nil {
			return nil, errors.New("must be a valid URL")
		}
		return strings.TrimSpace(s), nil

	case TypeNumber:
		switch n := raw.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return f, nil
			}
		}
		return nil, errors.New("must be a number")

	case TypeBoolean:
		switch b := raw.(type) {
		case bool:
			return b, nil
		case string:
			if v, err := strconv.ParseBool(strings.TrimSpace(b)); err == nil {
				return v, nil
			}
		}
		return nil, errors.New("must be a boolean")

	case TypeSelect:
		s, ok := raw.(string)
		if !ok {
			return nil, errors.New("must be a string")
		}
		s = strings.TrimSpace(s)
		for _, opt := range f.Options {
			if s == opt {
				return s, nil
			}
		}
		return nil, fmt.Errorf("must be one of %s", strings.Join(f.Options, ", "))
	}
	return nil, fmt.Errorf("unsupported field type %q", f.Type)
}
