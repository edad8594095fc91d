package forms

import (
	"errors"
	"strings"
	"testing"

	"github.com/tbourn/go-entitlements/internal/domain"
)

var schema = []domain.FormField{
	{Name: "team", Type: TypeText, Required: true},
	{Name: "contact", Type: TypeEmail},
	{Name: "seats", Type: TypeNumber},
	{Name: "beta", Type: TypeBoolean},
	{Name: "plan", Type: TypeSelect, Options: []string{"small", "large"}},
	{Name: "site", Type: TypeURL},
}

func TestValidate_OK_Normalizes(t *testing.T) {
	got, err := Validate(schema, map[string]any{
		"team":    "  Core  ",
		"contact": "ops@example.com",
		"seats":   "12",
		"beta":    "true",
		"plan":    "large",
		"site":    "https://example.com",
	})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got["team"] != "Core" || got["seats"] != 12.0 || got["beta"] != true || got["plan"] != "large" {
		t.Fatalf("unexpected document: %#v", got)
	}
}

func TestValidate_OptionalMissingIsOmitted(t *testing.T) {
	got, err := Validate(schema, map[string]any{"team": "x", "contact": ""})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if _, ok := got["contact"]; ok {
		t.Fatalf("blank optional field should be omitted: %#v", got)
	}
}

func TestValidate_CollectsErrors(t *testing.T) {
	_, err := Validate(schema, map[string]any{
		"contact": "not-an-email",
		"seats":   "many",
		"beta":    "maybe",
		"plan":    "medium",
		"site":    "nope",
		"extra":   1,
	})
	var fe Errors
	if !errors.As(err, &fe) {
		t.Fatalf("expected Errors, got %T %v", err, err)
	}
	want := map[string]bool{"team": true, "contact": true, "seats": true, "beta": true, "plan": true, "site": true, "extra": true}
	if len(fe) != len(want) {
		t.Fatalf("expected %d errors, got %d: %v", len(want), len(fe), fe)
	}
	for _, e := range fe {
		if !want[e.Field] {
			t.Fatalf("unexpected field error %+v", e)
		}
	}
	if !strings.Contains(err.Error(), "team: is required") {
		t.Fatalf("error text missing required field: %s", err)
	}
}

func TestValidate_WrongJSONTypes(t *testing.T) {
	_, err := Validate([]domain.FormField{{Name: "team", Type: TypeText}}, map[string]any{"team": 5})
	if err == nil {
		t.Fatalf("expected error for non-string text")
	}
}

func TestValidateSchema(t *testing.T) {
	if err := ValidateSchema(schema); err != nil {
		t.Fatalf("valid schema rejected: %v", err)
	}
	bad := [][]domain.FormField{
		{{Name: "", Type: TypeText}},
		{{Name: "a", Type: TypeText}, {Name: "a", Type: TypeText}},
		{{Name: "a", Type: "date"}},
		{{Name: "a", Type: TypeSelect}},
	}
	for i, s := range bad {
		if err := ValidateSchema(s); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestIsEmail(t *testing.T) {
	if !IsEmail("a@b.co") {
		t.Fatalf("valid email rejected")
	}
	for _, s := range []string{"", "a", "a@", "@b.co"} {
		if IsEmail(s) {
			t.Fatalf("%q accepted as email", s)
		}
	}
}
