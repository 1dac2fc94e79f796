// Package validate checks operator-entered forms before anything is sent to
// the service. Failures come back as FieldErrors keyed by wire field name.
package validate

import (
	"errors"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/agentic-research/partbom/api"
	"github.com/go-playground/validator/v10"
)

// FieldErrors maps a field name to its user-facing message.
type FieldErrors map[string]string

func (fe FieldErrors) Error() string {
	keys := make([]string, 0, len(fe))
	for k := range fe {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msgs := make([]string, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, fe[k])
	}
	return strings.Join(msgs, " ")
}

// PartForm is the raw create-part input.
type PartForm struct {
	Name        string
	PartNumber  string
	Description string
}

// LinkForm is the raw create-link input.
type LinkForm struct {
	ChildID  string
	Quantity string
}

type partInput struct {
	Name        string `json:"name" validate:"required,max=80"`
	PartNumber  string `json:"partNumber" validate:"max=40"`
	Description string `json:"description" validate:"max=240"`
}

type linkInput struct {
	ChildID  string   `json:"childId" validate:"required"`
	Quantity *float64 `json:"quantity" validate:"required,whole,min=1"`
}

type quantityInput struct {
	Quantity *float64 `json:"quantity" validate:"required,whole,min=1"`
}

var messages = map[string]string{
	"name.required":     "Part name is required.",
	"name.max":          "Part name must be 80 characters or less.",
	"partNumber.max":    "Part number must be 40 characters or less.",
	"description.max":   "Description must be 240 characters or less.",
	"childId.required":  "Select a child part.",
	"quantity.number":   "Quantity must be a number.",
	"quantity.whole":    "Quantity must be a whole number.",
	"quantity.min":      "Quantity must be at least 1.",
	"quantity.required": "Quantity is required.",
}

var v = newValidator()

func newValidator() *validator.Validate {
	val := validator.New(validator.WithRequiredStructEnabled())
	val.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = val.RegisterValidation("whole", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return f == math.Trunc(f)
	})
	return val
}

// Part trims and checks a create-part form. Empty optional fields are left
// empty so they are omitted on the wire.
func Part(form PartForm) (api.CreatePartRequest, error) {
	in := partInput{
		Name:        strings.TrimSpace(form.Name),
		PartNumber:  strings.TrimSpace(form.PartNumber),
		Description: strings.TrimSpace(form.Description),
	}
	if fe := check(in, nil); fe != nil {
		return api.CreatePartRequest{}, fe
	}
	return api.CreatePartRequest(in), nil
}

// Link checks a create-link form and returns the child id and quantity.
func Link(form LinkForm) (string, int, error) {
	qty, parseErr := parseNumber(form.Quantity)
	in := linkInput{ChildID: strings.TrimSpace(form.ChildID), Quantity: qty}

	pre := FieldErrors{}
	if parseErr {
		pre["quantity"] = messages["quantity.number"]
	}
	if fe := check(in, pre); fe != nil {
		return "", 0, fe
	}
	return in.ChildID, int(*in.Quantity), nil
}

// Quantity checks a quantity field on its own, as for an in-place update.
func Quantity(s string) (int, error) {
	qty, parseErr := parseNumber(s)
	pre := FieldErrors{}
	if parseErr {
		pre["quantity"] = messages["quantity.number"]
	}
	in := quantityInput{Quantity: qty}
	if fe := check(in, pre); fe != nil {
		return 0, fe
	}
	return int(*in.Quantity), nil
}

// parseNumber reads a decimal number. A blank or unparsable value reports a
// type error and leaves the quantity unset.
func parseNumber(s string) (*float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, true
	}
	return &f, false
}

// check runs struct validation and merges the result into pre. Fields
// already present in pre keep their message.
func check(in any, pre FieldErrors) FieldErrors {
	fe := FieldErrors{}
	for k, msg := range pre {
		fe[k] = msg
	}
	if err := v.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			fe["_"] = err.Error()
			return fe
		}
		for _, e := range verrs {
			field := e.Field()
			if _, seen := fe[field]; seen {
				continue
			}
			msg, ok := messages[field+"."+e.Tag()]
			if !ok {
				msg = e.Error()
			}
			fe[field] = msg
		}
	}
	if len(fe) == 0 {
		return nil
	}
	return fe
}

// LinkValues checks already-typed link input for a create or update.
func LinkValues(childID string, quantity int) error {
	q := float64(quantity)
	if fe := check(linkInput{ChildID: strings.TrimSpace(childID), Quantity: &q}, nil); fe != nil {
		return fe
	}
	return nil
}

// QuantityValue checks an already-typed quantity.
func QuantityValue(quantity int) error {
	q := float64(quantity)
	if fe := check(quantityInput{Quantity: &q}, nil); fe != nil {
		return fe
	}
	return nil
}

// ChildValue checks the child id of an update or delete.
func ChildValue(childID string) error {
	if strings.TrimSpace(childID) == "" {
		return FieldErrors{"childId": messages["childId.required"]}
	}
	return nil
}
