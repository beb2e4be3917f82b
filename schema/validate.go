package schema

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is shared; validator instances cache struct metadata and are safe
// for concurrent use.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(timeRangeOrder, TimeRange{})
	return v
}

// timeRangeOrder rejects inverted intervals.
func timeRangeOrder(sl validator.StructLevel) {
	r := sl.Current().Interface().(TimeRange)
	if !r.Start.IsZero() && !r.End.IsZero() && r.End.Before(r.Start) {
		sl.ReportError(r.End, "End", "end", "gtefield", "Start")
	}
}

// FieldViolation describes one failed constraint on a candidate spec.
type FieldViolation struct {
	Field  string `json:"field"`
	Rule   string `json:"rule"`
	Value  string `json:"value"`
	Detail string `json:"detail"`
}

// ValidationError enumerates every violated field of a candidate spec.
type ValidationError struct {
	Violations []FieldViolation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Detail)
	}
	return fmt.Sprintf("query spec validation failed: %s", strings.Join(parts, "; "))
}

// Validate checks a candidate spec against the closed schema. The returned
// error, when non-nil, is always a *ValidationError carrying the full
// violation list.
func Validate(spec *QuerySpec) error {
	spec.Intent = NormalizeIntent(string(spec.Intent))

	err := validate.Struct(spec)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return &ValidationError{Violations: []FieldViolation{{
			Field:  "spec",
			Rule:   "invalid",
			Detail: err.Error(),
		}}}
	}

	verr := &ValidationError{}
	for _, fe := range fieldErrs {
		verr.Violations = append(verr.Violations, FieldViolation{
			Field:  fe.Namespace(),
			Rule:   fe.Tag(),
			Value:  fmt.Sprintf("%v", fe.Value()),
			Detail: fmt.Sprintf("%s: failed %q constraint (got %v)", fe.Namespace(), fe.Tag(), fe.Value()),
		})
	}
	return verr
}
