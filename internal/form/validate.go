package form

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type Kind string

const (
	InvalidDate        Kind = "invalid_date"
	InsufficientWindow Kind = "insufficient_window"
	MissingField       Kind = "missing_field"
	InvalidChoice      Kind = "invalid_choice"
)

// ValidationError is user-correctable; Error() is safe to show as-is.
type ValidationError struct {
	Kind  Kind
	Field string
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case InvalidDate:
		return "Please select a valid date."
	case InsufficientWindow:
		return "Please select a larger time availability window."
	case MissingField:
		return fmt.Sprintf("Please select a %s.", fieldLabel(e.Field))
	default:
		return fmt.Sprintf("Please select a valid %s.", fieldLabel(e.Field))
	}
}

// IsKind reports whether err is a ValidationError of kind k.
func IsKind(err error, k Kind) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.Kind == k
}

func fieldLabel(field string) string {
	field, _, _ = strings.Cut(field, "[")
	switch field {
	case "Role":
		return "role"
	case "ProductArea":
		return "product area"
	case "Duration":
		return "duration"
	case "Interests":
		return "interest"
	case "MatchPreference":
		return "match preference"
	default:
		return field
	}
}

// Validate checks the submission inputs in order; the first failing rule wins.
// endTimeAvailableMs is a float so an unparseable picker value (NaN) can reach it.
func Validate(role, productArea string, durationMinutes int, endTimeAvailableMs float64, now time.Time) error {
	if math.IsNaN(endTimeAvailableMs) || math.IsInf(endTimeAvailableMs, 0) {
		return &ValidationError{Kind: InvalidDate, Field: "EndTimeAvailable"}
	}
	nowMs := float64(now.UnixMilli())
	if nowMs+float64(durationMinutes)*60000 >= endTimeAvailableMs {
		return &ValidationError{Kind: InsufficientWindow, Field: "EndTimeAvailable"}
	}
	if role == "" {
		return &ValidationError{Kind: MissingField, Field: "Role"}
	}
	if productArea == "" {
		return &ValidationError{Kind: MissingField, Field: "ProductArea"}
	}
	return nil
}

func Valid(role, productArea string, durationMinutes int, endTimeAvailableMs float64, now time.Time) bool {
	return Validate(role, productArea, durationMinutes, endTimeAvailableMs, now) == nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("role", func(fl validator.FieldLevel) bool { return IsRole(fl.Field().String()) })
	_ = v.RegisterValidation("productarea", func(fl validator.FieldLevel) bool { return IsProductArea(fl.Field().String()) })
	_ = v.RegisterValidation("interest", func(fl validator.FieldLevel) bool { return IsInterest(fl.Field().String()) })
	return v
}

// ValidateRequest runs Validate and then checks every field against the catalogs.
func ValidateRequest(req SubmissionRequest, now time.Time) error {
	if err := Validate(req.Role, req.ProductArea, req.Duration, float64(req.EndTimeAvailable), now); err != nil {
		return err
	}
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			field := verrs[0].StructField()
			kind := InvalidChoice
			if verrs[0].Tag() == "required" {
				kind = MissingField
			}
			return &ValidationError{Kind: kind, Field: field}
		}
		return err
	}
	return nil
}
