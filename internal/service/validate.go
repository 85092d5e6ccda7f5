package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/boddenberg/txn-risk-engine/internal/domain"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// checkTransaction rejects a transaction only when it cannot be identified.
// Any other malformed field is reported as a degraded note and left to the
// detectors that read it, so one bad field never aborts an assessment.
func checkTransaction(txn domain.Transaction) ([]domain.DegradedNote, error) {
	var notes []domain.DegradedNote
	if err := validate.Struct(txn); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, &domain.ErrValidation{Field: "transaction", Message: err.Error()}
		}
		for _, fe := range verrs {
			field := jsonName(fe)
			if fe.Tag() == "required" && (field == "id" || field == "account_id") {
				return nil, &domain.ErrValidation{Field: field, Message: "is required"}
			}
			notes = append(notes, domain.DegradedNote{
				DetectorID: "input",
				Reason:     fmt.Sprintf("malformed field %s (%s)", field, rule(fe)),
			})
		}
	}
	if !txn.HasTimestamp() {
		notes = append(notes, domain.DegradedNote{DetectorID: "input", Reason: "missing timestamp"})
	}
	if txn.Location != nil && !txn.Location.Valid() {
		notes = append(notes, domain.DegradedNote{DetectorID: "input", Reason: "location coordinates out of range"})
	}
	return notes, nil
}

// checkStruct validates request payloads such as feedback events and profile overlays.
func checkStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return &domain.ErrValidation{Field: jsonName(verrs[0]), Message: "fails " + rule(verrs[0])}
	}
	return &domain.ErrValidation{Field: "body", Message: err.Error()}
}

func rule(fe validator.FieldError) string {
	if fe.Param() != "" {
		return fe.Tag() + "=" + fe.Param()
	}
	return fe.Tag()
}

// jsonName converts a validator namespace ("Transaction.FX.BaseCurrency")
// into the snake_case path used on the wire ("fx.base_currency").
func jsonName(fe validator.FieldError) string {
	parts := strings.Split(fe.Namespace(), ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snake(p)
	}
	return strings.Join(parts, ".")
}

func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && !(s[i-1] >= 'A' && s[i-1] <= 'Z') {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
