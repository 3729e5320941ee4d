package validate

import (
	"errors"
	"fmt"
)

// RejectCode categorizes validation rejections.
type RejectCode string

const (
	// CodeMalformed indicates a structurally invalid event (unknown kind,
	// missing locations, non-positive quantity).
	CodeMalformed RejectCode = "MALFORMED"

	// CodeTemporalOrder indicates occurred_at precedes the source event's.
	CodeTemporalOrder RejectCode = "TEMPORAL_ORDER"

	// CodeInsufficientQuantity indicates the event would drive a bucket
	// negative. This is the only state-dependent code: with a stale base
	// state hash it classifies as a conflict, not a hard failure.
	CodeInsufficientQuantity RejectCode = "INSUFFICIENT_QUANTITY"

	// CodeLocationInactive indicates an inbound event targeting a
	// decommissioned location.
	CodeLocationInactive RejectCode = "LOCATION_INACTIVE"

	// CodeLocationRejectsProduct indicates the destination does not accept
	// the product.
	CodeLocationRejectsProduct RejectCode = "LOCATION_REJECTS_PRODUCT"

	// CodeConversionUnbalanced indicates a convert event that does not
	// preserve base-unit quantity within the configured epsilon.
	CodeConversionUnbalanced RejectCode = "CONVERSION_UNBALANCED"

	// CodeProductLifecycle indicates a recalled/expired/discontinued
	// product blocking the event kind.
	CodeProductLifecycle RejectCode = "PRODUCT_LIFECYCLE"

	// CodeCertificationRequired indicates a restricted-use product without
	// a valid certification on the performer.
	CodeCertificationRequired RejectCode = "CERTIFICATION_REQUIRED"

	// CodeAuthorityRequired indicates a controlled action whose authorizer
	// is missing or identical to the performer.
	CodeAuthorityRequired RejectCode = "AUTHORITY_REQUIRED"

	// CodeUnknownReference indicates a product, location, or person id the
	// catalog snapshot does not know.
	CodeUnknownReference RejectCode = "UNKNOWN_REFERENCE"
)

// Rejection is a typed validation failure. The event is rejected as
// submitted, never coerced; rejections are terminal and never retried.
type Rejection struct {
	Code    RejectCode
	Message string
	EventID string

	// Details carries structured context, e.g. available vs requested
	// quantity for insufficient-inventory rejections.
	Details map[string]string
}

// Error implements the error interface.
func (r *Rejection) Error() string {
	if r.EventID != "" {
		return fmt.Sprintf("%s: %s (event=%s)", r.Code, r.Message, r.EventID)
	}
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

// AsRejection unwraps err into a *Rejection if it is one.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// StateDependent reports whether the rejection depends on current inventory
// state rather than a hard lifecycle or authority rule. Only state-dependent
// rejections can classify as conflicts when the device acted on stale state.
func (r *Rejection) StateDependent() bool {
	return r.Code == CodeInsufficientQuantity
}

func reject(code RejectCode, eventID, format string, args ...any) *Rejection {
	return &Rejection{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		EventID: eventID,
	}
}
