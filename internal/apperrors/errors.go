package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies a validation failure. Each stage of the validation pipeline
// maps its failures to exactly one kind before the error crosses the stage
// boundary.
type Kind string

const (
	KindMalformedToken          Kind = "MalformedToken"
	KindEmptyChain              Kind = "EmptyChain"
	KindInvalidCertificate      Kind = "InvalidCertificate"
	KindUntrustedIssuer         Kind = "UntrustedIssuer"
	KindCertificateExpired      Kind = "CertificateExpired"
	KindUnsupportedAlgorithm    Kind = "UnsupportedAlgorithm"
	KindSignatureMismatch       Kind = "SignatureMismatch"
	KindSecurityPolicyViolation Kind = "SecurityPolicyViolation"
	KindGatewayUnavailable      Kind = "GatewayUnavailable"
	KindReceiptRejected         Kind = "ReceiptRejected"
	KindDuplicateTransaction    Kind = "DuplicateTransaction"
	KindInternalError           Kind = "InternalError"
)

// ValidationError carries a machine-readable kind plus a human-readable detail.
type ValidationError struct {
	Kind   Kind
	Detail string
	Err    error

	// EntitlementID is set for DuplicateTransaction so the caller can
	// short-circuit to the existing record.
	EntitlementID string

	// VendorStatus is set for ReceiptRejected with the numeric status code
	// returned by the verification endpoint.
	VendorStatus int
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// New creates a ValidationError with the given kind and detail.
func New(kind Kind, detail string) *ValidationError {
	return &ValidationError{Kind: kind, Detail: detail}
}

// Newf creates a ValidationError with a formatted detail.
func Newf(kind Kind, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap wraps an underlying error with a kind and detail.
func Wrap(err error, kind Kind, detail string) *ValidationError {
	return &ValidationError{Kind: kind, Detail: detail, Err: err}
}

// KindOf extracts the kind from an error chain. Unclassified errors are
// reported as InternalError.
func KindOf(err error) Kind {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Kind
	}
	return KindInternalError
}

// AsValidationError returns the ValidationError in the chain, or wraps the
// error as InternalError.
func AsValidationError(err error) *ValidationError {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr
	}
	return &ValidationError{Kind: KindInternalError, Detail: "unexpected error", Err: err}
}

// Retryable reports whether the caller may safely retry the request. Only
// infrastructure failures on the vendor gateway qualify; cryptographic and
// policy failures indicate a forged or stale proof and must not be retried.
func Retryable(err error) bool {
	return KindOf(err) == KindGatewayUnavailable
}
