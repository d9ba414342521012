package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthenticationFailure is returned for bad credentials and expired or malformed tokens.
	ErrAuthenticationFailure = errors.New("authentication failure")

	// ErrSignatureInvalid is returned for bad signatures, stale timestamps and incomplete envelopes.
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrAccessDenied is returned when the requester clearance is below the required level.
	ErrAccessDenied = errors.New("access denied: insufficient clearance level")

	// ErrDecryptionFailure is returned when the derived key does not open the ciphertext.
	ErrDecryptionFailure = errors.New("decryption failure")

	// ErrNotFound is returned for unknown content ids.
	ErrNotFound = errors.New("not found")

	// ErrPolicyViolation is returned when an auditor policy rejects a message.
	ErrPolicyViolation = errors.New("policy violation")

	// ErrRouteNotAllowed is returned when a message would skip a tier.
	ErrRouteNotAllowed = errors.New("route not allowed")

	// ErrClearanceExceeded is returned when a token would carry more clearance than the registry grants.
	ErrClearanceExceeded = errors.New("requested clearance exceeds registry level")

	// ErrSigningKeyUnavailable is returned when signing material is missing.
	ErrSigningKeyUnavailable = errors.New("signing key unavailable")

	// ErrSnapshotNotFound is returned by snapshot backends that hold no snapshot yet.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrBackendUnavailable is returned when a storage backend is not accessible.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned when a storage location URI is malformed or unsupported.
	// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)

// VerificationReason classifies why an envelope was rejected.
type VerificationReason string

const (
	ReasonMissingField VerificationReason = "missing_field"
	ReasonMalformed    VerificationReason = "malformed"
	ReasonBadSignature VerificationReason = "bad_signature"
	ReasonExpired      VerificationReason = "expired"
	ReasonReplayed     VerificationReason = "replayed"
)

// VerificationError is returned when an envelope fails verification.
// It matches ErrSignatureInvalid under errors.Is.
type VerificationError struct {
	Reason VerificationReason
	Detail string
}

func (e *VerificationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", ErrSignatureInvalid, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrSignatureInvalid, e.Reason, e.Detail)
}

func (e *VerificationError) Is(target error) bool {
	return target == ErrSignatureInvalid
}

// HopError records which agent rejected a message and why.
type HopError struct {
	Agent string
	Op    string
	Err   error
}

func (e *HopError) Error() string {
	return e.Agent + " " + e.Op + ": " + e.Err.Error()
}

func (e *HopError) Unwrap() error {
	return e.Err
}

// FailureReason maps an error onto the taxonomy name used in the action log.
func FailureReason(err error) string {
	var verr *VerificationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr):
		return "SignatureInvalid(" + string(verr.Reason) + ")"
	case errors.Is(err, ErrAuthenticationFailure):
		return "AuthenticationFailure"
	case errors.Is(err, ErrAccessDenied), errors.Is(err, ErrClearanceExceeded):
		return "AccessDenied"
	case errors.Is(err, ErrDecryptionFailure):
		return "DecryptionFailure"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrPolicyViolation):
		return "PolicyViolation"
	case errors.Is(err, ErrRouteNotAllowed):
		return "RouteNotAllowed"
	default:
		return "InternalError"
	}
}
