// Package interfaces defines core interfaces and types for the relay kernel,
// separating interface definitions from implementations.
//
// The package provides the contracts shared by every tier of the pipeline:
//
// # Data Model
//
// ClearanceLevel: integer trust rank (0 unclassified, 1 edge, 2 auditor, 3 core)
// gating both read access and key derivation.
//
// ContentItem: a stored piece of data tagged with a clearance level and owner,
// held as ciphertext whenever the level is above zero.
//
// # Messages
//
// Message is a closed sum type with three variants:
//
//   - External: unsigned command from outside, authenticated by a session token
//   - Instruction: signed command travelling Core -> Auditor -> Edge
//   - Data: signed result travelling Edge -> Auditor -> Core
//
// Instruction and Data share the Envelope wire form, whose signature covers
// SigningString().
//
// # Collaborators
//
//   - ClearanceRegistry, CredentialStore: identity lookups
//   - TokenVerifier: session token gate
//   - EnvelopeSigner, EnvelopeVerifier: signature service
//   - Cipher: clearance-keyed encryption
//   - ItemStore, SnapshotBackend, SnapshotBackendFactory: gated storage and persistence
//   - Completer: LLM completion client
//   - ActionLogger: append-only action log
//
// # Error Types
//
// Sentinel errors cover the failure taxonomy of the pipeline. Verification
// failures are reported as *VerificationError, which matches
// ErrSignatureInvalid under errors.Is and carries a VerificationReason.
// FailureReason maps any error to the name recorded in the action log.
package interfaces
