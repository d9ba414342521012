package interfaces

import (
	"context"
	"time"
)

// ClearanceRegistry maps identities to clearance levels.
type ClearanceRegistry interface {
	// ClearanceLevel returns the level of identity, or the configured default
	// for unknown identities. It never fails.
	ClearanceLevel(identity string) ClearanceLevel
}

// CredentialStore exposes password hashes for user authentication.
type CredentialStore interface {
	PasswordHash(identity string) (string, bool)
}

// Claims is the verified content of a session token.
type Claims struct {
	Subject        string         `json:"sub"`
	ClearanceLevel ClearanceLevel `json:"clearance_level"`
	ExpiresAt      time.Time      `json:"exp"`
}

// TokenVerifier is the authentication gate at the top tier.
type TokenVerifier interface {
	Verify(token string) bool
	Parse(token string) (*Claims, error)
}

// EnvelopeSigner produces signed envelopes.
type EnvelopeSigner interface {
	Sign(kind MessageKind, payload, sender, token string, opts ...SignOption) (Envelope, error)
}

// EnvelopeVerifier checks signature and freshness of envelopes.
type EnvelopeVerifier interface {
	Verify(env Envelope) bool
	Check(env Envelope) error
}

// SignOptions are optional envelope fields bound into the signature.
type SignOptions struct {
	ID             string
	ClearanceLevel *ClearanceLevel
	Encrypted      bool
}

// SignOption customises a signed envelope.
type SignOption func(*SignOptions)

// WithMessageID pins the envelope id, e.g. to keep the ingress id across hops.
func WithMessageID(id string) SignOption {
	return func(o *SignOptions) { o.ID = id }
}

// WithClearance attaches a classification to the envelope.
func WithClearance(level ClearanceLevel) SignOption {
	return func(o *SignOptions) { o.ClearanceLevel = LevelPtr(level) }
}

// WithEncrypted marks the payload as ciphertext for the receiving tier.
func WithEncrypted() SignOption {
	return func(o *SignOptions) { o.Encrypted = true }
}

// Cipher is the clearance-keyed encryption service.
type Cipher interface {
	Encrypt(plaintext string, level ClearanceLevel, identity string) (string, error)
	// Decrypt re-derives the key from the identity's registry level.
	Decrypt(ciphertext string, identity string) (string, error)
}

// ChatMessage is one turn sent to an LLM completion client.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completer is the LLM completion collaborator. The kernel treats it as a black box.
type Completer interface {
	Create(ctx context.Context, messages []ChatMessage) (string, error)
}

// ActionEvent is one record for the append-only action log.
type ActionEvent struct {
	Agent     string
	Action    string
	MessageID string
	Err       error
}

// ActionLogger records agent actions. Implementations must never block the caller on failure.
type ActionLogger interface {
	Record(ctx context.Context, event ActionEvent)
}
