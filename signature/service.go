package signature

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/agentsec-relay/cryptoutils"
	"github.com/ruteri/agentsec-relay/interfaces"
)

// DefaultWindow is the freshness window for signed envelopes.
const DefaultWindow = 300 * time.Second

// Service implements interfaces.EnvelopeSigner and interfaces.EnvelopeVerifier.
type Service struct {
	key    cryptoutils.SigningKey
	pub    cryptoutils.VerifyingKey
	window time.Duration
	now    func() time.Time
	replay *ReplayGuard
	log    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithWindow overrides the freshness window.
func WithWindow(window time.Duration) Option {
	return func(s *Service) { s.window = window }
}

// WithClock overrides the time source used for timestamps and freshness.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithReplayGuard rejects envelopes verified more than once within the window.
func WithReplayGuard() Option {
	return func(s *Service) { s.replay = NewReplayGuard() }
}

// NewService creates a signature service. key may be nil for verify-only use;
// pub defaults to the public half of key.
func NewService(key cryptoutils.SigningKey, pub cryptoutils.VerifyingKey, log *slog.Logger, opts ...Option) *Service {
	if pub == nil && key != nil {
		pub = key.Public()
	}
	s := &Service{
		key:    key,
		pub:    pub,
		window: DefaultWindow,
		now:    time.Now,
		log:    log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Window returns the freshness window.
func (s *Service) Window() time.Duration {
	return s.window
}

// Digest returns the SHA-256 digest covered by the envelope signature.
func Digest(env *interfaces.Envelope) [32]byte {
	return sha256.Sum256([]byte(env.SigningString()))
}

// Sign produces a signed envelope stamped with the current time.
func (s *Service) Sign(kind interfaces.MessageKind, payload, sender, token string, opts ...interfaces.SignOption) (interfaces.Envelope, error) {
	if s.key == nil {
		return interfaces.Envelope{}, interfaces.ErrSigningKeyUnavailable
	}

	var o interfaces.SignOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}

	env := interfaces.Envelope{
		ID:             o.ID,
		Type:           kind,
		Message:        payload,
		Sender:         sender,
		Token:          token,
		Timestamp:      s.now().Unix(),
		ClearanceLevel: o.ClearanceLevel,
		Encrypted:      o.Encrypted,
	}

	digest := Digest(&env)
	sig, err := s.key.Sign(digest[:])
	if err != nil {
		return interfaces.Envelope{}, fmt.Errorf("failed to sign envelope: %w", err)
	}
	env.Signature = hex.EncodeToString(sig)
	return env, nil
}

// Verify reports whether the envelope passes Check.
func (s *Service) Verify(env interfaces.Envelope) bool {
	return s.Check(env) == nil
}

// Check verifies signature, freshness and, when enabled, uniqueness.
// Errors are *interfaces.VerificationError.
func (s *Service) Check(env interfaces.Envelope) error {
	if err := s.check(env); err != nil {
		s.log.Debug("envelope rejected", "err", err, slog.String("id", env.ID), slog.String("sender", env.Sender))
		return err
	}
	return nil
}

func (s *Service) check(env interfaces.Envelope) error {
	switch {
	case env.Sender == "":
		return &interfaces.VerificationError{Reason: interfaces.ReasonMissingField, Detail: "sender"}
	case env.Signature == "":
		return &interfaces.VerificationError{Reason: interfaces.ReasonMissingField, Detail: "signature"}
	case env.Timestamp == 0:
		return &interfaces.VerificationError{Reason: interfaces.ReasonMissingField, Detail: "timestamp"}
	case env.ID == "":
		return &interfaces.VerificationError{Reason: interfaces.ReasonMissingField, Detail: "id"}
	case env.Type == "":
		return &interfaces.VerificationError{Reason: interfaces.ReasonMissingField, Detail: "kind"}
	}
	if s.pub == nil {
		return &interfaces.VerificationError{Reason: interfaces.ReasonBadSignature, Detail: "no verifying key"}
	}

	sig, err := hex.DecodeString(env.Signature)
	if err != nil {
		return &interfaces.VerificationError{Reason: interfaces.ReasonBadSignature, Detail: "signature is not hex"}
	}
	// only the lower-case form Sign emits is accepted
	if hex.EncodeToString(sig) != env.Signature {
		return &interfaces.VerificationError{Reason: interfaces.ReasonBadSignature, Detail: "signature is not lower-case hex"}
	}

	digest := Digest(&env)
	if !s.pub.Verify(digest[:], sig) {
		return &interfaces.VerificationError{Reason: interfaces.ReasonBadSignature}
	}

	// timestamps carry whole seconds, so the age is measured in whole seconds too
	now := s.now()
	age := time.Duration(now.Unix()-env.Timestamp) * time.Second
	if age < 0 {
		age = -age
	}
	if age > s.window {
		return &interfaces.VerificationError{Reason: interfaces.ReasonExpired, Detail: fmt.Sprintf("timestamp off by %s", age)}
	}

	if s.replay != nil && !s.replay.Consume(ReplayKey(env), now, s.window) {
		return &interfaces.VerificationError{Reason: interfaces.ReasonReplayed, Detail: env.ID}
	}
	return nil
}
