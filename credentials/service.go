package credentials

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ruteri/agentsec-relay/interfaces"
	"github.com/ruteri/agentsec-relay/metrics"
	"golang.org/x/crypto/bcrypt"
)

// DefaultTTL is the session token validity.
const DefaultTTL = time.Hour

// tokenClaims is the JWT payload.
type tokenClaims struct {
	UserID         string                    `json:"user_id"`
	ClearanceLevel interfaces.ClearanceLevel `json:"clearance_level"`
	jwt.RegisteredClaims
}

// Registry is what the service needs from the clearance registry.
type Registry interface {
	interfaces.ClearanceRegistry
	interfaces.CredentialStore
}

// Service issues and verifies session tokens. It implements interfaces.TokenVerifier.
type Service struct {
	secret   []byte
	registry Registry
	ttl      time.Duration
	now      func() time.Time
	log      *slog.Logger
	metrics  *metrics.Recorder
}

// Option configures a Service.
type Option func(*Service)

// WithTTL overrides the token validity.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a credential service. An empty secret is accepted so that
// verification-only deployments can start; Issue then fails with
// ErrSigningKeyUnavailable and every token fails verification.
func NewService(secret []byte, registry Registry, log *slog.Logger, opts ...Option) *Service {
	s := &Service{
		secret:   append([]byte(nil), secret...),
		registry: registry,
		ttl:      DefaultTTL,
		now:      time.Now,
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue creates a token for subject at level.
func (s *Service) Issue(subject string, level interfaces.ClearanceLevel) (string, error) {
	token, err := s.issue(subject, level)
	s.metrics.RecordCredential("issue", metrics.Outcome(err))
	return token, err
}

func (s *Service) issue(subject string, level interfaces.ClearanceLevel) (string, error) {
	if len(s.secret) == 0 {
		return "", fmt.Errorf("%w: token secret is not configured", interfaces.ErrSigningKeyUnavailable)
	}
	if subject == "" {
		return "", fmt.Errorf("%w: empty subject", interfaces.ErrAuthenticationFailure)
	}
	if !level.Valid() {
		return "", fmt.Errorf("invalid clearance level %d", level)
	}
	if granted := s.registry.ClearanceLevel(subject); level > granted {
		return "", fmt.Errorf("%w: %s requested %d, registry grants %d", interfaces.ErrClearanceExceeded, subject, level, granted)
	}

	now := s.now()
	claims := tokenClaims{
		UserID:         subject,
		ClearanceLevel: level,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify reports whether token is well-formed, correctly signed and unexpired.
func (s *Service) Verify(token string) bool {
	_, err := s.Parse(token)
	return err == nil
}

// Parse verifies token and returns its claims. Errors wrap ErrAuthenticationFailure.
func (s *Service) Parse(token string) (*interfaces.Claims, error) {
	claims, err := s.parse(token)
	s.metrics.RecordCredential("verify", metrics.Outcome(err))
	if err != nil {
		s.log.Debug("token rejected", "err", err)
		return nil, err
	}
	return claims, nil
}

func (s *Service) parse(token string) (*interfaces.Claims, error) {
	if len(s.secret) == 0 {
		return nil, fmt.Errorf("%w: token secret is not configured", interfaces.ErrAuthenticationFailure)
	}
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", interfaces.ErrAuthenticationFailure)
	}

	parsed := &tokenClaims{}
	_, err := jwt.ParseWithClaims(token, parsed, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrAuthenticationFailure, err)
	}

	subject := parsed.Subject
	if subject == "" {
		subject = parsed.UserID
	}
	if subject == "" || !parsed.ClearanceLevel.Valid() {
		return nil, fmt.Errorf("%w: incomplete claims", interfaces.ErrAuthenticationFailure)
	}

	return &interfaces.Claims{
		Subject:        subject,
		ClearanceLevel: parsed.ClearanceLevel,
		ExpiresAt:      parsed.ExpiresAt.Time,
	}, nil
}

// Authenticate checks the password against the registry hash and issues a
// token at the user's registry level.
func (s *Service) Authenticate(username, password string) (string, interfaces.ClearanceLevel, error) {
	hash, ok := s.registry.PasswordHash(username)
	if !ok || !CheckPassword(hash, password) {
		s.metrics.RecordCredential("authenticate", metrics.OutcomeRejected)
		s.log.Warn("authentication failed", slog.String("user", username))
		return "", 0, fmt.Errorf("%w: invalid credentials", interfaces.ErrAuthenticationFailure)
	}

	level := s.registry.ClearanceLevel(username)
	token, err := s.Issue(username, level)
	if err != nil {
		s.metrics.RecordCredential("authenticate", metrics.OutcomeError)
		return "", 0, err
	}

	s.metrics.RecordCredential("authenticate", metrics.OutcomeOK)
	s.log.Info("user authenticated", slog.String("user", username), slog.Int("clearance_level", int(level)))
	return token, level, nil
}

// HashPassword returns a bcrypt hash suitable for the registry file.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares password with a bcrypt hash or a legacy hex SHA-256 hash.
func CheckPassword(hash, password string) bool {
	if strings.HasPrefix(hash, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
	}

	sum := sha256.Sum256([]byte(password))
	expected := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(hash)), []byte(expected)) == 1
}
