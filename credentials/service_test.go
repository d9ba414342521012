package credentials

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ruteri/agentsec-relay/interfaces"
	"github.com/ruteri/agentsec-relay/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-key-for-tokens")

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService(t *testing.T, clock *fakeClock) *Service {
	t.Helper()

	bcryptHash, err := HashPassword("hunter2")
	require.NoError(t, err)
	legacy := sha256.Sum256([]byte("legacy-pass"))

	reg, err := registry.New(map[string]registry.Entry{
		"core_agent":     {ClearanceLevel: interfaces.CoreClearance},
		"edge_agent_one": {ClearanceLevel: interfaces.EdgeClearance},
		"n":              {ClearanceLevel: interfaces.CoreClearance, PasswordHash: bcryptHash},
		"old":            {ClearanceLevel: interfaces.EdgeClearance, PasswordHash: hex.EncodeToString(legacy[:])},
	}, interfaces.Unclassified)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(testSecret, reg, logger, WithClock(clock.Now))
}

func TestIssueAndParse(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	svc := newTestService(t, clock)

	token, err := svc.Issue("core_agent", interfaces.CoreClearance)
	require.NoError(t, err)
	assert.True(t, svc.Verify(token))

	claims, err := svc.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "core_agent", claims.Subject)
	assert.Equal(t, interfaces.CoreClearance, claims.ClearanceLevel)
	assert.True(t, clock.t.Add(DefaultTTL).Equal(claims.ExpiresAt))
}

func TestTokenExpires(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	svc := newTestService(t, clock)

	token, err := svc.Issue("edge_agent_one", interfaces.EdgeClearance)
	require.NoError(t, err)

	clock.Advance(59 * time.Minute)
	assert.True(t, svc.Verify(token))

	clock.Advance(2 * time.Minute)
	assert.False(t, svc.Verify(token))

	_, err = svc.Parse(token)
	assert.True(t, errors.Is(err, interfaces.ErrAuthenticationFailure))
}

func TestIssueAboveRegistryLevel(t *testing.T) {
	svc := newTestService(t, &fakeClock{t: time.Now()})

	_, err := svc.Issue("edge_agent_one", interfaces.CoreClearance)
	assert.True(t, errors.Is(err, interfaces.ErrClearanceExceeded))

	_, err = svc.Issue("stranger", interfaces.EdgeClearance)
	assert.True(t, errors.Is(err, interfaces.ErrClearanceExceeded))

	token, err := svc.Issue("core_agent", interfaces.EdgeClearance)
	require.NoError(t, err)
	assert.True(t, svc.Verify(token))
}

func TestIssueWithoutSecret(t *testing.T) {
	reg, err := registry.FromLevels(map[string]interfaces.ClearanceLevel{"core_agent": 3}, 0)
	require.NoError(t, err)
	svc := NewService(nil, reg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err = svc.Issue("core_agent", interfaces.CoreClearance)
	assert.True(t, errors.Is(err, interfaces.ErrSigningKeyUnavailable))
	assert.False(t, svc.Verify("anything"))
}

func TestVerifyRejectsGarbage(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	svc := newTestService(t, clock)

	for _, token := range []string{"", "not-a-token", "a.b.c", strings.Repeat("x", 4096)} {
		assert.NotPanics(t, func() {
			assert.False(t, svc.Verify(token))
		})
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	svc := newTestService(t, clock)

	token, err := svc.Issue("edge_agent_one", interfaces.EdgeClearance)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	assert.False(t, svc.Verify(parts[0]+"."+parts[1]+"."+string(sig)))

	other := NewService([]byte("another-secret"), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.False(t, other.Verify(token))
}

func TestVerifyRejectsOtherAlgorithms(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	svc := newTestService(t, clock)

	claims := tokenClaims{
		UserID:         "core_agent",
		ClearanceLevel: interfaces.CoreClearance,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "core_agent",
			ExpiresAt: jwt.NewNumericDate(clock.t.Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(testSecret)
	require.NoError(t, err)
	assert.False(t, svc.Verify(token))

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	assert.False(t, svc.Verify(unsigned))
}

func TestAuthenticate(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	svc := newTestService(t, clock)

	token, level, err := svc.Authenticate("n", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, interfaces.CoreClearance, level)
	claims, err := svc.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "n", claims.Subject)

	_, level, err = svc.Authenticate("old", "legacy-pass")
	require.NoError(t, err)
	assert.Equal(t, interfaces.EdgeClearance, level)

	_, _, err = svc.Authenticate("n", "wrong")
	assert.True(t, errors.Is(err, interfaces.ErrAuthenticationFailure))

	_, _, err = svc.Authenticate("core_agent", "")
	assert.True(t, errors.Is(err, interfaces.ErrAuthenticationFailure))

	_, _, err = svc.Authenticate("nobody", "hunter2")
	assert.True(t, errors.Is(err, interfaces.ErrAuthenticationFailure))
}
