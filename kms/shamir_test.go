package kms

import (
	"context"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/ruteri/agentsec-relay/cryptoutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type admin struct {
	pubPEM []byte
	key    cryptoutils.SigningKey
}

func newAdmins(t *testing.T, schemes ...cryptoutils.Scheme) []admin {
	t.Helper()
	admins := make([]admin, 0, len(schemes))
	for _, scheme := range schemes {
		privPEM, pubPEM, err := cryptoutils.GenerateKeyPair(scheme)
		require.NoError(t, err)
		key, err := cryptoutils.ParsePrivateKeyPEM(privPEM)
		require.NoError(t, err)
		admins = append(admins, admin{pubPEM: pubPEM, key: key})
	}
	return admins
}

func configFor(threshold int, admins []admin) ShamirConfig {
	cfg := ShamirConfig{Threshold: threshold}
	for _, a := range admins {
		cfg.AdminPubKeys = append(cfg.AdminPubKeys, a.pubPEM)
	}
	return cfg
}

func masterKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestShamirKeeper_New(t *testing.T) {
	admins := newAdmins(t, cryptoutils.SchemeECDSA, cryptoutils.SchemeEd25519, cryptoutils.SchemeECDSA)

	keeper, shares, err := NewShamirKeeper(masterKey(t), configFor(2, admins))
	require.NoError(t, err)
	assert.Len(t, shares, 3)
	assert.True(t, keeper.IsUnlocked())
	assert.NoError(t, keeper.Wait(context.Background()))

	_, _, err = NewShamirKeeper(masterKey(t), configFor(4, admins))
	assert.Error(t, err, "threshold > total shares")

	_, _, err = NewShamirKeeper(masterKey(t), configFor(1, admins))
	assert.Error(t, err, "threshold < 2")

	_, _, err = NewShamirKeeper(make([]byte, 16), configFor(2, admins))
	assert.Error(t, err, "short master key")

	_, _, err = NewShamirKeeper(masterKey(t), ShamirConfig{Threshold: 2, AdminPubKeys: [][]byte{[]byte("junk"), []byte("junk")}})
	assert.Error(t, err, "invalid admin key")
}

func TestShamirKeeper_Recovery(t *testing.T) {
	admins := newAdmins(t, cryptoutils.SchemeECDSA, cryptoutils.SchemeEd25519, cryptoutils.SchemeSecp256k1)
	cfg := configFor(2, admins)
	master := masterKey(t)

	original, shares, err := NewShamirKeeper(master, cfg)
	require.NoError(t, err)
	expected, err := original.Secrets()
	require.NoError(t, err)

	keeper, err := NewShamirKeeperRecovery(cfg)
	require.NoError(t, err)
	assert.False(t, keeper.IsUnlocked())

	_, err = keeper.Secrets()
	assert.True(t, errors.Is(err, ErrLocked))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, keeper.Wait(ctx), context.DeadlineExceeded)

	sig, err := SignShare(shares[0], admins[0].key)
	require.NoError(t, err)
	require.NoError(t, keeper.SubmitShare(0, shares[0], sig, admins[0].pubPEM))
	assert.False(t, keeper.IsUnlocked())
	assert.Equal(t, 1, keeper.ReceivedShares())

	sig, err = SignShare(shares[2], admins[2].key)
	require.NoError(t, err)
	require.NoError(t, keeper.SubmitShare(2, shares[2], sig, admins[2].pubPEM))
	assert.True(t, keeper.IsUnlocked())
	assert.NoError(t, keeper.Wait(context.Background()))

	recovered, err := keeper.Secrets()
	require.NoError(t, err)
	assert.Equal(t, expected, recovered)

	assert.True(t, errors.Is(keeper.SubmitShare(1, shares[1], sig, admins[1].pubPEM), ErrAlreadyUnlocked))
}

func TestShamirKeeper_RejectsBadSubmissions(t *testing.T) {
	admins := newAdmins(t, cryptoutils.SchemeECDSA, cryptoutils.SchemeECDSA)
	outsider := newAdmins(t, cryptoutils.SchemeECDSA)[0]
	cfg := configFor(2, admins)

	_, shares, err := NewShamirKeeper(masterKey(t), cfg)
	require.NoError(t, err)

	keeper, err := NewShamirKeeperRecovery(cfg)
	require.NoError(t, err)

	sig, err := SignShare(shares[0], outsider.key)
	require.NoError(t, err)
	assert.True(t, errors.Is(keeper.SubmitShare(0, shares[0], sig, outsider.pubPEM), ErrUnknownAdmin))

	// Signed by the wrong admin.
	assert.True(t, errors.Is(keeper.SubmitShare(0, shares[0], sig, admins[0].pubPEM), ErrInvalidShareSig))

	// Share altered after signing.
	sig, err = SignShare(shares[0], admins[0].key)
	require.NoError(t, err)
	tampered := append([]byte(nil), shares[0]...)
	tampered[0] ^= 0xff
	assert.True(t, errors.Is(keeper.SubmitShare(0, tampered, sig, admins[0].pubPEM), ErrInvalidShareSig))

	assert.Equal(t, 0, keeper.ReceivedShares())
	assert.False(t, keeper.IsUnlocked())
}

func TestDeriveSecrets(t *testing.T) {
	master := masterKey(t)
	a, err := DeriveSecrets(master)
	require.NoError(t, err)
	b, err := DeriveSecrets(master)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a.TokenSecret, 32)
	assert.Len(t, a.Salt, 32)
	assert.NotEqual(t, a.TokenSecret, a.Salt)

	_, err = DeriveSecrets(make([]byte, 8))
	assert.Error(t, err)

	_, err = NewSecrets("", "salt")
	assert.Error(t, err)
	_, err = NewSecrets("secret", "")
	assert.Error(t, err)
	s, err := NewSecrets("secret", "salt")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), s.TokenSecret)
}
