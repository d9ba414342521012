package kms

import (
	"errors"
	"sync"
	"testing"

	"github.com/ruteri/agentsec-relay/interfaces"
	"github.com/ruteri/agentsec-relay/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEncryptor(t *testing.T) *Encryptor {
	t.Helper()
	reg, err := registry.FromLevels(map[string]interfaces.ClearanceLevel{
		"core_agent":     interfaces.CoreClearance,
		"auditor_agent":  interfaces.AuditorClearance,
		"edge_agent_one": interfaces.EdgeClearance,
	}, interfaces.Unclassified)
	require.NoError(t, err)

	enc, err := NewEncryptor([]byte("test-salt"), DefaultIterations, reg)
	require.NoError(t, err)
	return enc
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc := newTestEncryptor(t)

	ciphertext, err := enc.Encrypt("classified result", interfaces.CoreClearance, "core_agent")
	require.NoError(t, err)
	assert.NotContains(t, ciphertext, "classified")

	plaintext, err := enc.Decrypt(ciphertext, "core_agent")
	require.NoError(t, err)
	assert.Equal(t, "classified result", plaintext)
}

func TestDecryptUsesRegistryLevel(t *testing.T) {
	enc := newTestEncryptor(t)

	// Sealed for a level above what the edge holds.
	ciphertext, err := enc.Encrypt("secret", interfaces.CoreClearance, "edge_agent_one")
	require.NoError(t, err)

	_, err = enc.Decrypt(ciphertext, "edge_agent_one")
	assert.True(t, errors.Is(err, interfaces.ErrDecryptionFailure))

	plaintext, err := enc.DecryptAt(ciphertext, interfaces.CoreClearance, "edge_agent_one")
	require.NoError(t, err)
	assert.Equal(t, "secret", plaintext)
}

func TestDecryptWrongIdentityFails(t *testing.T) {
	enc := newTestEncryptor(t)

	ciphertext, err := enc.Encrypt("secret", interfaces.AuditorClearance, "auditor_agent")
	require.NoError(t, err)

	_, err = enc.Decrypt(ciphertext, "core_agent")
	assert.True(t, errors.Is(err, interfaces.ErrDecryptionFailure))

	_, err = enc.Decrypt("!!!not-base64", "auditor_agent")
	assert.True(t, errors.Is(err, interfaces.ErrDecryptionFailure))

	_, err = enc.Decrypt("AAAA", "auditor_agent")
	assert.True(t, errors.Is(err, interfaces.ErrDecryptionFailure))
}

func TestDeriveKeyDeterministic(t *testing.T) {
	enc := newTestEncryptor(t)
	a := enc.DeriveKey(interfaces.AuditorClearance, "auditor_agent")
	assert.Len(t, a, KeySize)
	assert.Equal(t, a, enc.DeriveKey(interfaces.AuditorClearance, "auditor_agent"))
	assert.NotEqual(t, a, enc.DeriveKey(interfaces.CoreClearance, "auditor_agent"))
	assert.NotEqual(t, a, enc.DeriveKey(interfaces.AuditorClearance, "core_agent"))

	other, err := NewEncryptor([]byte("other-salt"), 0, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, other.DeriveKey(interfaces.AuditorClearance, "auditor_agent"))
}

func TestEncryptorConcurrentDerivation(t *testing.T) {
	enc := newTestEncryptor(t)
	var wg sync.WaitGroup
	keys := make([][]byte, 8)
	for i := range keys {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keys[i] = enc.DeriveKey(interfaces.CoreClearance, "core_agent")
		}(i)
	}
	wg.Wait()
	for _, key := range keys {
		assert.Equal(t, keys[0], key)
	}
}

func TestNewEncryptorValidation(t *testing.T) {
	_, err := NewEncryptor(nil, 0, nil)
	assert.Error(t, err)
	_, err = NewEncryptor([]byte("salt"), 1000, nil)
	assert.Error(t, err)
}
