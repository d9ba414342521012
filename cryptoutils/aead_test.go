package cryptoutils

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestAESGCM(t *testing.T) {
	key := randomKey(t)

	testCases := []struct {
		name string
		data []byte
	}{
		{name: "Simple string", data: []byte("This is a secret message")},
		{name: "Empty data", data: []byte{}},
		{name: "Binary data", data: []byte{0x00, 0x01, 0xFF, 0xFE}},
		{name: "Long data", data: bytes.Repeat([]byte{0x42}, 4096)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sealed, err := SealAESGCM(key, tc.data)
			require.NoError(t, err)

			opened, err := OpenAESGCM(key, sealed)
			require.NoError(t, err)
			assert.Equal(t, len(tc.data), len(opened))
			assert.True(t, bytes.Equal(tc.data, opened))
		})
	}
}

func TestAESGCMRandomNonce(t *testing.T) {
	key := randomKey(t)
	a, err := SealAESGCM(key, []byte("same"))
	require.NoError(t, err)
	b, err := SealAESGCM(key, []byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestAESGCMRejects(t *testing.T) {
	key := randomKey(t)
	sealed, err := SealAESGCM(key, []byte("secret"))
	require.NoError(t, err)

	_, err = OpenAESGCM(randomKey(t), sealed)
	assert.True(t, errors.Is(err, ErrOpenFailed))

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0x01
	_, err = OpenAESGCM(key, tampered)
	assert.True(t, errors.Is(err, ErrOpenFailed))

	_, err = OpenAESGCM(key, sealed[:5])
	assert.True(t, errors.Is(err, ErrCiphertextTooShort))

	_, err = SealAESGCM([]byte("short"), []byte("x"))
	assert.Error(t, err)
}

func TestSealForRecipient(t *testing.T) {
	privPEM, pubPEM, err := GenerateKeyPair(SchemeECDSA)
	require.NoError(t, err)

	share := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	sealed, err := SealForRecipient(pubPEM, share)
	require.NoError(t, err)

	opened, err := OpenAsRecipient(privPEM, sealed)
	require.NoError(t, err)
	assert.Equal(t, share, opened)

	otherPriv, _, err := GenerateKeyPair(SchemeECDSA)
	require.NoError(t, err)
	_, err = OpenAsRecipient(otherPriv, sealed)
	assert.Error(t, err)

	_, err = OpenAsRecipient(privPEM, []byte{0x00})
	assert.True(t, errors.Is(err, ErrCiphertextTooShort))

	_, edPub, err := GenerateKeyPair(SchemeEd25519)
	require.NoError(t, err)
	_, err = SealForRecipient(edPub, share)
	assert.True(t, errors.Is(err, ErrUnsupportedKey))
}
