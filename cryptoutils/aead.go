package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
)

// NonceSize is the AES-GCM nonce length.
const NonceSize = 12

var (
	ErrCiphertextTooShort = errors.New("ciphertext too short")
	ErrOpenFailed         = errors.New("message authentication failed")
)

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aesGCM, nil
}

// SealAESGCM encrypts plaintext with a 32-byte key and returns nonce||ciphertext.
func SealAESGCM(key, plaintext []byte) ([]byte, error) {
	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize, NonceSize+len(plaintext)+aesGCM.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return aesGCM.Seal(nonce, nonce, plaintext, nil), nil
}

// OpenAESGCM reverses SealAESGCM. Any tampering or a wrong key yields ErrOpenFailed.
func OpenAESGCM(key, sealed []byte) ([]byte, error) {
	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < NonceSize+aesGCM.Overhead() {
		return nil, ErrCiphertextTooShort
	}

	plaintext, err := aesGCM.Open(nil, sealed[:NonceSize], sealed[NonceSize:], nil)
	if err != nil {
		return nil, ErrOpenFailed
	}
	return plaintext, nil
}

func parseECDHPublic(publicKeyPEM []byte) (*ecdh.PublicKey, error) {
	block, _ := pem.Decode(publicKeyPEM)
	if block == nil {
		return nil, fmt.Errorf("%w: no public key block", ErrInvalidPEM)
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	ecKey, ok := key.(interface {
		ECDH() (*ecdh.PublicKey, error)
	})
	if !ok {
		return nil, fmt.Errorf("%w: %T is not an EC key", ErrUnsupportedKey, key)
	}
	return ecKey.ECDH()
}

func parseECDHPrivate(privateKeyPEM []byte) (*ecdh.PrivateKey, error) {
	block, _ := pem.Decode(privateKeyPEM)
	if block == nil {
		return nil, fmt.Errorf("%w: no private key block", ErrInvalidPEM)
	}

	var key any
	var err error
	switch block.Type {
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("%w: PEM block %q", ErrUnsupportedKey, block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	ecKey, ok := key.(interface {
		ECDH() (*ecdh.PrivateKey, error)
	})
	if !ok {
		return nil, fmt.Errorf("%w: %T is not an EC key", ErrUnsupportedKey, key)
	}
	return ecKey.ECDH()
}

// SealForRecipient encrypts data to a P-256 public key in PEM format.
// A fresh ephemeral key is generated for each call.
func SealForRecipient(publicKeyPEM, data []byte) ([]byte, error) {
	recipient, err := parseECDHPublic(publicKeyPEM)
	if err != nil {
		return nil, err
	}

	ephemeral, err := recipient.Curve().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	shared, err := ephemeral.ECDH(recipient)
	if err != nil {
		return nil, fmt.Errorf("key agreement failed: %w", err)
	}
	key := sha256.Sum256(shared)

	sealed, err := SealAESGCM(key[:], data)
	if err != nil {
		return nil, err
	}

	ephemeralBytes := ephemeral.PublicKey().Bytes()
	result := make([]byte, 2, 2+len(ephemeralBytes)+len(sealed))
	binary.BigEndian.PutUint16(result, uint16(len(ephemeralBytes)))
	result = append(result, ephemeralBytes...)
	return append(result, sealed...), nil
}

// OpenAsRecipient decrypts data produced by SealForRecipient.
func OpenAsRecipient(privateKeyPEM, data []byte) ([]byte, error) {
	priv, err := parseECDHPrivate(privateKeyPEM)
	if err != nil {
		return nil, err
	}

	if len(data) < 2 {
		return nil, ErrCiphertextTooShort
	}
	keyLen := int(binary.BigEndian.Uint16(data[:2]))
	if len(data) < 2+keyLen+NonceSize {
		return nil, ErrCiphertextTooShort
	}

	ephemeral, err := priv.Curve().NewPublicKey(data[2 : 2+keyLen])
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal ephemeral public key: %w", err)
	}
	shared, err := priv.ECDH(ephemeral)
	if err != nil {
		return nil, fmt.Errorf("key agreement failed: %w", err)
	}
	key := sha256.Sum256(shared)

	return OpenAESGCM(key[:], data[2+keyLen:])
}
