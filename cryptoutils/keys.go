package cryptoutils

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

// Scheme names a supported signature algorithm.
type Scheme string

const (
	SchemeRSA        Scheme = "rsa"
	SchemeECDSA      Scheme = "ecdsa-p256"
	SchemeEd25519    Scheme = "ed25519"
	SchemeSecp256k1  Scheme = "secp256k1"
	SchemeDilithium3 Scheme = "dilithium3"
)

// Schemes lists all supported schemes.
var Schemes = []Scheme{SchemeRSA, SchemeECDSA, SchemeEd25519, SchemeSecp256k1, SchemeDilithium3}

// PEM block types for key material that has no standard x509 encoding.
const (
	secp256k1PrivateBlock  = "SECP256K1 PRIVATE KEY"
	secp256k1PublicBlock   = "SECP256K1 PUBLIC KEY"
	dilithium3PrivateBlock = "DILITHIUM3 PRIVATE KEY"
	dilithium3PublicBlock  = "DILITHIUM3 PUBLIC KEY"
)

// RSAKeyBits is the modulus size for generated RSA keys.
const RSAKeyBits = 2048

var (
	ErrUnsupportedKey = errors.New("unsupported key type")
	ErrInvalidPEM     = errors.New("invalid PEM data")
	ErrKeyMismatch    = errors.New("public key does not match private key")
)

// ParseScheme validates a scheme name.
func ParseScheme(s string) (Scheme, error) {
	for _, scheme := range Schemes {
		if string(scheme) == s {
			return scheme, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedKey, s)
}

// SigningKey signs 32-byte digests.
type SigningKey interface {
	Scheme() Scheme
	Sign(digest []byte) ([]byte, error)
	Public() VerifyingKey
}

// VerifyingKey checks signatures over 32-byte digests.
type VerifyingKey interface {
	Scheme() Scheme
	Verify(digest, sig []byte) bool
}

type rsaSigner struct{ key *rsa.PrivateKey }
type rsaVerifier struct{ key *rsa.PublicKey }

func (k rsaSigner) Scheme() Scheme { return SchemeRSA }

// Sign hashes the digest once more, matching PKCS#1 v1.5 signers that take a
// message rather than a prehashed value.
func (k rsaSigner) Sign(digest []byte) ([]byte, error) {
	h := sha256.Sum256(digest)
	return rsa.SignPKCS1v15(rand.Reader, k.key, crypto.SHA256, h[:])
}

func (k rsaSigner) Public() VerifyingKey { return rsaVerifier{key: &k.key.PublicKey} }

func (k rsaVerifier) Scheme() Scheme { return SchemeRSA }

func (k rsaVerifier) Verify(digest, sig []byte) bool {
	h := sha256.Sum256(digest)
	return rsa.VerifyPKCS1v15(k.key, crypto.SHA256, h[:], sig) == nil
}

type ecdsaSigner struct{ key *ecdsa.PrivateKey }
type ecdsaVerifier struct{ key *ecdsa.PublicKey }

func (k ecdsaSigner) Scheme() Scheme { return SchemeECDSA }

// Sign returns a DER signature normalized to low S.
func (k ecdsaSigner) Sign(digest []byte) ([]byte, error) {
	sig, err := ecdsa.SignASN1(rand.Reader, k.key, digest)
	if err != nil {
		return nil, err
	}
	r, s, ok := parseECDSASignature(sig)
	if !ok {
		return nil, errors.New("ecdsa produced a malformed signature")
	}
	n := k.key.Curve.Params().N
	if s.Cmp(new(big.Int).Rsh(n, 1)) <= 0 {
		return sig, nil
	}
	return encodeECDSASignature(r, new(big.Int).Sub(n, s))
}

func (k ecdsaSigner) Public() VerifyingKey { return ecdsaVerifier{key: &k.key.PublicKey} }

func (k ecdsaVerifier) Scheme() Scheme { return SchemeECDSA }

// Verify accepts only low-S signatures, so (r, N-s) does not verify as a
// second encoding of the same signature.
func (k ecdsaVerifier) Verify(digest, sig []byte) bool {
	_, s, ok := parseECDSASignature(sig)
	if !ok || s.Cmp(new(big.Int).Rsh(k.key.Curve.Params().N, 1)) > 0 {
		return false
	}
	return ecdsa.VerifyASN1(k.key, digest, sig)
}

func parseECDSASignature(sig []byte) (r, s *big.Int, ok bool) {
	var inner cryptobyte.String
	input := cryptobyte.String(sig)
	r, s = new(big.Int), new(big.Int)
	if !input.ReadASN1(&inner, asn1.SEQUENCE) || !input.Empty() ||
		!inner.ReadASN1Integer(r) || !inner.ReadASN1Integer(s) || !inner.Empty() {
		return nil, nil, false
	}
	return r, s, true
}

func encodeECDSASignature(r, s *big.Int) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1BigInt(r)
		b.AddASN1BigInt(s)
	})
	return b.Bytes()
}

type ed25519Signer struct{ key ed25519.PrivateKey }
type ed25519Verifier struct{ key ed25519.PublicKey }

func (k ed25519Signer) Scheme() Scheme { return SchemeEd25519 }

func (k ed25519Signer) Sign(digest []byte) ([]byte, error) {
	return ed25519.Sign(k.key, digest), nil
}

func (k ed25519Signer) Public() VerifyingKey {
	return ed25519Verifier{key: k.key.Public().(ed25519.PublicKey)}
}

func (k ed25519Verifier) Scheme() Scheme { return SchemeEd25519 }

func (k ed25519Verifier) Verify(digest, sig []byte) bool {
	return len(sig) == ed25519.SignatureSize && ed25519.Verify(k.key, digest, sig)
}

type secp256k1Signer struct{ key *ecdsa.PrivateKey }
type secp256k1Verifier struct{ pub []byte }

func (k secp256k1Signer) Scheme() Scheme { return SchemeSecp256k1 }

// Sign returns the 65-byte [R || S || V] recoverable signature.
func (k secp256k1Signer) Sign(digest []byte) ([]byte, error) {
	return ethcrypto.Sign(digest, k.key)
}

func (k secp256k1Signer) Public() VerifyingKey {
	return secp256k1Verifier{pub: ethcrypto.FromECDSAPub(&k.key.PublicKey)}
}

func (k secp256k1Verifier) Scheme() Scheme { return SchemeSecp256k1 }

// Verify also recovers the key from V, so the recovery byte cannot be altered.
func (k secp256k1Verifier) Verify(digest, sig []byte) bool {
	if len(sig) != ethcrypto.SignatureLength || len(digest) != ethcrypto.DigestLength {
		return false
	}
	if !ethcrypto.VerifySignature(k.pub, digest, sig[:64]) {
		return false
	}
	recovered, err := ethcrypto.Ecrecover(digest, sig)
	return err == nil && bytes.Equal(recovered, k.pub)
}

type dilithium3Signer struct{ key *mode3.PrivateKey }
type dilithium3Verifier struct{ key *mode3.PublicKey }

func (k dilithium3Signer) Scheme() Scheme { return SchemeDilithium3 }

func (k dilithium3Signer) Sign(digest []byte) ([]byte, error) {
	sig := make([]byte, mode3.SignatureSize)
	mode3.SignTo(k.key, digest, sig)
	return sig, nil
}

func (k dilithium3Signer) Public() VerifyingKey {
	return dilithium3Verifier{key: k.key.Public().(*mode3.PublicKey)}
}

func (k dilithium3Verifier) Scheme() Scheme { return SchemeDilithium3 }

func (k dilithium3Verifier) Verify(digest, sig []byte) bool {
	return len(sig) == mode3.SignatureSize && mode3.Verify(k.key, digest, sig)
}

// ParsePrivateKeyPEM parses a signing key of any supported scheme.
func ParsePrivateKeyPEM(data []byte) (SigningKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no private key block", ErrInvalidPEM)
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("invalid RSA private key: %w", err)
		}
		return rsaSigner{key: key}, nil

	case "EC PRIVATE KEY":
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("invalid EC private key: %w", err)
		}
		return wrapStdPrivateKey(key)

	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("invalid PKCS8 private key: %w", err)
		}
		return wrapStdPrivateKey(key)

	case secp256k1PrivateBlock:
		key, err := ethcrypto.ToECDSA(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("invalid secp256k1 private key: %w", err)
		}
		return secp256k1Signer{key: key}, nil

	case dilithium3PrivateBlock:
		var key mode3.PrivateKey
		if err := key.UnmarshalBinary(block.Bytes); err != nil {
			return nil, fmt.Errorf("invalid dilithium3 private key: %w", err)
		}
		return dilithium3Signer{key: &key}, nil

	default:
		return nil, fmt.Errorf("%w: PEM block %q", ErrUnsupportedKey, block.Type)
	}
}

func wrapStdPrivateKey(key any) (SigningKey, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return rsaSigner{key: k}, nil
	case *ecdsa.PrivateKey:
		if k.Curve != elliptic.P256() {
			return nil, fmt.Errorf("%w: curve %s", ErrUnsupportedKey, k.Curve.Params().Name)
		}
		return ecdsaSigner{key: k}, nil
	case ed25519.PrivateKey:
		return ed25519Signer{key: k}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, key)
	}
}

// ParsePublicKeyPEM parses a verifying key of any supported scheme.
func ParsePublicKeyPEM(data []byte) (VerifyingKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no public key block", ErrInvalidPEM)
	}

	switch block.Type {
	case "RSA PUBLIC KEY":
		key, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("invalid RSA public key: %w", err)
		}
		return rsaVerifier{key: key}, nil

	case "PUBLIC KEY":
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("invalid public key structure: %w", err)
		}
		switch k := key.(type) {
		case *rsa.PublicKey:
			return rsaVerifier{key: k}, nil
		case *ecdsa.PublicKey:
			if k.Curve != elliptic.P256() {
				return nil, fmt.Errorf("%w: curve %s", ErrUnsupportedKey, k.Curve.Params().Name)
			}
			return ecdsaVerifier{key: k}, nil
		case ed25519.PublicKey:
			return ed25519Verifier{key: k}, nil
		default:
			return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, key)
		}

	case secp256k1PublicBlock:
		if _, err := ethcrypto.UnmarshalPubkey(block.Bytes); err != nil {
			return nil, fmt.Errorf("invalid secp256k1 public key: %w", err)
		}
		return secp256k1Verifier{pub: bytes.Clone(block.Bytes)}, nil

	case dilithium3PublicBlock:
		var key mode3.PublicKey
		if err := key.UnmarshalBinary(block.Bytes); err != nil {
			return nil, fmt.Errorf("invalid dilithium3 public key: %w", err)
		}
		return dilithium3Verifier{key: &key}, nil

	default:
		return nil, fmt.Errorf("%w: PEM block %q", ErrUnsupportedKey, block.Type)
	}
}

// LoadKeyPair reads and parses the private and public key files and checks
// that they belong together.
func LoadKeyPair(privateKeyPath, publicKeyPath string) (SigningKey, VerifyingKey, error) {
	privPEM, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read private key: %w", err)
	}
	pubPEM, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read public key: %w", err)
	}
	return ParseKeyPair(privPEM, pubPEM)
}

// ParseKeyPair parses a PEM keypair and checks the keys match.
func ParseKeyPair(privPEM, pubPEM []byte) (SigningKey, VerifyingKey, error) {
	priv, err := ParsePrivateKeyPEM(privPEM)
	if err != nil {
		return nil, nil, err
	}
	pub, err := ParsePublicKeyPEM(pubPEM)
	if err != nil {
		return nil, nil, err
	}
	if priv.Scheme() != pub.Scheme() {
		return nil, nil, fmt.Errorf("%w: %s private key with %s public key", ErrKeyMismatch, priv.Scheme(), pub.Scheme())
	}

	challenge := sha256.Sum256([]byte("keypair-match"))
	sig, err := priv.Sign(challenge[:])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to sign key match challenge: %w", err)
	}
	if !pub.Verify(challenge[:], sig) {
		return nil, nil, ErrKeyMismatch
	}
	return priv, pub, nil
}

// GenerateKeyPair creates a new keypair and returns it PEM-encoded.
func GenerateKeyPair(scheme Scheme) (privPEM, pubPEM []byte, err error) {
	var privBlock, pubBlock *pem.Block

	switch scheme {
	case SchemeRSA:
		key, err := rsa.GenerateKey(rand.Reader, RSAKeyBits)
		if err != nil {
			return nil, nil, err
		}
		privBlock = &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
		pubBlock = &pem.Block{Type: "RSA PUBLIC KEY", Bytes: x509.MarshalPKCS1PublicKey(&key.PublicKey)}

	case SchemeECDSA:
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, nil, err
		}
		privBytes, err := x509.MarshalECPrivateKey(key)
		if err != nil {
			return nil, nil, err
		}
		pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
		if err != nil {
			return nil, nil, err
		}
		privBlock = &pem.Block{Type: "EC PRIVATE KEY", Bytes: privBytes}
		pubBlock = &pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes}

	case SchemeEd25519:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, nil, err
		}
		privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
		if err != nil {
			return nil, nil, err
		}
		pubBytes, err := x509.MarshalPKIXPublicKey(pub)
		if err != nil {
			return nil, nil, err
		}
		privBlock = &pem.Block{Type: "PRIVATE KEY", Bytes: privBytes}
		pubBlock = &pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes}

	case SchemeSecp256k1:
		key, err := ethcrypto.GenerateKey()
		if err != nil {
			return nil, nil, err
		}
		privBlock = &pem.Block{Type: secp256k1PrivateBlock, Bytes: ethcrypto.FromECDSA(key)}
		pubBlock = &pem.Block{Type: secp256k1PublicBlock, Bytes: ethcrypto.FromECDSAPub(&key.PublicKey)}

	case SchemeDilithium3:
		pub, priv, err := mode3.GenerateKey(rand.Reader)
		if err != nil {
			return nil, nil, err
		}
		privBytes, err := priv.MarshalBinary()
		if err != nil {
			return nil, nil, err
		}
		pubBytes, err := pub.MarshalBinary()
		if err != nil {
			return nil, nil, err
		}
		privBlock = &pem.Block{Type: dilithium3PrivateBlock, Bytes: privBytes}
		pubBlock = &pem.Block{Type: dilithium3PublicBlock, Bytes: pubBytes}

	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedKey, scheme)
	}

	return pem.EncodeToMemory(privBlock), pem.EncodeToMemory(pubBlock), nil
}
