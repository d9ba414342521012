// Package cryptoutils provides the key handling and symmetric encryption
// primitives used by the relay.
//
// # Signature Keys
//
// Every deployment holds one keypair shared by all tiers, loaded from two PEM
// files. The scheme is detected from the PEM block type:
//
//   - "RSA PRIVATE KEY" / "RSA PUBLIC KEY": RSA PKCS#1 v1.5 over SHA-256
//   - "EC PRIVATE KEY", or "PRIVATE KEY" / "PUBLIC KEY" holding a P-256 key: ECDSA
//   - "PRIVATE KEY" / "PUBLIC KEY" holding an Ed25519 key: Ed25519
//   - "SECP256K1 PRIVATE KEY" / "SECP256K1 PUBLIC KEY": secp256k1 recoverable signatures
//   - "DILITHIUM3 PRIVATE KEY" / "DILITHIUM3 PUBLIC KEY": post-quantum Dilithium3
//
// All schemes sign a 32-byte SHA-256 digest computed by the caller.
//
// # Symmetric Encryption
//
// SealAESGCM and OpenAESGCM implement AES-256-GCM with a random 12-byte nonce
// prepended to the ciphertext:
//
//	[nonce (12 bytes)][ciphertext + GCM tag]
//
// # Sealed Shares
//
// SealForRecipient encrypts data to a P-256 public key with an ephemeral ECDH
// key agreement, used to hand secret shares to administrators:
//
//	[ephemeral key length (2 bytes)][ephemeral key][nonce (12 bytes)][ciphertext]
package cryptoutils
