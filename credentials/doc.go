// Package credentials issues and verifies session tokens and authenticates
// users against the clearance registry.
//
// Tokens are stateless HS256 JWTs carrying the claims
//
//	{"user_id": ..., "sub": ..., "clearance_level": N, "exp": ..., "iat": ...}
//
// and are valid for one hour by default. The embedded clearance level can
// never exceed the subject's registry level at issuance time. A token carries
// no revocation state: it stays valid until exp even if the registry changes.
package credentials
