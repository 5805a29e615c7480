// Package cryptoutil provides the MAC and hashing primitives behind CSRF
// tokens and policy fingerprints.
//
// It supports:
//   - local HMAC-SHA256 with a shared secret
//   - KMS-backed HMAC (GenerateMac / VerifyMac) so the key never leaves KMS
//   - constant-time comparison to prevent timing side-channels
//   - SHA-256 hex digests
package cryptoutil
