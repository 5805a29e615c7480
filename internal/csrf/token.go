package csrf

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/keithlinneman/webguard/internal/cryptoutil"
	"github.com/keithlinneman/webguard/internal/xerrors"
)

// Signer computes and checks MACs over token bytes. cryptoutil.HMAC and
// cryptoutil.KMSMAC satisfy it.
type Signer interface {
	Sign(ctx context.Context, message []byte) ([]byte, error)
	Verify(ctx context.Context, message, mac []byte) (bool, error)
}

var (
	_ Signer = (*cryptoutil.HMAC)(nil)
	_ Signer = (*cryptoutil.KMSMAC)(nil)
)

// GenerateToken returns n random bytes, hex encoded.
func GenerateToken(n int) (string, error) {
	if n <= 0 {
		n = DefaultTokenLength
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", xerrors.Wrap(err, "read random token")
	}
	return hex.EncodeToString(b), nil
}

// CreateSignedToken returns "token.mac" for a fresh token of n bytes.
func CreateSignedToken(ctx context.Context, s Signer, n int) (string, error) {
	token, err := GenerateToken(n)
	if err != nil {
		return "", err
	}
	mac, err := s.Sign(ctx, []byte(token))
	if err != nil {
		return "", xerrors.Wrap(err, "sign csrf token")
	}
	return token + "." + hex.EncodeToString(mac), nil
}

// VerifySignedToken reports whether signed is exactly two non-empty
// dot-separated parts and the second is a valid MAC of the first.
// A signer failure is returned alongside false.
func VerifySignedToken(ctx context.Context, s Signer, signed string) (bool, error) {
	token, macHex, ok := strings.Cut(signed, ".")
	if !ok || token == "" || macHex == "" || strings.Contains(macHex, ".") {
		return false, nil
	}
	mac, err := hex.DecodeString(macHex)
	// only the canonical lowercase encoding is accepted
	if err != nil || hex.EncodeToString(mac) != macHex {
		return false, nil
	}
	return s.Verify(ctx, []byte(token), mac)
}
