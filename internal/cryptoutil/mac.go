package cryptoutil

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"

	"github.com/keithlinneman/webguard/internal/xerrors"
)

// MinSecretLen is the shortest HMAC secret accepted.
const MinSecretLen = 16

// HMAC signs messages with HMAC-SHA256 under a local secret.
type HMAC struct {
	secret []byte
}

func NewHMAC(secret []byte) (*HMAC, error) {
	if len(secret) < MinSecretLen {
		return nil, xerrors.Newf("hmac secret must be at least %d bytes, got %d", MinSecretLen, len(secret))
	}
	return &HMAC{secret: append([]byte(nil), secret...)}, nil
}

func (h *HMAC) Sign(_ context.Context, message []byte) ([]byte, error) {
	m := hmac.New(sha256.New, h.secret)
	m.Write(message)
	return m.Sum(nil), nil
}

// Verify recomputes the MAC and compares in constant time.
func (h *HMAC) Verify(ctx context.Context, message, mac []byte) (bool, error) {
	want, _ := h.Sign(ctx, message)
	return hmac.Equal(want, mac), nil
}
