package cryptoutil

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/keithlinneman/webguard/internal/xerrors"
)

// KMSMACClient is the subset of the KMS API needed for HMAC keys.
// *kms.Client satisfies it.
type KMSMACClient interface {
	GenerateMac(ctx context.Context, params *kms.GenerateMacInput, optFns ...func(*kms.Options)) (*kms.GenerateMacOutput, error)
	VerifyMac(ctx context.Context, params *kms.VerifyMacInput, optFns ...func(*kms.Options)) (*kms.VerifyMacOutput, error)
}

// KMSMAC signs with an HMAC_SHA_256 KMS key. Every call is a KMS request.
type KMSMAC struct {
	client KMSMACClient
	keyID  string
}

func NewKMSMAC(client KMSMACClient, keyID string) *KMSMAC {
	return &KMSMAC{client: client, keyID: keyID}
}

func (k *KMSMAC) Sign(ctx context.Context, message []byte) ([]byte, error) {
	if k.client == nil {
		return nil, xerrors.New("kms client is not configured")
	}
	out, err := k.client.GenerateMac(ctx, &kms.GenerateMacInput{
		KeyId:        aws.String(k.keyID),
		Message:      message,
		MacAlgorithm: kmstypes.MacAlgorithmSpecHmacSha256,
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "kms generate mac")
	}
	return out.Mac, nil
}

// Verify reports false with a nil error when KMS rejects the MAC; other
// failures come back as errors.
func (k *KMSMAC) Verify(ctx context.Context, message, mac []byte) (bool, error) {
	if k.client == nil {
		return false, xerrors.New("kms client is not configured")
	}
	out, err := k.client.VerifyMac(ctx, &kms.VerifyMacInput{
		KeyId:        aws.String(k.keyID),
		Message:      message,
		Mac:          mac,
		MacAlgorithm: kmstypes.MacAlgorithmSpecHmacSha256,
	})
	if err != nil {
		var invalid *kmstypes.KMSInvalidMacException
		if errors.As(err, &invalid) {
			return false, nil
		}
		return false, xerrors.Wrap(err, "kms verify mac")
	}
	return out.MacValid, nil
}
