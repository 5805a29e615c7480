// Package secrets reads SecureString parameters from AWS SSM.
package secrets

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/webguard/internal/xerrors"
)

// ssmGetParameterAPI is the subset of *ssm.Client used here.
type ssmGetParameterAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type SSM struct {
	client ssmGetParameterAPI
}

func NewSSM(client *ssm.Client) *SSM {
	return &SSM{client: client}
}

// Get returns the decrypted, trimmed value of name. Empty values are errors.
func (s *SSM) Get(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", xerrors.New("ssm parameter name is required")
	}
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", name)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", name)
	}
	v := strings.TrimSpace(*out.Parameter.Value)
	if v == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", name)
	}
	return v, nil
}
