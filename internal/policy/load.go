package policy

import (
	"context"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/keithlinneman/webguard/internal/xerrors"
)

// maxDocumentSize bounds what is read from disk or S3.
const maxDocumentSize = 1 << 20

// LoadFile reads and parses a local policy document.
func LoadFile(path string) (*Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "open policy %s", path)
	}
	defer f.Close()
	data, err := readLimited(f)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read policy %s", path)
	}
	return Parse(data, "file://"+path)
}

// s3GetObjectAPI is the subset of *s3.Client used by S3Loader.
type s3GetObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Loader fetches policy documents from S3.
type S3Loader struct {
	client s3GetObjectAPI
}

func NewS3Loader(client *s3.Client) *S3Loader {
	return &S3Loader{client: client}
}

// Load fetches s3://bucket/key and parses it.
func (l *S3Loader) Load(ctx context.Context, bucket, key string) (*Policy, error) {
	if bucket == "" || key == "" {
		return nil, xerrors.New("policy s3 bucket and key are required")
	}
	src := "s3://" + bucket + "/" + key
	out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "get policy %s", src)
	}
	defer out.Body.Close()
	data, err := readLimited(out.Body)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read policy %s", src)
	}
	return Parse(data, src)
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxDocumentSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxDocumentSize {
		return nil, xerrors.Newf("policy document exceeds %d bytes", maxDocumentSize)
	}
	return data, nil
}
