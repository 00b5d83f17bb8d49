// Package artifact fetches fitted model and encoder artifacts at startup.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// MaxSize bounds the size of a single artifact.
const MaxSize = 64 << 20

var ErrEmpty = errors.New("artifact is empty")

// ObjectGetter is the subset of the S3 client used for artifact downloads.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Loader reads artifacts from the local filesystem or S3.
type Loader struct {
	region string
	s3     ObjectGetter
}

// NewLoader creates a loader. The S3 client is created lazily on first s3:// URI.
func NewLoader(region string) *Loader {
	return &Loader{region: region}
}

// WithS3Client sets the S3 client used for s3:// URIs.
func (l *Loader) WithS3Client(client ObjectGetter) *Loader {
	l.s3 = client
	return l
}

// Load returns the artifact bytes for uri.
// Supported forms: a local path, file:///path, s3://bucket/key.
func (l *Loader) Load(ctx context.Context, uri string) ([]byte, error) {
	if uri == "" {
		return nil, fmt.Errorf("artifact uri is required")
	}

	var data []byte
	var err error

	switch {
	case strings.HasPrefix(uri, "s3://"):
		data, err = l.loadS3(ctx, uri)
	case strings.HasPrefix(uri, "file://"):
		data, err = loadFile(strings.TrimPrefix(uri, "file://"))
	default:
		data, err = loadFile(uri)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load artifact %s: %w", uri, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("artifact %s: %w", uri, ErrEmpty)
	}

	return data, nil
}

func loadFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readLimited(f)
}

func (l *Loader) loadS3(ctx context.Context, uri string) ([]byte, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("s3 uri must be s3://bucket/key")
	}

	if l.s3 == nil {
		opts := []func(*awsconfig.LoadOptions) error{}
		if l.region != "" {
			opts = append(opts, awsconfig.WithRegion(l.region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load aws config: %w", err)
		}
		l.s3 = s3.NewFromConfig(cfg)
	}

	out, err := l.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()

	return readLimited(out.Body)
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxSize {
		return nil, fmt.Errorf("artifact exceeds %d bytes", MaxSize)
	}
	return data, nil
}
