package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gabriel-vasile/mimetype"

	"github.com/MarcoPoloResearchLab/clipshare/internal/ids"
)

// ObjectAPI is the subset of the S3 client used by S3Store.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3ClientConfig describes how to reach an S3-compatible endpoint.
type S3ClientConfig struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Client builds an S3 client. A custom endpoint switches to path-style addressing,
// which R2, MinIO and similar services expect.
func NewS3Client(ctx context.Context, cfg S3ClientConfig) (*s3.Client, error) {
	options := make([]func(*awsconfig.LoadOptions) error, 0, 2)
	if region := strings.TrimSpace(cfg.Region); region != "" {
		options = append(options, awsconfig.WithRegion(region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		options = append(options, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("media: load aws config: %w", err)
	}

	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// S3Store keeps media in a bucket. References are public object URLs.
type S3Store struct {
	client        ObjectAPI
	bucket        string
	publicBaseURL string
	idProvider    ids.Provider
	clock         func() time.Time
}

var _ Store = (*S3Store)(nil)

// S3StoreConfig configures an S3Store.
type S3StoreConfig struct {
	Client        ObjectAPI
	Bucket        string
	PublicBaseURL string
	IDProvider    ids.Provider
	Clock         func() time.Time
}

// NewS3Store validates the configuration.
func NewS3Store(cfg S3StoreConfig) (*S3Store, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("media: s3 client required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("media: s3 bucket required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("media: s3 public base url required")
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = ids.NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &S3Store{
		client:        cfg.Client,
		bucket:        bucket,
		publicBaseURL: baseURL,
		idProvider:    idProvider,
		clock:         clock,
	}, nil
}

func (s *S3Store) Put(ctx context.Context, data []byte, suggestedName string) (Reference, error) {
	if len(data) == 0 {
		return "", ErrEmptyPayload
	}
	key, err := objectKey(s.idProvider, s.clock(), suggestedName)
	if err != nil {
		return "", err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(mimetype.Detect(data).String()),
	})
	if err != nil {
		return "", fmt.Errorf("media: put object %s: %w", key, err)
	}
	return Reference(s.publicBaseURL + "/" + key), nil
}

func (s *S3Store) Get(ctx context.Context, ref Reference) ([]byte, error) {
	key, err := s.keyFor(ref)
	if err != nil {
		return nil, err
	}
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("media: get object %s: %w", key, err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("media: read object %s: %w", key, err)
	}
	return data, nil
}

func (s *S3Store) Delete(ctx context.Context, ref Reference) error {
	key, err := s.keyFor(ref)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil
		}
		return fmt.Errorf("media: delete object %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) PublicURL(ref Reference) string {
	if _, err := s.keyFor(ref); err != nil {
		return ""
	}
	return ref.String()
}

func (s *S3Store) keyFor(ref Reference) (string, error) {
	prefix := s.publicBaseURL + "/"
	raw := strings.TrimSpace(ref.String())
	if !strings.HasPrefix(raw, prefix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidReference, raw)
	}
	key := strings.TrimPrefix(raw, prefix)
	if key == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidReference, raw)
	}
	return key, nil
}
