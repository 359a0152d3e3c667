package artifacts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config points at a bucket on AWS or an S3-compatible endpoint.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Prefix    string
	// CacheDir receives downloaded copies for playback.
	CacheDir string
}

// S3Store uploads recordings to a bucket and downloads them for playback.
type S3Store struct {
	client   *s3.Client
	bucket   string
	prefix   string
	cacheDir string
}

func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "recordings"
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(os.TempDir(), "podium-artifacts")
	}
	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact cache: %w", err)
	}

	opts := s3.Options{
		Region:                     cfg.Region,
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	}
	if cfg.AccessKey != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}

	return &S3Store{
		client:   s3.New(opts),
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		cacheDir: cfg.CacheDir,
	}, nil
}

// Put uploads srcPath under <prefix>/<id><ext> and returns an s3:// uri.
// Uploading the same id again overwrites the same object.
func (s *S3Store) Put(ctx context.Context, id string, srcPath string) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}
	f, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	key := path.Join(s.prefix, id+extension(srcPath))
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("audio/wav"),
	})
	if err != nil {
		return "", fmt.Errorf("upload recording: %w", err)
	}
	return "s3://" + s.bucket + "/" + key, nil
}

// Local downloads the object once into the cache directory.
func (s *S3Store) Local(ctx context.Context, uri string) (string, error) {
	scheme, bucket, key, err := ParseURI(uri)
	if err != nil {
		return "", err
	}
	if scheme != "s3" || bucket == "" || key == "" {
		return "", fmt.Errorf("unsupported artifact uri %q", uri)
	}

	dst := filepath.Join(s.cacheDir, filepath.Base(key))
	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("download recording: %w", err)
	}
	defer out.Body.Close()

	if err := writeAtomic(out.Body, dst); err != nil {
		return "", err
	}
	return dst, nil
}
